//go:build darwin

// pkg/securebuf/madvise_darwin.go

package securebuf

// MADV_DONTDUMP does not exist on darwin; mlock already keeps the region
// out of swap, which is the protection that matters there.
func madviseDontDump(region []byte) error {
	return nil
}
