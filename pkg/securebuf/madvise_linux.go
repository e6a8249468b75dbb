//go:build linux

// pkg/securebuf/madvise_linux.go

package securebuf

import "golang.org/x/sys/unix"

func madviseDontDump(region []byte) error {
	return unix.Madvise(region, unix.MADV_DONTDUMP)
}
