// pkg/execute/errors.go

package execute

import (
	"errors"
	"fmt"
	"strings"
)

// Kind classifies a command failure. This taxonomy is about processes and
// exit codes; it is deliberately disjoint from the security error taxonomy
// and nothing converts between the two implicitly.
type Kind int

const (
	// KindValidation - the command failed structural validation, nothing ran
	KindValidation Kind = iota
	// KindExecution - the process could not be spawned (binary missing, not executable)
	KindExecution
	// KindGeneric - the process ran and exited non-zero with no more specific band
	KindGeneric
	// KindRepository - exit code in the wrapped tool's repository-error band
	KindRepository
	// KindAuthentication - exit code in the wrapped tool's authentication band
	KindAuthentication
	// KindOutputDecoding - the process succeeded but stdout is not valid UTF-8
	KindOutputDecoding
	// KindCancelled - the caller's context expired before or during the run
	KindCancelled
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation failed"
	case KindExecution:
		return "execution failed"
	case KindGeneric:
		return "command failed"
	case KindRepository:
		return "repository error"
	case KindAuthentication:
		return "authentication failed"
	case KindOutputDecoding:
		return "output decoding failed"
	case KindCancelled:
		return "cancelled"
	default:
		return "unknown failure"
	}
}

// CodeMap maps process exit codes to failure kinds. The zero map classifies
// everything as generic; wrapped tools install their documented bands.
type CodeMap map[int]Kind

// Classify returns the kind for an exit code, falling back to KindGeneric
// for codes outside the table. The raw code always travels alongside on the
// Error, so nothing is lost by the fallback.
func (m CodeMap) Classify(code int) Kind {
	if k, ok := m[code]; ok {
		return k
	}
	return KindGeneric
}

// DefaultCodes carries the bands shared by the tools this module wraps:
// 1 generic, 3 repository, 101 authentication.
var DefaultCodes = CodeMap{
	1:   KindGeneric,
	3:   KindRepository,
	101: KindAuthentication,
}

// Error is a classified command failure. Stderr holds the child's output
// verbatim; Error() shows a summary but the full text stays retrievable.
type Error struct {
	Kind     Kind
	Command  string
	ExitCode int    // -1 when no process ran or it died without a code
	Reason   string // diagnostic for failures that produced no process output
	Stderr   string // captured stderr, verbatim
	cause    error
}

func (e *Error) Error() string {
	var sb strings.Builder
	if e.Command != "" {
		sb.WriteString(e.Command)
		sb.WriteString(": ")
	}
	sb.WriteString(e.Kind.String())
	if e.ExitCode > 0 {
		fmt.Fprintf(&sb, " (exit %d)", e.ExitCode)
	}
	switch {
	case e.Reason != "":
		sb.WriteString(": ")
		sb.WriteString(e.Reason)
	case e.Stderr != "":
		sb.WriteString(": ")
		sb.WriteString(ExtractSummary(e.Stderr, 2))
	case e.cause != nil:
		fmt.Fprintf(&sb, ": %v", e.cause)
	}
	return sb.String()
}

func (e *Error) Unwrap() error {
	return e.cause
}

// KindOf extracts the failure kind from err. ok is false when err carries
// no *Error in its chain.
func KindOf(err error) (Kind, bool) {
	var ee *Error
	if errors.As(err, &ee) {
		return ee.Kind, true
	}
	return 0, false
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	k, ok := KindOf(err)
	return ok && k == kind
}
