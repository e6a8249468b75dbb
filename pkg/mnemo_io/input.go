// pkg/mnemo_io/input.go

package mnemo_io

import (
	"bufio"
	"fmt"
	"os"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/CodeMonkeyCybersecurity/mnemosyne/pkg/securebuf"
	cerr "github.com/cockroachdb/errors"
	"go.uber.org/zap"
	"golang.org/x/term"
)

const (
	// MaxInputLength caps interactive input.
	MaxInputLength = 4096

	// MaxPasswordLength caps passwords; restic itself accepts far less.
	MaxPasswordLength = 256
)

var (
	controlCharRegex = regexp.MustCompile(`[\x00-\x08\x0B\x0C\x0E-\x1F\x7F-\x9F]`)
	ansiEscapeRegex  = regexp.MustCompile(`\x1b\[[0-9;]*[A-Za-z]|\x9b[0-9;]*[A-Za-z]`)
)

// ValidateInput screens interactive input for terminal-manipulation
// sequences and unreasonable sizes before it reaches command logic.
func ValidateInput(input, field string) error {
	if strings.TrimSpace(input) == "" {
		return cerr.Newf("%s cannot be empty", field)
	}
	if len(input) > MaxInputLength {
		return cerr.Newf("%s too long (%d chars, max %d)", field, len(input), MaxInputLength)
	}
	if !utf8.ValidString(input) {
		return cerr.Newf("%s contains invalid UTF-8", field)
	}
	if controlCharRegex.MatchString(input) {
		return cerr.Newf("%s contains control characters", field)
	}
	if ansiEscapeRegex.MatchString(input) {
		return cerr.Newf("%s contains ANSI escape sequences", field)
	}
	return nil
}

// PromptInput reads one line from the terminal with validation.
func PromptInput(rc *RuntimeContext, prompt, field string) (string, error) {
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		return "", cerr.New("stdin is not a terminal")
	}

	fmt.Print(prompt)
	scanner := bufio.NewScanner(os.Stdin)
	if !scanner.Scan() {
		if err := scanner.Err(); err != nil {
			return "", cerr.Wrap(err, "read input")
		}
		return "", cerr.New("no input received")
	}

	input := strings.TrimSpace(scanner.Text())
	if err := ValidateInput(input, field); err != nil {
		rc.Log.Warn("Rejected interactive input",
			zap.String("field", field),
			zap.Error(err))
		return "", err
	}
	return input, nil
}

// PromptYesNo asks a yes/no question.
func PromptYesNo(rc *RuntimeContext, prompt string) (bool, error) {
	answer, err := PromptInput(rc, prompt+" [y/N]: ", "confirmation")
	if err != nil {
		return false, err
	}
	switch strings.ToLower(answer) {
	case "y", "yes", "true", "1":
		return true, nil
	case "n", "no", "false", "0":
		return false, nil
	default:
		return false, cerr.Newf("answer %q is not yes or no", answer)
	}
}

// PromptSecurePassword reads a password without echo and returns it in a
// wipeable buffer. The intermediate bytes are zeroed before return; no
// string copy of the password is ever made.
func PromptSecurePassword(rc *RuntimeContext, prompt string) (*securebuf.Buffer, error) {
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		return nil, cerr.New("stdin is not a terminal")
	}

	fmt.Print(prompt)
	raw, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Println()
	if err != nil {
		return nil, cerr.Wrap(err, "read password")
	}
	defer securebuf.Zero(raw)

	if err := validatePasswordBytes(raw); err != nil {
		return nil, err
	}

	rc.Log.Debug("Password read from terminal", zap.Int("length", len(raw)))
	return securebuf.New(raw), nil
}

// PromptPasswordTwice reads a new password with confirmation, for key
// import and repository initialization.
func PromptPasswordTwice(rc *RuntimeContext, prompt string) (*securebuf.Buffer, error) {
	first, err := PromptSecurePassword(rc, prompt)
	if err != nil {
		return nil, err
	}

	second, err := PromptSecurePassword(rc, "Confirm: ")
	if err != nil {
		first.Wipe()
		return nil, err
	}
	defer second.Wipe()

	if !first.Equal(second) {
		first.Wipe()
		return nil, cerr.New("passwords do not match")
	}
	return first, nil
}

func validatePasswordBytes(raw []byte) error {
	if len(raw) == 0 {
		return cerr.New("password cannot be empty")
	}
	if len(raw) > MaxPasswordLength {
		return cerr.Newf("password too long (max %d bytes)", MaxPasswordLength)
	}
	if !utf8.Valid(raw) {
		return cerr.New("password contains invalid UTF-8")
	}
	for i := 0; i < len(raw); {
		r, size := utf8.DecodeRune(raw[i:])
		if r < 32 && r != '\t' {
			return cerr.New("password contains control characters")
		}
		if r >= 127 && r <= 159 {
			return cerr.New("password contains control characters")
		}
		i += size
	}
	return nil
}
