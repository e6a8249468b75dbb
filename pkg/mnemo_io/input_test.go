// pkg/mnemo_io/input_test.go

package mnemo_io

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateInput(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr string
	}{
		{"plain text", "backup-primary", ""},
		{"unicode", "sauvegarde-quotidienne-été", ""},
		{"empty", "", "cannot be empty"},
		{"whitespace only", "   \t ", "cannot be empty"},
		{"too long", strings.Repeat("a", MaxInputLength+1), "too long"},
		{"invalid utf8", "abc\xff\xfe", "invalid UTF-8"},
		{"null byte", "abc\x00def", "control characters"},
		{"bell character", "abc\adef", "control characters"},
		{"ansi escape", "abc\x1b[31mred\x1b[0m", "control characters"},
		{"csi sequence", "abc\x9b31mred", "invalid UTF-8"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateInput(tt.input, "field")
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestValidatePasswordBytes(t *testing.T) {
	tests := []struct {
		name    string
		input   []byte
		wantErr string
	}{
		{"normal password", []byte("hunter2-with-Symbols!"), ""},
		{"tab allowed", []byte("pass\tword"), ""},
		{"unicode password", []byte("pàsswörd"), ""},
		{"empty", nil, "cannot be empty"},
		{"too long", []byte(strings.Repeat("x", MaxPasswordLength+1)), "too long"},
		{"invalid utf8", []byte{0x61, 0xff, 0xfe}, "invalid UTF-8"},
		{"newline rejected", []byte("pass\nword"), "control characters"},
		{"null byte rejected", []byte("pass\x00word"), "control characters"},
		{"delete char rejected", []byte("pass\x7fword"), "control characters"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validatePasswordBytes(tt.input)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestPromptsRequireTerminal(t *testing.T) {
	// Test processes never have a terminal on stdin, so the prompt
	// helpers must refuse rather than hang.
	rc := newTestContext(t, "mnemosyne test")

	_, err := PromptInput(rc, "name: ", "name")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not a terminal")

	_, err = PromptSecurePassword(rc, "password: ")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not a terminal")

	_, err = PromptYesNo(rc, "continue?")
	require.Error(t, err)
}
