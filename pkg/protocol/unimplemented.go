// pkg/protocol/unimplemented.go

package protocol

import (
	"context"

	"github.com/CodeMonkeyCybersecurity/mnemosyne/pkg/crypto"
	"github.com/CodeMonkeyCybersecurity/mnemosyne/pkg/secerr"
	"github.com/CodeMonkeyCybersecurity/mnemosyne/pkg/securebuf"
)

// UnimplementedCompleteService answers every operation with a typed
// not-implemented failure. Embed it to build partial peers that fail
// cleanly on operations they do not specialize.
type UnimplementedCompleteService struct{}

var _ CompleteService = UnimplementedCompleteService{}

func (UnimplementedCompleteService) Ping(context.Context) (bool, error) {
	return false, secerr.NewNotImplemented(OpPing)
}

func (UnimplementedCompleteService) Status(context.Context) (ServiceStatus, error) {
	return ServiceStatus{}, secerr.NewNotImplemented(OpStatus)
}

func (UnimplementedCompleteService) ImportKey(context.Context, string, KeyKind, *securebuf.Buffer, map[string]string) error {
	return secerr.NewNotImplemented(OpImportKey)
}

func (UnimplementedCompleteService) ExportKey(context.Context, string) (*securebuf.Buffer, error) {
	return nil, secerr.NewNotImplemented(OpExportKey)
}

func (UnimplementedCompleteService) DeleteKey(context.Context, string) error {
	return secerr.NewNotImplemented(OpDeleteKey)
}

func (UnimplementedCompleteService) GenerateKey(context.Context, string, KeyKind, crypto.Config, map[string]string) (string, error) {
	return "", secerr.NewNotImplemented(OpGenerateKey)
}

func (UnimplementedCompleteService) Encrypt(context.Context, string, *securebuf.Buffer, crypto.Config) (*securebuf.Buffer, error) {
	return nil, secerr.NewNotImplemented(OpEncrypt)
}

func (UnimplementedCompleteService) Decrypt(context.Context, string, *securebuf.Buffer, crypto.Config) (*securebuf.Buffer, error) {
	return nil, secerr.NewNotImplemented(OpDecrypt)
}

func (UnimplementedCompleteService) Sign(context.Context, string, *securebuf.Buffer, crypto.Config) (*securebuf.Buffer, error) {
	return nil, secerr.NewNotImplemented(OpSign)
}

func (UnimplementedCompleteService) VerifySignature(context.Context, string, *securebuf.Buffer, *securebuf.Buffer, crypto.Config) (bool, error) {
	return false, secerr.NewNotImplemented(OpVerifySignature)
}

func (UnimplementedCompleteService) GenerateRandom(context.Context, int) (*securebuf.Buffer, error) {
	return nil, secerr.NewNotImplemented(OpGenerateRandom)
}

func (UnimplementedCompleteService) EncryptAsymmetric(context.Context, string, *securebuf.Buffer, crypto.Config) (*securebuf.Buffer, error) {
	return nil, secerr.NewNotImplemented(OpEncryptAsymmetric)
}

func (UnimplementedCompleteService) DecryptAsymmetric(context.Context, string, *securebuf.Buffer, crypto.Config) (*securebuf.Buffer, error) {
	return nil, secerr.NewNotImplemented(OpDecryptAsymmetric)
}

func (UnimplementedCompleteService) DeriveKey(context.Context, string, []byte, int, int, string) (string, error) {
	return "", secerr.NewNotImplemented(OpDeriveKey)
}

func (UnimplementedCompleteService) Hash(context.Context, *securebuf.Buffer, crypto.Config) (*securebuf.Buffer, error) {
	return nil, secerr.NewNotImplemented(OpHash)
}

func (UnimplementedCompleteService) DetailedStatus(context.Context) (ServiceStatus, error) {
	return ServiceStatus{}, secerr.NewNotImplemented(OpDetailedStatus)
}
