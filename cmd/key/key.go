// cmd/key/key.go

package key

import (
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"os"

	"github.com/CodeMonkeyCybersecurity/mnemosyne/pkg/agent"
	"github.com/CodeMonkeyCybersecurity/mnemosyne/pkg/cmd_helpers"
	"github.com/CodeMonkeyCybersecurity/mnemosyne/pkg/crypto"
	"github.com/CodeMonkeyCybersecurity/mnemosyne/pkg/ipc"
	"github.com/CodeMonkeyCybersecurity/mnemosyne/pkg/mnemo_cli"
	"github.com/CodeMonkeyCybersecurity/mnemosyne/pkg/mnemo_io"
	"github.com/CodeMonkeyCybersecurity/mnemosyne/pkg/protocol"
	"github.com/CodeMonkeyCybersecurity/mnemosyne/pkg/securebuf"
	"github.com/spf13/cobra"
	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.uber.org/zap"
)

// KeyCmd is the parent for key agent operations.
var KeyCmd = &cobra.Command{
	Use:   "key",
	Short: "Manage keys held by the agent",
	Long: `Manage keys held by the key agent.

Repository passwords live under the id "backup.repo.<name>"; other keys
use whatever ids their callers choose. The agent must be running
("mnemosyne agent serve") for these commands to work.

Examples:
  mnemosyne key import backup.repo.offsite      # Prompted, never echoed
  mnemosyne key generate sealing --kind symmetric
  mnemosyne key random --length 32 --format hex`,

	RunE: mnemo_cli.Wrap(func(rc *mnemo_io.RuntimeContext, cmd *cobra.Command, args []string) error {
		return cmd.Help()
	}),
}

// agentService dials nothing yet; the client connects on first use and
// fails with a clear error when no agent is listening.
func agentService(rc *mnemo_io.RuntimeContext) (*ipc.Client, error) {
	cfg, err := cmd_helpers.LoadConfig(rc)
	if err != nil {
		return nil, err
	}
	return cmd_helpers.AgentClient(cfg, rc.Log)
}

func parseKind(s string) (protocol.KeyKind, error) {
	switch protocol.KeyKind(s) {
	case protocol.KeySymmetric, protocol.KeyPublic, protocol.KeyPrivate:
		return protocol.KeyKind(s), nil
	default:
		return "", fmt.Errorf("unknown key kind %q: want symmetric, public, or private", s)
	}
}

// metadataFlags turns the shared --no-export flag into key metadata.
func metadataFlags(cmd *cobra.Command) map[string]string {
	noExport, _ := cmd.Flags().GetBool("no-export")
	if !noExport {
		return nil
	}
	return map[string]string{agent.MetadataExportable: "false"}
}

func encodeMaterial(raw []byte, format string) (string, error) {
	switch format {
	case "base64":
		return base64.StdEncoding.EncodeToString(raw), nil
	case "hex":
		return hex.EncodeToString(raw), nil
	case "raw":
		return string(raw), nil
	default:
		return "", fmt.Errorf("unknown format %q: want base64, hex, or raw", format)
	}
}

var (
	generateKind      string
	generateAlgorithm string
	generateBits      int
)

var generateCmd = &cobra.Command{
	Use:   "generate <id>",
	Short: "Generate a key inside the agent",
	Long: `Generate a key inside the agent. The material never leaves it
unless the key is exported later.

The private kind generates a keypair: the private key lands at <id>, the
public half at <id>.pub.

Examples:
  mnemosyne key generate sealing
  mnemosyne key generate sealing --no-export
  mnemosyne key generate peer --kind private --algorithm curve25519`,

	Args: cobra.ExactArgs(1),
	RunE: mnemo_cli.Wrap(func(rc *mnemo_io.RuntimeContext, cmd *cobra.Command, args []string) error {
		logger := otelzap.Ctx(rc.Ctx)

		kind, err := parseKind(generateKind)
		if err != nil {
			return err
		}
		if kind == protocol.KeyPublic {
			return fmt.Errorf("public keys are generated as the half of a private keypair")
		}

		svc, err := agentService(rc)
		if err != nil {
			return err
		}

		cfg := crypto.Config{Algorithm: generateAlgorithm, KeySizeBits: generateBits}
		id, err := svc.GenerateKey(rc.Ctx, args[0], kind, cfg, metadataFlags(cmd))
		if err != nil {
			return err
		}

		logger.Info("Key generated", zap.String("key_id", id), zap.String("kind", string(kind)))
		fmt.Printf("Key %s generated\n", id)
		if kind == protocol.KeyPrivate {
			fmt.Printf("Public half stored as %s.pub\n", id)
		}
		return nil
	}),
}

var importFile string

var importCmd = &cobra.Command{
	Use:   "import <id>",
	Short: "Import key material into the agent",
	Long: `Import key material into the agent.

Without --file the material is prompted for twice with echo off, which
suits repository passwords. With --file the file's bytes become the key
material as-is.

Examples:
  mnemosyne key import backup.repo.offsite
  mnemosyne key import sealing --file sealing.key --no-export`,

	Args: cobra.ExactArgs(1),
	RunE: mnemo_cli.Wrap(func(rc *mnemo_io.RuntimeContext, cmd *cobra.Command, args []string) error {
		logger := otelzap.Ctx(rc.Ctx)
		id := args[0]

		kindFlag, _ := cmd.Flags().GetString("kind")
		kind, err := parseKind(kindFlag)
		if err != nil {
			return err
		}

		var material *securebuf.Buffer
		if importFile != "" {
			raw, err := os.ReadFile(importFile)
			if err != nil {
				return fmt.Errorf("read key material: %w", err)
			}
			material = securebuf.New(raw)
			securebuf.Zero(raw)
		} else {
			material, err = mnemo_io.PromptPasswordTwice(rc, fmt.Sprintf("Material for key %q", id))
			if err != nil {
				return err
			}
		}
		defer material.Wipe()

		svc, err := agentService(rc)
		if err != nil {
			return err
		}
		if err := svc.ImportKey(rc.Ctx, id, kind, material, metadataFlags(cmd)); err != nil {
			return err
		}

		logger.Info("Key imported", zap.String("key_id", id), zap.Int("bytes", material.Len()))
		fmt.Printf("Key %s imported\n", id)
		return nil
	}),
}

var exportFormat string

var exportCmd = &cobra.Command{
	Use:   "export <id>",
	Short: "Export key material to stdout",
	Long: `Export key material to stdout. This prints a secret; redirect it
somewhere safe. Keys stored with --no-export refuse to leave the agent.

Examples:
  mnemosyne key export backup.repo.offsite --format raw
  mnemosyne key export sealing > sealing.b64`,

	Args: cobra.ExactArgs(1),
	RunE: mnemo_cli.Wrap(func(rc *mnemo_io.RuntimeContext, cmd *cobra.Command, args []string) error {
		svc, err := agentService(rc)
		if err != nil {
			return err
		}

		material, err := svc.ExportKey(rc.Ctx, args[0])
		if err != nil {
			return err
		}
		defer material.Wipe()

		raw := material.Bytes()
		defer securebuf.Zero(raw)

		out, err := encodeMaterial(raw, exportFormat)
		if err != nil {
			return err
		}
		fmt.Println(out)
		return nil
	}),
}

var deleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a key from the agent",
	Long: `Delete a key from the agent. Deletion is unrecoverable; anything
encrypted under the key stays undecryptable. Prompts unless --force.`,

	Args: cobra.ExactArgs(1),
	RunE: mnemo_cli.Wrap(func(rc *mnemo_io.RuntimeContext, cmd *cobra.Command, args []string) error {
		logger := otelzap.Ctx(rc.Ctx)
		id := args[0]

		force, _ := cmd.Flags().GetBool("force")
		if !force {
			ok, err := mnemo_io.PromptYesNo(rc, fmt.Sprintf("Delete key %q permanently?", id))
			if err != nil {
				return err
			}
			if !ok {
				fmt.Println("Aborted")
				return nil
			}
		}

		svc, err := agentService(rc)
		if err != nil {
			return err
		}
		if err := svc.DeleteKey(rc.Ctx, id); err != nil {
			return err
		}

		logger.Info("Key deleted", zap.String("key_id", id))
		fmt.Printf("Key %s deleted\n", id)
		return nil
	}),
}

var (
	deriveSalt       string
	deriveIterations int
	deriveLength     int
)

var deriveCmd = &cobra.Command{
	Use:   "derive <source-id> [target-id]",
	Short: "Derive a new key from a stored one",
	Long: `Derive a new key from a stored one with PBKDF2. The derived key
is stored in the agent; the material never leaves it.

The salt is base64. Without --salt a random one is generated and printed
so the derivation can be repeated. Omitting target-id stores the result
under a random id.

Examples:
  mnemosyne key derive master sealing --iterations 210000 --length 32
  mnemosyne key derive master sealing --salt "c2FsdA=="`,

	Args: cobra.RangeArgs(1, 2),
	RunE: mnemo_cli.Wrap(func(rc *mnemo_io.RuntimeContext, cmd *cobra.Command, args []string) error {
		logger := otelzap.Ctx(rc.Ctx)
		sourceID := args[0]
		targetID := ""
		if len(args) > 1 {
			targetID = args[1]
		}

		svc, err := agentService(rc)
		if err != nil {
			return err
		}

		var salt []byte
		generatedSalt := false
		if deriveSalt != "" {
			salt, err = base64.StdEncoding.DecodeString(deriveSalt)
			if err != nil {
				return fmt.Errorf("decode --salt: %w", err)
			}
		} else {
			buf, err := svc.GenerateRandom(rc.Ctx, 16)
			if err != nil {
				return err
			}
			salt = buf.Bytes()
			buf.Wipe()
			generatedSalt = true
		}

		id, err := svc.DeriveKey(rc.Ctx, sourceID, salt, deriveIterations, deriveLength, targetID)
		if err != nil {
			return err
		}

		logger.Info("Key derived",
			zap.String("source_key_id", sourceID),
			zap.String("key_id", id),
			zap.Int("iterations", deriveIterations))

		fmt.Printf("Key %s derived from %s\n", id, sourceID)
		if generatedSalt {
			fmt.Printf("Salt: %s (keep this to repeat the derivation)\n",
				base64.StdEncoding.EncodeToString(salt))
		}
		return nil
	}),
}

var (
	randomLength int
	randomFormat string
)

var randomCmd = &cobra.Command{
	Use:   "random",
	Short: "Generate random bytes through the agent",
	Long: `Generate cryptographically secure random bytes through the agent
and print them to stdout.

Examples:
  mnemosyne key random --length 32
  mnemosyne key random --length 16 --format hex`,

	RunE: mnemo_cli.Wrap(func(rc *mnemo_io.RuntimeContext, cmd *cobra.Command, args []string) error {
		svc, err := agentService(rc)
		if err != nil {
			return err
		}

		buf, err := svc.GenerateRandom(rc.Ctx, randomLength)
		if err != nil {
			return err
		}
		defer buf.Wipe()

		raw := buf.Bytes()
		defer securebuf.Zero(raw)

		out, err := encodeMaterial(raw, randomFormat)
		if err != nil {
			return err
		}
		fmt.Println(out)
		return nil
	}),
}

func init() {
	for _, subCmd := range []*cobra.Command{generateCmd, importCmd, exportCmd, deleteCmd, deriveCmd, randomCmd} {
		KeyCmd.AddCommand(subCmd)
	}

	generateCmd.Flags().StringVar(&generateKind, "kind", string(protocol.KeySymmetric),
		"Key kind: symmetric or private")
	generateCmd.Flags().StringVar(&generateAlgorithm, "algorithm", "",
		"Algorithm the key is for (default aes-256-gcm, curve25519 for private)")
	generateCmd.Flags().IntVar(&generateBits, "bits", 0,
		"Key size in bits (default: the algorithm's canonical size)")
	generateCmd.Flags().Bool("no-export", false, "Refuse later export of this key")

	importCmd.Flags().String("kind", string(protocol.KeySymmetric),
		"Key kind: symmetric, public, or private")
	importCmd.Flags().StringVar(&importFile, "file", "",
		"Read key material from this file instead of prompting")
	importCmd.Flags().Bool("no-export", false, "Refuse later export of this key")

	exportCmd.Flags().StringVar(&exportFormat, "format", "base64",
		"Output format: base64, hex, or raw")

	deleteCmd.Flags().BoolP("force", "f", false, "Delete without confirmation")

	deriveCmd.Flags().StringVar(&deriveSalt, "salt", "", "Derivation salt, base64")
	deriveCmd.Flags().IntVar(&deriveIterations, "iterations", 210000, "PBKDF2 iteration count")
	deriveCmd.Flags().IntVar(&deriveLength, "length", 32, "Derived key length in bytes")

	randomCmd.Flags().IntVar(&randomLength, "length", 32, "Number of random bytes")
	randomCmd.Flags().StringVar(&randomFormat, "format", "base64",
		"Output format: base64 or hex")
}
