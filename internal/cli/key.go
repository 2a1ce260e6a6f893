package cli

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/glinharesb/sekeys/internal/server"
)

func (a *app) generateCmd() *cobra.Command {
	var (
		slot    string
		kind    string
		curve   string
		keySize int
		usage   []string
		export  bool
	)
	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Generate a key pair in a slot",
		Example: `  sekeys generate --slot 0xe0f1 --curve secp384r1
  sekeys generate --slot 0xe0fc --key-size 2048 --usage signature,authentication`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.run(cmd, func(ctx context.Context, c *client) (map[string]any, error) {
				req := map[string]any{"slot": slot, "export": export}
				if kind != "" {
					req["kind"] = kind
				}
				if curve != "" {
					req["curve"] = curve
				}
				if keySize != 0 {
					req["key_size"] = keySize
				}
				if len(usage) > 0 {
					names := make([]any, len(usage))
					for i, u := range usage {
						names[i] = u
					}
					req["usage"] = names
				}
				return c.call(ctx, server.MethodGenerateKey, req)
			})
		},
	}
	cmd.Flags().StringVar(&slot, "slot", "", "slot, e.g. 0xe0f1")
	cmd.Flags().StringVar(&kind, "kind", "", "ecc or rsa (default follows the slot)")
	cmd.Flags().StringVar(&curve, "curve", "", "ecc curve (default secp256r1)")
	cmd.Flags().IntVar(&keySize, "key-size", 0, "rsa modulus size: 1024 or 2048")
	cmd.Flags().StringSliceVar(&usage, "usage", nil, "key usage: key_agreement, authentication, encryption, signature")
	cmd.Flags().BoolVar(&export, "export", false, "return the private key")
	_ = cmd.MarkFlagRequired("slot")
	return cmd
}

func (a *app) pubkeyCmd() *cobra.Command {
	var slot string
	cmd := &cobra.Command{
		Use:   "pubkey",
		Short: "Show the public key of a generated slot",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.run(cmd, func(ctx context.Context, c *client) (map[string]any, error) {
				return c.call(ctx, server.MethodGetPublicKey, map[string]any{"slot": slot})
			})
		},
	}
	cmd.Flags().StringVar(&slot, "slot", "", "slot, e.g. 0xe0f1")
	_ = cmd.MarkFlagRequired("slot")
	return cmd
}

func (a *app) deleteCmd() *cobra.Command {
	var slot string
	cmd := &cobra.Command{
		Use:     "delete",
		Short:   "Erase the key in a slot",
		Example: `  sekeys delete --slot 0xe0f1`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.run(cmd, func(ctx context.Context, c *client) (map[string]any, error) {
				return c.call(ctx, server.MethodDeleteKey, map[string]any{"slot": slot})
			})
		},
	}
	cmd.Flags().StringVar(&slot, "slot", "", "slot, e.g. 0xe0f1")
	_ = cmd.MarkFlagRequired("slot")
	return cmd
}

func (a *app) listCmd() *cobra.Command {
	var kind string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List generated keys",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.run(cmd, func(ctx context.Context, c *client) (map[string]any, error) {
				req := map[string]any{}
				if kind != "" {
					req["kind"] = kind
				}
				return c.call(ctx, server.MethodListKeys, req)
			})
		},
	}
	cmd.Flags().StringVar(&kind, "kind", "", "only list ecc or rsa keys")
	return cmd
}

func (a *app) signCmd() *cobra.Command {
	var (
		slot          string
		text          string
		in            string
		hashAlgorithm string
	)
	cmd := &cobra.Command{
		Use:   "sign",
		Short: "Sign a message with a slot key",
		Example: `  sekeys sign --slot 0xe0f1 --text "hello"
  sekeys sign --slot 0xe0fc --in firmware.bin --hash sha384`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			req := map[string]any{"slot": slot}
			switch {
			case cmd.Flags().Changed("text") && in != "":
				return fmt.Errorf("--text and --in are mutually exclusive")
			case cmd.Flags().Changed("text"):
				req["text"] = text
			case in != "":
				data, err := readInput(cmd.InOrStdin(), in)
				if err != nil {
					return err
				}
				req["data"] = base64.StdEncoding.EncodeToString(data)
			default:
				return fmt.Errorf("one of --text or --in is required")
			}
			if hashAlgorithm != "" {
				req["hash_algorithm"] = hashAlgorithm
			}

			return a.run(cmd, func(ctx context.Context, c *client) (map[string]any, error) {
				return c.call(ctx, server.MethodSign, req)
			})
		},
	}
	cmd.Flags().StringVar(&slot, "slot", "", "slot, e.g. 0xe0f1")
	cmd.Flags().StringVar(&text, "text", "", "sign this text")
	cmd.Flags().StringVar(&in, "in", "", "sign the contents of this file (- for stdin)")
	cmd.Flags().StringVar(&hashAlgorithm, "hash", "", "rsa hash algorithm: sha256 or sha384")
	_ = cmd.MarkFlagRequired("slot")
	return cmd
}

func readInput(stdin io.Reader, path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(stdin)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return data, nil
}
