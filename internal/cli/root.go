// Package cli implements the sekeys command line client.
package cli

import (
	"context"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"
	"google.golang.org/grpc"
)

// Config holds the global flags.
type Config struct {
	Addr    string
	Token   string
	Output  string
	Timeout time.Duration
}

type app struct {
	cfg      Config
	out      io.Writer
	dialOpts []grpc.DialOption
}

// NewRootCommand builds the sekeys command tree. dialOpts are appended to
// the client's dial options.
func NewRootCommand(out io.Writer, dialOpts ...grpc.DialOption) *cobra.Command {
	a := &app{out: out, dialOpts: dialOpts}

	root := &cobra.Command{
		Use:   "sekeys",
		Short: "sekeys CLI - secure element key management",
		Long: `sekeys talks to a sekeys server to generate keys in secure element
slots, sign with them and read the element's random generators.

ECC slots:  0xe0f0-0xe0f3, session slots 0xe100-0xe103
RSA slots:  0xe0fc, 0xe0fd`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(out)

	flags := root.PersistentFlags()
	flags.StringVar(&a.cfg.Addr, "addr", envOr("SEKEYS_ADDR", "localhost:50051"), "server address")
	flags.StringVar(&a.cfg.Token, "token", envOr("SEKEYS_AUTH_TOKEN", "dev-token"), "bearer token")
	flags.StringVarP(&a.cfg.Output, "output", "o", "text", "output format (text, json, yaml)")
	flags.DurationVar(&a.cfg.Timeout, "timeout", 10*time.Second, "per-request timeout")

	root.AddCommand(
		a.generateCmd(),
		a.pubkeyCmd(),
		a.deleteCmd(),
		a.listCmd(),
		a.signCmd(),
		a.randomCmd(),
		a.auditCmd(),
	)
	return root
}

// Execute runs the CLI against os.Args.
func Execute() error {
	return NewRootCommand(os.Stdout).Execute()
}

// run dials the server, performs fn with a request-scoped context and prints
// its result.
func (a *app) run(cmd *cobra.Command, fn func(ctx context.Context, c *client) (map[string]any, error)) error {
	printer, c, closeConn, err := a.setup()
	if err != nil {
		return err
	}
	defer closeConn()

	ctx, cancel := context.WithTimeout(cmd.Context(), a.cfg.Timeout)
	defer cancel()

	resp, err := fn(ctx, c)
	if err != nil {
		return err
	}
	return printer.Print(resp)
}

func (a *app) setup() (*Printer, *client, func(), error) {
	format, err := ParseOutputFormat(a.cfg.Output)
	if err != nil {
		return nil, nil, nil, err
	}
	conn, err := dial(a.cfg.Addr, a.dialOpts...)
	if err != nil {
		return nil, nil, nil, err
	}
	closeConn := func() { _ = conn.Close() }
	return NewPrinter(format, a.out), &client{conn: conn, token: a.cfg.Token}, closeConn, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
