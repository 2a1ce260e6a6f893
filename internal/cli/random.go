package cli

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/glinharesb/sekeys/internal/server"
)

func (a *app) randomCmd() *cobra.Command {
	var (
		length int
		trng   bool
	)
	cmd := &cobra.Command{
		Use:   "random",
		Short: "Read random bytes from the element",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.run(cmd, func(ctx context.Context, c *client) (map[string]any, error) {
				return c.call(ctx, server.MethodGetRandom, map[string]any{"length": length, "trng": trng})
			})
		},
	}
	cmd.Flags().IntVar(&length, "length", 32, "number of bytes, 8 to 256")
	cmd.Flags().BoolVar(&trng, "trng", true, "use the true random generator instead of the deterministic one")
	return cmd
}
