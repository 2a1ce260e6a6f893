package cli

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"github.com/glinharesb/sekeys/internal/server"
)

func (a *app) auditCmd() *cobra.Command {
	var (
		slot      string
		operation string
		since     time.Duration
		limit     int
		follow    bool
	)
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Query or follow the audit log",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if follow {
				return a.followAudit(cmd)
			}
			return a.run(cmd, func(ctx context.Context, c *client) (map[string]any, error) {
				req := map[string]any{}
				if slot != "" {
					req["slot"] = slot
				}
				if operation != "" {
					req["operation"] = operation
				}
				if since > 0 {
					req["since"] = time.Now().Add(-since).UTC().Format(time.RFC3339Nano)
				}
				if limit > 0 {
					req["limit"] = limit
				}
				return c.call(ctx, server.MethodQueryAudit, req)
			})
		},
	}
	cmd.Flags().StringVar(&slot, "slot", "", "only entries for this slot")
	cmd.Flags().StringVar(&operation, "operation", "", "only entries for this operation, e.g. Sign")
	cmd.Flags().DurationVar(&since, "since", 0, "only entries newer than this")
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum number of entries")
	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "stream new entries until interrupted")
	return cmd
}

// followAudit streams entries without the request timeout.
func (a *app) followAudit(cmd *cobra.Command) error {
	printer, c, closeConn, err := a.setup()
	if err != nil {
		return err
	}
	defer closeConn()

	return c.follow(cmd.Context(), &server.StreamAuditStream, server.MethodStreamAudit, map[string]any{}, printer.Print)
}
