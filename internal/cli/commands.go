// Package cli implements the pingd command line: the serve command that
// runs the daemon, and the query and stats commands used to inspect it.
package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/energizer-project/pingd/internal/config"
	"github.com/energizer-project/pingd/internal/db"
	"github.com/energizer-project/pingd/internal/protocol"
	"github.com/energizer-project/pingd/internal/status"
)

// ServeFunc runs the daemon with the configuration found in configDir until
// ctx is cancelled.
type ServeFunc func(ctx context.Context, configDir string) error

// NewRootCommand builds the pingd command tree. Running pingd without a
// subcommand is the same as pingd serve.
func NewRootCommand(version string, serve ServeFunc) *cobra.Command {
	var configDir string

	runServe := func(cmd *cobra.Command, args []string) error {
		return serve(cmd.Context(), configDir)
	}

	root := &cobra.Command{
		Use:           "pingd",
		Short:         "Minecraft Server List Ping responder",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		RunE:          runServe,
	}
	root.PersistentFlags().StringVar(&configDir, "config", config.DefaultConfigDir, "configuration directory")

	root.AddCommand(
		&cobra.Command{
			Use:   "serve",
			Short: "Answer status queries on the configured port",
			Args:  cobra.NoArgs,
			RunE:  runServe,
		},
		newQueryCommand(),
		newStatsCommand(&configDir),
	)
	return root
}

func newQueryCommand() *cobra.Command {
	var (
		legacy   bool
		extended bool
		timeout  time.Duration
		version  int32
	)

	cmd := &cobra.Command{
		Use:   "query <host[:port]>",
		Short: "Query a server and print its status",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runQuery(cmd, args[0], legacy || extended, extended, timeout, version)
		},
	}
	cmd.Flags().BoolVar(&legacy, "legacy", false, "use the pre-netty 0xFE ping")
	cmd.Flags().BoolVar(&extended, "extended", false, "request the extended legacy response (implies --legacy)")
	cmd.Flags().DurationVar(&timeout, "timeout", protocol.DefaultClientTimeout, "query timeout")
	cmd.Flags().Int32Var(&version, "protocol", -1, "protocol version sent in the handshake")
	return cmd
}

func runQuery(cmd *cobra.Command, addr string, legacy, extended bool, timeout time.Duration, version int32) error {
	client := &protocol.Client{Timeout: timeout, ProtocolVersion: version}
	out := cmd.OutOrStdout()

	if legacy {
		body, err := client.Legacy(cmd.Context(), addr, extended)
		if err != nil {
			return err
		}
		return RenderLegacy(out, addr, body)
	}

	res, err := client.Status(cmd.Context(), addr)
	if err != nil {
		return err
	}
	resp, err := status.ParseResponse(res.JSON)
	if err != nil {
		return err
	}
	RenderStatus(out, addr, resp, res.Latency)
	return nil
}

func newStatsCommand(configDir *string) *cobra.Command {
	var (
		days       int
		errorLimit int
		dbPath     string
	)

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Print recorded request statistics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if dbPath == "" {
				cfg, err := config.Load(*configDir)
				if err != nil {
					return err
				}
				dbPath = cfg.GetApplicationData().Stats.DatabasePath
			}

			stats, err := db.NewStatsDatabase(dbPath)
			if err != nil {
				return err
			}
			defer stats.Close()

			daily, err := stats.Daily(days, time.Now())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			RenderStats(out, daily)

			if errorLimit <= 0 {
				return nil
			}
			records, err := stats.RecentErrors(errorLimit)
			if err != nil {
				return err
			}
			fmt.Fprintln(out)
			RenderErrors(out, records)
			return nil
		},
	}
	cmd.Flags().IntVar(&days, "days", 7, "number of days to show")
	cmd.Flags().IntVar(&errorLimit, "errors", 10, "number of recent protocol errors to show (0 hides them)")
	cmd.Flags().StringVar(&dbPath, "db", "", "statistics database (defaults to the configured path)")
	return cmd
}
