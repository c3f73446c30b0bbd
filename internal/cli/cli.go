package cli

import (
	"context"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/fx"

	"github.com/tablewire/tablewire/internal/app"
	"github.com/tablewire/tablewire/internal/cache"
	"github.com/tablewire/tablewire/internal/config"
	"github.com/tablewire/tablewire/internal/logger"
	"github.com/tablewire/tablewire/internal/realtime/conn"
	"github.com/tablewire/tablewire/internal/realtime/transport"
	"github.com/tablewire/tablewire/internal/snapshot"
	"github.com/tablewire/tablewire/internal/store"
)

// NewRootCommand builds the root tablewire CLI command.
func NewRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "tablewire",
		Short: "Realtime sync agent for the restaurant platform",
	}

	root.AddCommand(newStartCmd())
	root.AddCommand(newSnapshotCmd())
	root.AddCommand(newTailCmd())

	return root
}

// Execute runs the tablewire CLI.
func Execute() error {
	if err := NewRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return err
	}
	return nil
}

func newStartCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "start",
		Aliases: []string{"run"},
		Short:   "Run the sync agent",
		RunE: func(cmd *cobra.Command, args []string) error {
			application := fx.New(app.Module)
			if err := application.Start(cmd.Context()); err != nil {
				return err
			}
			<-cmd.Context().Done()
			stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return application.Stop(stopCtx)
		},
	}
}

func newSnapshotCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "snapshot",
		Short: "Fetch a one-shot REST snapshot and print per-family counts",
		RunE: func(cmd *cobra.Command, args []string) error {
			filters := snapshot.Filters{}
			filters.Search, _ = cmd.Flags().GetString("search")
			filters.Status, _ = cmd.Flags().GetString("status")
			filters.StartDate, _ = cmd.Flags().GetString("start-date")
			filters.EndDate, _ = cmd.Flags().GetString("end-date")

			var loader *snapshot.Loader
			opts := fx.Options(
				config.Module,
				logger.Module,
				cache.Module,
				store.Module,
				snapshot.Module,
				fx.Populate(&loader),
			)
			return runWithApp(cmd.Context(), opts, func(ctx context.Context) error {
				counts, err := loader.LoadAll(ctx, filters)
				if err != nil {
					return err
				}
				families := make([]string, 0, len(counts))
				for family := range counts {
					families = append(families, string(family))
				}
				sort.Strings(families)
				for _, family := range families {
					fmt.Fprintf(cmd.OutOrStdout(), "%-14s %d\n", family, counts[store.Family(family)])
				}
				return nil
			})
		},
	}
	cmd.Flags().String("search", "", "Free-text search passed to the platform API")
	cmd.Flags().String("status", "", "Status filter passed to the platform API")
	cmd.Flags().String("start-date", "", "Start date filter (YYYY-MM-DD)")
	cmd.Flags().String("end-date", "", "End date filter (YYYY-MM-DD)")
	return cmd
}

func newTailCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "tail",
		Short: "Connect to the realtime channel and print inbound events",
		RunE: func(cmd *cobra.Command, args []string) error {
			var (
				t   transport.Transport
				mgr *conn.Manager
			)
			opts := fx.Options(
				config.Module,
				logger.Module,
				transport.Module,
				conn.Module,
				fx.Populate(&t, &mgr),
			)
			return runWithApp(cmd.Context(), opts, func(ctx context.Context) error {
				if err := mgr.Connect(ctx, ""); err != nil {
					return err
				}
				defer mgr.Disconnect()

				out := cmd.OutOrStdout()
				for {
					select {
					case <-ctx.Done():
						return nil
					case up := <-t.States():
						if up {
							fmt.Fprintln(out, "-- connected")
						} else {
							fmt.Fprintln(out, "-- disconnected")
						}
					case frame := <-t.Frames():
						fmt.Fprintf(out, "%s %s %s\n",
							time.Now().Format(time.RFC3339), frame.Event, frame.Data)
					}
				}
			})
		},
	}
}

func runWithApp(ctx context.Context, opts fx.Option, fn func(context.Context) error) error {
	application := fx.New(opts, fx.NopLogger)
	if err := application.Start(ctx); err != nil {
		return err
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = application.Stop(stopCtx)
	}()
	return fn(ctx)
}
