package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/davidleathers/unit-kpi-backend/internal/api/rest"
	"github.com/davidleathers/unit-kpi-backend/internal/domain/kpi"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "kpi-api",
		Short:         "Consolidated KPI reporting across property units",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to YAML configuration file")

	root.AddCommand(newServeCommand(&configPath), newReportCommand(&configPath))
	return root
}

func newServeCommand(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx, *configPath)
			if err != nil {
				return err
			}
			defer a.Close(context.Background())

			handler, err := rest.NewHandler(a.service, a.logger)
			if err != nil {
				return err
			}
			router := rest.NewRouter(handler, rest.NewHTTPMetrics(a.registry), a.registry, a.logger)

			server, err := rest.NewServer(a.cfg.Server, router, a.logger)
			if err != nil {
				return err
			}

			a.logger.Info("KPI API starting",
				zap.String("version", a.cfg.Version),
				zap.String("environment", a.cfg.Environment),
				zap.Int("units_configured", len(a.cfg.Units)))

			return server.Run(ctx)
		},
	}
}

func newReportCommand(configPath *string) *cobra.Command {
	var (
		start  string
		end    string
		period string
		unit   string
	)

	cmd := &cobra.Command{
		Use:   "report <domain>",
		Short: "Compute one consolidated report and print it as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if (period == "") == (start == "" && end == "") {
				return fmt.Errorf("exactly one of --period or --start/--end is required")
			}

			ctx := cmd.Context()
			a, err := newApp(ctx, *configPath)
			if err != nil {
				return err
			}
			defer a.Close(context.Background())

			scope := kpi.UnitScope(unit)
			var res interface{}
			if period != "" {
				res, err = a.service.GetNamedKpis(ctx, args[0], period, scope)
			} else {
				res, err = a.service.GetUnifiedKpis(ctx, args[0], start, end, scope)
			}
			if err != nil {
				return err
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(res)
		},
	}

	cmd.Flags().StringVar(&start, "start", "", "first day of the range (YYYY-MM-DD)")
	cmd.Flags().StringVar(&end, "end", "", "last day of the range (YYYY-MM-DD)")
	cmd.Flags().StringVar(&period, "period", "", "named period: last_7_days, last_closed_month or year_to_date")
	cmd.Flags().StringVar(&unit, "unit", "", "restrict the report to one unit ID")

	return cmd
}
