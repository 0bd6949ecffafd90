// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/qcollector/fieldmigrate/cmd/flags"
	"github.com/qcollector/fieldmigrate/internal/api"
	"github.com/qcollector/fieldmigrate/pkg/roll"
)

const sweepInterval = 24 * time.Hour

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the migration API server and queue workers",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(),
				syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			logger := newLogger()

			forms, err := loadForms()
			if err != nil {
				return err
			}

			m, err := newRollWithInitCheck(ctx, forms)
			if err != nil {
				return err
			}
			defer m.Close()

			if err := m.Start(ctx); err != nil {
				return err
			}
			go runSweeper(ctx, m, logger)

			srv := &http.Server{
				Addr:    flags.HTTPAddress(),
				Handler: api.NewRouter(m, api.WithRouterLogger(logger)),
			}

			errCh := make(chan error, 1)
			go func() {
				logger.Info("migration API listening", slog.String("addr", srv.Addr))
				if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
					errCh <- err
				}
			}()

			select {
			case err := <-errCh:
				return err
			case <-ctx.Done():
			}

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	}

	cmd.Flags().String("http-addr", ":8080", "Address for the migration API")
	viper.BindPFlag("HTTP_ADDR", cmd.Flags().Lookup("http-addr"))
	return cmd
}

// runSweeper runs the retention cleanup once a day.
func runSweeper(ctx context.Context, m *roll.Roll, logger *slog.Logger) {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := m.Cleanup(ctx, flags.RetentionDays(), false); err != nil {
				logger.Error("retention cleanup failed", slog.Any("err", err))
			}
		}
	}
}
