package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"compliance-backend/internal/citations"
	"compliance-backend/internal/db"
)

const shutdownTimeout = 5 * time.Second

// --- serve ---

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API and the progress monitor",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, log, err := setup(cmd)
	if err != nil {
		return err
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(cfg, log)
	if err != nil {
		return err
	}
	defer a.Close()

	srv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: a.routes(),
		BaseContext: func(_ net.Listener) context.Context {
			return ctx
		},
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("API server is running", zap.String("addr", cfg.HTTPAddr), zap.Bool("ai_enabled", cfg.AIEnabled()))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		return a.monitor.Run(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// --- migrate ---

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending database migrations and list the applied versions",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, _, err := setup(cmd)
		if err != nil {
			return err
		}

		// Connect migrates before returning
		d, err := db.Connect(cfg.SQLDriver(), cfg.ConnString())
		if err != nil {
			return fmt.Errorf("connecting db: %w", err)
		}
		defer d.Close()

		versions, err := d.AppliedMigrations(cmd.Context())
		if err != nil {
			return err
		}
		for _, v := range versions {
			fmt.Fprintf(cmd.OutOrStdout(), "applied %03d\n", v)
		}
		return nil
	},
}

// --- export-citations ---

var exportCitationsCmd = &cobra.Command{
	Use:   "export-citations",
	Short: "Write a user's citations as CSV",
	Long: `Write a user's citations as CSV.

Examples:
  compliance-api export-citations --user 1
  compliance-api export-citations --user 1 --out citations.csv`,
	RunE: func(cmd *cobra.Command, args []string) error {
		uid, _ := cmd.Flags().GetInt("user")
		out, _ := cmd.Flags().GetString("out")
		if uid <= 0 {
			return fmt.Errorf("--user is required")
		}

		return withApp(cmd, func(a *app) error {
			all, err := a.citations.All(cmd.Context(), uid)
			if err != nil {
				return err
			}

			var w io.Writer = cmd.OutOrStdout()
			if out != "" {
				f, err := os.Create(out)
				if err != nil {
					return fmt.Errorf("creating %s: %w", out, err)
				}
				defer f.Close()
				w = f
			}
			if err := citations.WriteCSV(w, all); err != nil {
				return err
			}
			if out != "" {
				fmt.Fprintf(cmd.ErrOrStderr(), "wrote %d citations to %s\n", len(all), out)
			}
			return nil
		})
	},
}

// --- score ---

var scoreCmd = &cobra.Command{
	Use:   "score",
	Short: "Print a user's compliance score as JSON",
	RunE: func(cmd *cobra.Command, args []string) error {
		uid, _ := cmd.Flags().GetInt("user")
		if uid <= 0 {
			return fmt.Errorf("--user is required")
		}

		return withApp(cmd, func(a *app) error {
			score, err := a.progress.Score(cmd.Context(), uid)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(score)
		})
	},
}

func withApp(cmd *cobra.Command, fn func(*app) error) error {
	cfg, log, err := setup(cmd)
	if err != nil {
		return err
	}
	defer log.Sync()

	a, err := newApp(cfg, log)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(a)
}

func init() {
	exportCitationsCmd.Flags().Int("user", 0, "user id")
	exportCitationsCmd.Flags().String("out", "", "output file (default stdout)")
	scoreCmd.Flags().Int("user", 0, "user id")
}
