package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/joescharf/taskreview/internal/sweep"
)

var (
	sweepOnce      bool
	sweepOlderThan time.Duration
)

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Expire stale review claims",
	Long: `Demote requested tasks whose review claim is older than the claim expiry
to unnecessary. Without --once, runs on the configured cron schedule until
interrupted and serves Prometheus metrics on metrics.addr when set.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if sweepOnce || dryRun {
			return sweepOnceRun()
		}
		return sweepRun()
	},
}

func init() {
	sweepCmd.Flags().BoolVar(&sweepOnce, "once", false, "Run a single sweep and exit")
	sweepCmd.Flags().DurationVar(&sweepOlderThan, "older-than", 0, "Claim age to expire (default review.claim_expiry)")
	sweepCmd.Flags().String("schedule", "", "Cron schedule (default sweep.schedule)")
	_ = viper.BindPFlag("sweep.schedule", sweepCmd.Flags().Lookup("schedule"))
	rootCmd.AddCommand(sweepCmd)
}

// sweepPIDFile returns the PID file guarding against concurrent sweepers.
func sweepPIDFile() *sweep.PIDFile {
	return sweep.NewPIDFile(filepath.Join(viper.GetString("state_dir"), "taskreview-sweep.pid"))
}

func claimAge() time.Duration {
	if sweepOlderThan > 0 {
		return sweepOlderThan
	}
	return viper.GetDuration("review.claim_expiry")
}

func sweepOnceRun() error {
	ctx := context.Background()
	w, err := getWorkflow()
	if err != nil {
		return err
	}

	if dryRun {
		age := claimAge()
		ids, err := dataStore.ListStaleClaims(ctx, time.Now().Add(-age), 0)
		if err != nil {
			return err
		}
		ui.DryRunMsg("Would expire %d stale claims older than %s", len(ids), age)
		for _, id := range ids {
			ui.VerboseLog("task %d", id)
		}
		return nil
	}

	n, err := w.ExpireStale(ctx, claimAge())
	if err != nil {
		return err
	}
	ui.Success("Expired %d stale claims", n)
	return nil
}

func sweepRun() error {
	pf := sweepPIDFile()
	if err := os.MkdirAll(filepath.Dir(pf.Path), 0o755); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}
	if err := pf.Acquire(); err != nil {
		return err
	}
	defer func() { _ = pf.Release() }()

	w, err := getWorkflow()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sched, err := sweep.New(w, viper.GetString("sweep.schedule"), claimAge(), nil)
	if err != nil {
		return err
	}

	if addr := viper.GetString("metrics.addr"); addr != "" {
		srv := &http.Server{Addr: addr, Handler: metricsMux(), ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				ui.Error("metrics server: %v", err)
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
		ui.Info("Serving metrics at http://%s/metrics", addr)
	}

	sched.Start(ctx)
	ui.Info("Sweeping on schedule %q (next run %s)", viper.GetString("sweep.schedule"), sched.Next().Format(time.RFC3339))
	<-ctx.Done()
	sched.Stop()
	ui.Info("Sweeper stopped")
	return nil
}

func metricsMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", recorder.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})
	return mux
}
