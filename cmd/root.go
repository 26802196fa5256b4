package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/joescharf/taskreview/internal/metrics"
	"github.com/joescharf/taskreview/internal/models"
	"github.com/joescharf/taskreview/internal/notify"
	"github.com/joescharf/taskreview/internal/output"
	"github.com/joescharf/taskreview/internal/review"
	"github.com/joescharf/taskreview/internal/scoring"
	"github.com/joescharf/taskreview/internal/store"
)

// Package-level shared dependencies, initialized in cobra.OnInitialize.
var (
	ui        *output.UI
	dataStore store.Store
	workflow  *review.Workflow
	recorder  *metrics.Recorder
	closers   []func()

	verbose bool
	dryRun  bool
)

var (
	buildVersion = "dev"
	buildCommit  = "none"
	buildDate    = "unknown"
)

var rootCmd = &cobra.Command{
	Use:   "taskreview",
	Short: "Review and meta-review workflow for mapping tasks",
	Long: `taskreview drives the review lifecycle of crowdsourced mapping tasks:
mappers request review, reviewers claim and decide, meta-reviewers audit
the decisions. Bundled tasks move together and every decision is recorded
in an append-only history.`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	DisableAutoGenTag: true,
}

// Execute is the main entry point called from main.go.
func Execute(version, commit, date string) {
	buildVersion = version
	buildCommit = commit
	buildDate = date

	err := rootCmd.Execute()
	closeDeps()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig, initDeps)

	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Verbose output")
	rootCmd.PersistentFlags().BoolVarP(&dryRun, "dry-run", "n", false, "Show what would happen without making changes")
	rootCmd.PersistentFlags().String("config", "", "Config file (default ~/.config/taskreview/config.yaml)")
	rootCmd.PersistentFlags().String("as", "", "Acting user id or name (default $TASKREVIEW_ACTOR)")
	_ = viper.BindPFlag("actor", rootCmd.PersistentFlags().Lookup("as"))
}

func initConfig() {
	// If --config is explicitly set, use that file
	if cfgFile, _ := rootCmd.PersistentFlags().GetString("config"); cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: cannot find home directory: %v\n", err)
			os.Exit(1)
		}

		viper.AddConfigPath(filepath.Join(home, ".config", "taskreview"))
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
	}

	viper.SetEnvPrefix("TASKREVIEW")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	home, _ := os.UserHomeDir()
	setDefaults(filepath.Join(home, ".config", "taskreview"))

	// Read config file if it exists (optional)
	_ = viper.ReadInConfig()
}

// setDefaults registers every config key with its default value.
func setDefaults(stateDir string) {
	viper.SetDefault("state_dir", stateDir)
	viper.SetDefault("db_path", filepath.Join(stateDir, "taskreview.db"))
	viper.SetDefault("review.claim_expiry", review.DefaultClaimExpiry)
	viper.SetDefault("review.queue_limit", 1)
	viper.SetDefault("review.cache_size", store.DefaultCacheSize)
	viper.SetDefault("review.sweep_batch_size", review.DefaultSweepBatchSize)
	viper.SetDefault("sweep.schedule", "@every 1h")
	viper.SetDefault("notify.nats_url", "")
	viper.SetDefault("notify.subject_prefix", notify.DefaultSubjectPrefix)
	viper.SetDefault("metrics.addr", "")
}

func initDeps() {
	ui = output.New()
	ui.Verbose = verbose
	ui.DryRun = dryRun

	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	// Store and workflow are initialized lazily, only when commands need them.
}

// getStore returns the shared store, initializing it on first call.
func getStore() (store.Store, error) {
	if dataStore != nil {
		return dataStore, nil
	}

	dbPath := viper.GetString("db_path")
	s, err := store.NewSQLiteStore(dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := s.Migrate(context.Background()); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}

	dataStore = store.NewCachedStore(s, viper.GetInt("review.cache_size"))
	closers = append(closers, func() { _ = s.Close() })
	return dataStore, nil
}

// getWorkflow returns the shared workflow wired to the scoring ledger,
// notification sinks and metrics recorder.
func getWorkflow() (*review.Workflow, error) {
	if workflow != nil {
		return workflow, nil
	}
	s, err := getStore()
	if err != nil {
		return nil, err
	}

	log := slog.Default()
	sinks := notify.Multi{notify.LogSink{Log: log}}
	if url := viper.GetString("notify.nats_url"); url != "" {
		natsSink, closeFn, err := notify.Connect(url, viper.GetString("notify.subject_prefix"))
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, natsSink)
		closers = append(closers, closeFn)
	}

	ledger := scoring.NewLedger(s, log)
	recorder = metrics.New()
	workflow = review.NewWorkflow(s, review.DefaultConfig(),
		review.WithScoring(ledger),
		review.WithAchievements(ledger),
		review.WithNotifier(sinks),
		review.WithMetrics(recorder),
		review.WithLogger(log),
	)
	return workflow, nil
}

// closeDeps releases resources in reverse order of acquisition.
func closeDeps() {
	for i := len(closers) - 1; i >= 0; i-- {
		closers[i]()
	}
	closers = nil
	dataStore = nil
	workflow = nil
	recorder = nil
}

// resolveUser finds a user by numeric id or by name.
func resolveUser(ctx context.Context, s store.Store, ref string) (*models.User, error) {
	if id, err := strconv.ParseInt(ref, 10, 64); err == nil {
		u, err := s.GetUser(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("user %d: %w", id, err)
		}
		return u, nil
	}
	u, err := s.GetUserByName(ctx, ref)
	if err != nil {
		return nil, fmt.Errorf("user %q: %w", ref, err)
	}
	return u, nil
}

// currentActor resolves the acting user from --as or $TASKREVIEW_ACTOR.
func currentActor(ctx context.Context, s store.Store) (models.Actor, error) {
	ref := viper.GetString("actor")
	if ref == "" {
		return models.Actor{}, fmt.Errorf("no acting user: pass --as or set TASKREVIEW_ACTOR")
	}
	u, err := resolveUser(ctx, s, ref)
	if err != nil {
		return models.Actor{}, err
	}
	return u.Actor(), nil
}

func parseID(arg, what string) (int64, error) {
	id, err := strconv.ParseInt(arg, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid %s id: %s", what, arg)
	}
	return id, nil
}
