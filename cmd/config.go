package cmd

import (
	"bytes"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"text/template"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

var configForce bool

// configDirFunc returns the config directory path, replaceable in tests.
var configDirFunc = defaultConfigDir

func defaultConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "taskreview"), nil
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or manage configuration",
	Long: `Show or manage taskreview configuration.

Running bare 'taskreview config' is the same as 'taskreview config show'.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return configShowRun()
	},
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Create config file with commented defaults",
	RunE: func(cmd *cobra.Command, args []string) error {
		return configInitRun()
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show effective configuration with sources",
	RunE: func(cmd *cobra.Command, args []string) error {
		return configShowRun()
	},
}

var configEditCmd = &cobra.Command{
	Use:   "edit",
	Short: "Open config file in $EDITOR",
	RunE: func(cmd *cobra.Command, args []string) error {
		return configEditRun()
	},
}

func init() {
	configInitCmd.Flags().BoolVar(&configForce, "force", false, "Overwrite existing config file")
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configEditCmd)
	rootCmd.AddCommand(configCmd)
}

// configTemplate is the template for generating config.yaml with comments.
const configTemplate = `# taskreview configuration
# See: taskreview config show (for effective values and sources)

# State/data directory (default: ~/.config/taskreview)
# state_dir: {{ .StateDir }}

# SQLite database path (default: ~/.config/taskreview/taskreview.db)
# db_path: {{ .DBPath }}

review:
  # Claims older than this are expired by the sweeper (default: 24h)
  claim_expiry: {{ .ClaimExpiry }}

  # Rows fetched per review queue lookup (default: 1)
  queue_limit: {{ .QueueLimit }}

  # Tasks and bundles kept in the read cache (default: 1024)
  cache_size: {{ .CacheSize }}

  # Stale claims expired per transaction (default: 500)
  sweep_batch_size: {{ .SweepBatchSize }}

sweep:
  # Cron schedule for the sweeper (default: "@every 1h")
  schedule: "{{ .SweepSchedule }}"

notify:
  # NATS server for notification delivery; empty logs notifications only
  nats_url: "{{ .NATSURL }}"

  # Subjects are <prefix>.<kind> (default: "taskreview.notifications")
  subject_prefix: "{{ .SubjectPrefix }}"

metrics:
  # Address for the Prometheus /metrics endpoint while sweeping; empty disables
  addr: "{{ .MetricsAddr }}"
`

type configTemplateData struct {
	StateDir       string
	DBPath         string
	ClaimExpiry    time.Duration
	QueueLimit     int
	CacheSize      int
	SweepBatchSize int
	SweepSchedule  string
	NATSURL        string
	SubjectPrefix  string
	MetricsAddr    string
}

func configFilePath() (string, error) {
	dir, err := configDirFunc()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.yaml"), nil
}

func configInitRun() error {
	cfgPath, err := configFilePath()
	if err != nil {
		return err
	}

	// Check if file already exists
	if _, err := os.Stat(cfgPath); err == nil {
		if !configForce {
			return fmt.Errorf("config file already exists: %s (use --force to overwrite)", cfgPath)
		}
		ui.Warning("Overwriting existing config file")
	}

	// Build template data from current viper values
	data := configTemplateData{
		StateDir:       viper.GetString("state_dir"),
		DBPath:         viper.GetString("db_path"),
		ClaimExpiry:    viper.GetDuration("review.claim_expiry"),
		QueueLimit:     viper.GetInt("review.queue_limit"),
		CacheSize:      viper.GetInt("review.cache_size"),
		SweepBatchSize: viper.GetInt("review.sweep_batch_size"),
		SweepSchedule:  viper.GetString("sweep.schedule"),
		NATSURL:        viper.GetString("notify.nats_url"),
		SubjectPrefix:  viper.GetString("notify.subject_prefix"),
		MetricsAddr:    viper.GetString("metrics.addr"),
	}

	tmpl, err := template.New("config").Parse(configTemplate)
	if err != nil {
		return fmt.Errorf("template parse error: %w", err)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return fmt.Errorf("template execute error: %w", err)
	}

	if dryRun {
		ui.DryRunMsg("Would create config file: %s", cfgPath)
		fmt.Fprintln(ui.Out)
		fmt.Fprint(ui.Out, buf.String())
		return nil
	}

	// Create config directory
	dir := filepath.Dir(cfgPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := os.WriteFile(cfgPath, buf.Bytes(), 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	ui.Success("Config file created: %s", cfgPath)
	fmt.Fprintln(ui.Out)
	fmt.Fprint(ui.Out, buf.String())
	return nil
}

// configKeyInfo describes a config key for display purposes.
type configKeyInfo struct {
	Key    string
	EnvVar string
}

var configKeys = []configKeyInfo{
	{Key: "state_dir", EnvVar: "TASKREVIEW_STATE_DIR"},
	{Key: "db_path", EnvVar: "TASKREVIEW_DB_PATH"},
	{Key: "review.claim_expiry", EnvVar: "TASKREVIEW_REVIEW_CLAIM_EXPIRY"},
	{Key: "review.queue_limit", EnvVar: "TASKREVIEW_REVIEW_QUEUE_LIMIT"},
	{Key: "review.cache_size", EnvVar: "TASKREVIEW_REVIEW_CACHE_SIZE"},
	{Key: "review.sweep_batch_size", EnvVar: "TASKREVIEW_REVIEW_SWEEP_BATCH_SIZE"},
	{Key: "sweep.schedule", EnvVar: "TASKREVIEW_SWEEP_SCHEDULE"},
	{Key: "notify.nats_url", EnvVar: "TASKREVIEW_NOTIFY_NATS_URL"},
	{Key: "notify.subject_prefix", EnvVar: "TASKREVIEW_NOTIFY_SUBJECT_PREFIX"},
	{Key: "metrics.addr", EnvVar: "TASKREVIEW_METRICS_ADDR"},
	{Key: "actor", EnvVar: "TASKREVIEW_ACTOR"},
}

func configShowRun() error {
	cfgPath, err := configFilePath()
	if err != nil {
		return err
	}

	// Check if config file exists
	if _, err := os.Stat(cfgPath); err == nil {
		ui.Info("Config file: %s", cfgPath)
	} else {
		ui.Info("Config file: (none)")
	}
	fmt.Fprintln(ui.Out)

	// Read config file values to determine file source
	fileValues := readConfigFileValues(cfgPath)

	for _, k := range configKeys {
		val := viper.Get(k.Key)
		source := detectSource(k.Key, k.EnvVar, fileValues)
		fmt.Fprintf(ui.Out, "  %-26s %v  %s\n", k.Key, val, source)
	}

	return nil
}

// readConfigFileValues reads the raw YAML file and returns a flat map of keys present in it.
func readConfigFileValues(path string) map[string]bool {
	result := make(map[string]bool)

	data, err := os.ReadFile(path)
	if err != nil {
		return result
	}

	var parsed map[string]any
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return result
	}

	// Flatten nested keys with dot notation
	flattenKeys("", parsed, result)
	return result
}

// flattenKeys recursively flattens a nested map to dot-notation keys.
func flattenKeys(prefix string, m map[string]any, result map[string]bool) {
	for key, val := range m {
		fullKey := key
		if prefix != "" {
			fullKey = prefix + "." + key
		}
		if nested, ok := val.(map[string]any); ok {
			flattenKeys(fullKey, nested, result)
		} else {
			result[fullKey] = true
		}
	}
}

// detectSource determines where a config value is coming from.
func detectSource(key, envVar string, fileValues map[string]bool) string {
	if _, ok := os.LookupEnv(envVar); ok {
		return fmt.Sprintf("(env: %s)", envVar)
	}
	if fileValues[key] {
		return "(file)"
	}
	return "(default)"
}

func configEditRun() error {
	editor := os.Getenv("EDITOR")
	if editor == "" {
		editor = os.Getenv("VISUAL")
	}
	if editor == "" {
		return fmt.Errorf("$EDITOR is not set; set it to your preferred editor (e.g. export EDITOR=vim)")
	}

	cfgPath, err := configFilePath()
	if err != nil {
		return err
	}

	if _, err := os.Stat(cfgPath); os.IsNotExist(err) {
		return fmt.Errorf("config file not found: %s (run 'taskreview config init' first)", cfgPath)
	}

	if dryRun {
		ui.DryRunMsg("Would open %s in %s", cfgPath, editor)
		return nil
	}

	editCmd := exec.Command(editor, cfgPath)
	editCmd.Stdin = os.Stdin
	editCmd.Stdout = os.Stdout
	editCmd.Stderr = os.Stderr
	return editCmd.Run()
}
