// Package cmd implements the msarchive CLI.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/foldops/msarchive/internal/config"
	"github.com/foldops/msarchive/internal/observability"
)

var rootCmd = &cobra.Command{
	Use:   "msarchive",
	Short: "Deduplicate and archive MSA data from structure-prediction jobs",
	Long: `msarchive scans structure-prediction job directories, identifies
unique multiple sequence alignment (MSA) data, and packs it into
per-family compressed archives. A master index records every archived
file so re-runs never archive the same data twice.

Jobs that reuse a shared alignment (marked by alphafold_input_with_msa.json)
carry no unique MSA data and are reported but never archived.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cmd.Context(), flagOverrides())
		if err != nil {
			return err
		}
		appConfig = cfg
		observability.InitCLILogger(cfg.Logging.Level, cfg.Logging.Structured)
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		observability.Sync()
	},
}

// versionInfo holds build-time version metadata injected via SetVersionInfo.
var versionInfo = struct {
	Version   string
	Commit    string
	BuildDate string
}{
	Version:   "dev",
	Commit:    "HEAD",
	BuildDate: "unknown",
}

// appConfig is the configuration resolved in PersistentPreRunE.
var appConfig *config.Config

var (
	rootLogLevel   string
	rootStructured bool
	rootRoots      []string
	rootOutputDir  string
)

func init() {
	rootCmd.PersistentFlags().StringVar(&rootLogLevel, "log-level", "", "Log level (debug|info|warn|error)")
	rootCmd.PersistentFlags().BoolVar(&rootStructured, "log-json", false, "Emit JSON log lines")
	rootCmd.PersistentFlags().StringSliceVar(&rootRoots, "roots", nil, "Job corpus roots (repeatable)")
	rootCmd.PersistentFlags().StringVar(&rootOutputDir, "output", "", "Archive output directory")
}

// flagOverrides maps set persistent flags onto config keys so flags win
// over environment and file values.
func flagOverrides() map[string]any {
	override := map[string]any{}
	if rootLogLevel != "" {
		override["logging"] = map[string]any{"level": rootLogLevel}
	}
	if rootStructured {
		logging, _ := override["logging"].(map[string]any)
		if logging == nil {
			logging = map[string]any{}
		}
		logging["structured"] = true
		override["logging"] = logging
	}
	if len(rootRoots) > 0 {
		override["roots"] = rootRoots
	}
	if rootOutputDir != "" {
		override["output_dir"] = rootOutputDir
	}
	return override
}

// SetVersionInfo records build metadata for the version command.
func SetVersionInfo(version, commit, buildDate string) {
	versionInfo.Version = version
	versionInfo.Commit = commit
	versionInfo.BuildDate = buildDate
	rootCmd.Version = fmt.Sprintf("%s (commit %s, built %s)", version, commit, buildDate)
}

// Execute runs the CLI and returns the process exit code. SIGINT and
// SIGTERM cancel the command context so in-flight family processing can
// finish its cleanup paths.
func Execute() int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		if code := exitCodeOf(err); code != 0 {
			return code
		}
		return 1
	}
	return 0
}

// exitErr carries a foundry exit code through cobra's error path.
type exitErr struct {
	code    int
	message string
	err     error
}

func (e *exitErr) Error() string {
	if e.err == nil {
		return e.message
	}
	return fmt.Sprintf("%s: %v", e.message, e.err)
}

func (e *exitErr) Unwrap() error { return e.err }

// exitError creates an error that causes the CLI to exit with code.
func exitError(code int, message string, err error) error {
	return &exitErr{code: code, message: message, err: err}
}

func exitCodeOf(err error) int {
	var ee *exitErr
	if errors.As(err, &ee) {
		return ee.code
	}
	return 0
}
