// Package cli implements the epiextract command line: offline annotation,
// the API server, the Kafka worker and schema migrations.
package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/goccy/go-yaml"
	"github.com/spf13/cobra"

	"github.com/turtacn/EpiExtract/internal/config"
	"github.com/turtacn/EpiExtract/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/EpiExtract/pkg/errors"
)

// Build-time variables injected via ldflags.
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

// Output formats.
const (
	OutputJSON  = "json"
	OutputYAML  = "yaml"
	OutputTable = "table"
)

type cliContextKey struct{}

// RootOptions holds global CLI flags.
type RootOptions struct {
	ConfigPath   string
	LogLevel     string
	OutputFormat string
	Verbose      bool
	Timeout      time.Duration
}

// CLIContext carries initialized dependencies through the command tree.
type CLIContext struct {
	Config       *config.Config
	ConfigPath   string
	Logger       logging.Logger
	OutputFormat string
	Verbose      bool
	Timeout      time.Duration
}

// NewRootCommand creates the root command with its global flags and every
// subcommand.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:     "epiextract",
		Short:   "Extract infection counts and incidents from annotated documents",
		Long:    "epiextract reads pre-annotated news documents and extracts infection mentions\nwith their counts, and case/death incidents from structured tables.",
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", Version, GitCommit, BuildDate),
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return persistentPreRun(cmd, opts)
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := cmd.PersistentFlags()
	pf.StringVarP(&opts.ConfigPath, "config", "c", "", "config file path (default: ./epiextract.yaml)")
	pf.StringVar(&opts.LogLevel, "log-level", "", "log level (debug, info, warn, error); overrides the config")
	pf.StringVarP(&opts.OutputFormat, "output", "o", OutputJSON, "output format (json, yaml, table)")
	pf.BoolVarP(&opts.Verbose, "verbose", "v", false, "enable verbose output")
	pf.DurationVar(&opts.Timeout, "timeout", 30*time.Second, "timeout of one-shot commands")

	cmd.AddCommand(
		NewAnnotateCmd(),
		NewServeCmd(),
		NewWorkerCmd(),
		NewSubmitCmd(),
		NewMigrateCmd(),
		NewVersionCmd(),
	)
	return cmd
}

func persistentPreRun(cmd *cobra.Command, opts *RootOptions) error {
	switch opts.OutputFormat {
	case OutputJSON, OutputYAML, OutputTable:
	default:
		return errors.New(errors.ErrCodeValidation, "unsupported output format").WithDetail(opts.OutputFormat)
	}

	cfg, path, err := initConfig(opts)
	if err != nil {
		return fmt.Errorf("config initialization failed: %w", err)
	}
	logger, err := initLogger(cfg, opts)
	if err != nil {
		return fmt.Errorf("logger initialization failed: %w", err)
	}

	cliCtx := &CLIContext{
		Config:       cfg,
		ConfigPath:   path,
		Logger:       logger,
		OutputFormat: opts.OutputFormat,
		Verbose:      opts.Verbose,
		Timeout:      opts.Timeout,
	}
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	cmd.SetContext(context.WithValue(ctx, cliContextKey{}, cliCtx))
	return nil
}

// initConfig loads the --config file, else the first default path that
// exists, else the environment alone. It returns the path it loaded.
func initConfig(opts *RootOptions) (*config.Config, string, error) {
	if opts.ConfigPath != "" {
		cfg, err := config.Load(opts.ConfigPath)
		return cfg, opts.ConfigPath, err
	}
	for _, p := range defaultConfigPaths() {
		if _, err := os.Stat(p); err == nil {
			cfg, err := config.Load(p)
			return cfg, p, err
		}
	}
	cfg, err := config.LoadFromEnv()
	return cfg, "", err
}

func defaultConfigPaths() []string {
	paths := []string{"./epiextract.yaml"}
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".epiextract", "config.yaml"))
	}
	return append(paths, "/etc/epiextract/config.yaml")
}

// initLogger builds the process logger. Command output goes to stdout, so
// logs go to stderr.
func initLogger(cfg *config.Config, opts *RootOptions) (logging.Logger, error) {
	level := cfg.Log.Level
	if opts.LogLevel != "" {
		level = strings.ToLower(opts.LogLevel)
	}
	if opts.Verbose {
		level = logging.LevelDebug
	}
	return logging.NewLogger(logging.LogConfig{
		Level:            level,
		Format:           cfg.Log.Format,
		OutputPaths:      []string{"stderr"},
		ErrorOutputPaths: []string{"stderr"},
		InitialFields:    map[string]interface{}{"service": "epiextract", "version": Version},
	})
}

// GetCLIContext extracts CLIContext from a command's context.
func GetCLIContext(cmd *cobra.Command) (*CLIContext, error) {
	ctx := cmd.Context()
	if ctx == nil {
		return nil, errors.New(errors.ErrCodeValidation, "command context is nil")
	}
	cliCtx, ok := ctx.Value(cliContextKey{}).(*CLIContext)
	if !ok || cliCtx == nil {
		return nil, errors.New(errors.ErrCodeValidation, "CLIContext not found in command context")
	}
	return cliCtx, nil
}

// Execute runs the root command.
func Execute() error {
	return execute(NewRootCommand())
}

// ExecuteSubcommand runs the named subcommand with the process arguments,
// for single-purpose binaries such as apiserver and worker.
func ExecuteSubcommand(name string) error {
	rootCmd := NewRootCommand()
	rootCmd.SetArgs(append([]string{name}, os.Args[1:]...))
	return execute(rootCmd)
}

func execute(rootCmd *cobra.Command) error {
	if err := rootCmd.Execute(); err != nil {
		PrintError(rootCmd, err)
		return err
	}
	return nil
}

// tableRenderer is implemented by results with a table view.
type tableRenderer interface {
	RenderTable(w io.Writer) error
}

// PrintResult writes data in the output format of the command.
func PrintResult(cmd *cobra.Command, data interface{}) error {
	format := OutputJSON
	if cliCtx, err := GetCLIContext(cmd); err == nil {
		format = cliCtx.OutputFormat
	}
	out := cmd.OutOrStdout()

	switch format {
	case OutputYAML:
		b, err := yaml.Marshal(data)
		if err != nil {
			return errors.Wrap(err, errors.ErrCodeSerialization, "encode YAML")
		}
		_, err = out.Write(b)
		return err
	case OutputTable:
		if tr, ok := data.(tableRenderer); ok {
			return tr.RenderTable(out)
		}
	}
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(data)
}

// PrintError writes err to stderr.
func PrintError(cmd *cobra.Command, err error) {
	if err == nil {
		return
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "Error: %s\n", err.Error())
}

// PrintSuccess writes an OK line to stdout.
func PrintSuccess(cmd *cobra.Command, msg string) {
	fmt.Fprintf(cmd.OutOrStdout(), "OK: %s\n", msg)
}

// NewVersionCmd prints build information.
func NewVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		RunE: func(cmd *cobra.Command, args []string) error {
			return PrintResult(cmd, versionInfo{Version: Version, Commit: GitCommit, BuildDate: BuildDate})
		},
	}
}

type versionInfo struct {
	Version   string `json:"version" yaml:"version"`
	Commit    string `json:"commit" yaml:"commit"`
	BuildDate string `json:"build_date" yaml:"build_date"`
}
