package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"github.com/penwyp/go-log-plotter/internal/application/ingest"
	"github.com/penwyp/go-log-plotter/internal/config"
	"github.com/penwyp/go-log-plotter/internal/util"
)

var (
	// Logging related
	debug   bool
	logFile string

	// Inputs
	logPath    string
	configPath string
	fromStart  bool

	// Retention
	maxDuration float64

	// HTTP
	listenAddr string
	staticDir  string

	rootCmd = &cobra.Command{
		Use:   "go-log-plotter -i <log> -c <config> [flags]",
		Short: "Tail a log and serve extracted metrics as time series",
		Long: `go-log-plotter follows a growing log file, extracts numeric fields from
lines matching configured regular expressions and serves them to any number
of plotting clients over HTTP. Each client receives only the samples it has
not seen yet.

Examples:
  go-log-plotter -i app.log -c plots.yaml                    # Follow new lines only
  go-log-plotter -i app.log -c plots.yaml --from-start       # Replay the existing content first
  go-log-plotter -i app.log -c plots.toml --max-duration 600 # Keep ten minutes of history
  go-log-plotter -i app.log -c plots.yaml --static ./web     # Serve a plot page too
  go-log-plotter check -c plots.yaml -i app.log              # Validate config against a log`,
		SilenceUsage: true,
		RunE:         runServe,
	}
)

func init() {
	// Inputs
	rootCmd.PersistentFlags().StringVarP(&logPath, "input", "i", "",
		"Log file to follow")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "",
		"Record type configuration (.yaml, .yml or .toml)")
	rootCmd.Flags().BoolVar(&fromStart, "from-start", false,
		"Read the existing file content before following")

	// Retention
	rootCmd.Flags().Float64Var(&maxDuration, "max-duration", 0,
		"Seconds of history to retain (0 = unbounded)")

	// HTTP
	rootCmd.Flags().StringVar(&listenAddr, "listen", config.DefaultListen,
		"HTTP listen address (overrides LOGPLOT_LISTEN)")
	rootCmd.Flags().StringVar(&staticDir, "static", "",
		"Directory of static files served for unknown paths")

	// System and debugging
	rootCmd.PersistentFlags().StringVar(&logFile, "log-file", "",
		"Write application logs to this file")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false,
		"Enable debug logging on the console")
}

func runServe(cmd *cobra.Command, args []string) error {
	if logPath == "" || configPath == "" {
		return fmt.Errorf("both --input and --config are required")
	}

	if err := initLogging(); err != nil {
		return err
	}
	defer util.CloseLogger()

	settings, err := config.LoadServerSettings()
	if err != nil {
		return err
	}
	// Explicit flags win over the environment.
	if cmd.Flags().Changed("listen") {
		settings.Listen = listenAddr
	}

	if !debug {
		gin.SetMode(gin.ReleaseMode)
	}

	cfg := &config.RunConfig{
		LogPath:     expandPath(logPath),
		ConfigPath:  expandPath(configPath),
		FromStart:   fromStart,
		MaxDuration: maxDuration,
		StaticDir:   staticDir,
		Server:      settings,
	}
	if staticDir != "" {
		cfg.StaticDir = expandPath(staticDir)
	}

	o, err := ingest.NewOrchestrator(cfg)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	util.LogInfof("Serving on http://%s, retention %s", settings.Listen, util.FormatSeconds(maxDuration))
	return o.Run(ctx)
}

// initLogging installs the global logger. Without --log-file logs go to
// stderr; --debug lowers the level and keeps the console alongside a file.
func initLogging() error {
	opts := util.LoggerOptions{
		Level:   "info",
		Console: debug,
		Format:  util.FormatText,
	}
	if debug {
		opts.Level = "debug"
	}
	if logFile != "" {
		path := expandPath(logFile)
		if err := ensureDir(filepath.Dir(path)); err != nil {
			return fmt.Errorf("failed to create log directory: %w", err)
		}
		opts.LogFile = path
	}
	if err := util.InitLogger(opts); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	return nil
}

func Execute() error {
	return rootCmd.Execute()
}

// Helper functions

func expandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, _ := os.UserHomeDir()
		path = filepath.Join(home, path[2:])
	}
	absPath, err := filepath.Abs(path)
	if err != nil {
		return path
	}
	return absPath
}

func ensureDir(dir string) error {
	return os.MkdirAll(dir, 0755)
}
