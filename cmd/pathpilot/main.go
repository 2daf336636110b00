package main

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"

	"pathpilot/internal/app"
	"pathpilot/internal/config"
)

var (
	// Global flags
	configPath string
	verbose    bool

	// Schema flags
	schemaOut string

	logger *zap.Logger
	loader *config.Loader
)

var rootCmd = &cobra.Command{
	Use:   "pathpilot",
	Short: "pathpilot - oracle-guided navigation bot",
	Long: `pathpilot steers an agent along paths supplied by an asynchronous
pathfinding oracle, recovering when it stops making progress.

Settings come from flags, PATHPILOT_* environment variables, the file given
with --config and built-in defaults, in that order.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		zc := zap.NewProductionConfig()
		if verbose {
			zc.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = zc.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}

		loader, err = config.NewLoader(configPath, cmd.Flags())
		if err != nil {
			return err
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the bot against the simulated world",
	Long: `Run starts the bot immediately. SIGINT or SIGTERM stops it and shuts down
gracefully; SIGQUIT triggers an emergency stop that discards all pending work.`,
	Args: cobra.NoArgs,
	RunE: runBot,
}

var oracleCmd = &cobra.Command{
	Use:   "oracle",
	Short: "Pathfinding oracle commands",
}

var oracleServeCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the grid oracle over websocket",
	Args:  cobra.NoArgs,
	RunE:  serveOracle,
}

var schemaCmd = &cobra.Command{
	Use:   "schema",
	Short: "Print or write the JSON schema of the config file",
	Args:  cobra.NoArgs,
	RunE:  writeSchema,
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the effective configuration as YAML",
	Args:  cobra.NoArgs,
	RunE:  printConfig,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "YAML config file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")

	config.BindFlags(runCmd.Flags())
	config.BindFlags(oracleServeCmd.Flags())
	config.BindFlags(configCmd.Flags())

	schemaCmd.Flags().StringVarP(&schemaOut, "out", "o", "", "write the schema to this path instead of stdout")

	oracleCmd.AddCommand(oracleServeCmd)

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(oracleCmd)
	rootCmd.AddCommand(schemaCmd)
	rootCmd.AddCommand(configCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runBot(cmd *cobra.Command, args []string) error {
	cfg, err := loader.Config()
	if err != nil {
		return err
	}
	a, err := app.New(app.Options{
		Config: cfg,
		Loader: loader,
		Logger: logger,
		Stdout: cmd.OutOrStdout(),
	})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGQUIT)
	defer signal.Stop(quit)
	go func() {
		select {
		case <-quit:
			logger.Warn("Emergency stop requested")
			a.Bot().EmergencyStop()
		case <-ctx.Done():
		}
	}()

	logger.Info("Starting bot",
		zap.String("zone", cfg.Bot.TargetZone),
		zap.String("oracle", oracleLabel(cfg)),
		zap.Int("maxRuns", cfg.Bot.MaxRuns),
		zap.Duration("maxRuntime", cfg.Bot.MaxRuntime))
	if err := a.Run(ctx); err != nil {
		return fmt.Errorf("run: %w", err)
	}
	status := a.Bot().Status()
	logger.Info("Bot stopped", zap.Int("runs", status.Runs), zap.Duration("runtime", status.Runtime))
	return nil
}

func oracleLabel(cfg config.Config) string {
	if cfg.Oracle.URL == "" {
		return "in-process grid"
	}
	return cfg.Oracle.URL
}

func serveOracle(cmd *cobra.Command, args []string) error {
	cfg, err := loader.Config()
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return app.ServeOracle(ctx, cfg, logger)
}

func writeSchema(cmd *cobra.Command, args []string) error {
	if schemaOut != "" {
		if err := config.WriteSchema(schemaOut); err != nil {
			return err
		}
		logger.Info("Schema written", zap.String("path", schemaOut))
		return nil
	}
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(config.Schema())
}

func printConfig(cmd *cobra.Command, args []string) error {
	if _, err := loader.Config(); err != nil {
		return err
	}
	enc := yaml.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent(2)
	if err := enc.Encode(loader.Settings()); err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	return enc.Close()
}
