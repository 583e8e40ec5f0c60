package main

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/meshrca/meshrca/internal/config"
	"github.com/meshrca/meshrca/internal/logging"
)

var (
	// Version information (set by build flags)
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"

	cfgFile  string
	verbose  bool
	logger   *logrus.Logger
	settings *config.Settings
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "meshrca",
	Short: "MeshRCA - automated root-cause analysis for service-mesh incidents",
	Long: `MeshRCA investigates approved incidents with a looping team of analysis
stages over mesh telemetry, a differential code graph, and service metrics,
and emits a ranked root-cause report with a recommended fix.`,
	Version: Version,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		logger = logrus.New()
		if verbose {
			logger.SetLevel(logrus.DebugLevel)
		} else {
			logger.SetLevel(logrus.InfoLevel)
		}

		if err := config.NewEnvLoader().Load(); err != nil {
			logger.WithError(err).Warn("Failed to load .env file")
		}

		logCfg := logging.Config{Level: logging.INFO}
		if verbose {
			logCfg.Level = logging.DEBUG
			logCfg.AddSource = true
		}
		if err := logging.Initialize(logCfg); err != nil {
			logger.WithError(err).Warn("Failed to initialize structured logging")
		}

		var err error
		settings, err = config.Load(cfgFile)
		if err != nil {
			logger.WithError(err).Warn("Failed to load config, using defaults")
			settings, _ = config.Load("")
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: environment only)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")

	rootCmd.SetVersionTemplate(`MeshRCA {{.Version}}
Build time: ` + BuildTime + `
Git commit: ` + GitCommit + `
`)

	rootCmd.AddCommand(investigateCmd)
	rootCmd.AddCommand(indexCmd)
	rootCmd.AddCommand(backfillCmd)
}
