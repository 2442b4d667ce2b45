package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/yzhou-ml/comfyfleet/pkg/config"
	"github.com/yzhou-ml/comfyfleet/pkg/logging"
)

var (
	cfgFile      string
	outputFormat string
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "fleetctl",
	Short: "CLI for the comfyfleet image generation engine",
	Long: `fleetctl drives batch image generation runs against a fleet of
ComfyUI workers: planning jobs over an input library, dispatching them
with bounded concurrency, and inspecting task status.`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "fleet.yaml", "config file path")
	rootCmd.PersistentFlags().StringVar(&outputFormat, "output", "table", "output format: table or json")
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

func newLogger(cfg *config.Config) (*logging.Logger, error) {
	level := logging.ParseLevel(cfg.Log.Level)
	if cfg.Log.Dir != "" {
		return logging.NewFileLogger(cfg.Log.Dir, "fleetctl", level, cfg.Log.JSON)
	}
	return logging.New(level, cfg.Log.JSON), nil
}

// IsJSONOutput returns true if JSON output is requested
func IsJSONOutput() bool {
	return outputFormat == "json"
}
