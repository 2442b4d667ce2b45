package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/yzhou-ml/comfyfleet/pkg/config"
)

var configForce bool

// configCmd represents the config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration management",
	Long:  `Commands for generating and validating engine configuration.`,
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a starter configuration file",
	Long:  `Writes a commented starter configuration to the --config path.`,
	RunE:  runConfigInit,
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the configuration file",
	RunE:  runConfigValidate,
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configValidateCmd)

	configInitCmd.Flags().BoolVar(&configForce, "force", false, "overwrite an existing file")
}

func runConfigInit(cmd *cobra.Command, args []string) error {
	if !configForce {
		if _, err := os.Stat(cfgFile); err == nil {
			return fmt.Errorf("%s already exists, use --force to overwrite", cfgFile)
		}
	}
	if err := config.WriteSample(cfgFile); err != nil {
		return err
	}
	fmt.Printf("Wrote starter configuration to %s\n", cfgFile)
	return nil
}

func runConfigValidate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	fmt.Printf("Configuration valid: %d workers, %d roles, output root %s\n",
		len(cfg.Servers), len(cfg.Roles), cfg.OutputRoot)
	return nil
}
