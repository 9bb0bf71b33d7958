package cmd

import (
	"fmt"
	"io"

	"devgate/config"
	"devgate/core"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect the effective configuration",
}

var configPrintCmd = &cobra.Command{
	Use:   "print",
	Short: "Print the effective configuration as YAML",
	Long:  `Prints the configuration after merging defaults, the config file, DEVGATE_* environment variables and flags.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return printConfig(cmd.OutOrStdout(), config.Current())
	},
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check proxy rules and plugins without starting anything",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.Current()
		table, err := loadRuleTable()
		if err != nil {
			return err
		}
		plugins, err := core.BuildPlugins(core.PluginContext{StaticDir: cfg.Server.StaticDir, Index: cfg.Server.Index}, cfg.Plugins)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "OK: %d proxy rule(s), %d plugin(s)\n", table.Len(), len(plugins))
		return nil
	},
}

func printConfig(out io.Writer, cfg config.Configuration) error {
	enc := yaml.NewEncoder(out)
	enc.SetIndent(2)
	if err := enc.Encode(cfg); err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}
	return enc.Close()
}

func init() {
	configCmd.AddCommand(configPrintCmd, configValidateCmd)
	rootCmd.AddCommand(configCmd)
}
