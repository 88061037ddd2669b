// Package cmd defines the CLI commands for the searchcrawler executable.
package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/JakeFAU/searchcrawler/internal/config"
)

// newRootCmd creates the root command and binds its flags onto v.
func newRootCmd(v *viper.Viper) *cobra.Command {
	var cfgFile string
	cmd := &cobra.Command{
		Use:   "searchcrawler",
		Short: "Keyword search crawler",
		Long: `searchcrawler runs a keyword search against a site search page,
follows every result to its detail page and emits one JSON record per result.`,
		SilenceUsage: true,

		PersistentPreRunE: func(*cobra.Command, []string) error {
			if cfgFile == "" {
				return nil
			}
			v.SetConfigFile(cfgFile)
			if err := v.ReadInConfig(); err != nil {
				return fmt.Errorf("read config: %w", err)
			}
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "path to a YAML/JSON/TOML config file")
	cmd.AddCommand(newCrawlCmd(v))
	return cmd
}

// Execute runs the CLI and returns the process exit code.
func Execute() int {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd(config.New()).ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "searchcrawler: %v\n", err)
		return 1
	}
	return 0
}
