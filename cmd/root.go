// Package cmd implements the kambohive command line.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/hscHeric/kambo-hive-lib/internal/config"
	"github.com/hscHeric/kambo-hive-lib/pkg/logger"
)

const (
	// Version is the current release.
	Version = "0.3.0"
	// Banner is printed on startup unless --quiet is set.
	Banner = `
   _                 _           _     _
  | | ____ _ _ __ __| |__   ___ | |__ (_)_   _____
  | |/ / _' | '_ ' _ \ '_ \ / _ \| '_ \| \ \ / / _ \
  |   < (_| | | | | | | |_) | (_) | | | | |\ V /  __/
  |_|\_\__,_|_| |_| |_|_.__/ \___/|_| |_|_| \_/ \___|  %s
`
)

var (
	cfgFile string
	debug   bool
	quiet   bool
)

var rootCmd = &cobra.Command{
	Use:   "kambohive",
	Short: "Distributed runner for genetic algorithm experiments",
	Long: `kambohive hands genetic algorithm runs to a pool of workers over TCP
and collects their results. Workers find the host through UDP broadcast
discovery when no address is given.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "path to a YAML config file")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "only log warnings and errors, no banner")

	rootCmd.CompletionOptions.DisableDefaultCmd = true
	rootCmd.SetVersionTemplate(fmt.Sprintf(Banner, Version) + "\n")
}

// GetRootCmd returns the root command, for tests.
func GetRootCmd() *cobra.Command {
	return rootCmd
}

// loadConfig resolves the configuration from defaults, the config file,
// the environment and the given flag overrides, then applies the global
// logging flags.
func loadConfig(overrides map[string]string) (*config.Config, error) {
	loader := config.NewLoader().WithCmdArgs(overrides)
	if cfgFile != "" {
		loader = loader.WithConfigPath(cfgFile)
	}

	cfg, err := loader.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	switch {
	case debug:
		cfg.Logging.Level = "debug"
	case quiet:
		cfg.Logging.Level = "warn"
	}
	return cfg, nil
}

// setupLogger installs the global logger described by cfg.
func setupLogger(cfg *config.Config) (*zap.Logger, error) {
	if err := logger.Init(cfg.Logging.LoggerConfig()); err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	return logger.L(), nil
}

// flagOverrides maps changed flags to config dot paths.
func flagOverrides(cmd *cobra.Command, paths map[string]string) map[string]string {
	out := make(map[string]string)
	for flag, path := range paths {
		f := cmd.Flags().Lookup(flag)
		if f == nil || !f.Changed {
			continue
		}
		out[path] = f.Value.String()
	}
	return out
}

func printBanner(cmd *cobra.Command) {
	if quiet {
		return
	}
	fmt.Fprintf(cmd.OutOrStdout(), Banner, Version)
	fmt.Fprintln(cmd.OutOrStdout())
}
