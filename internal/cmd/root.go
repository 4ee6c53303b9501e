// Package cmd implements the civimport command line interface.
package cmd

import (
	"strings"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/opencivic/civimport/pkg/logging"
)

// NewRootCmd builds the civimport root command.
func NewRootCmd(version string) *cobra.Command {
	root := &cobra.Command{
		Use:     "civimport",
		Short:   "Import civic scrape output into the canonical store",
		Long:    "civimport reconciles scraped legislative data (bills, people, organizations, votes, events) against a canonical relational store, writing only what changed.",
		Version: version,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return initConfig(cmd)
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().String("config", "", "config file (default searches ./civimport.yaml)")
	root.PersistentFlags().String("log-level", "", "log level: debug, info, warn, error")
	root.PersistentFlags().String("log-format", "", "log format: console or json")

	root.AddCommand(newImportCmd())
	return root
}

// initConfig loads .env, the optional config file, and environment
// variables, then applies logging settings. Flags win over config, config
// wins over environment.
func initConfig(cmd *cobra.Command) error {
	// Missing .env files are fine; they are a development convenience.
	_ = godotenv.Load()

	v := viper.New()
	v.SetEnvPrefix("CIVIMPORT")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if cfg, _ := cmd.Flags().GetString("config"); cfg != "" {
		v.SetConfigFile(cfg)
		if err := v.ReadInConfig(); err != nil {
			return err
		}
	} else {
		v.SetConfigName("civimport")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return err
			}
		}
	}

	if err := v.BindPFlags(cmd.Flags()); err != nil {
		return err
	}

	if level := v.GetString("log-level"); level != "" {
		if parsed, err := zerolog.ParseLevel(level); err == nil {
			zerolog.SetGlobalLevel(parsed)
		}
	}
	if v.GetString("log-format") == "json" {
		logging.SetDefault(logging.NewJSON(cmd.ErrOrStderr()))
	}
	return nil
}
