package main

import (
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/jingkaihe/skillrouter/pkg/config"
	"github.com/jingkaihe/skillrouter/pkg/logger"
	"github.com/jingkaihe/skillrouter/pkg/presenter"
)

func init() {
	viper.SetEnvPrefix("SKILLROUTER")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("$HOME/.skillrouter")
	viper.AddConfigPath(".")

	// A missing config file is fine; defaults and flags still apply.
	_ = viper.ReadInConfig()

	config.SetDefaults(viper.GetViper())
}

var rootCmd = &cobra.Command{
	Use:   "skillrouter",
	Short: "Route tasks to skill documents and compose budget-bounded context",
	Long: `skillrouter indexes a corpus of markdown skill documents and, for each task,
selects the relevant skills, composes their sections into a context that fits a
token budget, and assigns a model tier to each subtask.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		return logger.Configure(viper.GetString("log_level"), viper.GetString("log_format"), os.Stderr)
	},
	Run: func(cmd *cobra.Command, _ []string) {
		_ = cmd.Help()
	},
}

func main() {
	flags := rootCmd.PersistentFlags()
	flags.StringSlice("corpus", nil, "Skill corpus roots, files or directories (overrides config)")
	flags.String("cache-path", "", `SQLite parse cache file; "default" uses ~/.skillrouter/cache.db`)
	flags.String("duplicates", "", "Duplicate id policy: fail or quarantine")
	flags.String("log-level", "", "Log level (panic, fatal, error, warn, info, debug, trace)")
	flags.String("log-format", "", "Log format (fmt, text, json)")
	flags.Bool("quiet", false, "Suppress informational output")

	_ = viper.BindPFlag("corpus.paths", flags.Lookup("corpus"))
	_ = viper.BindPFlag("cache.path", flags.Lookup("cache-path"))
	_ = viper.BindPFlag("registry.duplicates", flags.Lookup("duplicates"))
	_ = viper.BindPFlag("log_level", flags.Lookup("log-level"))
	_ = viper.BindPFlag("log_format", flags.Lookup("log-format"))

	cobra.OnInitialize(func() {
		if quiet, _ := flags.GetBool("quiet"); quiet {
			presenter.SetQuiet(true)
		}
	})

	rootCmd.AddCommand(withTracing(routeCmd))
	rootCmd.AddCommand(skillsCmd)
	rootCmd.AddCommand(withTracing(serveCmd))
	rootCmd.AddCommand(withTracing(mcpCmd))
	rootCmd.AddCommand(schemaCmd)
	rootCmd.AddCommand(versionCmd)

	if err := rootCmd.Execute(); err != nil {
		presenter.Error(err, "")
		os.Exit(exitFailure)
	}
}
