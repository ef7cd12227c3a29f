package commands

import (
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/tinycrops/agentWeb/internal/config"
	"github.com/tinycrops/agentWeb/pkg/factlog"
)

var (
	version string
	commit  string
	date    string

	configPath string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "agentweb",
	Short: "AgentWeb - Event-sourced fact store with invariant guarding",
	Long: `AgentWeb records every observation about projects, tasks and their
relationships as an immutable, signed fact in an append-only log, and runs
a clan of consumers over that log: derivation agents that publish new facts,
a guardian that detects invariant violations, and a materializer that
maintains queryable views.

This CLI inspects a running instance's fact log and views.`,
	Version: version,
	RunE: func(cmd *cobra.Command, args []string) error {
		// If no subcommand is specified, show help
		return cmd.Help()
	},
	FParseErrWhitelist: cobra.FParseErrWhitelist{},
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	// Silence Cobra's default error and usage printing
	// We print formatted colored errors directly in the printer package
	rootCmd.SilenceErrors = true
	rootCmd.SilenceUsage = true
	return rootCmd.Execute()
}

// SetVersionInfo sets the version information for the CLI
func SetVersionInfo(v, c, d string) {
	version = v
	commit = c
	date = d
	rootCmd.Version = fmt.Sprintf("%s (commit: %s, built: %s)", v, c, d)
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "agentweb.yml", "Path to the configuration file")
}

// openLog loads the configuration and connects to the instance's fact log.
// The caller must Close the returned log.
func openLog() (*factlog.RedisLog, *config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config %s: %w", configPath, err)
	}

	l, err := factlog.NewRedisLog(redisOptions(cfg), cfg.Instance)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create fact log: %w", err)
	}
	return l, cfg, nil
}

func redisOptions(cfg *config.Config) *redis.Options {
	return &redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	}
}
