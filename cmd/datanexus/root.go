package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/smallnest/datanexus/config"
	"github.com/smallnest/datanexus/log"
)

var rootCmd = &cobra.Command{
	Use:   "datanexus",
	Short: "datanexus is a conversational NL-to-SQL data analyst",
	Long: `datanexus answers natural language questions against a PostgreSQL
database: it routes each question, retrieves relevant schema context,
generates and self-corrects SQL, summarizes the results and plans charts.
Conversations are checkpointed per thread and resumable.`,
}

// Execute runs the CLI.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().String("config", "", "Path to the YAML config file")
}

func loadConfig(cmd *cobra.Command) (config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return config.Config{}, err
	}

	logger := log.NewGologLogger()
	logger.SetLevel(log.ParseLevel(cfg.Log.Level))
	log.SetDefaultLogger(logger)
	return cfg, nil
}
