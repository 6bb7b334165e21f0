package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	cfgFile string
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "ntonix",
	Short: "NTONIX - AI inference gateway",
	Long: `NTONIX is a reverse proxy dedicated to LLM inference traffic.

It sits between clients and a fleet of model-serving backends, providing:
  - Smooth weighted round-robin dispatch with health-aware failover
  - Response caching for repeated prompts (LRU + TTL)
  - Pooled backend connections with idle reaping
  - Zero-copy streaming relay for token streams (SSE)
  - Hot configuration reload on SIGHUP`,
	Version: Version,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "ntonix.yaml", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
}
