package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"ntonix-ai/ntonix/pkg/config"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the configuration file",
	Long: `Load and validate the configuration file without starting the gateway.

Exits 0 when the configuration is valid, 1 otherwise.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadConfigWithEnvOverrides(cfgFile)
		if err != nil {
			return err
		}

		fmt.Printf("✓ Configuration valid (%s)\n", cfgFile)
		fmt.Printf("  backends: %d\n", len(cfg.Backends))
		for _, b := range cfg.Backends {
			fmt.Printf("    - %s (weight=%d)\n", b.Key(), b.Weight)
		}
		if cfg.Cache.Enabled {
			fmt.Printf("  cache: enabled, %dMB, ttl=%s\n", cfg.Cache.MaxSizeMB, cfg.Cache.TTL)
		} else {
			fmt.Println("  cache: disabled")
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(validateCmd)
}
