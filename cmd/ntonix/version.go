package main

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"

	"ntonix-ai/ntonix/pkg/server"
)

// Version is the gateway version.
const Version = server.Version

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("ntonix %s (%s, %s/%s)\n", Version, runtime.Version(), runtime.GOOS, runtime.GOARCH)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
