// Command vmcore provides tooling around the VM execution core:
// inspecting the ahead-of-time artifact cache, running a synthetic
// benchmark, and serving the monitoring endpoints.
package main

import (
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "vmcore",
	Short: "vmcore manages and inspects a VM execution core",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		_ = godotenv.Load()
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
