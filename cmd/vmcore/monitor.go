package main

import (
	"fmt"
	"log"

	"github.com/pkg/browser"
	"github.com/spf13/cobra"

	"github.com/sarchlab/vmcore"
	"github.com/sarchlab/vmcore/exec/jit"
	"github.com/sarchlab/vmcore/monitoring"
)

var (
	monitorPort int
	monitorOpen bool
)

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Serve the monitoring endpoints for a demo VM",
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := vmcore.DefaultConfig().ApplyEnv()
		if err != nil {
			log.Fatalf("Error reading environment: %v", err)
		}

		machine, err := vmcore.New("Monitor", cfg, jit.NewTableCompiler())
		if err != nil {
			log.Fatalf("Error building VM: %v", err)
		}
		defer machine.Close()

		monitor := monitoring.NewMonitor().WithPortNumber(monitorPort)
		monitor.RegisterTLB(machine.MMU.TLB())
		monitor.RegisterExecutor(machine.Executor)
		monitor.RegisterCache(machine.Cache)

		port := monitor.StartServer()

		if monitorOpen {
			url := fmt.Sprintf("http://localhost:%d/api/stats/executor", port)
			if err := browser.OpenURL(url); err != nil {
				log.Printf("Error opening browser: %v", err)
			}
		}

		select {}
	},
}

func init() {
	monitorCmd.Flags().IntVar(&monitorPort, "port", 0,
		"port to listen on (0 picks a random port)")
	monitorCmd.Flags().BoolVar(&monitorOpen, "open", false,
		"open the executor stats page in a browser")

	rootCmd.AddCommand(monitorCmd)
}
