package main

import (
	"fmt"
	"log"
	"os"

	"github.com/spf13/cobra"

	"github.com/sarchlab/vmcore/exec/aotcache"
)

var aotDir string

var aotCmd = &cobra.Command{
	Use:   "aot",
	Short: "Inspect and maintain the on-disk artifact cache",
}

var aotLsCmd = &cobra.Command{
	Use:   "ls",
	Short: "List the artifacts in the cache directory",
	Run: func(cmd *cobra.Command, args []string) {
		entries, err := aotcache.ScanDir(aotDir)
		if err != nil {
			log.Fatalf("Error reading cache dir: %v", err)
		}

		fmt.Printf("%-18s %-16s %10s  %s\n",
			"START", "DIGEST", "SIZE", "MODIFIED")
		for _, e := range entries {
			fmt.Printf("%#-18x %016x %10d  %s\n",
				uint64(e.ID.Start), e.ID.Digest, e.Size,
				e.ModTime.Format("2006-01-02 15:04:05"))
		}
	},
}

var aotVerifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Validate every artifact in the cache directory",
	Run: func(cmd *cobra.Command, args []string) {
		entries, err := aotcache.ScanDir(aotDir)
		if err != nil {
			log.Fatalf("Error reading cache dir: %v", err)
		}

		bad := 0
		for _, e := range entries {
			if _, err := aotcache.VerifyFile(e.Path); err != nil {
				bad++
				fmt.Printf("BAD  %s: %v\n", e.Path, err)
				continue
			}
			fmt.Printf("OK   %s\n", e.Path)
		}

		if bad > 0 {
			log.Fatalf("%d of %d artifacts failed verification",
				bad, len(entries))
		}
		fmt.Printf("%d artifacts verified\n", len(entries))
	},
}

var aotRmCmd = &cobra.Command{
	Use:   "rm",
	Short: "Remove all artifacts from the cache directory",
	Run: func(cmd *cobra.Command, args []string) {
		entries, err := aotcache.ScanDir(aotDir)
		if err != nil {
			log.Fatalf("Error reading cache dir: %v", err)
		}

		for _, e := range entries {
			if err := os.Remove(e.Path); err != nil {
				log.Fatalf("Error removing %s: %v", e.Path, err)
			}
		}
		fmt.Printf("Removed %d artifacts\n", len(entries))
	},
}

func init() {
	aotCmd.PersistentFlags().StringVar(&aotDir, "dir", "aot-cache",
		"artifact cache directory")

	aotCmd.AddCommand(aotLsCmd)
	aotCmd.AddCommand(aotVerifyCmd)
	aotCmd.AddCommand(aotRmCmd)
	rootCmd.AddCommand(aotCmd)
}
