// arenad is the PCG Arena server: it pits procedurally generated
// platformer levels against each other and turns human votes into
// Glicko-2 ratings.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version and Build are stamped by the linker at release time.
var (
	Version = "dev"
	Build   = "unknown"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "arenad",
	Short: "arenad - preference arena for procedural level generators",
	Long: `arenad serves battles between procedurally generated platformer
levels, collects human preference votes, and maintains a Glicko-2
leaderboard over the competing generators.`,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(*cobra.Command, []string) {
		fmt.Printf("arenad version %s (%s)\n", Version, Build)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "",
		"Config file path (default: arena.yaml in cwd, if present)")
	rootCmd.AddCommand(serveCmd, migrateCmd, seedCmd, versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
