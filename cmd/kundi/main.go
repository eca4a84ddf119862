// Kundi — agent fleet coordination substrate.
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "kundi",
	Short: "Kundi — coordination substrate for fleets of AI agents.",
	Long: `Kundi coordinates fleets of specialized AI agents. It decomposes goals
into subtask DAGs, dispatches work through durable per-agent mailboxes,
runs adversarial critique panels over phase outputs, and tracks agent
trust — all behind a dispatcher-mode policy boundary with a full audit
trail.`,
	RunE:          runServe, // Default to serve mode.
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.AddCommand(serveCmd, validateCmd, versionCmd)
	_ = godotenv.Load()
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}
