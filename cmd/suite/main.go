// Command suite is the operator CLI for talking to a running suite
// runtime over its local HTTP surface, plus host diagnostics that don't
// need a running daemon at all.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Exit codes distinguish "the suite said no" (2), "couldn't reach the
// suite at all" (3), and "the thing you asked about doesn't exist" (4)
// from a generic failure (1), so scripts can branch without scraping
// stderr text.
const (
	exitOK = iota
	exitError
	exitRejected
	exitUnreachable
	exitNotFound
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(exitCodeFor(err))
	}
}

var rootCmd = &cobra.Command{
	Use:   "suite",
	Short: "Operate a local suite runtime",
	Long: `suite talks to the suite runtime's HTTP surface on 127.0.0.1 to
start and stop modules, check health, trigger a cloud sync, and run
host diagnostics.`,
}

func init() {
	rootCmd.PersistentFlags().String("addr", defaultAddr(), "suite runtime address (host:port)")
	rootCmd.PersistentFlags().String("token", os.Getenv("SUITE_TOKEN"), "bearer token for the suite runtime")

	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(stopCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(syncNowCmd)
	rootCmd.AddCommand(diagCmd)
}

func defaultAddr() string {
	if v := os.Getenv("SUITE_ADDR"); v != "" {
		return v
	}
	return "127.0.0.1:5000"
}
