package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/modsuite/runtime/internal/diagnostics"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var diagCmd = &cobra.Command{
	Use:   "diag",
	Short: "Run host diagnostics (disk, memory, Ollama binary, cloud peer reachability)",
	Long: `diag runs independently of a running suite runtime: it checks
local disk and memory pressure, whether an ollama binary is on PATH (only
when --ollama-url is set), and,
if --peer-addr is set, whether a paired cloud peer answers the suite's
handshake. Output is a structured JSON report unless --text is set.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		dataDir, _ := cmd.Flags().GetString("data-dir")
		peerAddr, _ := cmd.Flags().GetString("peer-addr")
		serviceTag, _ := cmd.Flags().GetString("service-tag")
		vectorStore, _ := cmd.Flags().GetString("vector-store")
		ollamaURL, _ := cmd.Flags().GetString("ollama-url")
		asText, _ := cmd.Flags().GetBool("text")

		resources, err := diagnostics.CheckResources(dataDir)
		if err != nil {
			return fmt.Errorf("resource check: %w", err)
		}

		cfg := diagnostics.AnalyzerConfig{
			VectorStore:   vectorStore,
			HTTPFramework: "go-chi/chi",
			OllamaURL:     ollamaURL,
			DataDir:       dataDir,
			ServiceTag:    serviceTag,
		}
		if peerAddr != "" {
			cfg.Peers = append(cfg.Peers, diagnostics.PeerProbe{Label: "cloud_peer", Addr: peerAddr})
		}

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		report := diagnostics.Analyze(ctx, cfg, diagnostics.DefaultProbeConfig(), zerolog.Nop())

		if resources.LowDisk {
			report.Warnings = append(report.Warnings, fmt.Sprintf("disk used at %s: %.1f%%", dataDir, resources.DiskUsedPercent))
		}
		if resources.LowMemory {
			report.Warnings = append(report.Warnings, fmt.Sprintf("memory used: %.1f%%", resources.MemoryUsedPercent))
		}

		if asText {
			printReportText(resources, report)
		} else {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			if err := enc.Encode(report); err != nil {
				return fmt.Errorf("encode report: %w", err)
			}
		}

		if len(report.Errors) > 0 {
			return &unreachableError{cause: fmt.Errorf("%d diagnostic error(s)", len(report.Errors))}
		}
		if resources.LowDisk || resources.LowMemory {
			return fmt.Errorf("host resources under pressure")
		}
		return nil
	},
}

func printReportText(resources diagnostics.ResourceStatus, report diagnostics.Report) {
	fmt.Printf("disk used:   %.1f%%", resources.DiskUsedPercent)
	if resources.LowDisk {
		fmt.Print("  [LOW]")
	}
	fmt.Println()
	fmt.Printf("memory used: %.1f%%", resources.MemoryUsedPercent)
	if resources.LowMemory {
		fmt.Print("  [LOW]")
	}
	fmt.Println()

	for label, result := range report.Probes {
		fmt.Printf("probe %s: %s\n", label, result)
	}
	for _, dep := range report.MissingDeps {
		fmt.Printf("missing dependency: %s\n", dep)
	}
	for _, w := range report.Warnings {
		fmt.Printf("warning: %s\n", w)
	}
	for _, e := range report.Errors {
		fmt.Printf("error: %s\n", e)
	}
	for _, r := range report.Recommendations {
		fmt.Printf("recommendation: %s\n", r)
	}
	for _, h := range report.SystemHints {
		fmt.Printf("hint: %s\n", h)
	}
}

func init() {
	diagCmd.Flags().String("data-dir", "data", "data directory to check disk usage for")
	diagCmd.Flags().String("peer-addr", "", "optional host:port of a cloud peer to probe")
	diagCmd.Flags().String("service-tag", "modsuite", "service tag to present in the TCP handshake")
	diagCmd.Flags().String("vector-store", "flat-like", "configured vector store backend: flat-like or chroma-like")
	diagCmd.Flags().String("ollama-url", "", "external model endpoint, if the local-llm provider is configured")
	diagCmd.Flags().Bool("text", false, "print a human-readable report instead of JSON")
}
