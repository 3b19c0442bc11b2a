// Package main is the CLI entry point for the conversational orchestrator:
// the decide service that routes WhatsApp business conversations through the
// staged SLM pipeline or the legacy single-shot path.
//
// Start the server:
//
//	orchestrator serve --config orchestrator.yaml
//
// Print the config JSON Schema for editor tooling:
//
//	orchestrator config schema
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

// Build information, populated by ldflags.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := buildRootCmd().Execute(); err != nil {
		slog.Error("command execution failed", "error", err)
		os.Exit(1)
	}
}

func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:          "orchestrator",
		Short:        "Conversational orchestrator for WhatsApp business assistants",
		Long:         "Routes each inbound message through a staged SLM pipeline (extract, plan,\npolicy, execute, reduce, compose) or the legacy single-shot LLM path,\nselected per conversation by a deterministic canary.",
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
	}
	rootCmd.AddCommand(
		buildServeCmd(),
		buildConfigCmd(),
	)
	return rootCmd
}
