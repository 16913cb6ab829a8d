// Memory Polish: crash-safe markdown memory curation pipeline.
//
// Turns dated daily-log markdown files into curated per-topic files under
// memory/Topics, using hashtag discovery, synonym/Levenshtein/embedding
// similarity merging, and content-hash-addressed backups with an
// append-only transaction log for rollback.
//
// Usage:
//
//	polish run     # run the six-phase pipeline once
//	polish serve   # start the MCP server (stdio transport)
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/HendryAvila/polish/internal/config"
	"github.com/HendryAvila/polish/internal/mcpserver"
	"github.com/HendryAvila/polish/internal/orchestrator"
	"github.com/mark3labs/mcp-go/server"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "run":
		if err := runPipeline(os.Args[2:]); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	case "serve":
		if err := runServer(); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	case "--help", "-h", "help":
		printUsage()
		os.Exit(0)
	case "--version", "-v", "version":
		fmt.Printf("polish v%s\n", mcpserver.Version)
		os.Exit(0)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func runPipeline(args []string) error {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	dryRun := fs.Bool("dry-run", false, "run backup and discovery (phases 0-1) only; daily logs and topic files are not modified")
	archive := fs.String("archive", "", "true|false, overrides config.archive.enabled")
	verbose := fs.Bool("verbose", false, "raise log level")
	lookbackDays := fs.Int("lookback-days", 0, "overrides config.advanced.lookback_days (0 = use config)")
	noResume := fs.Bool("no-resume", false, "ignore any existing checkpoint")
	clearCheckpoint := fs.Bool("clear-checkpoint", false, "delete any existing checkpoint before running")
	forceFromPhase := fs.Int("force-from-phase", -1, "start from this phase regardless of checkpoint (0-5)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	base, err := orchestrator.ResolveWorkspace()
	if err != nil {
		return fmt.Errorf("resolving workspace: %w", err)
	}

	cfg := config.DefaultConfig()
	if *verbose {
		cfg.Logging.Verbose = true
	}

	opts := orchestrator.Options{
		DryRun:          *dryRun,
		NoResume:        *noResume,
		ClearCheckpoint: *clearCheckpoint,
		Verbose:         *verbose,
	}
	if *archive != "" {
		v := *archive == "true"
		opts.ArchiveEnabled = &v
	}
	if *lookbackDays > 0 {
		opts.LookbackDays = lookbackDays
	}
	if *forceFromPhase >= 0 {
		opts.ForceFromPhase = forceFromPhase
	}

	logger := log.New(os.Stderr, "", log.LstdFlags)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	result, err := orchestrator.Run(ctx, base, cfg, opts, logger)
	if err != nil {
		return err
	}

	if len(result.Errors) > 0 {
		fmt.Fprintf(os.Stderr, "validation failed, rolled back (report: %s)\n", result.ReportPath)
		for _, e := range result.Errors {
			fmt.Fprintf(os.Stderr, "  - %s\n", e)
		}
		return nil
	}

	fmt.Printf("done (report: %s)\n", result.ReportPath)
	return nil
}

func runServer() error {
	base, err := orchestrator.ResolveWorkspace()
	if err != nil {
		return fmt.Errorf("resolving workspace: %w", err)
	}
	cfg := config.DefaultConfig()

	s := mcpserver.New(base, cfg)
	return server.ServeStdio(s)
}

func printUsage() {
	fmt.Fprintf(os.Stderr, `Memory Polish v%s — markdown memory curation pipeline

Usage:
  polish run [flags]   Run the six-phase pipeline once
  polish serve         Start the MCP server (stdio transport)

Run flags:
  --dry-run                 Backup and discovery only; logs and topics untouched
  --archive true|false      Override config.archive.enabled
  --verbose                 Raise log level
  --lookback-days N         Override config.advanced.lookback_days
  --no-resume               Ignore any existing checkpoint
  --clear-checkpoint        Delete any existing checkpoint before running
  --force-from-phase N      Start from phase N regardless of checkpoint

Environment:
  MEMORY_DIR or OPENCLAW_WORKSPACE hints at the workspace root; otherwise
  the current directory and up to six parents are checked for a sibling
  AGENTS.md and memory/ directory.
`, mcpserver.Version)
}
