// Package mcpserver is the composition root for the pipeline's MCP
// surface: one tool, memory_polish, and one read-only status resource.
package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/HendryAvila/polish/internal/config"
	"github.com/HendryAvila/polish/internal/orchestrator"
	"github.com/HendryAvila/polish/internal/resources"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cast"
)

// Version is set at build time via ldflags.
var Version = "dev"

// New creates and configures the MCP server with the memory_polish tool
// and the workspace-status resource registered. cfg is the already-loaded
// configuration record; base is the resolved workspace root.
func New(base string, cfg config.Config) *server.MCPServer {
	s := server.NewMCPServer(
		"memory-polish",
		Version,
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithRecovery(),
		server.WithInstructions(
			"Curates dated daily-log markdown files into per-topic files under "+
				"memory/Topics, tracking hashtags, merging near-duplicate topics, "+
				"and keeping crash-safe backups and a resumable checkpoint.",
		),
	)

	polishTool := NewPolishTool(base, cfg)
	s.AddTool(polishTool.Definition(), polishTool.Handle)

	resourceHandler := resources.NewHandler(base, cfg)
	s.AddResource(resourceHandler.StatusResource(), resourceHandler.HandleStatus)

	return s
}

// PolishTool handles the memory_polish MCP tool.
type PolishTool struct {
	base string
	cfg  config.Config
}

// NewPolishTool creates a PolishTool scoped to the resolved workspace.
func NewPolishTool(base string, cfg config.Config) *PolishTool {
	return &PolishTool{base: base, cfg: cfg}
}

// Definition returns the MCP tool definition for registration. Its
// parameters mirror the CLI's resume/override flags.
func (t *PolishTool) Definition() mcp.Tool {
	return mcp.NewTool("memory_polish",
		mcp.WithDescription(
			"Run the six-phase memory curation pipeline: discover hashtagged "+
				"topics in dated daily logs, extract and organize sections into "+
				"per-topic files, replace originals with cross-linking stubs, "+
				"archive aged logs, and validate the result (rolling back on any "+
				"integrity failure).",
		),
		mcp.WithBoolean("dry_run",
			mcp.Description("Run backup and discovery (phases 0-1) only; daily logs and topic files are not modified"),
		),
		mcp.WithBoolean("archive",
			mcp.Description("Override config.archive.enabled for this run"),
		),
		mcp.WithNumber("lookback_days",
			mcp.Description("Override config.advanced.lookback_days for this run"),
		),
		mcp.WithNumber("force_from_phase",
			mcp.Description("Start from this phase (0-5); phases above 0 reuse the saved checkpoint's state and require one"),
		),
	)
}

// Handle processes the memory_polish tool call.
func (t *PolishTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := req.GetArguments()

	opts := orchestrator.Options{
		DryRun: cast.ToBool(args["dry_run"]),
	}
	if args["archive"] != nil {
		v := cast.ToBool(args["archive"])
		opts.ArchiveEnabled = &v
	}
	if args["lookback_days"] != nil {
		v := cast.ToInt(args["lookback_days"])
		opts.LookbackDays = &v
	}
	if args["force_from_phase"] != nil {
		v := cast.ToInt(args["force_from_phase"])
		opts.ForceFromPhase = &v
	}

	result, err := orchestrator.Run(ctx, t.base, t.cfg, opts, log.Default())
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("memory_polish: %v", err)), nil
	}

	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("mcpserver: marshal result: %w", err)
	}
	return mcp.NewToolResultText(string(data)), nil
}
