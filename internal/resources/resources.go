// Package resources implements MCP resource handlers for the markdown
// curation pipeline.
//
// Resources provide read-only data the host can consume for context. They
// use URI-based addressing (polish://...) following MCP conventions.
package resources

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"

	"github.com/HendryAvila/polish/internal/checkpoint"
	"github.com/HendryAvila/polish/internal/config"
	"github.com/mark3labs/mcp-go/mcp"
)

// Handler manages the pipeline's resource endpoints.
type Handler struct {
	base string
	cfg  config.Config
}

// NewHandler creates a resource Handler scoped to the resolved workspace
// root.
func NewHandler(base string, cfg config.Config) *Handler {
	return &Handler{base: base, cfg: cfg}
}

// StatusResource returns the MCP resource definition for the last known
// pipeline run.
func (h *Handler) StatusResource() mcp.Resource {
	return mcp.NewResource(
		"polish://workspace/status",
		"Memory Polish Pipeline Status",
		mcp.WithResourceDescription("The most recent checkpoint: session id, phase, progress, and whether it completed or is pending resume"),
		mcp.WithMIMEType("application/json"),
	)
}

// HandleStatus returns the current checkpoint, if any, as JSON.
func (h *Handler) HandleStatus(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	cacheDir := filepath.Join(h.base, "memory", h.cfg.Advanced.CacheDirectory)
	store := checkpoint.New(filepath.Join(cacheDir, h.cfg.Recovery.CheckpointFile), h.base)

	if !store.Exists() {
		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      req.Params.URI,
				MIMEType: "application/json",
				Text:     `{"status":"no run recorded"}`,
			},
		}, nil
	}

	state, err := store.Load()
	if err != nil {
		return errorResource(req.Params.URI, err.Error()), nil
	}

	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshaling status: %w", err)
	}

	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      req.Params.URI,
			MIMEType: "application/json",
			Text:     string(data),
		},
	}, nil
}

func errorResource(uri, message string) []mcp.ResourceContents {
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      uri,
			MIMEType: "text/plain",
			Text:     fmt.Sprintf("Error: %s", message),
		},
	}
}
