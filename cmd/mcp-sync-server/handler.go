package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/cexll/notion-boards/internal/ledger"
	"github.com/cexll/notion-boards/internal/reconcile"
)

// syncService is the part of app.Service the tools call into.
type syncService interface {
	Poll(ctx context.Context, trigger string) (*reconcile.PollResult, error)
	LookupLink(ctx context.Context, pageID string, workItemID int) (ledger.Link, error)
}

// ReconcileNowParams is empty; the tool always polls the configured database.
type ReconcileNowParams struct{}

// LookupLinkParams selects a link by page id or, when that is empty, by
// work item id.
type LookupLinkParams struct {
	PageID     string `json:"page_id,omitempty" jsonschema:"Notion page id to look up"`
	WorkItemID int    `json:"work_item_id,omitempty" jsonschema:"Azure Boards work item id to look up"`
}

// ToolHandler serves the sync tools over MCP.
type ToolHandler struct {
	svc syncService
}

func NewToolHandler(svc syncService) *ToolHandler {
	return &ToolHandler{svc: svc}
}

// HandleReconcileNow handles the reconcile_now tool call
func (h *ToolHandler) HandleReconcileNow(
	ctx context.Context,
	req *mcp.CallToolRequest,
	params ReconcileNowParams,
) (*mcp.CallToolResult, any, error) {
	log.Printf("[MCP Sync Server] Received reconcile_now request")

	result, err := h.svc.Poll(ctx, "mcp")
	if err != nil {
		log.Printf("[MCP Sync Server] Poll failed: %v", err)
		return errorResult(err), nil, nil
	}

	log.Printf("[MCP Sync Server] Poll completed: pages=%d created=%d updated=%d", result.Pages, result.Created, result.Updated)
	return jsonResult(result)
}

// HandleLookupLink handles the lookup_link tool call
func (h *ToolHandler) HandleLookupLink(
	ctx context.Context,
	req *mcp.CallToolRequest,
	params LookupLinkParams,
) (*mcp.CallToolResult, any, error) {
	pageID := strings.TrimSpace(params.PageID)
	if pageID == "" && params.WorkItemID <= 0 {
		return nil, nil, fmt.Errorf("page_id or work_item_id is required")
	}
	log.Printf("[MCP Sync Server] Received lookup_link request: page=%q workItem=%d", pageID, params.WorkItemID)

	link, err := h.svc.LookupLink(ctx, pageID, params.WorkItemID)
	if errors.Is(err, ledger.ErrNotFound) {
		return jsonResult(map[string]any{"found": false})
	}
	if err != nil {
		log.Printf("[MCP Sync Server] Lookup failed: %v", err)
		return errorResult(err), nil, nil
	}

	return jsonResult(map[string]any{
		"found":        true,
		"page_id":      link.PageID,
		"work_item_id": link.WorkItemID,
		"title":        link.Title,
		"state":        link.State,
		"updated_at":   link.UpdatedAt,
	})
}

func jsonResult(v any) (*mcp.CallToolResult, any, error) {
	text, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, nil, fmt.Errorf("encode result: %w", err)
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: string(text)},
		},
	}, nil, nil
}

func errorResult(err error) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{
				Text: fmt.Sprintf("Error: %v", err),
			},
		},
		IsError: true,
	}
}
