package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/cexll/notion-boards/internal/app"
	"github.com/cexll/notion-boards/internal/config"
)

func main() {
	// 1. Load configuration; stdout belongs to the transport, logs go to stderr
	_ = godotenv.Load()
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("[MCP Sync Server] Failed to load configuration: %v", err)
	}

	svc, err := app.New(cfg)
	if err != nil {
		log.Fatalf("[MCP Sync Server] Failed to initialize service: %v", err)
	}
	defer svc.Close()

	log.Println("[MCP Sync Server] Starting Notion ⇄ Azure Boards sync MCP Server v1.0.0")
	log.Printf("[MCP Sync Server] Notion database: %s", cfg.NotionDatabaseID)
	log.Printf("[MCP Sync Server] Azure Boards: %s/%s", cfg.BoardsOrganization, cfg.BoardsProject)

	// 2. Create MCP server and register tools
	server := newServer(NewToolHandler(svc))

	// 3. Setup graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		log.Println("[MCP Sync Server] Received shutdown signal")
		cancel()
	}()

	// 4. Start server with stdio transport
	log.Println("[MCP Sync Server] Starting on stdio transport...")
	if err := server.Run(ctx, &mcp.StdioTransport{}); err != nil {
		log.Printf("[MCP Sync Server] Server error: %v", err)
		return
	}
	log.Println("[MCP Sync Server] Server stopped gracefully")
}

func newServer(h *ToolHandler) *mcp.Server {
	server := mcp.NewServer(&mcp.Implementation{
		Name:    "notion-boards-sync-server",
		Version: "v1.0.0",
	}, nil)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "reconcile_now",
		Description: "Run one Notion to Azure Boards poll reconciliation and return its counts",
	}, h.HandleReconcileNow)
	log.Println("[MCP Sync Server] Registered tool: reconcile_now")

	mcp.AddTool(server, &mcp.Tool{
		Name:        "lookup_link",
		Description: "Look up the recorded Notion page and Azure Boards work item link by page_id or work_item_id",
	}, h.HandleLookupLink)
	log.Println("[MCP Sync Server] Registered tool: lookup_link")

	return server
}
