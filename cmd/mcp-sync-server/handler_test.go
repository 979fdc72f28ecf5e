package main

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/cexll/notion-boards/internal/ledger"
	"github.com/cexll/notion-boards/internal/reconcile"
)

type stubService struct {
	result   *reconcile.PollResult
	pollErr  error
	triggers []string

	link      ledger.Link
	lookupErr error
	gotPage   string
	gotItem   int
}

func (s *stubService) Poll(ctx context.Context, trigger string) (*reconcile.PollResult, error) {
	s.triggers = append(s.triggers, trigger)
	return s.result, s.pollErr
}

func (s *stubService) LookupLink(ctx context.Context, pageID string, workItemID int) (ledger.Link, error) {
	s.gotPage = pageID
	s.gotItem = workItemID
	return s.link, s.lookupErr
}

func resultText(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()
	if res == nil || len(res.Content) != 1 {
		t.Fatalf("unexpected result: %+v", res)
	}
	text, ok := res.Content[0].(*mcp.TextContent)
	if !ok {
		t.Fatalf("content is %T, want *mcp.TextContent", res.Content[0])
	}
	return text.Text
}

func TestHandleReconcileNow_Success(t *testing.T) {
	svc := &stubService{result: &reconcile.PollResult{Pages: 3, Created: 1, Updated: 2}}
	h := NewToolHandler(svc)

	res, _, err := h.HandleReconcileNow(context.Background(), nil, ReconcileNowParams{})
	if err != nil {
		t.Fatalf("HandleReconcileNow returned error: %v", err)
	}
	if res.IsError {
		t.Fatalf("IsError = true, want false")
	}

	var got reconcile.PollResult
	if err := json.Unmarshal([]byte(resultText(t, res)), &got); err != nil {
		t.Fatalf("result is not JSON: %v", err)
	}
	if got.Pages != 3 || got.Created != 1 || got.Updated != 2 {
		t.Errorf("result = %+v", got)
	}
	if len(svc.triggers) != 1 || svc.triggers[0] != "mcp" {
		t.Errorf("triggers = %v, want [mcp]", svc.triggers)
	}
}

func TestHandleReconcileNow_PollError(t *testing.T) {
	h := NewToolHandler(&stubService{pollErr: errors.New("notion down")})

	res, _, err := h.HandleReconcileNow(context.Background(), nil, ReconcileNowParams{})
	if err != nil {
		t.Fatalf("HandleReconcileNow returned error: %v", err)
	}
	if !res.IsError {
		t.Fatal("IsError = false, want true")
	}
	if text := resultText(t, res); text != "Error: notion down" {
		t.Errorf("text = %q", text)
	}
}

func TestHandleLookupLink(t *testing.T) {
	updated := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		name      string
		params    LookupLinkParams
		svc       *stubService
		wantErr   bool
		wantIsErr bool
		wantFound bool
		wantPage  string
		wantItem  int
	}{
		{
			name:      "by page id",
			params:    LookupLinkParams{PageID: " page-a "},
			svc:       &stubService{link: ledger.Link{PageID: "page-a", WorkItemID: 7, Title: "A", State: ledger.StateLinked, UpdatedAt: updated}},
			wantFound: true,
			wantPage:  "page-a",
		},
		{
			name:      "by work item id",
			params:    LookupLinkParams{WorkItemID: 7},
			svc:       &stubService{link: ledger.Link{PageID: "page-a", WorkItemID: 7, State: ledger.StatePending}},
			wantFound: true,
			wantItem:  7,
		},
		{
			name:     "not found",
			params:   LookupLinkParams{WorkItemID: 8},
			svc:      &stubService{lookupErr: ledger.ErrNotFound},
			wantItem: 8,
		},
		{
			name:      "ledger failure",
			params:    LookupLinkParams{PageID: "page-a"},
			svc:       &stubService{lookupErr: errors.New("database is locked")},
			wantIsErr: true,
			wantPage:  "page-a",
		},
		{
			name:    "no selector",
			params:  LookupLinkParams{PageID: "  "},
			svc:     &stubService{},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewToolHandler(tt.svc)
			res, _, err := h.HandleLookupLink(context.Background(), nil, tt.params)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("HandleLookupLink returned error: %v", err)
			}
			if res.IsError != tt.wantIsErr {
				t.Fatalf("IsError = %t, want %t", res.IsError, tt.wantIsErr)
			}
			if tt.svc.gotPage != tt.wantPage || tt.svc.gotItem != tt.wantItem {
				t.Errorf("lookup called with (%q, %d), want (%q, %d)", tt.svc.gotPage, tt.svc.gotItem, tt.wantPage, tt.wantItem)
			}
			if tt.wantIsErr {
				return
			}

			var body map[string]any
			if err := json.Unmarshal([]byte(resultText(t, res)), &body); err != nil {
				t.Fatalf("result is not JSON: %v", err)
			}
			if body["found"] != tt.wantFound {
				t.Errorf("found = %v, want %t", body["found"], tt.wantFound)
			}
			if tt.wantFound && body["page_id"] != "page-a" {
				t.Errorf("page_id = %v, want page-a", body["page_id"])
			}
		})
	}
}

func TestNewServerRegistersTools(t *testing.T) {
	if server := newServer(NewToolHandler(&stubService{})); server == nil {
		t.Fatal("newServer returned nil")
	}
}
