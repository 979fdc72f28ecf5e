package webhook

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/cexll/notion-boards/internal/boards"
	"github.com/cexll/notion-boards/internal/reconcile"
)

// Azure Boards service hook payloads

type WorkItemUpdatedEvent struct {
	ID             string `json:"id"`
	NotificationID int    `json:"notificationId"`
	EventType      string `json:"eventType"`
	Resource       struct {
		ID         int                    `json:"id"`
		WorkItemID int                    `json:"workItemId"`
		Rev        int                    `json:"rev"`
		RevisedBy  Identity               `json:"revisedBy"`
		Fields     map[string]FieldChange `json:"fields"`
		Revision   Revision               `json:"revision"`
	} `json:"resource"`
}

type WorkItemCreatedEvent struct {
	ID             string   `json:"id"`
	NotificationID int      `json:"notificationId"`
	EventType      string   `json:"eventType"`
	Resource       Revision `json:"resource"`
}

type WorkItemDeletedEvent struct {
	ID             string   `json:"id"`
	NotificationID int      `json:"notificationId"`
	EventType      string   `json:"eventType"`
	Resource       Revision `json:"resource"`
}

// Revision is a full snapshot of a work item's fields.
type Revision struct {
	ID     int            `json:"id"`
	Rev    int            `json:"rev"`
	Fields map[string]any `json:"fields"`
}

type FieldChange struct {
	OldValue json.RawMessage `json:"oldValue,omitempty"`
	NewValue json.RawMessage `json:"newValue,omitempty"`
}

type Identity struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	DisplayName string `json:"displayName"`
	UniqueName  string `json:"uniqueName"`
}

// String renders the identity the way Azure Boards writes identity fields:
// "Display Name <unique-name>".
func (i Identity) String() string {
	if i.Name != "" {
		return i.Name
	}
	switch {
	case i.DisplayName != "" && i.UniqueName != "":
		return fmt.Sprintf("%s <%s>", i.DisplayName, i.UniqueName)
	case i.DisplayName != "":
		return i.DisplayName
	default:
		return i.UniqueName
	}
}

// NewTitle returns the title set by this revision, or nil when the revision
// did not change it.
func (e *WorkItemUpdatedEvent) NewTitle() *string {
	change, ok := e.Resource.Fields[boards.FieldTitle]
	if !ok || len(change.NewValue) == 0 || string(change.NewValue) == "null" {
		return nil
	}
	var title string
	if err := json.Unmarshal(change.NewValue, &title); err != nil {
		title = strings.TrimSpace(string(change.NewValue))
	}
	return &title
}

func (e *WorkItemUpdatedEvent) toUpdate() reconcile.WorkItemUpdate {
	return reconcile.WorkItemUpdate{
		WorkItemID:   e.Resource.WorkItemID,
		RevisedBy:    e.Resource.RevisedBy.String(),
		NotionPageID: stringField(e.Resource.Revision.Fields, boards.FieldNotionPageID),
		NewTitle:     e.NewTitle(),
	}
}

func (e *WorkItemCreatedEvent) toCreation() reconcile.WorkItemCreation {
	return reconcile.WorkItemCreation{
		WorkItemID: e.Resource.ID,
		Title:      stringField(e.Resource.Fields, boards.FieldTitle),
		CreatedBy:  identityField(e.Resource.Fields, boards.FieldCreatedBy),
	}
}

func (e *WorkItemDeletedEvent) toDeletion() reconcile.WorkItemDeletion {
	return reconcile.WorkItemDeletion{
		WorkItemID:   e.Resource.ID,
		NotionPageID: stringField(e.Resource.Fields, boards.FieldNotionPageID),
	}
}

// stringField reads a text field, tolerating numbers.
func stringField(fields map[string]any, name string) string {
	switch v := fields[name].(type) {
	case string:
		return strings.TrimSpace(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case json.Number:
		return v.String()
	default:
		return ""
	}
}

// identityField reads an identity field, which newer API versions send as
// an object instead of a "Display Name <unique-name>" string.
func identityField(fields map[string]any, name string) string {
	switch v := fields[name].(type) {
	case string:
		return v
	case map[string]any:
		var id Identity
		id.ID, _ = v["id"].(string)
		id.Name, _ = v["name"].(string)
		id.DisplayName, _ = v["displayName"].(string)
		id.UniqueName, _ = v["uniqueName"].(string)
		return id.String()
	default:
		return ""
	}
}
