package boards

// Field reference names used by the sync.
const (
	FieldTitle        = "System.Title"
	FieldAssignedTo   = "System.AssignedTo"
	FieldCreatedBy    = "System.CreatedBy"
	FieldChangedBy    = "System.ChangedBy"
	FieldState        = "System.State"
	FieldNotionPageID = "Custom.notion_page_id"
)

// ProductBacklogItem is the only work item type the sync creates.
const ProductBacklogItem = "Product Backlog Item"

// Operation is a single JSON Patch operation.
type Operation struct {
	Op    string `json:"op"`
	Path  string `json:"path"`
	Value any    `json:"value"`
}

// WorkItem is the subset of the work item resource returned by the API.
type WorkItem struct {
	ID     int            `json:"id"`
	Rev    int            `json:"rev"`
	Fields map[string]any `json:"fields"`
	URL    string         `json:"url"`
}

// Title returns System.Title, or "" when absent.
func (w WorkItem) Title() string {
	title, _ := w.Fields[FieldTitle].(string)
	return title
}

// NotionPageID returns the linkage field, or "" when absent.
func (w WorkItem) NotionPageID() string {
	id, _ := w.Fields[FieldNotionPageID].(string)
	return id
}

type workItemList struct {
	Count int        `json:"count"`
	Value []WorkItem `json:"value"`
}

func fieldPath(field string) string {
	return "/fields/" + field
}
