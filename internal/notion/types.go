package notion

import (
	"encoding/json"
	"strings"
)

// Page is a database row reduced to the fields the sync cares about.
type Page struct {
	ID               string
	Title            string
	// LinkedWorkItemID is nil when the linkage property is empty.
	LinkedWorkItemID *int
	Archived         bool
}

type queryResponse struct {
	Object     string    `json:"object"`
	Results    []rawPage `json:"results"`
	HasMore    bool      `json:"has_more"`
	NextCursor *string   `json:"next_cursor"`
}

type rawPage struct {
	Object     string                     `json:"object"`
	ID         string                     `json:"id"`
	Archived   bool                       `json:"archived"`
	InTrash    bool                       `json:"in_trash"`
	Properties map[string]json.RawMessage `json:"properties"`
}

type titleProperty struct {
	Type  string      `json:"type,omitempty"`
	Title []textValue `json:"title"`
}

type numberProperty struct {
	Type   string   `json:"type,omitempty"`
	Number *float64 `json:"number"`
}

type textValue struct {
	Type      string       `json:"type,omitempty"`
	Text      *textContent `json:"text,omitempty"`
	PlainText string       `json:"plain_text,omitempty"`
}

type textContent struct {
	Content string `json:"content"`
}

// TitleText concatenates the text runs of a title property in order.
func TitleText(runs []textValue) string {
	var b strings.Builder
	for _, run := range runs {
		if run.Text != nil {
			b.WriteString(run.Text.Content)
			continue
		}
		b.WriteString(run.PlainText)
	}
	return b.String()
}

func newTitleProperty(title string) titleProperty {
	return titleProperty{
		Type:  "title",
		Title: []textValue{{Text: &textContent{Content: title}}},
	}
}

func newNumberProperty(value int) numberProperty {
	n := float64(value)
	return numberProperty{Type: "number", Number: &n}
}
