package notion

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"strings"

	"github.com/cexll/notion-boards/internal/rest"
)

// ErrNotFound is returned when a page no longer exists.
var ErrNotFound = errors.New("notion page not found")

const (
	defaultBaseURL       = "https://api.notion.com"
	defaultAPIVersion    = "2022-06-28"
	defaultTitleProperty = "名前"
	defaultLinkProperty  = "Azure Board Item Id"
)

// ClientOptions configures a Client.
type ClientOptions struct {
	BaseURL       string
	Secret        string
	APIVersion    string
	TitleProperty string
	LinkProperty  string
	REST          rest.Options
}

// Client talks to the Notion REST API for a single integration secret.
type Client struct {
	baseURL       string
	secret        string
	apiVersion    string
	titleProperty string
	linkProperty  string
	rest          *rest.Client
}

func NewClient(opts ClientOptions) *Client {
	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	apiVersion := strings.TrimSpace(opts.APIVersion)
	if apiVersion == "" {
		apiVersion = defaultAPIVersion
	}
	titleProperty := opts.TitleProperty
	if titleProperty == "" {
		titleProperty = defaultTitleProperty
	}
	linkProperty := opts.LinkProperty
	if linkProperty == "" {
		linkProperty = defaultLinkProperty
	}
	restOpts := opts.REST
	if restOpts.Component == "" {
		restOpts.Component = "Notion"
	}
	return &Client{
		baseURL:       baseURL,
		secret:        opts.Secret,
		apiVersion:    apiVersion,
		titleProperty: titleProperty,
		linkProperty:  linkProperty,
		rest:          rest.New(restOpts),
	}
}

// QueryDatabase returns every page of the database in query order,
// following pagination cursors.
func (c *Client) QueryDatabase(ctx context.Context, databaseID string) ([]Page, error) {
	endpoint := fmt.Sprintf("%s/v1/databases/%s/query", c.baseURL, url.PathEscape(databaseID))
	var pages []Page
	cursor := ""
	for {
		body := map[string]any{}
		if cursor != "" {
			body["start_cursor"] = cursor
		}
		req := c.request(http.MethodPost, endpoint, body)
		req.Idempotent = true
		var resp queryResponse
		if err := c.rest.Do(ctx, req, &resp); err != nil {
			log.Printf("[Notion] Error fetching database items: %v", err)
			return nil, fmt.Errorf("query database %s: %w", databaseID, err)
		}
		for _, raw := range resp.Results {
			page, err := c.decodePage(raw)
			if err != nil {
				return nil, err
			}
			pages = append(pages, page)
		}
		if !resp.HasMore || resp.NextCursor == nil || *resp.NextCursor == "" {
			return pages, nil
		}
		cursor = *resp.NextCursor
	}
}

// CreatePage adds a row with the given title and linkage number.
func (c *Client) CreatePage(ctx context.Context, databaseID, title string, workItemID int) (Page, error) {
	body := map[string]any{
		"parent": map[string]string{"database_id": databaseID},
		"properties": map[string]any{
			c.titleProperty: newTitleProperty(title),
			c.linkProperty:  newNumberProperty(workItemID),
		},
	}
	var raw rawPage
	if err := c.rest.Do(ctx, c.request(http.MethodPost, c.baseURL+"/v1/pages", body), &raw); err != nil {
		log.Printf("[Notion] Error creating database item: %v", err)
		return Page{}, fmt.Errorf("create page: %w", err)
	}
	if raw.ID == "" {
		return Page{}, fmt.Errorf("create page: response carried no id")
	}
	return Page{ID: raw.ID, Title: title, LinkedWorkItemID: &workItemID}, nil
}

// UpdatePage sets the linkage number and, when title is non-nil, the title.
// A missing page yields ErrNotFound.
func (c *Client) UpdatePage(ctx context.Context, pageID string, workItemID int, title *string) error {
	properties := map[string]any{
		c.linkProperty: newNumberProperty(workItemID),
	}
	if title != nil {
		properties[c.titleProperty] = newTitleProperty(*title)
	}
	endpoint := fmt.Sprintf("%s/v1/pages/%s", c.baseURL, url.PathEscape(pageID))
	err := c.rest.Do(ctx, c.request(http.MethodPatch, endpoint, map[string]any{"properties": properties}), nil)
	if rest.IsNotFound(err) {
		return fmt.Errorf("update page %s: %w", pageID, ErrNotFound)
	}
	if err != nil {
		log.Printf("[Notion] Error updating database item: %v", err)
		return fmt.Errorf("update page %s: %w", pageID, err)
	}
	return nil
}

// DeletePage moves the page to the trash.
func (c *Client) DeletePage(ctx context.Context, pageID string) error {
	endpoint := fmt.Sprintf("%s/v1/blocks/%s", c.baseURL, url.PathEscape(pageID))
	err := c.rest.Do(ctx, c.request(http.MethodDelete, endpoint, nil), nil)
	if rest.IsNotFound(err) {
		return fmt.Errorf("delete page %s: %w", pageID, ErrNotFound)
	}
	if err != nil {
		log.Printf("[Notion] Error deleting database item: %v", err)
		return fmt.Errorf("delete page %s: %w", pageID, err)
	}
	return nil
}

func (c *Client) request(method, endpoint string, body any) rest.Request {
	header := http.Header{}
	header.Set("Authorization", "Bearer "+c.secret)
	header.Set("Notion-Version", c.apiVersion)
	req := rest.Request{Method: method, URL: endpoint, Header: header}
	if body != nil {
		req.Body = body
	}
	return req
}

// decodePage fails when either configured property is absent, so a wrong
// property name stops the run instead of making every page look unlinked.
func (c *Client) decodePage(raw rawPage) (Page, error) {
	page := Page{ID: raw.ID, Archived: raw.Archived || raw.InTrash}

	titleRaw, ok := raw.Properties[c.titleProperty]
	if !ok {
		return Page{}, fmt.Errorf("decode page %s: property %q not found", raw.ID, c.titleProperty)
	}
	var title titleProperty
	if err := json.Unmarshal(titleRaw, &title); err != nil {
		return Page{}, fmt.Errorf("decode title property of page %s: %w", raw.ID, err)
	}
	page.Title = TitleText(title.Title)

	linkRaw, ok := raw.Properties[c.linkProperty]
	if !ok {
		return Page{}, fmt.Errorf("decode page %s: property %q not found", raw.ID, c.linkProperty)
	}
	var number numberProperty
	if err := json.Unmarshal(linkRaw, &number); err != nil {
		return Page{}, fmt.Errorf("decode link property of page %s: %w", raw.ID, err)
	}
	if number.Number != nil {
		id := int(*number.Number)
		page.LinkedWorkItemID = &id
	}

	return page, nil
}
