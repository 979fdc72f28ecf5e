package boards

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/cexll/notion-boards/internal/rest"
)

// ErrNotFound is returned when a work item does not exist (or was deleted).
var ErrNotFound = errors.New("work item not found")

const (
	defaultBaseURL    = "https://dev.azure.com"
	defaultAPIVersion = "7.0"
	patchContentType  = "application/json-patch+json"
)

// ClientOptions configures a Client for one organization/project.
type ClientOptions struct {
	BaseURL      string
	Organization string
	Project      string
	AssignedTo   string
	APIVersion   string
	REST         rest.Options
}

// Client wraps the Azure Boards work item REST API. Every call takes the
// credential for the current invocation; see azauth.
type Client struct {
	baseURL    string
	assignedTo string
	apiVersion string
	rest       *rest.Client
}

func NewClient(opts ClientOptions) *Client {
	root := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if root == "" {
		root = defaultBaseURL
	}
	apiVersion := strings.TrimSpace(opts.APIVersion)
	if apiVersion == "" {
		apiVersion = defaultAPIVersion
	}
	restOpts := opts.REST
	if restOpts.Component == "" {
		restOpts.Component = "Boards"
	}
	return &Client{
		baseURL:    fmt.Sprintf("%s/%s/%s/_apis/", root, url.PathEscape(opts.Organization), url.PathEscape(opts.Project)),
		assignedTo: opts.AssignedTo,
		apiVersion: apiVersion,
		rest:       rest.New(restOpts),
	}
}

// GetWorkItems fetches the given ids in one batch.
func (c *Client) GetWorkItems(ctx context.Context, token string, ids []int) ([]WorkItem, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = strconv.Itoa(id)
	}
	query := url.Values{}
	query.Set("ids", strings.Join(parts, ","))
	query.Set("api-version", c.apiVersion)

	var list workItemList
	if err := c.rest.Do(ctx, c.request(token, http.MethodGet, c.baseURL+"wit/workitems?"+query.Encode(), nil), &list); err != nil {
		return nil, fmt.Errorf("get work items: %w", err)
	}
	return list.Value, nil
}

// CreateWorkItem creates a Product Backlog Item linked to notionPageID and
// returns its id.
func (c *Client) CreateWorkItem(ctx context.Context, token, title, notionPageID string) (int, error) {
	if title == "" {
		title = "Empty title"
	}
	ops := []Operation{
		{Op: "add", Path: fieldPath(FieldTitle), Value: title},
	}
	if c.assignedTo != "" {
		ops = append(ops, Operation{Op: "add", Path: fieldPath(FieldAssignedTo), Value: c.assignedTo})
	}
	ops = append(ops, Operation{Op: "add", Path: fieldPath(FieldNotionPageID), Value: notionPageID})

	endpoint := fmt.Sprintf("%swit/workitems/%s?api-version=%s", c.baseURL, url.PathEscape("$"+ProductBacklogItem), c.apiVersion)
	var created WorkItem
	if err := c.rest.Do(ctx, c.request(token, http.MethodPost, endpoint, ops), &created); err != nil {
		log.Printf("[Boards] Failed to create work item: %v", err)
		return 0, fmt.Errorf("create work item: %w", err)
	}
	if created.ID == 0 {
		return 0, fmt.Errorf("create work item: response carried no id")
	}
	return created.ID, nil
}

// SyncWorkItem replaces the title and linkage field of work item id.
// A missing work item yields ErrNotFound.
func (c *Client) SyncWorkItem(ctx context.Context, token string, id int, title, notionPageID string) error {
	if title == "" {
		title = "No title"
	}
	ops := []Operation{
		{Op: "replace", Path: fieldPath(FieldTitle), Value: title},
		{Op: "replace", Path: fieldPath(FieldNotionPageID), Value: notionPageID},
	}
	endpoint := fmt.Sprintf("%swit/workitems/%d?api-version=%s", c.baseURL, id, c.apiVersion)
	err := c.rest.Do(ctx, c.request(token, http.MethodPatch, endpoint, ops), nil)
	if rest.IsNotFound(err) {
		return fmt.Errorf("update work item %d: %w", id, ErrNotFound)
	}
	if err != nil {
		log.Printf("[Boards] Failed to update work item %d: %v", id, err)
		return fmt.Errorf("update work item %d: %w", id, err)
	}
	return nil
}

// DeleteWorkItem moves work item id to the recycle bin.
func (c *Client) DeleteWorkItem(ctx context.Context, token string, id int) error {
	endpoint := fmt.Sprintf("%swit/workitems/%d?api-version=%s", c.baseURL, id, c.apiVersion)
	err := c.rest.Do(ctx, c.request(token, http.MethodDelete, endpoint, nil), nil)
	if rest.IsNotFound(err) {
		return fmt.Errorf("delete work item %d: %w", id, ErrNotFound)
	}
	if err != nil {
		log.Printf("[Boards] Failed to delete work item %d: %v", id, err)
		return fmt.Errorf("delete work item %d: %w", id, err)
	}
	return nil
}

func (c *Client) request(token, method, endpoint string, ops []Operation) rest.Request {
	header := http.Header{}
	header.Set("Authorization", authorizationHeader(token))
	req := rest.Request{Method: method, URL: endpoint, Header: header}
	if ops != nil {
		req.Body = ops
		req.ContentType = patchContentType
	}
	return req
}

// authorizationHeader passes through a pre-built "Basic"/"Bearer" value and
// treats anything else as a bearer token.
func authorizationHeader(token string) string {
	token = strings.TrimSpace(token)
	if strings.HasPrefix(token, "Basic ") || strings.HasPrefix(token, "Bearer ") {
		return token
	}
	return "Bearer " + token
}
