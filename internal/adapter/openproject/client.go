// Package openproject implements a tracker.Client for OpenProject work
// packages using the API v3 (HAL+JSON).
package openproject

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/Strob0t/LaneSync/internal/domain"
	"github.com/Strob0t/LaneSync/internal/domain/board"
	"github.com/Strob0t/LaneSync/internal/domain/integration"
	"github.com/Strob0t/LaneSync/internal/port/tracker"
)

const (
	maxResponseBytes = 8 << 20
	defaultSubject   = "LaneSync task"
)

func init() {
	tracker.Register(board.ProviderOpenProject, func(cfg tracker.Config) (tracker.Client, error) {
		return New(cfg)
	})
}

// Client implements tracker.Client for one OpenProject account. The API
// token is sent as basic auth with the fixed user "apikey".
type Client struct {
	baseURL    string
	token      string
	userAgent  string
	pageSize   int
	httpClient *http.Client
}

// New creates an OpenProject client from cfg.
func New(cfg tracker.Config) (*Client, error) {
	base, err := integration.NormalizeBaseURL(cfg.BaseURL)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, fmt.Errorf("%w: openproject api token is required", domain.ErrValidation)
	}
	pageSize := cfg.PageSize
	if pageSize <= 0 || pageSize > 100 {
		pageSize = 50
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL:   base,
		token:     strings.TrimSpace(cfg.Token),
		userAgent: cfg.UserAgent,
		pageSize:  pageSize,
		httpClient: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}, nil
}

func (c *Client) Provider() board.Provider { return board.ProviderOpenProject }

type halLink struct {
	Href  string `json:"href,omitempty"`
	Title string `json:"title,omitempty"`
}

type formattable struct {
	Format string `json:"format,omitempty"`
	Raw    string `json:"raw"`
}

// workPackage mirrors the work package resource.
type workPackage struct {
	ID          int          `json:"id"`
	Subject     string       `json:"subject"`
	Description *formattable `json:"description"`
	LockVersion int          `json:"lockVersion"`
	DueDate     string       `json:"dueDate"`
	UpdatedAt   string       `json:"updatedAt"`
	Links       struct {
		Status   halLink `json:"status"`
		Priority halLink `json:"priority"`
		Type     halLink `json:"type"`
		Assignee halLink `json:"assignee"`
	} `json:"_links"`
}

type collection struct {
	Total    int `json:"total"`
	Count    int `json:"count"`
	Embedded struct {
		Elements []workPackage `json:"elements"`
	} `json:"_embedded"`
}

// Ping reads the API root and returns the instance name and core version.
func (c *Client) Ping(ctx context.Context) (string, error) {
	var root struct {
		InstanceName string `json:"instanceName"`
		CoreVersion  string `json:"coreVersion"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/api/v3", nil, nil, &root); err != nil {
		return "", fmt.Errorf("openproject ping: %w", err)
	}
	return strings.TrimSpace(root.InstanceName + " " + root.CoreVersion), nil
}

// Search lists work packages. query is an API v3 filter expression in JSON,
// for example [{"status":{"operator":"o","values":[]}}].
func (c *Client) Search(ctx context.Context, query string, limit int) ([]integration.Issue, error) {
	if limit <= 0 {
		limit = c.pageSize
	}
	var out []integration.Issue
	for offset := 1; len(out) < limit; offset++ {
		q := url.Values{}
		if f := strings.TrimSpace(query); f != "" {
			q.Set("filters", f)
		}
		q.Set("pageSize", strconv.Itoa(c.pageSize))
		q.Set("offset", strconv.Itoa(offset))
		q.Set("sortBy", `[["id","asc"]]`)

		var page collection
		if err := c.doJSON(ctx, http.MethodGet, "/api/v3/work_packages", q, nil, &page); err != nil {
			return out, fmt.Errorf("openproject search: %w", err)
		}
		for i := range page.Embedded.Elements {
			out = append(out, c.toIssue(&page.Embedded.Elements[i]))
		}
		if len(page.Embedded.Elements) < c.pageSize || offset*c.pageSize >= page.Total {
			break
		}
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// GetIssue returns one work package by numeric id.
func (c *Client) GetIssue(ctx context.Context, externalID string) (*integration.Issue, error) {
	wp, err := c.get(ctx, externalID)
	if err != nil {
		return nil, err
	}
	issue := c.toIssue(wp)
	return &issue, nil
}

func (c *Client) get(ctx context.Context, externalID string) (*workPackage, error) {
	id, err := parseID(externalID)
	if err != nil {
		return nil, err
	}
	var wp workPackage
	if err := c.doJSON(ctx, http.MethodGet, "/api/v3/work_packages/"+strconv.Itoa(id), nil, nil, &wp); err != nil {
		return nil, fmt.Errorf("openproject get work package %d: %w", id, err)
	}
	return &wp, nil
}

// CreateIssue creates a work package in the project identified by ProjectRef.
func (c *Client) CreateIssue(ctx context.Context, in tracker.IssueInput) (*integration.Issue, error) {
	project := strings.TrimSpace(in.ProjectRef)
	if project == "" {
		return nil, fmt.Errorf("%w: openproject project identifier is required", domain.ErrValidation)
	}
	payload := map[string]any{
		"subject": subject(in.Title),
		"_links": map[string]any{
			"project": halLink{Href: "/api/v3/projects/" + url.PathEscape(project)},
		},
	}
	if d := strings.TrimSpace(in.Description); d != "" {
		payload["description"] = formattable{Format: "markdown", Raw: d}
	}
	var wp workPackage
	if err := c.doJSON(ctx, http.MethodPost, "/api/v3/work_packages", nil, payload, &wp); err != nil {
		return nil, fmt.Errorf("openproject create work package: %w", err)
	}
	issue := c.toIssue(&wp)
	return &issue, nil
}

// UpdateIssue patches subject and description. The current lockVersion is
// read first; a concurrent edit in OpenProject answers 409.
func (c *Client) UpdateIssue(ctx context.Context, externalID string, in tracker.IssueInput) (*integration.Issue, error) {
	current, err := c.get(ctx, externalID)
	if err != nil {
		return nil, err
	}
	payload := map[string]any{
		"lockVersion": current.LockVersion,
		"subject":     subject(in.Title),
		"description": formattable{Format: "markdown", Raw: strings.TrimSpace(in.Description)},
	}
	var wp workPackage
	if err := c.doJSON(ctx, http.MethodPatch, "/api/v3/work_packages/"+strconv.Itoa(current.ID), nil, payload, &wp); err != nil {
		return nil, fmt.Errorf("openproject update work package %d: %w", current.ID, err)
	}
	issue := c.toIssue(&wp)
	return &issue, nil
}

// FindByLabel is not supported; work packages have no free-form labels.
func (c *Client) FindByLabel(_ context.Context, _ string) (*integration.Issue, error) {
	return nil, tracker.ErrNotSupported
}

// IssueURL returns the web URL of a work package.
func (c *Client) IssueURL(id int) string {
	return fmt.Sprintf("%s/work_packages/%d", c.baseURL, id)
}

func (c *Client) toIssue(wp *workPackage) integration.Issue {
	issue := integration.Issue{
		ExternalID:  strconv.Itoa(wp.ID),
		URL:         c.IssueURL(wp.ID),
		Title:       strings.TrimSpace(wp.Subject),
		Status:      wp.Links.Status.Title,
		Priority:    wp.Links.Priority.Title,
		Type:        wp.Links.Type.Title,
		Assignee:    wp.Links.Assignee.Title,
		Labels:      []string{},
		LockVersion: wp.LockVersion,
	}
	if wp.Description != nil {
		issue.Description = wp.Description.Raw
	}
	if d, err := time.Parse(time.DateOnly, wp.DueDate); err == nil {
		issue.DueDate = &d
	}
	if t, err := time.Parse(time.RFC3339Nano, wp.UpdatedAt); err == nil {
		t = t.UTC()
		issue.UpdatedAt = &t
	}
	return issue
}

func subject(title string) string {
	if s := strings.TrimSpace(title); s != "" {
		return s
	}
	return defaultSubject
}

func parseID(externalID string) (int, error) {
	id, err := strconv.Atoi(strings.TrimPrefix(strings.TrimSpace(externalID), "#"))
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: invalid work package id %q", domain.ErrValidation, externalID)
	}
	return id, nil
}

func (c *Client) doJSON(ctx context.Context, method, path string, query url.Values, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}
	reqURL := c.baseURL + path
	if len(query) > 0 {
		reqURL += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, reqURL, body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/hal+json, application/json")
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.SetBasicAuth("apikey", c.token)

	resp, err := c.httpClient.Do(req) //nolint:gosec // G704: URL is built from the stored connection base URL
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= 400 {
		return &tracker.APIError{Provider: board.ProviderOpenProject, StatusCode: resp.StatusCode, Message: errorMessage(respBody)}
	}
	if out == nil || len(respBody) == 0 {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("openproject parse response: %w", err)
	}
	return nil
}

// errorMessage reads the message of an API v3 error resource.
func errorMessage(body []byte) string {
	var e struct {
		ErrorIdentifier string `json:"errorIdentifier"`
		Message         string `json:"message"`
	}
	if err := json.Unmarshal(body, &e); err == nil && e.Message != "" {
		return e.Message
	}
	if s := strings.TrimSpace(string(body)); s != "" {
		if len(s) > 500 {
			s = s[:500]
		}
		return s
	}
	return "openproject request failed"
}
