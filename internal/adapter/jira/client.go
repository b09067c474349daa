// Package jira implements a tracker.Client for Jira Cloud and Data Center
// using the REST API v3.
package jira

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/Strob0t/LaneSync/internal/domain"
	"github.com/Strob0t/LaneSync/internal/domain/board"
	"github.com/Strob0t/LaneSync/internal/domain/integration"
	"github.com/Strob0t/LaneSync/internal/port/tracker"
)

const maxResponseBytes = 8 << 20

// searchFields are requested on every search and get.
var searchFields = strings.Join([]string{
	"summary", "description", "assignee", "priority", "issuetype",
	"labels", "duedate", "status", "updated",
}, ",")

// priorityNames maps local priorities to Jira's default scheme.
var priorityNames = map[string]string{
	"P0": "Highest",
	"P1": "High",
	"P2": "Medium",
	"P3": "Low",
}

func init() {
	tracker.Register(board.ProviderJira, func(cfg tracker.Config) (tracker.Client, error) {
		return New(cfg)
	})
}

// Client implements tracker.Client for one Jira account. With an email the
// token is an API token sent as basic auth; without one it is a personal
// access token sent as bearer.
type Client struct {
	baseURL    string
	email      string
	token      string
	userAgent  string
	pageSize   int
	httpClient *http.Client
}

// New creates a Jira client from cfg.
func New(cfg tracker.Config) (*Client, error) {
	base, err := integration.NormalizeBaseURL(cfg.BaseURL)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, fmt.Errorf("%w: jira token is required", domain.ErrValidation)
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
		email:     strings.TrimSpace(cfg.Email),
		token:     strings.TrimSpace(cfg.Token),
		userAgent: cfg.UserAgent,
		pageSize:  pageSize,
		httpClient: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}, nil
}

func (c *Client) Provider() board.Provider { return board.ProviderJira }

// jiraIssue mirrors the issue JSON returned by search and get.
type jiraIssue struct {
	ID     string `json:"id"`
	Key    string `json:"key"`
	Fields struct {
		Summary     string          `json:"summary"`
		Description json.RawMessage `json:"description"`
		Status      *jiraNamed      `json:"status"`
		Priority    *jiraNamed      `json:"priority"`
		IssueType   *jiraNamed      `json:"issuetype"`
		Labels      []string        `json:"labels"`
		Assignee    *jiraUser       `json:"assignee"`
		DueDate     string          `json:"duedate"`
		Updated     string          `json:"updated"`
	} `json:"fields"`
}

type jiraUser struct {
	AccountID   string `json:"accountId"`
	DisplayName string `json:"displayName"`
}

type jiraNamed struct {
	Name string `json:"name"`
}

func (n *jiraNamed) name() string {
	if n == nil {
		return ""
	}
	return n.Name
}

type searchPage struct {
	Issues        []jiraIssue `json:"issues"`
	NextPageToken string      `json:"nextPageToken"`
	IsLast        bool        `json:"isLast"`
	StartAt       int         `json:"startAt"`
	MaxResults    int         `json:"maxResults"`
	Total         *int        `json:"total"`
}

// Ping returns the display name of the authenticated user.
func (c *Client) Ping(ctx context.Context) (string, error) {
	var me jiraUser
	if err := c.doJSON(ctx, http.MethodGet, "/rest/api/3/myself", nil, nil, &me); err != nil {
		return "", fmt.Errorf("jira ping: %w", err)
	}
	if me.DisplayName != "" {
		return me.DisplayName, nil
	}
	return me.AccountID, nil
}

// Search pages through /search/jql. Tenants that do not serve it yet (404
// or 410) fall back to the offset based /search endpoint.
func (c *Client) Search(ctx context.Context, jql string, limit int) ([]integration.Issue, error) {
	if limit <= 0 {
		limit = c.pageSize
	}
	var (
		out    []integration.Issue
		token  string
		legacy bool
	)
	for len(out) < limit {
		size := min(c.pageSize, limit-len(out))
		page, err := c.searchPage(ctx, jql, size, token, len(out), legacy)
		if err != nil && !legacy && len(out) == 0 && token == "" && isGone(err) {
			legacy = true
			page, err = c.searchPage(ctx, jql, size, "", 0, true)
		}
		if err != nil {
			return out, fmt.Errorf("jira search: %w", err)
		}
		for i := range page.Issues {
			out = append(out, c.toIssue(&page.Issues[i]))
		}
		if len(page.Issues) == 0 {
			break
		}
		if legacy {
			if len(page.Issues) < size || (page.Total != nil && len(out) >= *page.Total) {
				break
			}
			continue
		}
		if page.IsLast || page.NextPageToken == "" {
			break
		}
		token = page.NextPageToken
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (c *Client) searchPage(ctx context.Context, jql string, size int, token string, startAt int, legacy bool) (*searchPage, error) {
	q := url.Values{}
	q.Set("jql", jql)
	q.Set("maxResults", fmt.Sprint(size))
	q.Set("fields", searchFields)
	path := "/rest/api/3/search/jql"
	if legacy {
		path = "/rest/api/3/search"
		q.Set("startAt", fmt.Sprint(startAt))
	} else if token != "" {
		q.Set("nextPageToken", token)
	}
	var page searchPage
	if err := c.doJSON(ctx, http.MethodGet, path, q, nil, &page); err != nil {
		return nil, err
	}
	return &page, nil
}

func isGone(err error) bool {
	code := tracker.StatusCode(err)
	return code == http.StatusNotFound || code == http.StatusGone
}

// GetIssue returns one issue by key.
func (c *Client) GetIssue(ctx context.Context, key string) (*integration.Issue, error) {
	q := url.Values{}
	q.Set("fields", searchFields)
	var ji jiraIssue
	if err := c.doJSON(ctx, http.MethodGet, "/rest/api/3/issue/"+url.PathEscape(key), q, nil, &ji); err != nil {
		return nil, fmt.Errorf("jira get issue %s: %w", key, err)
	}
	issue := c.toIssue(&ji)
	return &issue, nil
}

// CreateIssue creates an issue. Some projects restrict the priority field;
// a 400 with a priority set is retried once without it.
func (c *Client) CreateIssue(ctx context.Context, in tracker.IssueInput) (*integration.Issue, error) {
	if strings.TrimSpace(in.ProjectRef) == "" {
		return nil, fmt.Errorf("%w: jira project key is required", domain.ErrValidation)
	}
	fields := c.createFields(in)
	var created struct {
		ID  string `json:"id"`
		Key string `json:"key"`
	}
	err := c.doJSON(ctx, http.MethodPost, "/rest/api/3/issue", nil, map[string]any{"fields": fields}, &created)
	if err != nil && tracker.StatusCode(err) == http.StatusBadRequest {
		if _, ok := fields["priority"]; ok {
			delete(fields, "priority")
			err = c.doJSON(ctx, http.MethodPost, "/rest/api/3/issue", nil, map[string]any{"fields": fields}, &created)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("jira create issue: %w", err)
	}
	if created.Key == "" {
		return nil, errors.New("jira create issue: response carried no key")
	}
	return c.GetIssue(ctx, created.Key)
}

func (c *Client) createFields(in tracker.IssueInput) map[string]any {
	issueType := strings.TrimSpace(in.IssueType)
	if issueType == "" {
		issueType = "Task"
	}
	fields := map[string]any{
		"project":     map[string]string{"key": strings.TrimSpace(in.ProjectRef)},
		"summary":     in.Title,
		"description": docFromText(in.Description),
		"issuetype":   map[string]string{"name": issueType},
		"labels":      labels(in.Labels),
	}
	if name, ok := priorityNames[in.Priority]; ok {
		fields["priority"] = map[string]string{"name": name}
	}
	if a := strings.TrimSpace(in.Assignee); a != "" {
		fields["assignee"] = map[string]string{"accountId": a}
	}
	return fields
}

// UpdateIssue writes summary, description and labels.
func (c *Client) UpdateIssue(ctx context.Context, key string, in tracker.IssueInput) (*integration.Issue, error) {
	fields := map[string]any{
		"summary":     in.Title,
		"description": docFromText(in.Description),
	}
	if in.Labels != nil {
		fields["labels"] = labels(in.Labels)
	}
	if err := c.doJSON(ctx, http.MethodPut, "/rest/api/3/issue/"+url.PathEscape(key), nil, map[string]any{"fields": fields}, nil); err != nil {
		return nil, fmt.Errorf("jira update issue %s: %w", key, err)
	}
	return c.GetIssue(ctx, key)
}

// FindByLabel searches for the first issue carrying label.
func (c *Client) FindByLabel(ctx context.Context, label string) (*integration.Issue, error) {
	issues, err := c.Search(ctx, fmt.Sprintf("labels = %q", label), 1)
	if err != nil {
		return nil, err
	}
	if len(issues) == 0 {
		return nil, fmt.Errorf("jira label %s: %w", label, domain.ErrNotFound)
	}
	return &issues[0], nil
}

// IssueURL returns the browse URL of key.
func (c *Client) IssueURL(key string) string {
	return c.baseURL + "/browse/" + key
}

func (c *Client) toIssue(ji *jiraIssue) integration.Issue {
	issue := integration.Issue{
		ExternalID:  ji.Key,
		URL:         c.IssueURL(ji.Key),
		Title:       strings.TrimSpace(ji.Fields.Summary),
		Description: textFromDoc(ji.Fields.Description),
		Status:      ji.Fields.Status.name(),
		Priority:    ji.Fields.Priority.name(),
		Type:        ji.Fields.IssueType.name(),
		Labels:      ji.Fields.Labels,
		UpdatedAt:   parseTime(ji.Fields.Updated),
	}
	if issue.Labels == nil {
		issue.Labels = []string{}
	}
	if a := ji.Fields.Assignee; a != nil {
		issue.Assignee = a.AccountID
	}
	if d, err := time.Parse(time.DateOnly, ji.Fields.DueDate); err == nil {
		issue.DueDate = &d
	}
	return issue
}

// parseTime accepts Jira's "2006-01-02T15:04:05.000-0700" and RFC 3339.
func parseTime(s string) *time.Time {
	if s == "" {
		return nil
	}
	for _, layout := range []string{"2006-01-02T15:04:05.000-0700", time.RFC3339Nano} {
		if t, err := time.Parse(layout, s); err == nil {
			t = t.UTC()
			return &t
		}
	}
	return nil
}

func labels(tags []string) []string {
	seen := make(map[string]bool, len(tags))
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		if l := Label(t); l != "" && !seen[l] {
			seen[l] = true
			out = append(out, l)
		}
	}
	sort.Strings(out)
	return out
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
	req.Header.Set("Accept", "application/json")
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.email != "" {
		req.SetBasicAuth(c.email, c.token)
	} else {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

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
		return &tracker.APIError{Provider: board.ProviderJira, StatusCode: resp.StatusCode, Message: errorMessage(respBody)}
	}
	if out == nil || resp.StatusCode == http.StatusNoContent || len(respBody) == 0 {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("jira parse response: %w", err)
	}
	return nil
}

// errorMessage joins Jira's errorMessages and field errors.
func errorMessage(body []byte) string {
	var payload struct {
		ErrorMessages []string          `json:"errorMessages"`
		Errors        map[string]string `json:"errors"`
	}
	if err := json.Unmarshal(body, &payload); err == nil {
		parts := make([]string, 0, len(payload.ErrorMessages)+len(payload.Errors))
		for _, m := range payload.ErrorMessages {
			if m != "" {
				parts = append(parts, m)
			}
		}
		keys := make([]string, 0, len(payload.Errors))
		for k := range payload.Errors {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			parts = append(parts, k+": "+payload.Errors[k])
		}
		if len(parts) > 0 {
			return strings.Join(parts, "; ")
		}
	}
	if s := strings.TrimSpace(string(body)); s != "" {
		return truncateRunes(s, 500)
	}
	return "jira request failed"
}
