// internal/engine/client.go
package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	jmes "github.com/jmespath/go-jmespath"
	"go.uber.org/zap"
)

// ErrProjectsUnsupported: the engine edition has no project/folder feature
// (community editions answer 403 or 404). Callers treat this as "no project",
// not as a failure.
var ErrProjectsUnsupported = errors.New("engine edition does not support projects")

const apiKeyHeader = "X-API-KEY"

// idExpr tolerates the envelope drift between engine versions: some return
// the created object bare, others wrap it in {"data": ...}.
const idExpr = `id || data.id`
const projectListExpr = `data || projects || @`

// Client is a thin REST client for the workflow engine, authenticated via a
// static API key header.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	log        *zap.SugaredLogger
}

func NewClient(baseURL, apiKey string, log *zap.SugaredLogger) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		log:        log,
	}
}

// CreateCredential registers a secret-bearing credential object and returns
// its durable id.
func (c *Client) CreateCredential(ctx context.Context, name, credType string, data map[string]any) (string, error) {
	body, status, err := c.do(ctx, http.MethodPost, "/credentials", map[string]any{
		"name": name,
		"type": credType,
		"data": data,
	})
	if err != nil {
		return "", err
	}
	if status < 200 || status >= 300 {
		return "", fmt.Errorf("create credential: engine status %d", status)
	}
	id := extractID(body)
	if id == "" {
		return "", errors.New("create credential: no id in engine response")
	}
	return id, nil
}

// CreateWorkflow submits a rendered workflow definition and returns its id.
func (c *Client) CreateWorkflow(ctx context.Context, workflow map[string]any) (string, error) {
	body, status, err := c.do(ctx, http.MethodPost, "/workflows", workflow)
	if err != nil {
		return "", err
	}
	if status < 200 || status >= 300 {
		return "", fmt.Errorf("create workflow: engine status %d", status)
	}
	id := extractID(body)
	if id == "" {
		return "", errors.New("create workflow: no id in engine response")
	}
	return id, nil
}

// ActivateWorkflow switches a created workflow live.
func (c *Client) ActivateWorkflow(ctx context.Context, id string) error {
	_, status, err := c.do(ctx, http.MethodPost, "/workflows/"+id+"/activate", nil)
	if err != nil {
		return err
	}
	if status < 200 || status >= 300 {
		return fmt.Errorf("activate workflow %s: engine status %d", id, status)
	}
	return nil
}

// FindProject returns the id of the project with the given name, or "" when
// absent. ErrProjectsUnsupported on 403/404.
func (c *Client) FindProject(ctx context.Context, name string) (string, error) {
	body, status, err := c.do(ctx, http.MethodGet, "/projects", nil)
	if err != nil {
		return "", err
	}
	if status == http.StatusForbidden || status == http.StatusNotFound {
		return "", ErrProjectsUnsupported
	}
	if status < 200 || status >= 300 {
		return "", fmt.Errorf("list projects: engine status %d", status)
	}
	var parsed any
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", fmt.Errorf("list projects: %w", err)
	}
	items, _ := jmes.Search(projectListExpr, parsed)
	list, _ := items.([]any)
	for _, it := range list {
		m, _ := it.(map[string]any)
		if m == nil {
			continue
		}
		if n, _ := m["name"].(string); n == name {
			return toID(m["id"]), nil
		}
	}
	return "", nil
}

// CreateProject creates a namespacing project folder.
// ErrProjectsUnsupported on 403/404.
func (c *Client) CreateProject(ctx context.Context, name string) (string, error) {
	body, status, err := c.do(ctx, http.MethodPost, "/projects", map[string]any{"name": name})
	if err != nil {
		return "", err
	}
	if status == http.StatusForbidden || status == http.StatusNotFound {
		return "", ErrProjectsUnsupported
	}
	if status < 200 || status >= 300 {
		return "", fmt.Errorf("create project: engine status %d", status)
	}
	id := extractID(body)
	if id == "" {
		return "", errors.New("create project: no id in engine response")
	}
	return id, nil
}

func (c *Client) do(ctx context.Context, method, path string, payload any) ([]byte, int, error) {
	var rd io.Reader
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, 0, err
		}
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rd)
	if err != nil {
		return nil, 0, err
	}
	req.Header.Set(apiKeyHeader, c.apiKey)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("engine %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	return body, resp.StatusCode, nil
}

func extractID(body []byte) string {
	var parsed any
	if err := json.Unmarshal(body, &parsed); err != nil {
		return ""
	}
	v, err := jmes.Search(idExpr, parsed)
	if err != nil {
		return ""
	}
	return toID(v)
}

func toID(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		return ""
	}
}
