// internal/provision/templates.go
package provision

import (
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

//go:embed templates/*.yaml
var builtinTemplates embed.FS

// Template is a provider-specific workflow blueprint. Placeholders of the
// form {{key}} inside the name and node parameters are bound at render time.
type Template struct {
	Name           string         `yaml:"name"`
	CredentialType string         `yaml:"credential_type"`
	Nodes          []TemplateNode `yaml:"nodes"`
	Connections    map[string]any `yaml:"connections"`
	Settings       map[string]any `yaml:"settings"`
}

type TemplateNode struct {
	Name       string         `yaml:"name"`
	Type       string         `yaml:"type"`
	Parameters map[string]any `yaml:"parameters"`
	// BindCredential marks the node that authenticates to the mailbox
	// provider and receives the engine credential reference.
	BindCredential bool `yaml:"bind_credential"`
}

// RenderParams are the tenant-scoped values substituted into a template.
// CredentialID is explicitly optional: a workflow renders valid (if not
// fully wired) either way.
type RenderParams struct {
	TenantID     string
	TenantName   string
	BackendURL   string
	ProjectID    string
	CredentialID *string
}

var placeholderRe = regexp.MustCompile(`\{\{\s*([a-zA-Z0-9_]+)\s*\}\}`)

// Render produces the engine workflow payload.
func (t *Template) Render(p RenderParams) map[string]any {
	vars := map[string]string{
		"tenant_id":   p.TenantID,
		"tenant_name": p.TenantName,
		"backend_url": strings.TrimRight(p.BackendURL, "/"),
	}
	nodes := make([]map[string]any, 0, len(t.Nodes))
	for _, n := range t.Nodes {
		node := map[string]any{
			"name":       n.Name,
			"type":       n.Type,
			"parameters": resolveAny(n.Parameters, vars),
		}
		if n.BindCredential && p.CredentialID != nil {
			node["credentials"] = map[string]any{
				t.CredentialType: map[string]any{"id": *p.CredentialID},
			}
		}
		nodes = append(nodes, node)
	}
	wf := map[string]any{
		"name":        resolveString(t.Name, vars),
		"nodes":       nodes,
		"connections": t.Connections,
		"settings":    t.Settings,
	}
	if p.ProjectID != "" {
		wf["projectId"] = p.ProjectID
	}
	return wf
}

func resolveAny(v any, vars map[string]string) any {
	switch t := v.(type) {
	case string:
		return resolveString(t, vars)
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, vv := range t {
			out[k] = resolveAny(vv, vars)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, vv := range t {
			out[i] = resolveAny(vv, vars)
		}
		return out
	default:
		return v
	}
}

func resolveString(s string, vars map[string]string) string {
	return placeholderRe.ReplaceAllStringFunc(s, func(m string) string {
		g := placeholderRe.FindStringSubmatch(m)
		if len(g) != 2 {
			return m
		}
		if val, ok := vars[g[1]]; ok {
			return val
		}
		// Unknown placeholders stay visible so a bad template surfaces in
		// the created workflow rather than silently rendering empty.
		return m
	})
}

// Registry holds one template per provider, loaded from the embedded
// defaults with optional per-file overrides from a directory.
type Registry struct {
	templates map[string]*Template
}

func LoadRegistry(overrideDir string, log *zap.SugaredLogger) (*Registry, error) {
	r := &Registry{templates: map[string]*Template{}}
	entries, err := builtinTemplates.ReadDir("templates")
	if err != nil {
		return nil, err
	}
	for _, e := range entries {
		raw, err := builtinTemplates.ReadFile("templates/" + e.Name())
		if err != nil {
			return nil, err
		}
		if err := r.add(e.Name(), raw); err != nil {
			return nil, fmt.Errorf("builtin template %s: %w", e.Name(), err)
		}
	}
	if overrideDir != "" {
		files, err := filepath.Glob(filepath.Join(overrideDir, "*.yaml"))
		if err != nil {
			return nil, err
		}
		for _, f := range files {
			raw, err := os.ReadFile(f)
			if err != nil {
				log.Warnw("template override unreadable", "file", f, "err", err)
				continue
			}
			if err := r.add(filepath.Base(f), raw); err != nil {
				log.Warnw("template override invalid", "file", f, "err", err)
				continue
			}
			log.Infow("workflow template overridden", "file", f)
		}
	}
	return r, nil
}

func (r *Registry) add(filename string, raw []byte) error {
	provider := strings.TrimSuffix(filename, filepath.Ext(filename))
	var t Template
	if err := yaml.Unmarshal(raw, &t); err != nil {
		return err
	}
	if t.Name == "" || len(t.Nodes) == 0 {
		return fmt.Errorf("template %s missing name or nodes", provider)
	}
	r.templates[provider] = &t
	return nil
}

// Get returns the template for a provider.
func (r *Registry) Get(provider string) (*Template, error) {
	t, ok := r.templates[provider]
	if !ok {
		return nil, fmt.Errorf("no workflow template for provider %q", provider)
	}
	return t, nil
}
