package coretools

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"maps"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"strings"

	"github.com/harun/stepwise/pkg/capability"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

// maxManifestSize bounds a manifest file.
const maxManifestSize = 256 * 1024

// Parameter locations.
const (
	InQuery = "query"
	InBody  = "body"
	InPath  = "path"
)

// ManifestParameter is one input of an HTTP tool.
type ManifestParameter struct {
	capability.Parameter `yaml:",inline"`
	// In is query, body or path. It defaults to query for GET and DELETE
	// and to body otherwise.
	In string `yaml:"in"`
}

// Manifest declares an HTTP endpoint as a tool.
type Manifest struct {
	ToolID      string              `yaml:"tool_id"`
	Name        string              `yaml:"name"`
	Description string              `yaml:"description"`
	Method      string              `yaml:"method"`
	URL         string              `yaml:"url"`
	Headers     map[string]string   `yaml:"headers"`
	Parameters  []ManifestParameter `yaml:"parameters"`
	Metadata    map[string]string   `yaml:"user_metadata"`
	DemoInput   []map[string]any    `yaml:"demo_input"`
}

// ParseManifest decodes and validates one manifest. Unknown keys are errors.
func ParseManifest(data []byte) (*Manifest, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	var m Manifest
	if err := dec.Decode(&m); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("manifest is empty")
		}
		return nil, fmt.Errorf("failed to parse manifest: %w", err)
	}
	if err := m.normalize(); err != nil {
		return nil, err
	}
	return &m, nil
}

func (m *Manifest) normalize() error {
	m.Method = strings.ToUpper(strings.TrimSpace(m.Method))
	if m.Method == "" {
		m.Method = http.MethodGet
	}
	if !slices.Contains(apiMethods, m.Method) {
		return fmt.Errorf("manifest %s: unsupported method %q", m.ToolID, m.Method)
	}
	if m.ToolID == "" {
		return errors.New("manifest: tool_id is required")
	}
	if m.Name == "" {
		m.Name = m.ToolID
	}
	u, err := url.Parse(m.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return fmt.Errorf("manifest %s: invalid url %q", m.ToolID, m.URL)
	}

	for i := range m.Parameters {
		p := &m.Parameters[i]
		if p.Type == "" {
			p.Type = "string"
		}
		if err := p.Validate(); err != nil {
			return fmt.Errorf("manifest %s: %w", m.ToolID, err)
		}
		switch p.In {
		case "":
			if m.Method == http.MethodGet || m.Method == http.MethodDelete {
				p.In = InQuery
			} else {
				p.In = InBody
			}
		case InQuery, InBody:
		case InPath:
			if !strings.Contains(m.URL, "{"+p.Name+"}") {
				return fmt.Errorf("manifest %s: path parameter %s missing from url", m.ToolID, p.Name)
			}
			p.Required = true
		default:
			return fmt.Errorf("manifest %s: parameter %s: unknown location %q", m.ToolID, p.Name, p.In)
		}
	}
	return nil
}

// LoadManifests reads every *.yaml and *.yml file in dir, in name order.
// A missing dir yields no tools.
func LoadManifests(dir string, client *http.Client, logger zerolog.Logger) ([]capability.Capability, error) {
	var files []string
	for _, pattern := range []string{"*.yaml", "*.yml"} {
		matches, err := filepath.Glob(filepath.Join(dir, pattern))
		if err != nil {
			return nil, err
		}
		files = append(files, matches...)
	}
	sort.Strings(files)

	tools := make([]capability.Capability, 0, len(files))
	for _, path := range files {
		info, err := os.Stat(path)
		if err != nil {
			return nil, fmt.Errorf("failed to stat manifest %s: %w", path, err)
		}
		if info.Size() > maxManifestSize {
			return nil, fmt.Errorf("manifest %s: size %d exceeds maximum %d", path, info.Size(), maxManifestSize)
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read manifest %s: %w", path, err)
		}
		m, err := ParseManifest(data)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}

		sum := sha256.Sum256(data)
		logger.Debug().
			Str("tool_id", m.ToolID).
			Str("path", path).
			Str("sha256", hex.EncodeToString(sum[:8])).
			Msg("Manifest loaded")
		tools = append(tools, &HTTPTool{Manifest: *m, Client: client})
	}
	return tools, nil
}

// HTTPTool runs a manifest-declared HTTP call.
type HTTPTool struct {
	Manifest Manifest
	Client   *http.Client
}

func (t *HTTPTool) Descriptor() capability.Descriptor {
	m := t.Manifest
	params := make([]capability.Parameter, len(m.Parameters))
	for i, p := range m.Parameters {
		params[i] = p.Parameter
	}
	desc := capability.Descriptor{
		ToolID:      m.ToolID,
		Name:        m.Name,
		Description: m.Description,
		InputSchema: capability.ObjectSchema(params...),
		OutputSchema: capability.ObjectSchema(
			capability.Parameter{Name: "success", Type: "boolean", Required: true},
			capability.Parameter{Name: "status", Type: "integer"},
			capability.Parameter{Name: "response", Type: "string"},
			capability.Parameter{Name: "error", Type: "string"},
		),
		Metadata: maps.Clone(m.Metadata),
	}
	if len(m.DemoInput) > 0 {
		desc.ExampleInputs = capability.Examples(m.DemoInput...)
	}
	return desc
}

func (t *HTTPTool) Run(ctx context.Context, input map[string]any) (any, error) {
	m := t.Manifest
	target := m.URL
	query := url.Values{}
	body := map[string]any{}

	for _, p := range m.Parameters {
		v, ok := input[p.Name]
		if !ok {
			continue
		}
		switch p.In {
		case InPath:
			target = strings.ReplaceAll(target, "{"+p.Name+"}", url.PathEscape(scalarString(v)))
		case InQuery:
			query.Set(p.Name, scalarString(v))
		case InBody:
			body[p.Name] = v
		}
	}

	u, err := url.Parse(target)
	if err != nil {
		return nil, fmt.Errorf("invalid url %q: %w", target, err)
	}
	if len(query) > 0 {
		q := u.Query()
		for k, vs := range query {
			q[k] = vs
		}
		u.RawQuery = q.Encode()
	}

	var reader io.Reader
	if len(body) > 0 {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to encode body: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, m.Method, u.String(), reader)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	for k, v := range m.Headers {
		req.Header.Set(k, os.ExpandEnv(v))
	}
	if reader != nil && req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/json")
	}
	return doCall(t.Client, req), nil
}
