// Package workflow turns a ComfyUI workflow template plus a node
// configuration into concrete job payloads. Every configured node path is
// validated against the template when loaded, so a bad path is a
// configuration error at startup, not a submission-time surprise.
package workflow

import (
	"encoding/json"
	"fmt"
	"math/rand"
	"os"
	"strings"
	"sync"

	"github.com/yzhou-ml/comfyfleet/pkg/comfy"
)

// NodeSetting configures one logical input of the workflow.
type NodeSetting struct {
	// Path is one or more slash-separated node paths, e.g.
	// "10/inputs/image". All of them receive the same value.
	Path PathList `json:"path"`
	// Value is a fixed default applied when the caller supplies nothing.
	Value any `json:"value,omitempty"`
	// Type optionally declares a generated value, e.g.
	// ["random", [0, 9999999999]] for a fresh random seed per payload.
	Type []any `json:"type,omitempty"`
}

// PathList accepts either a single string or a list of strings in JSON.
type PathList []string

func (p *PathList) UnmarshalJSON(data []byte) error {
	var single string
	if err := json.Unmarshal(data, &single); err == nil {
		*p = PathList{single}
		return nil
	}
	var many []string
	if err := json.Unmarshal(data, &many); err != nil {
		return fmt.Errorf("path must be a string or list of strings")
	}
	*p = many
	return nil
}

// Manager prepares job payloads from a loaded template. Prepare is safe
// for concurrent use; the mutex serializes draws from the shared rng.
type Manager struct {
	template map[string]any
	settings map[string]NodeSetting

	mu  sync.Mutex
	rng *rand.Rand
}

// Load reads the workflow template and node configuration and validates
// every configured path against the template.
func Load(workflowPath, nodeConfigPath string, rng *rand.Rand) (*Manager, error) {
	raw, err := os.ReadFile(workflowPath)
	if err != nil {
		return nil, fmt.Errorf("read workflow %s: %w", workflowPath, err)
	}
	var template map[string]any
	if err := json.Unmarshal(raw, &template); err != nil {
		return nil, fmt.Errorf("parse workflow %s: %w", workflowPath, err)
	}

	raw, err = os.ReadFile(nodeConfigPath)
	if err != nil {
		return nil, fmt.Errorf("read node config %s: %w", nodeConfigPath, err)
	}
	var settings map[string]NodeSetting
	if err := json.Unmarshal(raw, &settings); err != nil {
		return nil, fmt.Errorf("parse node config %s: %w", nodeConfigPath, err)
	}

	for key, setting := range settings {
		for _, path := range setting.Path {
			if err := validatePath(template, path); err != nil {
				return nil, fmt.Errorf("node config %q: %w", key, err)
			}
		}
		if len(setting.Type) > 0 {
			if err := validateType(setting.Type); err != nil {
				return nil, fmt.Errorf("node config %q: %w", key, err)
			}
		}
	}

	return &Manager{template: template, settings: settings, rng: rng}, nil
}

// Prepare builds one payload: a deep copy of the template with every
// configured node set. Caller-supplied values win over configured
// defaults; a "random" typed setting draws a fresh value per payload.
func (m *Manager) Prepare(values map[string]any) (comfy.JobPayload, error) {
	doc, err := deepCopy(m.template)
	if err != nil {
		return nil, err
	}

	for key, setting := range m.settings {
		value, ok := values[key]
		if !ok {
			switch {
			case setting.Value != nil:
				value = setting.Value
			case len(setting.Type) > 0:
				value, err = m.generate(setting.Type)
				if err != nil {
					return nil, fmt.Errorf("setting %q: %w", key, err)
				}
			default:
				continue
			}
		}
		for _, path := range setting.Path {
			if err := setPath(doc, path, value); err != nil {
				return nil, fmt.Errorf("setting %q: %w", key, err)
			}
		}
	}
	return comfy.JobPayload(doc), nil
}

// generate produces a value for a typed setting.
func (m *Manager) generate(spec []any) (any, error) {
	if err := validateType(spec); err != nil {
		return nil, err
	}
	bounds := spec[1].([]any)
	lo, hi := toInt64(bounds[0]), toInt64(bounds[1])
	m.mu.Lock()
	n := m.rng.Int63n(hi - lo)
	m.mu.Unlock()
	return lo + n, nil
}

// validateType checks the shape of a typed setting declaration.
func validateType(spec []any) error {
	kind, _ := spec[0].(string)
	if kind != "random" {
		return fmt.Errorf("unknown value type %q", kind)
	}
	if len(spec) < 2 {
		return fmt.Errorf("random type needs [min, max] bounds")
	}
	bounds, ok := spec[1].([]any)
	if !ok || len(bounds) != 2 {
		return fmt.Errorf("random type needs [min, max] bounds")
	}
	lo, hi := toInt64(bounds[0]), toInt64(bounds[1])
	if hi <= lo {
		return fmt.Errorf("random bounds [%d, %d] are empty", lo, hi)
	}
	return nil
}

func toInt64(v any) int64 {
	switch n := v.(type) {
	case float64:
		return int64(n)
	case int:
		return int64(n)
	case int64:
		return n
	}
	return 0
}

// validatePath checks that every segment except the last resolves to an
// object in the template.
func validatePath(doc map[string]any, path string) error {
	segments := strings.Split(path, "/")
	if len(segments) == 0 || path == "" {
		return fmt.Errorf("empty node path")
	}
	current := doc
	for _, seg := range segments[:len(segments)-1] {
		next, ok := current[seg].(map[string]any)
		if !ok {
			return fmt.Errorf("path %q does not resolve in workflow (missing %q)", path, seg)
		}
		current = next
	}
	return nil
}

// setPath writes value at a validated slash-separated path.
func setPath(doc map[string]any, path string, value any) error {
	segments := strings.Split(path, "/")
	current := doc
	for _, seg := range segments[:len(segments)-1] {
		next, ok := current[seg].(map[string]any)
		if !ok {
			return fmt.Errorf("path %q does not resolve", path)
		}
		current = next
	}
	current[segments[len(segments)-1]] = value
	return nil
}

func deepCopy(doc map[string]any) (map[string]any, error) {
	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("copy workflow template: %w", err)
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("copy workflow template: %w", err)
	}
	return out, nil
}
