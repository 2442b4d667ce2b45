package workflow

import (
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
)

const testTemplate = `{
  "3": {"inputs": {"seed": 0, "steps": 20}},
  "10": {"inputs": {"image": ""}}
}`

func writeFixtures(t *testing.T, nodeConfig string) (string, string) {
	t.Helper()
	dir := t.TempDir()
	wf := filepath.Join(dir, "workflow.json")
	nc := filepath.Join(dir, "nodes.json")
	if err := os.WriteFile(wf, []byte(testTemplate), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(nc, []byte(nodeConfig), 0o644); err != nil {
		t.Fatal(err)
	}
	return wf, nc
}

func TestLoadValidatesPaths(t *testing.T) {
	wf, nc := writeFixtures(t, `{"image": {"path": "10/inputs/image"}}`)
	if _, err := Load(wf, nc, rand.New(rand.NewSource(1))); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestLoadRejectsBadPath(t *testing.T) {
	wf, nc := writeFixtures(t, `{"image": {"path": "99/inputs/image"}}`)
	_, err := Load(wf, nc, rand.New(rand.NewSource(1)))
	if err == nil {
		t.Fatal("expected load-time error for unresolvable path")
	}
	if !strings.Contains(err.Error(), "99") {
		t.Errorf("error should name the bad segment: %v", err)
	}
}

func TestPrepareAppliesCallerValue(t *testing.T) {
	wf, nc := writeFixtures(t, `{"image": {"path": "10/inputs/image"}}`)
	m, err := Load(wf, nc, rand.New(rand.NewSource(1)))
	if err != nil {
		t.Fatal(err)
	}

	payload, err := m.Prepare(map[string]any{"image": "base64data"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	node := payload["10"].(map[string]any)["inputs"].(map[string]any)
	if node["image"] != "base64data" {
		t.Errorf("expected caller value applied, got %v", node["image"])
	}

	// The template itself must stay untouched.
	orig := m.template["10"].(map[string]any)["inputs"].(map[string]any)
	if orig["image"] != "" {
		t.Errorf("template mutated: %v", orig["image"])
	}
}

func TestPrepareDefaultAndMultiPath(t *testing.T) {
	wf, nc := writeFixtures(t, `{"steps": {"path": ["3/inputs/steps"], "value": 30}}`)
	m, err := Load(wf, nc, rand.New(rand.NewSource(1)))
	if err != nil {
		t.Fatal(err)
	}
	payload, err := m.Prepare(nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	node := payload["3"].(map[string]any)["inputs"].(map[string]any)
	if got, ok := node["steps"].(float64); !ok || got != 30 {
		t.Errorf("expected default 30 applied, got %v", node["steps"])
	}
}

func TestPrepareRandomSeed(t *testing.T) {
	wf, nc := writeFixtures(t, `{"seed": {"path": "3/inputs/seed", "type": ["random", [0, 1000000]]}}`)
	m, err := Load(wf, nc, rand.New(rand.NewSource(1)))
	if err != nil {
		t.Fatal(err)
	}
	payload, err := m.Prepare(nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	node := payload["3"].(map[string]any)["inputs"].(map[string]any)
	seed, ok := node["seed"].(int64)
	if !ok {
		t.Fatalf("expected int64 seed, got %T", node["seed"])
	}
	if seed < 0 || seed >= 1000000 {
		t.Errorf("seed %d outside configured bounds", seed)
	}
}

func TestPrepareConcurrentRandomDraws(t *testing.T) {
	wf, nc := writeFixtures(t, `{"seed": {"path": "3/inputs/seed", "type": ["random", [0, 1000000]]}}`)
	m, err := Load(wf, nc, rand.New(rand.NewSource(1)))
	if err != nil {
		t.Fatal(err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				if _, err := m.Prepare(nil); err != nil {
					t.Errorf("unexpected error: %v", err)
					return
				}
			}
		}()
	}
	wg.Wait()
}

func TestLoadRejectsTypeWithoutBounds(t *testing.T) {
	wf, nc := writeFixtures(t, `{"seed": {"path": "3/inputs/seed", "type": ["random"]}}`)
	_, err := Load(wf, nc, rand.New(rand.NewSource(1)))
	if err == nil {
		t.Fatal("expected load-time error for missing bounds")
	}
	if !strings.Contains(err.Error(), "bounds") {
		t.Errorf("error should mention bounds: %v", err)
	}
}

func TestLoadRejectsEmptyBounds(t *testing.T) {
	wf, nc := writeFixtures(t, `{"seed": {"path": "3/inputs/seed", "type": ["random", [5, 5]]}}`)
	if _, err := Load(wf, nc, rand.New(rand.NewSource(1))); err == nil {
		t.Fatal("expected load-time error for empty bounds")
	}
}

func TestLoadRejectsUnknownType(t *testing.T) {
	wf, nc := writeFixtures(t, `{"seed": {"path": "3/inputs/seed", "type": ["uuid"]}}`)
	_, err := Load(wf, nc, rand.New(rand.NewSource(1)))
	if err == nil {
		t.Fatal("expected load-time error for unknown value type")
	}
}
