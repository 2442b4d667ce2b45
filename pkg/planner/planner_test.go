package planner

import (
	"errors"
	"io"
	"math/rand"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/yzhou-ml/comfyfleet/pkg/logging"
)

func quietLogger() *logging.Logger {
	l := logging.New(logging.ERROR, false)
	l.SetOutput(io.Discard)
	return l
}

func TestAllocateSumAndBounds(t *testing.T) {
	cases := []struct {
		name    string
		n       int
		quota   Quota
		wantSum int
	}{
		{"target fits", 3, Quota{Target: 10, MinPerImage: 1, MaxPerImage: 5}, 10},
		{"target exceeds capacity", 3, Quota{Target: 100, MinPerImage: 1, MaxPerImage: 5}, 15},
		{"target below minimum floor", 4, Quota{Target: 2, MinPerImage: 1, MaxPerImage: 3}, 4},
		{"single image", 1, Quota{Target: 7, MinPerImage: 0, MaxPerImage: 10}, 7},
		{"even split", 5, Quota{Target: 20, MinPerImage: 2, MaxPerImage: 6}, 20},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rng := rand.New(rand.NewSource(42))
			counts, err := Allocate(tc.n, tc.quota, rng)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			sum := 0
			for i, c := range counts {
				sum += c
				if c < tc.quota.MinPerImage || c > tc.quota.MaxPerImage {
					t.Errorf("count[%d]=%d outside [%d,%d]", i, c, tc.quota.MinPerImage, tc.quota.MaxPerImage)
				}
			}
			if sum != tc.wantSum {
				t.Errorf("sum=%d, want %d", sum, tc.wantSum)
			}
		})
	}
}

func TestAllocateReproducibleWithFixedSeed(t *testing.T) {
	q := Quota{Target: 17, MinPerImage: 1, MaxPerImage: 6}
	first, err := Allocate(5, q, rand.New(rand.NewSource(7)))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, err := Allocate(5, q, rand.New(rand.NewSource(7)))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !reflect.DeepEqual(first, second) {
		t.Errorf("same seed produced %v and %v", first, second)
	}
}

func TestAllocateInvalidInputs(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	if _, err := Allocate(0, Quota{Target: 5, MaxPerImage: 1}, rng); err == nil {
		t.Error("expected error for n=0")
	}
	var pe *PlanningError
	_, err := Allocate(3, Quota{Target: 5, MinPerImage: 3, MaxPerImage: 1}, rng)
	if !errors.As(err, &pe) {
		t.Errorf("expected PlanningError for max < min, got %v", err)
	}
}

func TestNewRequiresExactlyOneMainRole(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	_, err := New([]Role{{Name: "style"}, {Name: "model"}}, Quota{}, nil, rng, quietLogger())
	var pe *PlanningError
	if !errors.As(err, &pe) {
		t.Errorf("expected PlanningError with no main role, got %v", err)
	}

	_, err = New([]Role{
		{Name: "style", Main: true},
		{Name: "model", Main: true},
	}, Quota{}, nil, rng, quietLogger())
	if !errors.As(err, &pe) {
		t.Errorf("expected PlanningError with two main roles, got %v", err)
	}
}

func newTestPlanner(t *testing.T, roles []Role, quota Quota, seed int64) *Planner {
	t.Helper()
	p, err := New(roles, quota, map[string]bool{".png": true, ".jpg": true}, rand.New(rand.NewSource(seed)), quietLogger())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return p
}

func TestPlanSequentialBinding(t *testing.T) {
	p := newTestPlanner(t, []Role{
		{Name: "style", Main: true},
		{Name: "model", Strategy: SelectSequential},
	}, Quota{Target: 4, MinPerImage: 1, MaxPerImage: 4}, 1)

	entries, err := p.Plan(map[string][]string{
		"style": {filepath.Join("in", "looks", "a.png")},
		"model": {"m1.png", "m2.png"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(entries) != 4 {
		t.Fatalf("expected 4 entries, got %d", len(entries))
	}
	// Sequential binding cycles through the role population.
	for i, e := range entries {
		want := []string{"m1.png", "m2.png"}[i%2]
		if e.Bound["model"] != want {
			t.Errorf("entry %d bound %s, want %s", i, e.Bound["model"], want)
		}
		if e.RepeatIndex != i+1 || e.RepeatTotal != 4 {
			t.Errorf("entry %d repeat %d/%d, want %d/4", i, e.RepeatIndex, e.RepeatTotal, i+1)
		}
	}
}

func TestPlanMissingRoleAbortsGroup(t *testing.T) {
	p := newTestPlanner(t, []Role{
		{Name: "style", Main: true},
		{Name: "model", Strategy: SelectRandom},
	}, Quota{Target: 2, MinPerImage: 1, MaxPerImage: 2}, 1)

	_, err := p.Plan(map[string][]string{
		"style": {"s.png"},
	})
	var pe *PlanningError
	if !errors.As(err, &pe) {
		t.Fatalf("expected PlanningError, got %v", err)
	}
	if pe.Role != "model" {
		t.Errorf("expected missing role model, got %q", pe.Role)
	}
}

func TestPlanRandomFolderBinding(t *testing.T) {
	root := t.TempDir()
	styleDir := filepath.Join(root, "batch1", "style")
	modelDir := filepath.Join(root, "batch1", "model", "setA")
	for _, d := range []string{styleDir, modelDir} {
		if err := os.MkdirAll(d, 0o755); err != nil {
			t.Fatal(err)
		}
	}
	stylePath := filepath.Join(styleDir, "s.png")
	modelPath := filepath.Join(modelDir, "m.png")
	for _, f := range []string{stylePath, modelPath} {
		if err := os.WriteFile(f, []byte("x"), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	p := newTestPlanner(t, []Role{
		{Name: "style", Main: true},
		{Name: "model", Path: "model", Strategy: SelectRandomFolder},
	}, Quota{Target: 2, MinPerImage: 1, MaxPerImage: 2}, 3)

	entries, err := p.Plan(map[string][]string{"style": {stylePath}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	for _, e := range entries {
		if e.Bound["model"] != modelPath {
			t.Errorf("expected %s bound, got %s", modelPath, e.Bound["model"])
		}
	}
}

func TestPlanRandomFolderMissingDropsEntries(t *testing.T) {
	root := t.TempDir()
	styleDir := filepath.Join(root, "batch1", "style")
	if err := os.MkdirAll(styleDir, 0o755); err != nil {
		t.Fatal(err)
	}
	stylePath := filepath.Join(styleDir, "s.png")
	if err := os.WriteFile(stylePath, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	p := newTestPlanner(t, []Role{
		{Name: "style", Main: true},
		{Name: "model", Path: "model", Strategy: SelectRandomFolder},
	}, Quota{Target: 2, MinPerImage: 1, MaxPerImage: 2}, 3)

	// The sibling model folder does not exist: entries are dropped rather
	// than built with a missing input.
	entries, err := p.Plan(map[string][]string{"style": {stylePath}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("expected all entries dropped, got %d", len(entries))
	}
}

func TestPlanGroupsByFolder(t *testing.T) {
	p := newTestPlanner(t, []Role{
		{Name: "style", Main: true},
	}, Quota{Target: 3, MinPerImage: 1, MaxPerImage: 3}, 9)

	entries, err := p.Plan(map[string][]string{
		"style": {
			filepath.Join("g1", "a.png"),
			filepath.Join("g1", "b.png"),
			filepath.Join("g2", "c.png"),
		},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// Each folder is its own group with its own target of 3.
	perGroup := map[string]int{}
	for _, e := range entries {
		perGroup[filepath.Dir(e.MainInput)] += 1
	}
	if perGroup["g1"] != 3 {
		t.Errorf("group g1 planned %d jobs, want 3", perGroup["g1"])
	}
	if perGroup["g2"] != 3 {
		t.Errorf("group g2 planned %d jobs, want 3", perGroup["g2"])
	}
}
