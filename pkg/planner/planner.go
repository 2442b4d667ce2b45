// Package planner converts a population of main-role source images plus a
// generation target into a fair per-image repeat schedule, and binds every
// other input role to a concrete image per its selection strategy.
package planner

import (
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/yzhou-ml/comfyfleet/pkg/logging"
)

// SelectionStrategy decides how a non-main role picks its image for each
// repeat. Dispatch is a single switch over these variants, never probing
// for configuration attributes.
type SelectionStrategy int

const (
	// SelectSequential picks the image at index repeat mod population.
	SelectSequential SelectionStrategy = iota
	// SelectRandom draws uniformly from the role's images.
	SelectRandom
	// SelectRandomFolder picks a random image from a random subfolder of
	// the role's sibling folder.
	SelectRandomFolder
)

func (s SelectionStrategy) String() string {
	switch s {
	case SelectSequential:
		return "sequential"
	case SelectRandom:
		return "random"
	case SelectRandomFolder:
		return "random_folder"
	default:
		return "unknown"
	}
}

// ParseStrategy maps a config string to a strategy, defaulting to
// sequential.
func ParseStrategy(s string) SelectionStrategy {
	switch s {
	case "random", "random_select":
		return SelectRandom
	case "random_folder":
		return SelectRandomFolder
	default:
		return SelectSequential
	}
}

// Role describes one named input slot of the job payload.
type Role struct {
	Name     string
	Path     string // folder name identifying the role on disk
	Main     bool
	Strategy SelectionStrategy
}

// Quota bounds how many generations a group of main images receives.
type Quota struct {
	Target      int // desired generations per group
	MinPerImage int
	MaxPerImage int
}

// Entry is one planned job: a main input, the images bound to every other
// role, and its position in the main image's repeat schedule.
type Entry struct {
	MainInput   string
	Bound       map[string]string
	RepeatIndex int // 1-based
	RepeatTotal int
}

// PlanningError reports an impossible quota or a missing required role.
type PlanningError struct {
	Role   string
	Reason string
}

func (e *PlanningError) Error() string {
	if e.Role != "" {
		return fmt.Sprintf("planning failed for role %q: %s", e.Role, e.Reason)
	}
	return fmt.Sprintf("planning failed: %s", e.Reason)
}

// Allocate computes per-image repeat counts for n main images. Every image
// gets at least min, at most max, and the counts sum to min(target, n*max).
// Leftover units after even distribution go to a randomly shuffled subset
// of images, with the per-image ceiling re-checked on every assignment.
func Allocate(n int, q Quota, rng *rand.Rand) ([]int, error) {
	if n < 1 {
		return nil, &PlanningError{Reason: "no main images in group"}
	}
	if q.MinPerImage < 0 || q.MaxPerImage < q.MinPerImage {
		return nil, &PlanningError{Reason: fmt.Sprintf("invalid quota bounds min=%d max=%d", q.MinPerImage, q.MaxPerImage)}
	}

	counts := make([]int, n)
	for i := range counts {
		counts[i] = q.MinPerImage
	}

	remaining := q.Target - n*q.MinPerImage
	if remaining <= 0 {
		return counts, nil
	}

	room := q.MaxPerImage - q.MinPerImage
	base := remaining / n
	if base > room {
		base = room
	}
	for i := range counts {
		counts[i] += base
	}

	leftover := remaining - base*n
	if leftover >= n {
		// Every image already sits at the ceiling.
		return counts, nil
	}
	for _, idx := range rng.Perm(n) {
		if leftover == 0 {
			break
		}
		if counts[idx] >= q.MaxPerImage {
			continue
		}
		counts[idx]++
		leftover--
	}
	return counts, nil
}

// Planner builds job plans over role-classified image populations.
type Planner struct {
	roles []Role
	quota Quota
	exts  map[string]bool
	rng   *rand.Rand
	log   *logging.Logger
}

// New creates a planner. The rng is owned by the caller so runs can be
// made reproducible with a fixed seed.
func New(roles []Role, quota Quota, extensions map[string]bool, rng *rand.Rand, log *logging.Logger) (*Planner, error) {
	mains := 0
	for _, r := range roles {
		if r.Main {
			mains++
		}
	}
	if mains != 1 {
		return nil, &PlanningError{Reason: fmt.Sprintf("exactly one main role required, found %d", mains)}
	}
	return &Planner{roles: roles, quota: quota, exts: extensions, rng: rng, log: log}, nil
}

// MainRole returns the role driving the job count.
func (p *Planner) MainRole() Role {
	for _, r := range p.roles {
		if r.Main {
			return r
		}
	}
	return Role{}
}

// Plan turns role-classified image lists into concrete job entries. Main
// images are grouped by their parent folder; each group gets its own
// repeat schedule. Entries whose non-main bindings cannot be resolved are
// dropped with a log record, never built with a missing input.
func (p *Planner) Plan(inputs map[string][]string) ([]Entry, error) {
	for _, role := range p.roles {
		if role.Strategy == SelectRandomFolder {
			// Bound from the filesystem per entry, not from the scan.
			continue
		}
		if len(inputs[role.Name]) == 0 {
			return nil, &PlanningError{Role: role.Name, Reason: "no input images found"}
		}
	}

	main := p.MainRole()
	groups := groupByFolder(inputs[main.Name])

	folders := make([]string, 0, len(groups))
	for folder := range groups {
		folders = append(folders, folder)
	}
	sort.Strings(folders)

	var entries []Entry
	for _, folder := range folders {
		images := groups[folder]
		counts, err := Allocate(len(images), p.quota, p.rng)
		if err != nil {
			return nil, err
		}
		for imgIdx, img := range images {
			total := counts[imgIdx]
			for rep := 1; rep <= total; rep++ {
				bound, ok := p.bindRoles(img, inputs, rep-1)
				if !ok {
					p.log.Warn("dropping planned job, unresolved input", map[string]any{
						"main_input": img, "repeat": rep,
					})
					continue
				}
				entries = append(entries, Entry{
					MainInput:   img,
					Bound:       bound,
					RepeatIndex: rep,
					RepeatTotal: total,
				})
			}
		}
	}
	return entries, nil
}

// bindRoles resolves every non-main role for one repeat of a main image.
// Returns ok=false when any binding cannot be resolved.
func (p *Planner) bindRoles(mainImage string, inputs map[string][]string, repeat int) (map[string]string, bool) {
	main := p.MainRole()
	bound := map[string]string{main.Name: mainImage}

	for _, role := range p.roles {
		if role.Main {
			continue
		}
		var picked string
		switch role.Strategy {
		case SelectRandom:
			images := inputs[role.Name]
			if len(images) == 0 {
				return nil, false
			}
			picked = images[p.rng.Intn(len(images))]
		case SelectRandomFolder:
			picked = p.pickFromSiblingFolder(mainImage, role)
		default:
			images := inputs[role.Name]
			if len(images) == 0 {
				return nil, false
			}
			picked = images[repeat%len(images)]
		}
		if picked == "" {
			return nil, false
		}
		bound[role.Name] = picked
	}
	return bound, true
}

// pickFromSiblingFolder resolves a random-folder role: locate the role's
// folder next to the main image's group folder, descend into a random
// subfolder when one exists, and pick a random eligible image. Any miss
// along the way yields "" and the entry is dropped by the caller.
func (p *Planner) pickFromSiblingFolder(mainImage string, role Role) string {
	base := filepath.Join(filepath.Dir(filepath.Dir(mainImage)), role.Path)
	info, err := os.Stat(base)
	if err != nil || !info.IsDir() {
		return ""
	}

	chosen := base
	if subs := listSubdirs(base); len(subs) > 0 {
		chosen = subs[p.rng.Intn(len(subs))]
	}

	images := p.listImages(chosen)
	if len(images) == 0 {
		return ""
	}
	return images[p.rng.Intn(len(images))]
}

func listSubdirs(dir string) []string {
	dirents, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}
	var subs []string
	for _, d := range dirents {
		if d.IsDir() {
			subs = append(subs, filepath.Join(dir, d.Name()))
		}
	}
	return subs
}

func (p *Planner) listImages(dir string) []string {
	dirents, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}
	var images []string
	for _, d := range dirents {
		if d.IsDir() {
			continue
		}
		if p.exts[strings.ToLower(filepath.Ext(d.Name()))] {
			images = append(images, filepath.Join(dir, d.Name()))
		}
	}
	return images
}

// groupByFolder splits main images into groups keyed by parent folder.
func groupByFolder(images []string) map[string][]string {
	groups := make(map[string][]string)
	for _, img := range images {
		folder := filepath.Dir(img)
		groups[folder] = append(groups[folder], img)
	}
	return groups
}
