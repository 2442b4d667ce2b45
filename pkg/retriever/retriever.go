// Package retriever scans the input tree for source images and classifies
// them into input roles by the folder they live under.
package retriever

import (
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"

	"github.com/yzhou-ml/comfyfleet/pkg/logging"
	"github.com/yzhou-ml/comfyfleet/pkg/planner"
)

// DefaultExtensions are the image types accepted as job inputs.
func DefaultExtensions() map[string]bool {
	return map[string]bool{".png": true, ".jpg": true, ".jpeg": true, ".webp": true}
}

// Config selects which files the retriever picks up.
type Config struct {
	TargetFolders  []string
	FolderKeywords []string // when set, a file's path must contain one
	Extensions     map[string]bool
}

// Retriever walks the configured folders.
type Retriever struct {
	cfg Config
	log *logging.Logger
}

// New creates a retriever. Empty extensions fall back to the defaults.
func New(cfg Config, log *logging.Logger) *Retriever {
	if len(cfg.Extensions) == 0 {
		cfg.Extensions = DefaultExtensions()
	}
	return &Retriever{cfg: cfg, log: log}
}

// Scan returns every eligible image under the target folders.
func (r *Retriever) Scan() ([]string, error) {
	var files []string
	for _, folder := range r.cfg.TargetFolders {
		err := filepath.WalkDir(folder, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				return nil
			}
			if !r.cfg.Extensions[strings.ToLower(filepath.Ext(path))] {
				return nil
			}
			if !r.matchesKeywords(path) {
				return nil
			}
			files = append(files, path)
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("scan %s: %w", folder, err)
		}
	}
	r.log.Info("folder scan complete", map[string]any{"files": len(files)})
	return files, nil
}

func (r *Retriever) matchesKeywords(path string) bool {
	if len(r.cfg.FolderKeywords) == 0 {
		return true
	}
	for _, kw := range r.cfg.FolderKeywords {
		if strings.Contains(path, kw) {
			return true
		}
	}
	return false
}

// Classify buckets scanned files into roles by matching a role's folder
// name against the file's path segments. Files under no known role folder
// are ignored.
func Classify(files []string, roles []planner.Role) map[string][]string {
	byRole := make(map[string][]string)
	for _, f := range files {
		segments := strings.Split(filepath.ToSlash(filepath.Dir(f)), "/")
		for _, role := range roles {
			if role.Path == "" {
				continue
			}
			if containsSegment(segments, role.Path) {
				byRole[role.Name] = append(byRole[role.Name], f)
				break
			}
		}
	}
	return byRole
}

func containsSegment(segments []string, name string) bool {
	for _, s := range segments {
		if s == name {
			return true
		}
	}
	return false
}
