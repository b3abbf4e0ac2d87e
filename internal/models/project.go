package models

import "path/filepath"

// DefaultBuildFile is the build script patched with the TestFairy declaration,
// relative to the project root.
const DefaultBuildFile = "app/build.gradle"

// Project identifies the Android project a command operates on.
type Project struct {
	ID        string // cleaned absolute root path
	Root      string
	BuildFile string // relative to Root; empty means DefaultBuildFile
}

// NewProject resolves root to an absolute path and returns a Project for it.
func NewProject(root string) (*Project, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	abs = filepath.Clean(abs)
	return &Project{ID: abs, Root: abs}, nil
}

// BuildFilePath returns the absolute path of the project's build script.
func (p *Project) BuildFilePath() string {
	rel := p.BuildFile
	if rel == "" {
		rel = DefaultBuildFile
	}
	return filepath.Join(p.Root, filepath.FromSlash(rel))
}

// Name returns the last path element of the project root.
func (p *Project) Name() string {
	return filepath.Base(p.Root)
}
