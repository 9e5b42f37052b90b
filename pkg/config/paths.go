package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

const (
	// DefaultSourceDir is the folder the playbook repository is fetched
	// into when params carry no src.
	DefaultSourceDir = "src"

	// DefaultPlaybook is the playbook run when params name none.
	DefaultPlaybook = "playbook.yml"
)

// ErrPlaybookNotFound is returned when the resolved playbook is not a file.
var ErrPlaybookNotFound = errors.New("cannot find playbook file")

// Paths holds the filesystem locations of one invocation.
type Paths struct {
	// WorkDir is the directory handed to the resource by the pipeline.
	WorkDir string

	// BuildPath is the playbook tree: WorkDir/src-param, or WorkDir/src.
	BuildPath string

	// Playbook is the playbook file inside BuildPath.
	Playbook string

	// Fetch is true when no src was given and the playbook repository
	// must be fetched into BuildPath first.
	Fetch bool
}

// ResolvePaths derives the playbook locations from the merged configuration.
func ResolvePaths(workDir string, cfg *Canonical) Paths {
	p := Paths{WorkDir: workDir}
	if src, ok := cfg.String("src"); ok {
		p.BuildPath = JoinPath(workDir, src)
	} else {
		p.BuildPath = JoinPath(workDir, DefaultSourceDir)
		p.Fetch = true
	}
	p.Playbook = JoinPath(p.BuildPath, cfg.StringOr("playbook", DefaultPlaybook))
	return p
}

// CheckPlaybook verifies that the playbook exists and is a regular file.
func (p Paths) CheckPlaybook() error {
	info, err := os.Stat(p.Playbook)
	if err != nil || !info.Mode().IsRegular() {
		return fmt.Errorf("%w '%s'", ErrPlaybookNotFound, p.Playbook)
	}
	return nil
}

// JoinPath joins elem onto base unless elem is already absolute.
func JoinPath(base, elem string) string {
	if filepath.IsAbs(elem) {
		return filepath.Clean(elem)
	}
	return filepath.Join(base, elem)
}
