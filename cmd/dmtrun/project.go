package main

import (
	"os"
	"path/filepath"

	"golang.org/x/mod/modfile"
)

// findModuleRoot walks up from dir looking for a go.mod, parsed with
// golang.org/x/mod/modfile purely to validate it (dmtrun does not need
// anything out of the module declaration itself, only the directory it
// lives in, which is where a colocated dmt.yaml is expected to live).
func findModuleRoot(dir string) (string, error) {
	for {
		modPath := filepath.Join(dir, "go.mod")
		if data, err := os.ReadFile(modPath); err == nil {
			if _, err := modfile.Parse(modPath, data, nil); err == nil {
				return dir, nil
			}
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", os.ErrNotExist
		}
		dir = parent
	}
}

// defaultConfigPath returns the dmt.yaml path next to cwd's module root,
// or "" if no module root or no such file was found.
func defaultConfigPath() string {
	cwd, err := os.Getwd()
	if err != nil {
		return ""
	}
	root, err := findModuleRoot(cwd)
	if err != nil {
		return ""
	}
	candidate := filepath.Join(root, "dmt.yaml")
	if _, err := os.Stat(candidate); err != nil {
		return ""
	}
	return candidate
}
