package main

import (
	"os"
	"path/filepath"
	"testing"
)

func TestFindModuleRootFindsAncestorGoMod(t *testing.T) {
	root := t.TempDir()
	if err := os.WriteFile(filepath.Join(root, "go.mod"), []byte("module example.com/foo\n\ngo 1.22\n"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	nested := filepath.Join(root, "a", "b", "c")
	if err := os.MkdirAll(nested, 0o755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}

	got, err := findModuleRoot(nested)
	if err != nil {
		t.Fatalf("findModuleRoot: %v", err)
	}
	if got != root {
		t.Fatalf("findModuleRoot = %q, want %q", got, root)
	}
}

func TestFindModuleRootNoGoModReturnsError(t *testing.T) {
	dir := t.TempDir()
	if _, err := findModuleRoot(dir); err == nil {
		t.Fatal("expected an error when no go.mod exists up the tree")
	}
}

func TestFindModuleRootIgnoresMalformedGoMod(t *testing.T) {
	root := t.TempDir()
	if err := os.WriteFile(filepath.Join(root, "go.mod"), []byte("not a valid go.mod"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if _, err := findModuleRoot(root); err == nil {
		t.Fatal("expected a malformed go.mod to be skipped, not matched")
	}
}

func TestDefaultConfigPathFindsDmtYAML(t *testing.T) {
	root := t.TempDir()
	if err := os.WriteFile(filepath.Join(root, "go.mod"), []byte("module example.com/foo\n\ngo 1.22\n"), 0o644); err != nil {
		t.Fatalf("WriteFile go.mod: %v", err)
	}
	if err := os.WriteFile(filepath.Join(root, "dmt.yaml"), []byte("dmt: true\n"), 0o644); err != nil {
		t.Fatalf("WriteFile dmt.yaml: %v", err)
	}

	oldwd, err := os.Getwd()
	if err != nil {
		t.Fatalf("Getwd: %v", err)
	}
	defer os.Chdir(oldwd)

	nested := filepath.Join(root, "cmd", "app")
	if err := os.MkdirAll(nested, 0o755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	if err := os.Chdir(nested); err != nil {
		t.Fatalf("Chdir: %v", err)
	}

	got := defaultConfigPath()
	want := filepath.Join(root, "dmt.yaml")
	if got != want {
		t.Fatalf("defaultConfigPath() = %q, want %q", got, want)
	}
}

func TestDefaultConfigPathMissingFileReturnsEmpty(t *testing.T) {
	root := t.TempDir()
	if err := os.WriteFile(filepath.Join(root, "go.mod"), []byte("module example.com/foo\n\ngo 1.22\n"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	oldwd, err := os.Getwd()
	if err != nil {
		t.Fatalf("Getwd: %v", err)
	}
	defer os.Chdir(oldwd)
	if err := os.Chdir(root); err != nil {
		t.Fatalf("Chdir: %v", err)
	}

	if got := defaultConfigPath(); got != "" {
		t.Fatalf("defaultConfigPath() = %q, want empty string", got)
	}
}
