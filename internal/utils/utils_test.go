package utils

import (
	"os"
	"path/filepath"
	"testing"
)

func Test_reCreate(t *testing.T) {
	tempRoot := t.TempDir()

	// create files
	dir := filepath.Join(tempRoot, "files")
	if err := os.Mkdir(dir, 0755); err != nil {
		t.Fatalf("failed to make a temp subdir: %v", err)
	}
	for _, file := range []string{"a", "b", "c"} {
		path := filepath.Join(dir, file)
		if err := os.WriteFile(path, []byte{}, 0755); err != nil {
			t.Fatalf("failed to write a file: %v", err)
		}
	}

	if err := ReCreate(dir); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// validate by making sure new dir is empty
	if empty, err := DirIsEmpty(dir); err != nil {
		t.Fatalf("unexpected error: %v", err)
	} else if !empty {
		t.Errorf("expected %q to be deemed empty", tempRoot)
	}
}

func TestRemoveAll_readOnly(t *testing.T) {
	tempRoot := t.TempDir()

	// mimic git object store layout
	objDir := filepath.Join(tempRoot, "repo", ".git", "objects", "ab")
	if err := os.MkdirAll(objDir, 0755); err != nil {
		t.Fatalf("failed to make a temp subdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(objDir, "cdef"), []byte("blob"), 0444); err != nil {
		t.Fatalf("failed to write a file: %v", err)
	}
	if err := os.Chmod(objDir, 0555); err != nil {
		t.Fatalf("failed to chmod dir: %v", err)
	}
	if err := os.Symlink("/does/not/exist", filepath.Join(tempRoot, "repo", "dangling")); err != nil {
		t.Fatalf("failed to create symlink: %v", err)
	}

	if err := RemoveAll(filepath.Join(tempRoot, "repo")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := os.Lstat(filepath.Join(tempRoot, "repo")); !os.IsNotExist(err) {
		t.Errorf("expected repo dir to be removed, stat err: %v", err)
	}

	// missing path is not an error
	if err := RemoveAll(filepath.Join(tempRoot, "missing")); err != nil {
		t.Errorf("unexpected error for missing path: %v", err)
	}
}
