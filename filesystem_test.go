/*
Copyright 2025 The goARRG Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package vkm

import (
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"
	"time"

	"goarrg.com/debug"
)

// memFileSystem is a FileSystem over a map, every file has the zero time.
type memFileSystem map[string][]byte

func (m memFileSystem) Exists(path string) bool {
	_, ok := m[path]
	return ok
}

func (m memFileSystem) ReadFile(path string) ([]byte, error) {
	data, ok := m[path]
	if !ok {
		return nil, debug.ErrorWrapf(fs.ErrNotExist, "Failed to open %q", path)
	}
	return data, nil
}

func (m memFileSystem) Enumerate(root string) ([]string, error) {
	var files []string
	for k := range m {
		if strings.HasPrefix(k, root+"/") || root == "." {
			files = append(files, k)
		}
	}
	slices.Sort(files)
	return files, nil
}

func (m memFileSystem) LastWriteTime(path string) (time.Time, error) {
	if _, ok := m[path]; !ok {
		return time.Time{}, fs.ErrNotExist
	}
	return time.Time{}, nil
}

func writeFile(t *testing.T, root, name string, data []byte) {
	t.Helper()
	p := filepath.Join(root, filepath.FromSlash(name))
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(p, data, 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestDirFileSystem(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "shaders/b.frag", []byte("frag"))
	writeFile(t, root, "shaders/a.vert", []byte("vert"))
	writeFile(t, root, "shaders/sub/c.comp", []byte("comp"))
	writeFile(t, root, "textures/checker.png", []byte("png"))

	d := NewDirFileSystem(root)

	if !d.Exists("shaders/a.vert") || d.Exists("shaders/missing.vert") {
		t.Error("Exists reported the wrong files")
	}

	data, err := d.ReadFile("shaders/a.vert")
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "vert" {
		t.Errorf("ReadFile got %q", data)
	}
	if _, err := d.ReadFile("shaders/missing.vert"); err == nil {
		t.Error("Expected reading a missing file to fail")
	}

	files, err := d.Enumerate("shaders")
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"shaders/a.vert", "shaders/b.frag", "shaders/sub/c.comp"}
	if !slices.Equal(files, want) {
		t.Errorf("Enumerate got %v, want %v", files, want)
	}

	mtime := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	if err := os.Chtimes(filepath.Join(root, "shaders", "a.vert"), mtime, mtime); err != nil {
		t.Fatal(err)
	}
	got, err := d.LastWriteTime("shaders/a.vert")
	if err != nil {
		t.Fatal(err)
	}
	if !got.Equal(mtime) {
		t.Errorf("LastWriteTime got %s, want %s", got, mtime)
	}
	if _, err := d.LastWriteTime("shaders/missing.vert"); err == nil {
		t.Error("Expected stat of a missing file to fail")
	}
}
