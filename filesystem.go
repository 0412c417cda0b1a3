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
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"slices"
	"time"

	"goarrg.com/asset"
	"goarrg.com/debug"
)

// FileSystem is how loaders reach shaders, textures and meshes. Paths are
// slash separated and relative to the file system root.
type FileSystem interface {
	Exists(path string) bool
	ReadFile(path string) ([]byte, error)
	// Enumerate returns every regular file under root, sorted.
	Enumerate(root string) ([]string, error)
	LastWriteTime(path string) (time.Time, error)
}

// DirFileSystem reads through goarrg.com/asset and stats through os, both
// rooted at Root.
type DirFileSystem struct {
	Root string
	fs   *asset.FileSystem
}

var _ FileSystem = (*DirFileSystem)(nil)

func NewDirFileSystem(root string) *DirFileSystem {
	return &DirFileSystem{
		Root: root,
		fs:   asset.DirFS(root),
	}
}

func (d *DirFileSystem) osPath(p string) string {
	return filepath.Join(d.Root, filepath.FromSlash(path.Clean(p)))
}

func (d *DirFileSystem) Exists(p string) bool {
	_, err := os.Stat(d.osPath(p))
	return err == nil
}

func (d *DirFileSystem) ReadFile(p string) ([]byte, error) {
	f, err := d.fs.Open(path.Clean(p))
	if err != nil {
		return nil, debug.ErrorWrapf(err, "Failed to open %q", p)
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, debug.ErrorWrapf(err, "Failed to read %q", p)
	}
	return data, nil
}

func (d *DirFileSystem) Enumerate(root string) ([]string, error) {
	var files []string
	err := fs.WalkDir(os.DirFS(d.Root), path.Clean(root), func(p string, e fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if e.Type().IsRegular() {
			files = append(files, p)
		}
		return nil
	})
	if err != nil {
		return nil, debug.ErrorWrapf(err, "Failed to enumerate %q", root)
	}
	slices.Sort(files)
	return files, nil
}

func (d *DirFileSystem) LastWriteTime(p string) (time.Time, error) {
	info, err := os.Stat(d.osPath(p))
	if err != nil {
		return time.Time{}, debug.ErrorWrapf(err, "Failed to stat %q", p)
	}
	return info.ModTime(), nil
}
