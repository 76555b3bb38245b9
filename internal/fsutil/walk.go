// Package fsutil walks directory trees the way the fitting scripts do,
// following symbolic links.
package fsutil

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// WalkFiles calls fn for every regular file under root, including files and
// directories reached through symbolic links. Paths passed to fn are under
// root as given, not under link targets. Each resolved directory is read
// once, so link cycles terminate. Dangling links are skipped.
func WalkFiles(root string, fn func(path string, name string) error) error {
	resolved, err := filepath.EvalSymlinks(root)
	if err != nil {
		return err
	}
	info, err := os.Stat(resolved)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("%s is not a directory", root)
	}
	return walk(root, resolved, make(map[string]bool), fn)
}

func walk(dir, resolved string, visited map[string]bool, fn func(path, name string) error) error {
	if visited[resolved] {
		return nil
	}
	visited[resolved] = true

	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	for _, e := range entries {
		path := filepath.Join(dir, e.Name())

		mode := e.Type()
		if mode&fs.ModeSymlink != 0 {
			target, err := filepath.EvalSymlinks(path)
			if err != nil {
				continue
			}
			info, err := os.Stat(target)
			if err != nil {
				continue
			}
			if info.IsDir() {
				if err := walk(path, target, visited, fn); err != nil {
					return err
				}
				continue
			}
			mode = info.Mode().Type()
		}

		switch {
		case mode.IsDir():
			target, err := filepath.EvalSymlinks(path)
			if err != nil {
				return err
			}
			if err := walk(path, target, visited, fn); err != nil {
				return err
			}
		case mode.IsRegular():
			if err := fn(path, e.Name()); err != nil {
				return err
			}
		}
	}
	return nil
}
