// Package walker enumerates directory trees without following symbolic links.
package walker

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// SkipDir returned from a visit callback for a directory skips its contents.
var SkipDir = fs.SkipDir

// VisitFunc is called for every entry below the walk root with its lstat
// metadata. Returning SkipDir for a directory prunes it; any other error
// aborts the walk.
type VisitFunc func(path string, info fs.FileInfo) error

// Walk visits every reachable entry below root exactly once. Entries that
// cannot be stat'ed and subdirectories that cannot be read are skipped. Only
// a failure to read root itself is reported. Symbolic links are visited but
// never descended into.
func Walk(ctx context.Context, root string, visit VisitFunc) error {
	entries, err := os.ReadDir(root)
	if err != nil {
		return fmt.Errorf("read %s: %w", root, err)
	}
	return walkEntries(ctx, root, entries, visit)
}

func walkEntries(ctx context.Context, dir string, entries []os.DirEntry, visit VisitFunc) error {
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return err
		}
		path := filepath.Join(dir, entry.Name())
		info, err := os.Lstat(path)
		if err != nil {
			continue
		}

		err = visit(path, info)
		if !info.IsDir() {
			if err != nil && !errors.Is(err, SkipDir) {
				return err
			}
			continue
		}
		if errors.Is(err, SkipDir) {
			continue
		}
		if err != nil {
			return err
		}

		children, err := os.ReadDir(path)
		if err != nil {
			continue
		}
		if err := walkEntries(ctx, path, children, visit); err != nil {
			return err
		}
	}
	return nil
}
