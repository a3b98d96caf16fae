// Copyright IBM Corp. 2023, 2025
// SPDX-License-Identifier: MPL-2.0

package output

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/hashicorp/go-carve/target"
)

// securityCheck checks if path, relative to dst, contains path traversal
// or a symlink. Both are rejected.
func securityCheck(t target.Target, dst string, path string) error {
	// check if dstBase is empty, then targetDirectory should not be an absolute path
	if len(dst) == 0 {
		if filepath.IsAbs(path) {
			return fmt.Errorf("absolute path detected")
		}
	}

	// clean the target
	parts := strings.Split(path, "/")
	path = filepath.Join(parts...)

	// get relative path from base to new directory target
	rel, err := filepath.Rel(dst, filepath.Join(dst, path))
	if err != nil {
		return fmt.Errorf("failed to get relative path: %w", err)
	}
	// check if the relative path is local
	if !filepath.IsLocal(rel) {
		return fmt.Errorf("path traversal detected")
	}

	// check each dir in path
	elements := strings.Split(path, string(os.PathSeparator))
	for i := 0; i < len(elements); i++ {
		checkDir := filepath.Join(dst, filepath.Join(elements[0:i+1]...))
		if checkDir == "." || len(checkDir) == 0 {
			continue
		}

		fi, err := t.Lstat(checkDir)
		if err != nil {
			if !errors.Is(err, fs.ErrNotExist) {
				return fmt.Errorf("invalid path: %w", err)
			}
			// nothing below a missing element can exist
			return nil
		}
		if fi.Mode()&fs.ModeSymlink != 0 {
			return fmt.Errorf("symlink in path")
		}
	}

	return nil
}
