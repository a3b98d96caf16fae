// Copyright IBM Corp. 2023, 2025
// SPDX-License-Identifier: MPL-2.0

package carver

import (
	"fmt"
	"os"
)

// OpenSequential opens path for a forward streaming scan and returns the file
// with its size. Where supported the kernel is advised that the file is read
// sequentially.
func OpenSequential(path string) (*os.File, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, err
	}
	st, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, 0, fmt.Errorf("stat %s: %w", path, err)
	}
	if !st.Mode().IsRegular() {
		f.Close()
		return nil, 0, fmt.Errorf("%s is not a regular file", path)
	}
	adviseSequential(f, st.Size())
	return f, st.Size(), nil
}
