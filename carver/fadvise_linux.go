// Copyright IBM Corp. 2023, 2025
// SPDX-License-Identifier: MPL-2.0

//go:build linux

package carver

import (
	"os"

	"golang.org/x/sys/unix"
)

// adviseSequential hints a sequential access pattern to the page cache.
func adviseSequential(f *os.File, size int64) {
	_ = unix.Fadvise(int(f.Fd()), 0, size, unix.FADV_SEQUENTIAL)
}
