// Copyright IBM Corp. 2023, 2025
// SPDX-License-Identifier: MPL-2.0

//go:build !linux

package carver

import "os"

func adviseSequential(f *os.File, size int64) {}
