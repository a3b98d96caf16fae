// Copyright IBM Corp. 2023, 2025
// SPDX-License-Identifier: MPL-2.0

// Package carve extracts the assets embedded in game data files.
//
// A [Runner] walks a directory tree, selects the inputs a format profile
// applies to and processes them concurrently. Depending on the profile an
// input is carved in memory, carved with bounded memory, or read as a
// structured GENE archive. Every asset is decoded, classified by its leading
// bytes and written below the destination without replacing existing files.
//
// Configuration is done using the [Config], which is set up with the option
// pattern. Progress is reported on an optional [Event] channel and the
// counters of a run are handed to a [TelemetryHook] as [TelemetryData].
//
// The building blocks live in sub-packages: signature search in signature,
// segment boundaries in carver, decompression in codec, GENE archives in
// archive, type detection in classify and output naming in output.
package carve
