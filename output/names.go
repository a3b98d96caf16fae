// Copyright IBM Corp. 2023, 2025
// SPDX-License-Identifier: MPL-2.0

package output

import (
	"fmt"
	"path"
	"path/filepath"
	"regexp"
	"runtime"
	"strings"
	"unicode/utf8"
)

// DefaultCollisionSuffix separates a name from its collision counter.
const DefaultCollisionSuffix = "_"

// AssetName returns the deterministic name of a carved asset,
// {base}_{seq}.{ext}. A leading dot of ext is ignored and an empty ext
// yields no extension.
func AssetName(base string, seq int, ext string) string {
	ext = strings.TrimPrefix(ext, ".")
	if ext == "" {
		return fmt.Sprintf("%s_%d", base, seq)
	}
	return fmt.Sprintf("%s_%d.%s", base, seq, ext)
}

// CollisionName returns the n-th alternative for name: the suffix and the
// counter are inserted before the extension, e.g. name_1.ext. Attempt 0
// returns name unchanged.
func CollisionName(name, suffix string, n int) string {
	if n == 0 {
		return name
	}
	dir, file := path.Split(name)
	ext := path.Ext(file)
	stem := strings.TrimSuffix(file, ext)
	if stem == "" {
		// dot files keep their name as stem
		stem, ext = file, ""
	}
	return dir + fmt.Sprintf("%s%s%d%s", stem, suffix, n, ext)
}

// BaseName returns the file name of p without its extension.
func BaseName(p string) string {
	b := filepath.Base(p)
	if ext := filepath.Ext(b); ext != b {
		b = strings.TrimSuffix(b, ext)
	}
	return b
}

// nameRestriction is a struct that contains the name of the restriction and the regex to check for it
type nameRestriction struct {
	RestrictionName string
	Regex           *regexp.Regexp
}

// namingRestrictions is a list of restrictions for name elements, depending on the operating system
var namingRestrictions []nameRestriction

// invalidChars matches characters that are replaced in name elements.
var invalidChars *regexp.Regexp

// init prepares the filename restriction regex
func init() {
	namingRestrictions = []nameRestriction{
		{"current directory", regexp.MustCompile(`^\.$`)},
		{"parent directory", regexp.MustCompile(`^\.\.$`)},
		{"maximum length 255", regexp.MustCompile(`^.{256,}$`)},
	}

	if runtime.GOOS != "windows" {
		invalidChars = regexp.MustCompile(`[\x00-\x1f\\]`)
		return
	}

	// https://docs.microsoft.com/en-us/windows/win32/fileio/naming-a-file
	invalidChars = regexp.MustCompile(`[\x00-\x1f<>:"\\|?*]`)

	// known reserved names on windows, "(?i)" is case-insensitive
	namingRestrictions = append(namingRestrictions,
		nameRestriction{"reserved name", regexp.MustCompile(`^(?i)(CON|PRN|AUX|NUL)(\..*)?$`)},
		nameRestriction{"reserved name", regexp.MustCompile(`^(?i)(COM|LPT)[0-9]+(\..*)?$`)},
		nameRestriction{"reserved name", regexp.MustCompile(`^(\s|\.)+$`)})
}

// SanitizeName turns an entry name from a container into a relative,
// slash separated output path. Backslashes are treated as separators,
// characters the platform does not allow are replaced by '_' and empty
// elements are dropped. Names that still violate a restriction, e.g.
// traversal via "..", are rejected.
func SanitizeName(name string) (string, error) {
	if !utf8.ValidString(name) {
		name = strings.ToValidUTF8(name, "_")
	}
	name = strings.ReplaceAll(name, "\\", "/")

	var elems []string
	for _, e := range strings.Split(name, "/") {
		if e == "" {
			continue
		}
		e = invalidChars.ReplaceAllString(e, "_")
		for _, r := range namingRestrictions {
			if r.Regex.MatchString(e) {
				return "", fmt.Errorf("invalid name %q: %s", name, r.RestrictionName)
			}
		}
		elems = append(elems, e)
	}
	if len(elems) == 0 {
		return "", fmt.Errorf("invalid name %q: empty name", name)
	}
	return strings.Join(elems, "/"), nil
}
