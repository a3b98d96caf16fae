// Copyright IBM Corp. 2023, 2025
// SPDX-License-Identifier: MPL-2.0

package carve

import (
	"context"
	"io"
	"io/fs"
	"log/slog"
	"runtime"

	"github.com/hashicorp/go-carve/archive"
	"github.com/hashicorp/go-carve/carver"
	"github.com/hashicorp/go-carve/output"
	"github.com/hashicorp/go-carve/target"
	"github.com/woozymasta/pathrules"
)

// ConfigOption is a function pointer to implement the option pattern
type ConfigOption func(*Config)

// Config provides a configuration struct and options to adjust the configuration.
//
// The configuration struct holds all configuration options for a run. The
// configuration options can be adjusted using the option pattern style.
//
// The default configuration bounds memory and output sizes and never
// overwrites existing files.
type Config struct {
	// classify sorts assets into class sub-directories and names assets of
	// unknown type by their leading bytes
	classify bool

	// collisionSuffix separates a name from its collision counter
	collisionSuffix string

	// companionName is the base name of companion containers
	companionName string

	// deduplicate drops assets whose content was already written for the same input
	deduplicate bool

	// destination is the output root. Empty means Extracted/ beside the input root.
	destination string

	// dirMode is the file mode for created directories (respecting umask)
	dirMode fs.FileMode

	// events receives run events, nil disables them
	events chan<- Event

	// fileMode is the file mode for written assets (respecting umask)
	fileMode fs.FileMode

	// logger stream for the run
	logger logger

	// manifest writes manifest.json into the destination
	manifest bool

	// maxAssets is the maximum number of assets per input file.
	// Set value to -1 to disable the check.
	maxAssets int64

	// maxAssetSize is the maximum size of one written asset.
	// Set value to -1 to disable the check.
	maxAssetSize int64

	// maxCollisions bounds the names tried per asset
	maxCollisions int

	// maxDepth limits nested archives
	maxDepth int

	// maxInputSize is the largest input loaded into memory. Larger inputs
	// are carved with bounded memory if the profile allows it.
	// Set value to -1 to disable the check.
	maxInputSize int64

	// rules include or exclude input paths relative to the root
	rules []pathrules.Rule

	// target persists the assets
	target target.Target

	// telemetryHook is a function to consume telemetry data after a finished run
	telemetryHook TelemetryHook

	// windowSize is the read window of bounded memory scans
	windowSize int

	// workers is the number of inputs processed in parallel
	workers int
}

const (
	defaultClassify      = true          // sort assets by class
	defaultDeduplicate   = false         // keep duplicate assets
	defaultDirMode       = 0750          // default directory permissions rwxr-x---
	defaultFileMode      = 0640          // default file permissions rw-r-----
	defaultManifest      = false         // no manifest
	defaultMaxAssets     = 100000        // 100k assets per input
	defaultMaxAssetSize  = 1 << (10 * 3) // 1 Gb
	defaultMaxInputSize  = 1 << (10 * 3) // 1 Gb
	defaultDestination   = ""            // Extracted/ beside the root
	defaultDestDirName   = "Extracted"
	defaultManifestName  = "manifest.json"
	defaultMaxCollisions = output.DefaultMaxAttempts
)

var (
	// slog to discard
	defaultLogger = slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{}))
	// no operation telemetry hook
	defaultTelemetryHook = func(ctx context.Context, d *TelemetryData) {
		// noop
	}
)

// NewConfig is a generator option that takes opts as adjustments of the
// default configuration in an option pattern style.
func NewConfig(opts ...ConfigOption) *Config {

	// setup default values
	config := &Config{
		classify:        defaultClassify,
		collisionSuffix: output.DefaultCollisionSuffix,
		companionName:   archive.DefaultCompanionName,
		deduplicate:     defaultDeduplicate,
		destination:     defaultDestination,
		dirMode:         defaultDirMode,
		fileMode:        defaultFileMode,
		logger:          defaultLogger,
		manifest:        defaultManifest,
		maxAssets:       defaultMaxAssets,
		maxAssetSize:    defaultMaxAssetSize,
		maxCollisions:   defaultMaxCollisions,
		maxDepth:        archive.DefaultMaxDepth,
		maxInputSize:    defaultMaxInputSize,
		target:          target.NewOS(),
		telemetryHook:   defaultTelemetryHook,
		windowSize:      carver.DefaultWindowSize,
		workers:         runtime.NumCPU(),
	}

	// Loop through each option
	for _, opt := range opts {
		opt(config)
	}

	return config
}

// Classify returns true if assets are sorted into class sub-directories.
func (c *Config) Classify() bool {
	return c.classify
}

// CollisionSuffix returns the separator between a name and its collision counter.
func (c *Config) CollisionSuffix() string {
	return c.collisionSuffix
}

// CompanionName returns the base name of companion containers.
func (c *Config) CompanionName() string {
	return c.companionName
}

// Deduplicate returns true if duplicate assets of one input are dropped.
func (c *Config) Deduplicate() bool {
	return c.deduplicate
}

// Destination returns the configured output root, empty for the default.
func (c *Config) Destination() string {
	return c.destination
}

// DirMode returns the file mode for created directories.
func (c *Config) DirMode() fs.FileMode {
	return c.dirMode
}

// FileMode returns the file mode for written assets.
func (c *Config) FileMode() fs.FileMode {
	return c.fileMode
}

// Logger returns the logger.
func (c *Config) Logger() logger {
	return c.logger
}

// Manifest returns true if a manifest is written.
func (c *Config) Manifest() bool {
	return c.manifest
}

// MaxAssets returns the maximum number of assets per input.
func (c *Config) MaxAssets() int64 {
	return c.maxAssets
}

// MaxAssetSize returns the maximum size of a written asset.
func (c *Config) MaxAssetSize() int64 {
	return c.maxAssetSize
}

// MaxCollisions returns the number of names tried per asset.
func (c *Config) MaxCollisions() int {
	return c.maxCollisions
}

// MaxDepth returns the nesting limit of structured archives.
func (c *Config) MaxDepth() int {
	return c.maxDepth
}

// MaxInputSize returns the largest input that is loaded into memory.
func (c *Config) MaxInputSize() int64 {
	return c.maxInputSize
}

// Rules returns the include and exclude rules for input paths.
func (c *Config) Rules() []pathrules.Rule {
	return c.rules
}

// Target returns the output target.
func (c *Config) Target() target.Target {
	return c.target
}

// TelemetryHook returns the telemetry hook.
func (c *Config) TelemetryHook() TelemetryHook {
	if c.telemetryHook == nil {
		return defaultTelemetryHook
	}
	return c.telemetryHook
}

// WindowSize returns the read window of bounded memory scans.
func (c *Config) WindowSize() int {
	return c.windowSize
}

// Workers returns the number of inputs processed in parallel.
func (c *Config) Workers() int {
	return c.workers
}

// WithClassify options pattern function to enable/disable the classification of assets.
func WithClassify(classify bool) ConfigOption {
	return func(c *Config) {
		c.classify = classify
	}
}

// WithCollisionSuffix options pattern function to set the separator of collision counters,
// e.g. "_dup" for name_dup1.ext.
func WithCollisionSuffix(suffix string) ConfigOption {
	return func(c *Config) {
		c.collisionSuffix = suffix
	}
}

// WithCompanionName options pattern function to set the base name of companion containers.
func WithCompanionName(name string) ConfigOption {
	return func(c *Config) {
		c.companionName = name
	}
}

// WithDeduplicate options pattern function to drop assets with identical content
// within one input.
func WithDeduplicate(dedup bool) ConfigOption {
	return func(c *Config) {
		c.deduplicate = dedup
	}
}

// WithDestination options pattern function to set the output root.
func WithDestination(dst string) ConfigOption {
	return func(c *Config) {
		c.destination = dst
	}
}

// WithDirMode options pattern function to set the mode of created directories.
func WithDirMode(mode fs.FileMode) ConfigOption {
	return func(c *Config) {
		c.dirMode = mode
	}
}

// WithEvents options pattern function to receive run events on ch. Sends
// block, the consumer must keep reading until the run returned.
func WithEvents(ch chan<- Event) ConfigOption {
	return func(c *Config) {
		c.events = ch
	}
}

// WithFileMode options pattern function to set the mode of written assets.
func WithFileMode(mode fs.FileMode) ConfigOption {
	return func(c *Config) {
		c.fileMode = mode
	}
}

// WithLogger options pattern function to set a custom logger.
func WithLogger(logger logger) ConfigOption {
	return func(c *Config) {
		c.logger = logger
	}
}

// WithManifest options pattern function to write manifest.json into the destination.
func WithManifest(enable bool) ConfigOption {
	return func(c *Config) {
		c.manifest = enable
	}
}

// WithMaxAssets options pattern function to set the maximum number of assets per input.
// (-1 to disable check)
func WithMaxAssets(n int64) ConfigOption {
	return func(c *Config) {
		c.maxAssets = n
	}
}

// WithMaxAssetSize options pattern function to set the maximum size of a written asset.
// (-1 to disable check)
func WithMaxAssetSize(size int64) ConfigOption {
	return func(c *Config) {
		c.maxAssetSize = size
	}
}

// WithMaxCollisions options pattern function to bound the names tried per asset.
func WithMaxCollisions(n int) ConfigOption {
	return func(c *Config) {
		c.maxCollisions = n
	}
}

// WithMaxDepth options pattern function to limit the nesting of structured archives.
func WithMaxDepth(depth int) ConfigOption {
	return func(c *Config) {
		c.maxDepth = depth
	}
}

// WithMaxInputSize options pattern function to set the largest input loaded into memory.
// (-1 to disable check)
func WithMaxInputSize(size int64) ConfigOption {
	return func(c *Config) {
		c.maxInputSize = size
	}
}

// WithRules options pattern function to include or exclude input paths. Rules use
// gitignore style patterns relative to the input root; the last matching rule wins.
func WithRules(rules ...pathrules.Rule) ConfigOption {
	return func(c *Config) {
		c.rules = append(c.rules, rules...)
	}
}

// WithTarget options pattern function to set the output target.
func WithTarget(t target.Target) ConfigOption {
	return func(c *Config) {
		c.target = t
	}
}

// WithTelemetryHook options pattern function to set a [TelemetryHook], which is called after a run.
func WithTelemetryHook(hook TelemetryHook) ConfigOption {
	return func(c *Config) {
		c.telemetryHook = hook
	}
}

// WithWindowSize options pattern function to set the read window of bounded memory scans.
func WithWindowSize(size int) ConfigOption {
	return func(c *Config) {
		c.windowSize = size
	}
}

// WithWorkers options pattern function to set the number of inputs processed in parallel.
// Values below 1 select the number of CPUs.
func WithWorkers(n int) ConfigOption {
	return func(c *Config) {
		if n < 1 {
			n = runtime.NumCPU()
		}
		c.workers = n
	}
}
