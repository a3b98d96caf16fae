// Copyright IBM Corp. 2023, 2025
// SPDX-License-Identifier: MPL-2.0

package carve

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/hashicorp/go-carve/formats"
	"github.com/hashicorp/go-carve/output"
	"github.com/woozymasta/pathrules"
	"golang.org/x/sync/errgroup"
)

// now is a function point that returns time.Now to the caller.
var now = time.Now

// State is the state of a [Runner] or of one of its inputs.
type State int32

const (
	Idle State = iota
	Scanning
	Running
	Parsing
	Emitting
	Completed
	Failed
	Cancelled
)

var stateNames = [...]string{"idle", "scanning", "running", "parsing", "emitting", "completed", "failed", "cancelled"}

func (s State) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Failure records an input that could not be processed.
type Failure struct {
	Path string
	Err  error
}

// Result summarizes a run.
type Result struct {
	State State

	// Destination is the output root.
	Destination string

	// Files is the number of processed inputs.
	Files int

	// Assets is the number of written assets.
	Assets int64

	// Failures lists the inputs that failed, in input order.
	Failures []Failure

	Telemetry TelemetryData
}

// Runner extracts the assets of one profile from a directory tree. A Runner
// performs a single run.
type Runner struct {
	profile *formats.Profile
	cfg     *Config
	matcher *pathrules.Matcher
	state   atomic.Int32
	assets  atomic.Int64
}

// NewRunner returns a runner for profile. A nil cfg uses the defaults.
func NewRunner(profile *formats.Profile, cfg *Config) (*Runner, error) {
	if cfg == nil {
		cfg = NewConfig()
	}
	if err := profile.Check(); err != nil {
		return nil, err
	}
	r := &Runner{profile: profile, cfg: cfg}
	if len(cfg.rules) > 0 {
		m, err := pathrules.NewMatcher(cfg.rules, matcherOptions(cfg.rules))
		if err != nil {
			return nil, fmt.Errorf("invalid path rules: %w", err)
		}
		r.matcher = m
	}
	return r, nil
}

// matcherOptions excludes everything not included if any include rule exists.
func matcherOptions(rules []pathrules.Rule) pathrules.MatcherOptions {
	opts := pathrules.MatcherOptions{CaseInsensitive: true, DefaultAction: pathrules.ActionInclude}
	for _, rule := range rules {
		if rule.Action == pathrules.ActionInclude {
			opts.DefaultAction = pathrules.ActionExclude
			break
		}
	}
	return opts
}

// Run is a convenience wrapper that creates a [Runner] and runs it.
func Run(ctx context.Context, root string, profile *formats.Profile, cfg *Config) (*Result, error) {
	r, err := NewRunner(profile, cfg)
	if err != nil {
		return nil, err
	}
	return r.Run(ctx, root)
}

// State returns the current state of the run.
func (r *Runner) State() State {
	return State(r.state.Load())
}

func (r *Runner) setState(s State) {
	r.state.Store(int32(s))
}

// input is one file found below the root.
type input struct {
	index int
	path  string
	rel   string
}

// Destination returns the output root used for root.
func (r *Runner) Destination(root string) string {
	if r.cfg.destination != "" {
		return r.cfg.destination
	}
	root = filepath.Clean(root)
	return filepath.Join(filepath.Dir(root), defaultDestDirName)
}

// Run processes every input below root. Failures of single inputs are
// recorded in the result and do not end the run. If ctx is cancelled the run
// stops at the next file or window boundary and returns [ErrCancelled];
// assets written up to then are kept.
func (r *Runner) Run(ctx context.Context, root string) (*Result, error) {
	if !r.state.CompareAndSwap(int32(Idle), int32(Scanning)) {
		return nil, fmt.Errorf("runner is %s, a runner performs one run", r.State())
	}

	td := &TelemetryData{Profile: r.profile.Name}
	defer r.cfg.TelemetryHook()(ctx, td)
	start := now()

	res := &Result{Destination: r.Destination(root)}
	fail := func(s State, err error) (*Result, error) {
		r.setState(s)
		res.State = s
		td.State = s.String()
		td.LastError = err
		r.cfg.logger.Error("run failed", "root", root, "error", err)
		r.emitFinal(Event{Kind: RunFailed, Message: err.Error(), Count: res.Assets})
		td.ExtractionDuration = now().Sub(start)
		res.Telemetry = *td
		return res, err
	}

	r.cfg.logger.Info("scanning inputs", "root", root, "profile", r.profile.Name)
	inputs, skipped, err := r.scan(ctx, root, res.Destination)
	td.SkippedFiles = skipped
	if err != nil {
		if ctx.Err() != nil {
			return fail(Cancelled, fmt.Errorf("%w: %w", ErrCancelled, ctx.Err()))
		}
		return fail(Failed, err)
	}

	// the destination is created once, before any worker starts
	if err := r.cfg.target.CreateDir(res.Destination, r.cfg.dirMode); err != nil {
		return fail(Failed, ioError("create", res.Destination, err))
	}

	r.setState(Running)
	r.cfg.logger.Info("processing inputs", "count", len(inputs), "workers", r.cfg.workers)

	results := make([]fileResult, len(inputs))
	var done atomic.Int64
	g := new(errgroup.Group)
	g.SetLimit(r.cfg.workers)
	for _, in := range inputs {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			t := r.newTask(in, res.Destination)
			results[in.index] = t.run(ctx)
			r.emit(ctx, Event{Kind: Progress, Path: in.rel, Done: int(done.Add(1)), Total: len(inputs)})
			return nil
		})
	}
	_ = g.Wait()

	var manifest output.Manifest
	for i, fr := range results {
		td.add(&fr.td)
		for _, e := range fr.manifest {
			manifest.Add(e)
		}
		if fr.skipped {
			td.SkippedFiles++
			continue
		}
		if fr.err == nil && !fr.started {
			continue
		}
		res.Files++
		td.InputFiles++
		if fr.err != nil && !isCancel(fr.err) {
			td.FailedFiles++
			res.Failures = append(res.Failures, Failure{Path: inputs[i].path, Err: fr.err})
		}
	}
	res.Assets = r.assets.Load()

	if r.cfg.manifest {
		if err := r.writeManifest(res.Destination, &manifest); err != nil {
			r.cfg.logger.Error("cannot write manifest", "error", err)
			td.LastError = err
		}
	}

	if err := ctx.Err(); err != nil {
		return fail(Cancelled, fmt.Errorf("%w: %w", ErrCancelled, err))
	}

	r.setState(Completed)
	res.State = Completed
	td.State = Completed.String()
	r.cfg.logger.Info("run completed", "assets", res.Assets, "failures", len(res.Failures))
	r.emitFinal(Event{Kind: RunCompleted, Count: res.Assets})
	td.ExtractionDuration = now().Sub(start)
	res.Telemetry = *td
	return res, nil
}

// scan enumerates the inputs below root. Directories below the destination
// are never scanned.
func (r *Runner) scan(ctx context.Context, root, dst string) ([]input, int64, error) {
	st, err := os.Stat(root)
	if err != nil {
		return nil, 0, ioError("stat", root, err)
	}
	if !st.IsDir() {
		if !r.profile.Matches(root) {
			return nil, 1, nil
		}
		return []input{{path: root, rel: filepath.Base(root)}}, 0, nil
	}

	absDst, _ := filepath.Abs(dst)
	var inputs []input
	var skipped int64
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() {
			if abs, _ := filepath.Abs(path); abs == absDst {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if r.matcher != nil && !r.matcher.Included(rel, false) {
			r.cfg.logger.Debug("excluded by rules", "path", rel)
			skipped++
			return nil
		}
		if !r.profile.Matches(path) {
			skipped++
			return nil
		}
		inputs = append(inputs, input{index: len(inputs), path: path, rel: rel})
		return nil
	})
	if err != nil {
		return nil, skipped, ioError("walk", root, err)
	}
	return inputs, skipped, nil
}

// emit sends ev unless no channel is configured or ctx is done.
func (r *Runner) emit(ctx context.Context, ev Event) {
	if r.cfg.events == nil {
		return
	}
	select {
	case r.cfg.events <- ev:
	case <-ctx.Done():
	}
}

// emitFinal sends the last event of a run, it is never dropped.
func (r *Runner) emitFinal(ev Event) {
	if r.cfg.events != nil {
		r.cfg.events <- ev
	}
}

func (r *Runner) writeManifest(dst string, m *output.Manifest) error {
	var buf bytes.Buffer
	if _, err := m.WriteTo(&buf); err != nil {
		return err
	}
	p := filepath.Join(dst, defaultManifestName)
	if _, err := r.cfg.target.CreateFile(p, &buf, r.cfg.fileMode, true, -1); err != nil {
		return ioError("write", p, err)
	}
	return nil
}

// inputDir returns the per-input output directory, e.g. sound/voice_afs for
// sound/voice.afs.
func inputDir(dst, rel string) string {
	dir, file := filepath.Split(filepath.FromSlash(rel))
	return filepath.Join(dst, dir, strings.ReplaceAll(file, ".", "_"))
}

func isCancel(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, ErrCancelled)
}
