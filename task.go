// Copyright IBM Corp. 2023, 2025
// SPDX-License-Identifier: MPL-2.0

package carve

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"

	"github.com/hashicorp/go-carve/archive"
	"github.com/hashicorp/go-carve/carver"
	"github.com/hashicorp/go-carve/classify"
	"github.com/hashicorp/go-carve/codec"
	"github.com/hashicorp/go-carve/formats"
	"github.com/hashicorp/go-carve/output"
)

// identifyWindow is the number of leading input bytes checked against the
// identification patterns of a profile.
const identifyWindow = 64 << 10

// fileResult is owned by the worker of one input until the run collects it.
type fileResult struct {
	started  bool
	skipped  bool
	err      error
	td       TelemetryData
	manifest []output.ManifestEntry
}

// task processes one input. It writes only below its own directory.
type task struct {
	r      *Runner
	in     input
	dst    string
	w      *output.Writer
	base   string
	state  State
	assets int64
	res    fileResult
}

func (r *Runner) newTask(in input, dst string) *task {
	cfg := r.cfg
	w := output.NewWriter(cfg.target, inputDir(dst, in.rel),
		output.WithCollisionSuffix(cfg.collisionSuffix),
		output.WithMaxAttempts(cfg.maxCollisions),
		output.WithModes(cfg.fileMode, cfg.dirMode),
		output.WithMaxSize(cfg.maxAssetSize),
		output.WithDeduplication(cfg.deduplicate),
	)
	return &task{r: r, in: in, dst: dst, w: w, base: output.BaseName(in.path), state: Idle}
}

func (t *task) setState(s State) {
	t.r.cfg.logger.Debug("input state", "path", t.in.rel, "from", t.state, "to", s)
	t.state = s
}

func (t *task) run(ctx context.Context) fileResult {
	if err := ctx.Err(); err != nil {
		t.res.err = err
		return t.res
	}

	ok, err := t.identify()
	if err != nil {
		t.finish(ctx, err)
		return t.res
	}
	if !ok {
		t.r.cfg.logger.Debug("input not identified", "path", t.in.rel, "profile", t.r.profile.Name)
		t.res.skipped = true
		return t.res
	}

	t.setState(Parsing)
	switch t.r.profile.Mode {
	case formats.ModeStructured:
		err = t.structured(ctx)
	case formats.ModeStream:
		err = t.stream(ctx)
	default:
		err = t.carve(ctx)
	}
	t.finish(ctx, err)
	return t.res
}

// finish records the outcome of the input.
func (t *task) finish(ctx context.Context, err error) {
	t.res.started = true
	t.res.err = err
	switch {
	case err == nil:
		t.setState(Completed)
	case isCancel(err):
		t.setState(Cancelled)
	default:
		t.setState(Failed)
		t.res.td.LastError = err
		t.r.cfg.logger.Error("input failed", "path", t.in.rel, "error", err)
		t.r.emit(ctx, Event{Kind: FileFailed, Path: t.in.path, Message: err.Error()})
	}
}

// identify checks the leading bytes against the profile.
func (t *task) identify() (bool, error) {
	if len(t.r.profile.Identify) == 0 {
		return true, nil
	}
	f, err := os.Open(t.in.path)
	if err != nil {
		return false, ioError("open", t.in.path, err)
	}
	defer f.Close()

	buf := make([]byte, identifyWindow)
	n, err := io.ReadFull(f, buf)
	if err != nil && err != io.EOF && err != io.ErrUnexpectedEOF {
		return false, ioError("read", t.in.path, err)
	}
	return t.r.profile.Identifies(buf[:n]), nil
}

func (t *task) newCarver() (*carver.Carver, error) {
	p := t.r.profile
	opts := []carver.Option{carver.WithSource(t.in.rel), carver.WithLogger(t.r.cfg.logger)}
	if p.Validator != nil {
		opts = append(opts, carver.WithValidator(p.Validator))
	}
	return carver.New(p.Patterns, p.Strategy, opts...)
}

// streamable reports whether the profile writes raw ranges only.
func (t *task) streamable() bool {
	return t.r.profile.Codec == nil && t.r.profile.Image == nil
}

// carve loads the input and carves it in memory.
func (t *task) carve(ctx context.Context) error {
	f, size, err := carver.OpenSequential(t.in.path)
	if err != nil {
		return ioError("open", t.in.path, err)
	}
	defer f.Close()
	t.res.td.InputSize = size

	if limit := t.r.cfg.maxInputSize; limit > -1 && size > limit {
		if !t.streamable() {
			return fmt.Errorf("%w: %d bytes", ErrInputTooLarge, size)
		}
		t.r.cfg.logger.Info("carving large input with bounded memory", "path", t.in.rel, "size", size)
		return t.streamFrom(ctx, f, size)
	}

	buf := make([]byte, size)
	if _, err := io.ReadFull(f, buf); err != nil {
		return ioError("read", t.in.path, err)
	}

	c, err := t.newCarver()
	if err != nil {
		return err
	}
	records := c.Carve(buf)
	t.res.td.RejectedHits += c.Stats().Rejected

	t.setState(Emitting)
	for _, rec := range records {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := t.emitBytes(ctx, buf[rec.Start:rec.End], rec, ""); err != nil {
			if fatal(err) {
				return err
			}
			t.assetError("cannot extract asset", err, "start", rec.Start, "end", rec.End)
		}
	}
	return nil
}

// stream carves the input with bounded memory.
func (t *task) stream(ctx context.Context) error {
	f, size, err := carver.OpenSequential(t.in.path)
	if err != nil {
		return ioError("open", t.in.path, err)
	}
	defer f.Close()
	t.res.td.InputSize = size
	return t.streamFrom(ctx, f, size)
}

func (t *task) streamFrom(ctx context.Context, ra io.ReaderAt, size int64) error {
	c, err := t.newCarver()
	if err != nil {
		return err
	}
	t.setState(Emitting)
	err = c.CarveStream(ctx, ra, size, t.r.cfg.windowSize, func(rec carver.SegmentRecord) error {
		if err := t.emitRange(ctx, ra, rec); err != nil {
			if fatal(err) {
				return err
			}
			t.assetError("cannot extract asset", err, "start", rec.Start, "end", rec.End)
		}
		return nil
	})
	t.res.td.RejectedHits += c.Stats().Rejected
	return err
}

// structured reads every entry of a GENE archive.
func (t *task) structured(ctx context.Context) error {
	cfg := t.r.cfg
	rd, err := archive.Open(t.in.path,
		archive.WithCompanionPath(archive.CompanionPath(t.in.path, cfg.companionName)),
		archive.WithMaxDepth(cfg.maxDepth),
		archive.WithMaxEntrySize(cfg.maxAssetSize),
		archive.WithMaxEntries(cfg.maxAssets),
	)
	if err != nil {
		if errors.Is(err, archive.ErrTooManyEntries) {
			return fmt.Errorf("%w: %w", ErrTooManyAssets, err)
		}
		if errors.Is(err, archive.ErrParseCorrupt) {
			return err
		}
		return ioError("open", t.in.path, err)
	}
	defer rd.Close()
	if st, err := os.Stat(t.in.path); err == nil {
		t.res.td.InputSize = st.Size()
	}

	t.setState(Emitting)
	for _, e := range rd.Entries() {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := t.reserve(); err != nil {
			return err
		}
		data, err := rd.ReadEntry(e)
		if err != nil {
			t.assetError("cannot read entry", err, "entry", e.Path())
			continue
		}
		rec := carver.SegmentRecord{Start: e.DataOffset, End: e.DataOffset + e.CompressedSize, Source: t.in.rel}
		if err := t.emitBytes(ctx, data, rec, e.Path()); err != nil {
			if fatal(err) {
				return err
			}
			t.assetError("cannot extract entry", err, "entry", e.Path())
		}
	}
	return nil
}

// emitBytes decodes, classifies and writes one asset held in memory. Carved
// assets are named after the input and their sequence, archive entries keep
// their name.
func (t *task) emitBytes(ctx context.Context, data []byte, rec carver.SegmentRecord, entryName string) error {
	p := t.r.profile
	var typ classify.Type
	typed := false

	switch {
	case p.Image != nil:
		k := codec.Raw
		if p.Codec != nil {
			k = *p.Codec
		}
		img, err := p.Image.Decode(data, k)
		if err != nil {
			return err
		}
		var buf bytes.Buffer
		if err := p.Image.Encode(&buf, img); err != nil {
			return fmt.Errorf("cannot encode image: %w", err)
		}
		data, typed = buf.Bytes(), true
		typ = classify.Type{Name: p.Image.Ext(), Ext: p.Image.Ext(), Class: classify.ClassImage}
	case p.Codec != nil:
		if p.CodecSkip > len(data) {
			return fmt.Errorf("%w: asset of %d bytes is shorter than the codec skip", ErrDecode, len(data))
		}
		out, err := codec.Decode(codec.Request{Input: data[p.CodecSkip:], Kind: *p.Codec})
		if err != nil {
			return err
		}
		data = out
	}

	if !typed && p.Unwrap != "" {
		u, err := classify.Unwrap(bytes.NewReader(data), p.Unwrap, t.r.cfg.maxAssetSize)
		if err != nil {
			return err
		}
		out, err := io.ReadAll(u)
		u.Close()
		if err != nil {
			return fmt.Errorf("cannot unwrap %s: %w", u.Layer, err)
		}
		data, typ, typed = out, u.Type, true
	}
	if !typed {
		typ = classify.Detect(data)
	}

	if entryName == "" && p.Expand && classify.Expandable(typ) {
		return t.expand(ctx, bytes.NewReader(data), int64(len(data)), typ, rec)
	}

	if err := t.reserve(); err != nil {
		return err
	}
	written, err := t.w.WriteBytes(t.name(typ, rec, entryName), data)
	if err != nil {
		return err
	}
	return t.record(ctx, written, typ, rec)
}

// emitRange writes one asset of a bounded memory scan.
func (t *task) emitRange(ctx context.Context, ra io.ReaderAt, rec carver.SegmentRecord) error {
	header := make([]byte, min(rec.Len(), int64(classify.MaxHeaderLength)))
	if _, err := ra.ReadAt(header, rec.Start); err != nil && err != io.EOF {
		return ioError("read", t.in.path, err)
	}
	typ := classify.Detect(header)

	if t.r.profile.Expand && classify.Expandable(typ) {
		return t.expand(ctx, io.NewSectionReader(ra, rec.Start, rec.Len()), rec.Len(), typ, rec)
	}
	if err := t.reserve(); err != nil {
		return err
	}

	pr, pw := io.Pipe()
	done := make(chan struct{})
	go func() {
		defer close(done)
		_, err := carver.CopyRange(ctx, pw, ra, rec.Start, rec.End, carver.DefaultCopyChunk)
		pw.CloseWithError(err)
	}()
	defer func() {
		pr.Close()
		<-done
	}()

	var src io.Reader = pr
	if method := t.r.profile.Unwrap; method != "" {
		u, err := classify.Unwrap(pr, method, t.r.cfg.maxAssetSize)
		if err != nil {
			return err
		}
		defer u.Close()
		src, typ = u, u.Type
	}

	written, err := t.w.Create(t.name(typ, rec, ""), src)
	if err != nil {
		return err
	}
	return t.record(ctx, written, typ, rec)
}

// expand writes the members of a carved standard archive into a directory
// named after the asset.
func (t *task) expand(ctx context.Context, ra io.ReaderAt, size int64, typ classify.Type, rec carver.SegmentRecord) error {
	dir := t.classDir(typ, output.AssetName(t.base, rec.Sequence, "")+"_"+typ.Ext)
	limits := classify.Limits{MaxEntries: t.r.cfg.maxAssets, MaxEntrySize: t.r.cfg.maxAssetSize}

	return classify.Expand(ctx, ra, size, typ, limits, func(name string, r io.Reader) error {
		if err := t.reserve(); err != nil {
			return err
		}
		written, err := t.w.Create(path.Join(dir, name), r)
		if err != nil {
			return fmt.Errorf("cannot write member %s: %w", name, err)
		}
		return t.record(ctx, written, typ, rec)
	})
}

// name returns the output name of an asset relative to the input directory.
func (t *task) name(typ classify.Type, rec carver.SegmentRecord, entryName string) string {
	ext := typ.Ext
	if t.r.profile.OutputExt != "" {
		ext = t.r.profile.OutputExt
	}
	if entryName != "" {
		// entries whose type was unknown by name get the detected extension
		if path.Ext(entryName) == "" && typ != classify.Unknown {
			return entryName + "." + ext
		}
		return entryName
	}
	return t.classDir(typ, output.AssetName(t.base, rec.Sequence, ext))
}

// classDir prefixes name with the class of typ if classification is enabled.
func (t *task) classDir(typ classify.Type, name string) string {
	if !t.r.cfg.classify {
		return name
	}
	return path.Join(string(typ.Class), name)
}

// reserve fails once the input reached the asset limit.
func (t *task) reserve() error {
	if limit := t.r.cfg.maxAssets; limit > -1 && t.assets >= limit {
		return fmt.Errorf("%w: %d", ErrTooManyAssets, limit)
	}
	return nil
}

// record counts a written asset and reports it.
func (t *task) record(ctx context.Context, written output.Written, typ classify.Type, rec carver.SegmentRecord) error {
	rel, err := filepath.Rel(t.dst, written.Path)
	if err != nil {
		rel = written.Path
	}
	entry := output.ManifestEntry{
		Source:    t.in.rel,
		Path:      filepath.ToSlash(rel),
		Format:    typ.Name,
		Start:     rec.Start,
		End:       rec.End,
		Size:      written.Size,
		Digest:    written.Digest,
		Duplicate: written.Duplicate,
	}
	t.res.manifest = append(t.res.manifest, entry)

	if written.Duplicate {
		t.res.td.DuplicateAssets++
		t.r.cfg.logger.Debug("duplicate asset dropped", "path", t.in.rel, "start", rec.Start, "same_as", entry.Path)
		return nil
	}

	t.assets++
	n := t.r.assets.Add(1)
	t.res.td.ExtractedAssets++
	t.res.td.ExtractionSize += written.Size
	t.r.cfg.logger.Debug("asset extracted", "path", entry.Path, "format", typ.Name, "size", written.Size)
	t.r.emit(ctx, Event{Kind: AssetExtracted, Path: written.Path, Count: n})
	return nil
}

// assetError records a dropped asset; the input continues.
func (t *task) assetError(msg string, err error, keysAndValues ...interface{}) {
	t.res.td.AssetErrors++
	t.res.td.LastError = fmt.Errorf("%s: %w", msg, err)
	keysAndValues = append(keysAndValues, "path", t.in.rel, "error", err)
	t.r.cfg.logger.Warn(msg, keysAndValues...)
}

// fatal reports errors that end the processing of an input.
func fatal(err error) bool {
	return isCancel(err) || errors.Is(err, ErrTooManyAssets)
}
