package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/alecthomas/kong"
	"github.com/hashicorp/go-carve"
	"github.com/hashicorp/go-carve/formats"
	"github.com/pkg/errors"
	"github.com/woozymasta/pathrules"
)

// CLI are the cli parameters for the gamecarve binary
type CLI struct {
	Root            string           `arg:"" name:"root" help:"Game data file or directory." type:"existing path"`
	Profile         string           `short:"p" optional:"" help:"Format profile, built-in (${profiles}) or defined in --profile-file. (default: riff, or the only profile of the file)"`
	ProfileFile     string           `short:"f" optional:"" type:"existing file" help:"YAML file with format profiles."`
	Destination     string           `short:"d" optional:"" help:"Output root. (default: Extracted/ beside root)"`
	Include         []string         `short:"i" optional:"" help:"Only process inputs matching the gitignore style pattern."`
	Exclude         []string         `short:"x" optional:"" help:"Skip inputs matching the gitignore style pattern."`
	Workers         int              `short:"w" default:"0" help:"Inputs processed in parallel. (0: number of CPUs)"`
	MaxAssets       int64            `optional:"" default:"100000" help:"Maximum assets per input. (disable check: -1)"`
	MaxAssetSize    int64            `optional:"" default:"1073741824" help:"Maximum size of a written asset (in bytes). (disable check: -1)"`
	MaxInputSize    int64            `optional:"" default:"1073741824" help:"Largest input loaded into memory (in bytes). (disable check: -1)"`
	MaxTime         int64            `optional:"" default:"-1" help:"Maximum time that a run should take (in seconds). (disable check: -1)"`
	NoClassify      bool             `short:"N" help:"Do not sort assets into class directories."`
	Deduplicate     bool             `short:"D" help:"Drop assets whose content was already written for the same input."`
	Manifest        bool             `short:"m" help:"Write manifest.json into the destination."`
	CollisionSuffix string           `optional:"" default:"_" help:"Separator between a name and its collision counter."`
	Quiet           bool             `short:"q" help:"Do not print progress."`
	Telemetry       bool             `short:"T" optional:"" default:"false" help:"Print telemetry data to log after the run."`
	Verbose         bool             `short:"v" optional:"" help:"Verbose logging."`
	Version         kong.VersionFlag `short:"V" optional:"" help:"Print release version information."`
}

// Run the entrypoint into gamecarve as a cli tool
func Run(version, commit, date string) {
	var cli CLI
	kong.Parse(&cli,
		kong.Description("Extract embedded assets from game data files"),
		kong.UsageOnError(),
		kong.Vars{
			"version":  fmt.Sprintf("%s (%s), commit %s, built at %s", filepath.Base(os.Args[0]), version, commit, date),
			"profiles": strings.Join(formats.Builtins(), ", "),
		},
	)

	// Check for verbose output
	logLevel := slog.LevelError
	if cli.Verbose {
		logLevel = slog.LevelDebug
	}

	// setup logger
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel,
	}))

	profile, err := loadProfile(cli.Profile, cli.ProfileFile)
	if err != nil {
		logger.Error("loading profile failed", "err", err)
		os.Exit(-1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	if cli.MaxTime > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Second*time.Duration(cli.MaxTime))
		defer cancel()
	}

	// setup telemetry hook
	telemetryToLog := func(ctx context.Context, td *carve.TelemetryData) {
		if cli.Telemetry {
			logger.Info("run finished", "telemetry", td)
		}
	}

	events := make(chan carve.Event)
	var wg sync.WaitGroup
	wg.Go(func() {
		printEvents(os.Stderr, events, cli.Quiet)
	})

	// process cli params
	cfg := carve.NewConfig(
		carve.WithClassify(!cli.NoClassify),
		carve.WithCollisionSuffix(cli.CollisionSuffix),
		carve.WithDeduplicate(cli.Deduplicate),
		carve.WithDestination(cli.Destination),
		carve.WithEvents(events),
		carve.WithLogger(logger),
		carve.WithManifest(cli.Manifest),
		carve.WithMaxAssets(cli.MaxAssets),
		carve.WithMaxAssetSize(cli.MaxAssetSize),
		carve.WithMaxInputSize(cli.MaxInputSize),
		carve.WithRules(rules(cli.Include, cli.Exclude)...),
		carve.WithTelemetryHook(telemetryToLog),
		carve.WithWorkers(cli.Workers),
	)

	res, err := carve.Run(ctx, cli.Root, profile, cfg)
	close(events)
	wg.Wait()
	if err != nil {
		logger.Error("run failed", "err", err)
		os.Exit(-1)
	}

	fmt.Fprintf(os.Stdout, "%d assets from %d files written to %s\n", res.Assets, res.Files, res.Destination)
	for _, f := range res.Failures {
		fmt.Fprintf(os.Stdout, "failed: %s: %s\n", f.Path, f.Err)
	}
	if len(res.Failures) > 0 {
		os.Exit(1)
	}
}

// defaultProfile is used if neither a name nor a profile file is given.
const defaultProfile = "riff"

// loadProfile returns the named profile, from file if one is given.
func loadProfile(name, file string) (*formats.Profile, error) {
	if file == "" {
		if name == "" {
			name = defaultProfile
		}
		return formats.Builtin(name)
	}
	profiles, err := formats.LoadFile(file)
	if err != nil {
		return nil, errors.Wrap(err, "Error reading profile file")
	}
	if name == "" {
		if len(profiles) != 1 {
			return nil, errors.Errorf("%s defines %d profiles, select one with --profile", file, len(profiles))
		}
		return profiles[0], nil
	}
	for _, p := range profiles {
		if p.Name == name {
			return p, nil
		}
	}
	return nil, errors.Errorf("profile %q not found in %s", name, file)
}

// rules turns include and exclude patterns into path rules. Includes come
// first, so excludes win on conflicts.
func rules(include, exclude []string) []pathrules.Rule {
	var out []pathrules.Rule
	for _, p := range include {
		out = append(out, pathrules.Rule{Action: pathrules.ActionInclude, Pattern: p})
	}
	for _, p := range exclude {
		out = append(out, pathrules.Rule{Action: pathrules.ActionExclude, Pattern: p})
	}
	return out
}

// printEvents reports progress on w until events is closed.
func printEvents(w io.Writer, events <-chan carve.Event, quiet bool) {
	for ev := range events {
		if quiet {
			continue
		}
		switch ev.Kind {
		case carve.Progress:
			fmt.Fprintf(w, "[%d/%d] %s\n", ev.Done, ev.Total, ev.Path)
		case carve.FileFailed:
			fmt.Fprintf(w, "failed %s: %s\n", ev.Path, ev.Message)
		case carve.RunFailed:
			fmt.Fprintf(w, "run failed: %s\n", ev.Message)
		}
	}
}
