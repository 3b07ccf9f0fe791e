// Copyright (C) 2020 Markus L. Noga
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"runtime/pprof"
	"strings"
	"time"

	nl "github.com/mlnoga/tonecurve/internal"
	"github.com/mlnoga/tonecurve/internal/curve"
	"github.com/mlnoga/tonecurve/internal/imageio"
	"github.com/mlnoga/tonecurve/internal/ops"
	"github.com/mlnoga/tonecurve/internal/ops/tone"
	"github.com/mlnoga/tonecurve/internal/preset"
	"github.com/mlnoga/tonecurve/internal/render"
	"github.com/mlnoga/tonecurve/internal/rest"
	"github.com/mlnoga/tonecurve/internal/session"
	"github.com/mlnoga/tonecurve/internal/watch"
)

const version = "0.1.0"

var cpuprofile = flag.String("cpuprofile", "", "write cpu profile to `file`")
var memprofile = flag.String("memprofile", "", "write memory profile to `file`")

var out = flag.String("out", "out%04d.png", "save output with given filename pattern, %d expands to the image index. Suffix selects the format: .jpg, .png, .bmp, .tif")
var log = flag.String("log", "", "save log output to `file`")
var hist = flag.String("hist", "", "save histogram plots with given filename pattern, e.g. `hist%04d.png`")
var plot = flag.String("plot", "curve.png", "save curve plot to `file`")

var presetFile = flag.String("preset", "", "load tone curve preset from TOML `file`")
var savePreset = flag.String("savePreset", "", "save the effective tone curve preset to TOML `file`")
var anchors preset.AnchorFlags
var round = flag.Bool("round", false, "round interpolated curve values instead of truncating them")
var fitPeak = flag.Bool("fitPeak", false, "fit a gaussian to the histogram peak when showing statistics")
var quality = flag.Int("quality", 95, "JPEG quality for output files, 1..100")

var addr = flag.String("addr", ":8080", "serve: listen on given address")
var chroot = flag.String("chroot", "", "serve: change filesystem root to given directory, requires root")
var setuid = flag.Int("setuid", -1, "serve: change user id after binding, -1=keep")
var maxMem = flag.Int64("maxMem", session.DefaultBudget()/1024/1024, "serve: total MiB of memory for interactive sessions, default=0.25x physical memory")

func init() {
	flag.Var(&anchors, "anchor", "move anchor to level, as `index:level` with index a multiple of 32 below 255. Repeatable, overrides the preset")
}

func main() {
	logWriter := nl.LogWriter()
	start := time.Now()
	flag.Usage = func() {
		fmt.Fprintf(logWriter, `Tonecurve Copyright (c) 2020 Markus L. Noga
This program comes with ABSOLUTELY NO WARRANTY.
This is free software, and you are welcome to redistribute it under certain conditions.
Refer to https://www.gnu.org/licenses/gpl-3.0.en.html for details.

Usage: %s [-flag value] (apply|stats|curve|watch|serve|legal|version) (img0.png ... imgn.png)

Commands:
  apply   Apply the tone curve to input images
  stats   Show input image histogram statistics
  curve   Plot the tone curve
  watch   Apply the tone curve, and again whenever the preset or an input changes
  serve   Serve the interactive curve editor over HTTP
  legal   Show license and attribution information
  version Show version information

Flags:
`, os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	if *log != "" {
		if err := nl.LogAlsoToFile(*log); err != nil {
			nl.LogFatalf("Unable to open logfile '%s'\n", *log)
		}
	}

	// Enable CPU profiling if flagged
	if *cpuprofile != "" {
		f, err := os.Create(*cpuprofile)
		if err != nil {
			nl.LogFatal("Could not create CPU profile: ", err)
		}
		defer f.Close()
		if err := pprof.StartCPUProfile(f); err != nil {
			nl.LogFatal("Could not start CPU profile: ", err)
		}
		defer pprof.StopCPUProfile()
	}

	args := flag.Args()
	if len(args) < 1 {
		flag.Usage()
		return
	}

	c := ops.NewContext(logWriter)
	c.Quality = *quality

	var err error
	switch args[0] {
	case "apply":
		err = cmdApply(args[1:], c)

	case "stats":
		err = cmdStats(args[1:], c)

	case "curve":
		err = cmdCurve(c)

	case "watch":
		err = cmdWatch(args[1:], c)

	case "serve":
		err = cmdServe(c)

	case "legal":
		fmt.Fprint(logWriter, legal)

	case "version":
		fmt.Fprintf(logWriter, "Version %s on %s\n", version, runtime.Version())
		fmt.Fprintf(logWriter, "Running on %s\n", c.String())

	case "help", "?":
		flag.Usage()

	default:
		fmt.Fprintf(logWriter, "Unknown command '%s'\n\n", args[0])
		flag.Usage()
		return
	}

	elapsed := time.Since(start)
	fmt.Fprintf(logWriter, "\nDone after %v\n", elapsed)

	// Store memory profile if flagged
	if *memprofile != "" {
		f, err := os.Create(*memprofile)
		if err != nil {
			nl.LogFatal("Could not create memory profile: ", err)
		}
		defer f.Close()
		runtime.GC() // get up-to-date statistics
		if err := pprof.Lookup("allocs").WriteTo(f, 0); err != nil {
			nl.LogFatal("Could not write allocation profile: ", err)
		}
	}

	if err != nil {
		nl.LogFatalf("Error: %s\n", err.Error())
	}
	nl.LogSync()
}

// Builds the effective preset from the preset file and the flags
func loadPreset() (*preset.Preset, error) {
	p := &preset.Preset{}
	if *presetFile != "" {
		var err error
		if p, err = preset.Load(*presetFile); err != nil {
			return nil, err
		}
	}
	if *round {
		p.Interpolation = curve.Round
	}
	p.Anchors = append(p.Anchors, anchors...) // later anchors win
	if err := p.Validate(); err != nil {
		return nil, err
	}
	if *savePreset != "" {
		if err := p.Save(*savePreset); err != nil {
			return nil, err
		}
	}
	return p, nil
}

func cmdApply(patterns []string, c *ops.Context) error {
	p, err := loadPreset()
	if err != nil {
		return err
	}
	seq := ops.NewOpSequence(ops.NewOpLoadMany(patterns), tone.NewOpCurves(p))
	if *hist != "" {
		seq.Append(tone.NewOpHistogram(*hist, *fitPeak))
	}
	seq.Append(ops.NewOpSave(*out))

	m, err := json.MarshalIndent(seq, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintf(c.Log, "\nApplying tone curve with these settings:\n%s\n", string(m))
	return run(seq, c)
}

func cmdStats(patterns []string, c *ops.Context) error {
	return run(ops.NewOpSequence(ops.NewOpLoadMany(patterns), tone.NewOpHistogram(*hist, *fitPeak)), c)
}

func run(seq *ops.OpSequence, c *ops.Context) error {
	promises, err := seq.MakePromises(nil, c)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.Log, "Using %d threads on %s\n", c.MaxThreads, c.CPU)
	_, err = ops.MaterializeAll(promises, c.MaxThreads, true)
	return err
}

func cmdCurve(c *ops.Context) error {
	p, err := loadPreset()
	if err != nil {
		return err
	}
	cv, err := p.Curve()
	if err != nil {
		return err
	}
	fmt.Fprintf(c.Log, "%s curve with anchor levels %v\n", cv.Interpolation(), cv.AnchorLevels())
	img := render.Curve(cv.Points(), render.DefaultCurveBox, render.DefaultPalette())
	fmt.Fprintf(c.Log, "Writing curve plot to %s\n", *plot)
	return imageio.Save(*plot, img, c.Quality)
}

func cmdWatch(patterns []string, c *ops.Context) error {
	fileNames, err := ops.NewOpLoadMany(patterns).FileNames(c)
	if err != nil {
		return err
	}
	if len(fileNames) == 0 {
		return fmt.Errorf("no files to watch from pattern %v", patterns)
	}
	files := fileNames
	if *presetFile != "" {
		files = append(files, *presetFile)
	}
	fmt.Fprintf(c.Log, "Watching %s, press Ctrl-C to stop\n", strings.Join(files, ", "))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	w := &watch.Watcher{
		Files: files,
		Log:   c.Log,
		Run: func() error {
			// re-reads the preset on every change
			return cmdApply(fileNames, c)
		},
	}
	return w.Watch(ctx)
}

func cmdServe(c *ops.Context) error {
	ip := curve.Truncate
	if *round {
		ip = curve.Round
	}
	store := session.NewStore(*maxMem*1024*1024, ip, c.Log)
	srv := rest.NewServer(store, c.Log)
	srv.Quality = *quality
	if err := rest.MakeSandbox(*chroot, *setuid, c.Log); err != nil {
		return err
	}
	if wd, err := os.Getwd(); err == nil {
		fmt.Fprintf(c.Log, "Batch runs are restricted to %s\n", filepath.Clean(wd))
	}
	return srv.Serve(*addr)
}
