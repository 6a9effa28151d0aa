package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/theckman/yacspin"
	"github.jpl.nasa.gov/bdube/golab-elphel/camera"
	"github.jpl.nasa.gov/bdube/golab-elphel/driver"
	"github.jpl.nasa.gov/bdube/golab-elphel/util"
)

var errUsage = errors.New("wrong arguments, see elphelctl -h")

type app struct {
	out   io.Writer
	store camera.ParameterStore
	gamma camera.ToneCurves
	hist  camera.Histograms

	frame   uint32
	flags   uint32
	timeout time.Duration
	spin    bool
}

// wait runs fn with a deadline, behind a spinner if enabled
func (a *app) wait(msg string, fn func(ctx context.Context) error) error {
	ctx, cancel := context.WithTimeout(context.Background(), a.timeout)
	defer cancel()
	if !a.spin {
		return fn(ctx)
	}
	spinner, err := yacspin.New(yacspin.Config{
		Writer:            os.Stderr,
		Frequency:         100 * time.Millisecond,
		CharSet:           yacspin.CharSets[14],
		Suffix:            " ",
		Message:           msg,
		StopCharacter:     "✓",
		StopColors:        []string{"fgGreen"},
		StopFailCharacter: "✗",
		StopFailColors:    []string{"fgRed"},
	})
	if err != nil {
		return fn(ctx)
	}
	spinner.Start()
	err = fn(ctx)
	if err != nil {
		spinner.StopFail()
		return err
	}
	spinner.Stop()
	return nil
}

func ints(args []string) ([]int, error) {
	out := make([]int, len(args))
	for i, s := range args {
		v, err := strconv.Atoi(s)
		if err != nil {
			return nil, fmt.Errorf("%q is not an integer", s)
		}
		out[i] = v
	}
	return out, nil
}

func (a *app) exec(cmd string, args []string) error {
	switch cmd {
	case "get":
		return a.get(args)
	case "set":
		return a.set(args)
	case "frame":
		return a.frameCmd(args)
	case "wait", "skip":
		return a.waitCmd(cmd, args)
	case "state":
		return a.state(args)
	case "compressor":
		return a.compressor(args)
	case "gamma":
		return a.gammaCmd(args)
	case "hist":
		return a.histCmd(args)
	case "pct", "cum":
		return a.histStat(cmd, args)
	}
	return fmt.Errorf("unknown command %q", cmd)
}

func (a *app) get(args []string) error {
	if len(args) < 2 {
		return errUsage
	}
	port, err := strconv.Atoi(args[0])
	if err != nil {
		return errUsage
	}
	vals, skipped, err := a.store.ReadMany(port, args[1:], a.frame)
	if err != nil {
		return err
	}
	for _, n := range args[1:] {
		if v, ok := vals[n]; ok {
			fmt.Fprintf(a.out, "%s=%d\n", n, v)
		}
	}
	warn := color.New(color.FgYellow)
	for _, n := range args[1:] {
		if e, ok := skipped[n]; ok {
			warn.Fprintf(os.Stderr, "%s: %v\n", n, e)
		}
	}
	return nil
}

func (a *app) set(args []string) error {
	if len(args) < 2 {
		return errUsage
	}
	port, err := strconv.Atoi(args[0])
	if err != nil {
		return errUsage
	}
	vals := map[string]uint32{}
	for _, kv := range args[1:] {
		parts := strings.SplitN(kv, "=", 2)
		if len(parts) != 2 {
			return fmt.Errorf("%q is not NAME=VALUE", kv)
		}
		v, err := util.ParseUint(parts[1], 32)
		if err != nil {
			return fmt.Errorf("%s: %w", parts[0], err)
		}
		vals[parts[0]] = uint32(v)
	}
	f, skipped, err := a.store.WriteNamed(port, vals, a.frame, a.flags)
	if err != nil {
		return err
	}
	sort.Strings(skipped)
	for _, n := range skipped {
		color.New(color.FgYellow).Fprintf(os.Stderr, "%s: unknown, skipped\n", n)
	}
	fmt.Fprintf(a.out, "frame=%d\n", f)
	return nil
}

func (a *app) frameCmd(args []string) error {
	if len(args) != 1 {
		return errUsage
	}
	port, err := strconv.Atoi(args[0])
	if err != nil {
		return errUsage
	}
	this, err := a.store.ThisFrame(port)
	if err != nil {
		return err
	}
	comp, err := a.store.CompressedFrame(port)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "this=%d compressed=%d\n", this, comp)
	return nil
}

func (a *app) waitCmd(cmd string, args []string) error {
	if len(args) != 2 {
		return errUsage
	}
	port, err := strconv.Atoi(args[0])
	if err != nil {
		return errUsage
	}
	n, err := util.ParseUint(args[1], 32)
	if err != nil {
		return err
	}
	var f uint32
	err = a.wait(fmt.Sprintf("waiting on port %d", port), func(ctx context.Context) error {
		var err error
		if cmd == "skip" {
			f, err = a.store.SkipFrames(ctx, port, uint32(n))
		} else {
			f, err = a.store.WaitFrame(ctx, port, uint32(n))
		}
		return err
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "frame=%d\n", f)
	return nil
}

func (a *app) state(args []string) error {
	if len(args) != 1 {
		return errUsage
	}
	port, err := strconv.Atoi(args[0])
	if err != nil {
		return errUsage
	}
	st, err := a.store.State(port)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "state=0x%x\n", st)
	return nil
}

func (a *app) compressor(args []string) error {
	if len(args) != 2 {
		return errUsage
	}
	port, err := strconv.Atoi(args[0])
	if err != nil {
		return errUsage
	}
	var f uint32
	switch args[1] {
	case "run":
		f, err = a.store.CompressorRun(port, a.frame)
	case "stop":
		f, err = a.store.CompressorStop(port, a.frame)
	case "single":
		f, err = a.store.CompressorSingle(port, a.frame)
	default:
		return errUsage
	}
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "frame=%d\n", f)
	return nil
}

func (a *app) gammaCmd(args []string) error {
	if len(args) < 1 {
		return errUsage
	}
	switch args[0] {
	case "add":
		if len(args) != 3 {
			return errUsage
		}
		g, err1 := strconv.ParseFloat(args[1], 64)
		b, err2 := strconv.ParseFloat(args[2], 64)
		if err1 != nil || err2 != nil {
			return errUsage
		}
		h, err := a.gamma.Add(g, b)
		if err != nil {
			return err
		}
		fmt.Fprintf(a.out, "hash16=%04x\n", h)
	case "get":
		if len(args) < 2 || len(args) > 3 {
			return errUsage
		}
		h, err := util.ParseHash16(args[1])
		if err != nil {
			return err
		}
		scale := 1.0
		if len(args) == 3 {
			if scale, err = strconv.ParseFloat(args[2], 64); err != nil {
				return errUsage
			}
		}
		t, err := a.gamma.Get(h, scale)
		if err != nil {
			return err
		}
		vals := make([]uint32, len(t.Direct))
		for i, v := range t.Direct {
			vals[i] = uint32(v)
		}
		fmt.Fprintln(a.out, util.Uint32SliceToCSV(vals))
	case "fwd", "rev":
		if len(args) != 5 {
			return errUsage
		}
		is, err := ints(args[1:4])
		if err != nil {
			return err
		}
		l, err := strconv.ParseFloat(args[4], 64)
		if err != nil {
			return errUsage
		}
		fcn := a.gamma.Forward
		if args[0] == "rev" {
			fcn = a.gamma.Reverse
		}
		out, err := fcn(is[0], is[1], is[2], l, a.frame)
		if err != nil {
			return err
		}
		fmt.Fprintf(a.out, "%.6f\n", out)
	default:
		return errUsage
	}
	return nil
}

func (a *app) histCmd(args []string) error {
	if len(args) < 2 || len(args) > 3 {
		return errUsage
	}
	is, err := ints(args[:2])
	if err != nil {
		return err
	}
	needed := uint64(driver.HistAll)
	if len(args) == 3 {
		if needed, err = util.ParseUint(args[2], 32); err != nil {
			return err
		}
	}
	var tables []uint32
	err = a.wait("waiting for the histogram", func(ctx context.Context) error {
		var err error
		tables, err = a.hist.Get(ctx, is[0], is[1], uint32(needed), a.frame)
		return err
	})
	if err != nil {
		return err
	}
	for i := 0; i+256 <= len(tables); i += 256 {
		fmt.Fprintln(a.out, util.Uint32SliceToCSV(tables[i:i+256]))
	}
	return nil
}

func (a *app) histStat(cmd string, args []string) error {
	if len(args) != 4 {
		return errUsage
	}
	is, err := ints(args[:3])
	if err != nil {
		return err
	}
	x, err := strconv.ParseFloat(args[3], 64)
	if err != nil {
		return errUsage
	}
	fcn := a.hist.Percentile
	if cmd == "cum" {
		fcn = a.hist.CumulativeFraction
	}
	var out float64
	err = a.wait("waiting for the histogram", func(ctx context.Context) error {
		var err error
		out, err = fcn(ctx, is[0], is[1], is[2], x, a.frame)
		return err
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "%.6f\n", out)
	return nil
}
