package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/fatih/color"
	"github.jpl.nasa.gov/bdube/golab-elphel/camera"
	"github.jpl.nasa.gov/bdube/golab-elphel/remote"
	"github.jpl.nasa.gov/bdube/golab-elphel/util"
)

// Version is the version number.  Typically injected via ldflags with git build
var Version = "1"

var (
	addr       = flag.String("addr", "localhost:2323", "address of the parsd daemon, or a serial device")
	serialLink = flag.Bool("serial", false, "addr is a serial device")
	frameArg   = flag.String("frame", "latest", "frame to read or write, a number or latest")
	flagsArg   = flag.String("flags", "0", "write flags, e.g. 0x20000000 to apply to one frame only")
	timeout    = flag.Duration("timeout", 10*time.Second, "bound on blocking waits")
	quiet      = flag.Bool("q", false, "do not show a spinner while waiting")
)

func usage() {
	str := `elphelctl talks to a camera through a parsd daemon.

Usage:
	elphelctl [flags] <command> [args]

Commands:
	get PORT NAME...                 read parameters
	set PORT NAME=VALUE...           write parameters atomically
	frame PORT                       current and last compressed frame
	wait PORT FRAME                  block until FRAME
	skip PORT N                      block for N frames
	state PORT                       sensor and compressor state
	compressor PORT run|stop|single  control the compressor
	gamma add GAMMA BLACK            compute and cache a tone curve
	gamma get HASH [SCALE]           print a cached tone curve
	gamma fwd|rev PORT SUB COLOR L   map a level through the applied curve
	hist PORT SUB [NEEDED]           print histograms, one table per line
	pct PORT SUB COLOR FRACTION      level below which FRACTION of the pixels are
	cum PORT SUB COLOR LEVEL         fraction of the pixels below LEVEL
	version

Flags:`
	fmt.Fprintln(flag.CommandLine.Output(), str)
	flag.PrintDefaults()
}

func fail(err error) {
	color.New(color.FgRed, color.Bold).Fprintln(os.Stderr, "error:", err)
	os.Exit(1)
}

func main() {
	flag.Usage = usage
	flag.Parse()
	if flag.NArg() == 0 {
		usage()
		os.Exit(2)
	}
	if flag.Arg(0) == "version" {
		fmt.Printf("elphelctl version %v\n", Version)
		return
	}
	frame, err := util.ParseFrame(*frameArg)
	if err != nil {
		fail(err)
	}
	flags, err := util.ParseUint(*flagsArg, 32)
	if err != nil {
		fail(err)
	}
	cl, err := remote.Dial(*addr, *serialLink, 1)
	if err != nil {
		fail(err)
	}
	defer cl.Close()
	cam, err := camera.Open(cl, nil)
	if err != nil {
		fail(err)
	}
	defer cam.Close()
	a := &app{
		out:     os.Stdout,
		store:   cam.Store,
		gamma:   cam.Gamma,
		hist:    cam.Hist,
		frame:   frame,
		flags:   uint32(flags),
		timeout: *timeout,
		spin:    !*quiet,
	}
	if err = a.exec(flag.Arg(0), flag.Args()[1:]); err != nil {
		fail(err)
	}
}
