package main

import (
	"context"
	"fmt"
	"log"
	"net"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.jpl.nasa.gov/bdube/golab-elphel/driver"
	"github.jpl.nasa.gov/bdube/golab-elphel/framepars"
	"github.jpl.nasa.gov/bdube/golab-elphel/remote"
	"github.jpl.nasa.gov/bdube/golab-elphel/sim"

	"github.com/knadh/koanf"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"

	yml "gopkg.in/yaml.v2"
)

var (
	// Version is the version number.  Typically injected via ldflags with git build
	Version = "1"

	// ConfigFileName is what it sounds like
	ConfigFileName = "parsd.yml"
	k              = koanf.New(".")
)

type layout struct {
	Ports       int `yaml:"Ports"`
	SubChannels int `yaml:"SubChannels"`
	FrameRing   int `yaml:"FrameRing"`
	PastRing    int `yaml:"PastRing"`
}

type config struct {
	// Addr is the TCP address to serve telegrams on
	Addr string `yaml:"Addr"`

	// FPS is the frame rate of the camera
	FPS float64 `yaml:"FPS"`

	// MaxWait caps how long a client may block waiting for a frame
	MaxWait time.Duration `yaml:"MaxWait"`

	// Names is a YAML name table whose channel banks the camera uses
	Names string `yaml:"Names"`

	Layout layout `yaml:"Layout"`
}

func setupconfig() {
	l := driver.DefaultLayout()
	k.Load(structs.Provider(config{
		Addr:    ":2323",
		FPS:     10,
		MaxWait: time.Minute,
		Layout: layout{
			Ports:       l.Ports,
			SubChannels: l.SubChannels,
			FrameRing:   l.FrameRing,
			PastRing:    l.PastRing,
		}}, "koanf"), nil)
	if err := k.Load(file.Provider(ConfigFileName), yaml.Parser()); err != nil {
		errtxt := err.Error()
		if !strings.Contains(errtxt, "no such") { // file missing, who cares
			log.Fatalf("error loading config: %v", err)
		}
	}
}

func root() {
	str := `parsd serves the frame parameter memory, gamma cache and histograms
of a camera to remote clients such as elphelsrv and elphelctl, using
CRC checked telegrams over TCP.  This build drives a simulated camera.

Usage:
	parsd <command>

Commands:
	run
	help
	mkconf
	conf
	version`
	fmt.Println(str)
}

func help() {
	str := `parsd is amenable to configuration via its .yaml file.  For a primer on YAML, see
https://yaml.org/start.html

When no configuration is provided, the defaults are used.
The command mkconf generates the configuration file with the default values.

FrameRing and PastRing must be powers of two.  MaxWait is a duration such
as 30s or 2m.`
	fmt.Println(str)
}

func mkconf() {
	c := config{}
	err := k.Unmarshal("", &c)
	if err != nil {
		log.Fatal(err)
	}
	f, err := os.Create(ConfigFileName)
	if err != nil {
		log.Fatal(err)
	}
	defer f.Close()
	err = yml.NewEncoder(f).Encode(c)
	if err != nil {
		log.Fatal(err)
	}
}

func printconf() {
	c := config{}
	err := k.Unmarshal("", &c)
	if err != nil {
		log.Fatal(err)
	}
	err = yml.NewEncoder(os.Stdout).Encode(c)
	if err != nil {
		log.Fatal(err)
	}
}

func pversion() {
	fmt.Printf("parsd version %v\n", Version)
}

func run() {
	c := config{}
	err := k.Unmarshal("", &c)
	if err != nil {
		log.Fatal(err)
	}
	l := driver.DefaultLayout()
	l.Ports = c.Layout.Ports
	l.SubChannels = c.Layout.SubChannels
	l.FrameRing = c.Layout.FrameRing
	l.PastRing = c.Layout.PastRing

	idx := framepars.DefaultChannelIndex()
	if c.Names != "" {
		if _, idx, err = framepars.LoadNames(c.Names); err != nil {
			log.Fatal(err)
		}
	}
	cam, err := sim.New(l, idx)
	if err != nil {
		log.Fatal(err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	go func() {
		if err := cam.Run(ctx, c.FPS); err != nil && ctx.Err() == nil {
			log.Println("camera stopped:", err)
		}
	}()

	ln, err := net.Listen("tcp", c.Addr)
	if err != nil {
		log.Fatal(err)
	}
	srv := remote.NewServer(cam)
	if c.MaxWait > 0 {
		srv.MaxWait = c.MaxWait
	}
	go func() {
		<-ctx.Done()
		log.Println("shutting down")
		srv.Close()
		ln.Close()
	}()
	if err = srv.Serve(ln); err != nil && ctx.Err() == nil {
		log.Fatal(err)
	}
}

func main() {
	var cmd string
	args := os.Args
	if len(args) == 1 {
		root()
		return
	}
	setupconfig()
	cmd = args[1]
	cmd = strings.ToLower(cmd)
	switch cmd {
	case "help":
		help()
		return
	case "mkconf":
		mkconf()
		return
	case "conf":
		printconf()
		return
	case "run":
		run()
		return
	case "version":
		pversion()
		return
	default:
		log.Fatal("unknown command")
	}
}
