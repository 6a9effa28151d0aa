package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"strings"

	"github.jpl.nasa.gov/bdube/golab-elphel/camera"
	"github.jpl.nasa.gov/bdube/golab-elphel/driver"
	"github.jpl.nasa.gov/bdube/golab-elphel/framepars"
	"github.jpl.nasa.gov/bdube/golab-elphel/gammalib"
	"github.jpl.nasa.gov/bdube/golab-elphel/generichttp"
	"github.jpl.nasa.gov/bdube/golab-elphel/generichttp/elphel"
	"github.jpl.nasa.gov/bdube/golab-elphel/imgrec"
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
	ConfigFileName = "elphelsrv.yml"
	k              = koanf.New(".")
)

type recorder struct {
	// Root is the root folder to write to
	Root string `yaml:"Root"`

	// Prefix is the filename prefix to use
	Prefix string `yaml:"Prefix"`

	// Enabled turns recording on at startup
	Enabled bool `yaml:"Enabled"`
}

type config struct {
	Addr string `yaml:"Addr"`
	Root string `yaml:"Root"`

	// Camera is the address of a parsd daemon, host:port or a serial device.
	// "sim" runs a simulated camera inside the server.
	Camera string `yaml:"Camera"`
	Serial bool   `yaml:"Serial"`
	Conns  int    `yaml:"Conns"`

	// FPS is the frame rate of the simulated camera
	FPS float64 `yaml:"FPS"`

	// Names is a YAML parameter name table, empty for the built-in one
	Names string `yaml:"Names"`

	// Library is the sqlite file saved gamma tables are kept in, empty to disable
	Library string `yaml:"Library"`

	Recorder recorder `yaml:"Recorder"`
}

func setupconfig() {
	k.Load(structs.Provider(config{
		Addr:     ":8000",
		Root:     "/",
		Camera:   "sim",
		Conns:    4,
		FPS:      10,
		Library:  "gamma.db",
		Recorder: recorder{Root: ".", Prefix: "elphel"}}, "koanf"), nil)
	if err := k.Load(file.Provider(ConfigFileName), yaml.Parser()); err != nil {
		errtxt := err.Error()
		if !strings.Contains(errtxt, "no such") { // file missing, who cares
			log.Fatalf("error loading config: %v", err)
		}
	}
}

func root() {
	str := `elphelsrv exposes the frame parameters, tone curves and histograms
of an Elphel camera over HTTP.  This enables a server-client architecture,
and the clients can leverage the excellent HTTP libraries for any programming
language, instead of custom socket logic.

Usage:
	elphelsrv <command>

Commands:
	run
	help
	mkconf
	conf
	version`
	fmt.Println(str)
}

func help() {
	str := `elphelsrv is amenable to configuration via its .yaml file.  For a primer on YAML, see
https://yaml.org/start.html

When no configuration is provided, the defaults are used.
The command mkconf generates the configuration file with the default values.

Camera is either "sim", for a simulated camera running at FPS frames per second,
or the address of a parsd daemon running on the camera, e.g. 192.168.0.9:2323.
Set Serial to true if Camera is a serial device such as /dev/ttyUSB0.

Names may point to a YAML file extending the built-in parameter names:
	names:
	  MY_PARAM: 0x1c0
	channels:
	  448: 500
The file is re-read when the configuration file changes.

Tables saved in the Library are loaded into the camera when the server starts.

Routes are listed at <Root>/endpoints.  Writes can be blocked by POSTing
{"bool": true} to <Root>/lock.`
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
	fmt.Printf("elphelsrv version %v\n", Version)
}

// resolver builds the name resolver from the Names file, if any
func resolver(names string) (*framepars.Resolver, error) {
	r := framepars.NewResolver()
	if names == "" {
		return r, nil
	}
	n, idx, err := framepars.LoadNames(names)
	if err != nil {
		return nil, err
	}
	r.Names = n
	r.Index = idx
	return r, nil
}

// watch reloads the name table when the config file changes
func watch(s *framepars.Store) {
	f := file.Provider(ConfigFileName)
	err := f.Watch(func(event interface{}, err error) {
		if err != nil {
			log.Println("watching config:", err)
			return
		}
		kk := koanf.New(".")
		if err := kk.Load(f, yaml.Parser()); err != nil {
			log.Println("reloading config:", err)
			return
		}
		r, err := resolver(kk.String("Names"))
		if err != nil {
			log.Println("reloading name table, keeping the old one:", err)
			return
		}
		s.SetResolver(r)
		log.Printf("name table reloaded, %d names\n", len(r.Names))
	})
	if err != nil {
		log.Println("not watching the config file:", err)
	}
}

func openDevice(c config, r *framepars.Resolver) (driver.Device, func(), error) {
	if strings.EqualFold(c.Camera, "sim") {
		cam, err := sim.New(driver.DefaultLayout(), r.Index)
		if err != nil {
			return nil, nil, err
		}
		ctx, cancel := context.WithCancel(context.Background())
		go func() {
			if err := cam.Run(ctx, c.FPS); err != nil && err != context.Canceled {
				log.Println("simulated camera stopped:", err)
			}
		}()
		return cam, cancel, nil
	}
	cl, err := remote.Dial(c.Camera, c.Serial, c.Conns)
	if err != nil {
		return nil, nil, err
	}
	log.Println("connected to camera at", c.Camera)
	return cl, func() { cl.Close() }, nil
}

func run() {
	c := config{}
	err := k.Unmarshal("", &c)
	if err != nil {
		log.Fatal(err)
	}
	r, err := resolver(c.Names)
	if err != nil {
		log.Fatal(err)
	}
	dev, closeDev, err := openDevice(c, r)
	if err != nil {
		log.Fatal(err)
	}
	defer closeDev()
	cam, err := camera.Open(dev, r)
	if err != nil {
		log.Fatal(err)
	}
	defer cam.Close()

	var lib *gammalib.Library
	if c.Library != "" {
		lib, err = gammalib.Open(c.Library, log.Default())
		if err != nil {
			log.Fatal(err)
		}
		defer lib.Close()
		n, err := lib.Replay(cam.Gamma)
		if err != nil {
			log.Fatal(err)
		}
		log.Printf("loaded %d saved gamma tables\n", n)
	}

	rec := imgrec.New(c.Recorder.Root, c.Recorder.Prefix)
	rec.Enabled = c.Recorder.Enabled

	watch(cam.Store)
	w := elphel.NewHTTPCamera(cam, lib, rec)
	mux := BuildMux(c, w)
	addr := c.Addr + generichttp.SubMuxSanitize(c.Root)
	log.Println("now listening for requests at ", addr)
	log.Fatal(http.ListenAndServe(c.Addr, mux))
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
