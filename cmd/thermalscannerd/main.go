// Command thermalscannerd serves temperatures retrieved from the thermal
// scanner's instrument driver over a line-oriented TCP stream.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/lsst-ts/ts-m1m3-thermalscanner-dde-tcpip/internal/app/config"
	"github.com/lsst-ts/ts-m1m3-thermalscanner-dde-tcpip/pkg/thermalscanner"
)

const version = "1.1.0"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	cmd := os.Args[1]
	var err error

	switch cmd {
	case "run":
		err = runCommand(os.Args[2:])
	case "validate":
		err = validateCommand(os.Args[2:])
	case "version":
		fmt.Println("thermalscannerd " + version)
		return
	case "help", "-h", "--help":
		printUsage()
		return
	default:
		printUsage()
		err = fmt.Errorf("unknown command %q", cmd)
	}

	if err != nil {
		log.Fatalf("thermalscannerd %s: %v", cmd, err)
	}
}

func runCommand(args []string) error {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	cfgPath := fs.String("config", "", "Path to YAML configuration file (optional)")
	driverExe := fs.String("driver-exe", "", "Location of the instrument driver executable, launched if the first connect fails")
	bridgeAddr := fs.String("bridge-addr", "", "Driver bridge address (host:port)")
	host := fs.String("host", "", "Host interface to serve on (default all)")
	port := fs.Int("port", config.DefaultPort, "Port on which data will be served (0 requests an ephemeral port)")
	discover := fs.Bool("discover", false, "Auto discover the driver topic; otherwise -topic is required")
	topic := fs.String("topic", "", "Driver topic, equal to the scan configuration name, e.g. GE01")
	save := fs.String("save", "", "Save telemetry to the given file")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg := &config.Config{}
	if *cfgPath != "" {
		loaded, err := config.Read(*cfgPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = loaded
	} else {
		cfg.ApplyDefaults()
	}

	applyFlagOverrides(cfg, fs, flagOverrides{
		driverExe:  *driverExe,
		bridgeAddr: *bridgeAddr,
		host:       *host,
		port:       *port,
		discover:   *discover,
		topic:      *topic,
		save:       *save,
	})

	rt, err := thermalscanner.New(cfg)
	if err != nil {
		return err
	}

	log.Printf("thermalscannerd %s serving on %s", version, rt.Addr())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return rt.Run(ctx)
}

type flagOverrides struct {
	driverExe  string
	bridgeAddr string
	host       string
	port       int
	discover   bool
	topic      string
	save       string
}

// applyFlagOverrides merges explicitly-set flags over the file
// configuration. The documented port default applies only when neither a
// flag nor the file chose one; an explicit -port 0 requests an ephemeral
// port.
func applyFlagOverrides(cfg *config.Config, fs *flag.FlagSet, o flagOverrides) {
	set := map[string]bool{}
	fs.Visit(func(f *flag.Flag) { set[f.Name] = true })

	if set["driver-exe"] {
		cfg.Driver.Exe = o.driverExe
	}
	if set["bridge-addr"] {
		cfg.Bridge.Addr = o.bridgeAddr
	}
	if set["host"] {
		cfg.Server.Host = o.host
	}
	if set["port"] {
		cfg.Server.Port = o.port
	} else if cfg.Server.Port == 0 {
		cfg.Server.Port = config.DefaultPort
	}
	if set["discover"] {
		cfg.Driver.Discover = o.discover
	}
	if set["topic"] {
		cfg.Driver.Topic = o.topic
	}
	if set["save"] {
		cfg.SaveFile = o.save
	}
}

func validateCommand(args []string) error {
	fs := flag.NewFlagSet("validate", flag.ExitOnError)
	cfgPath := fs.String("config", "./config.yaml", "Path to configuration file to validate")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if _, err := thermalscanner.LoadConfig(*cfgPath); err != nil {
		return err
	}
	fmt.Printf("config %s looks good\n", *cfgPath)
	return nil
}

func printUsage() {
	fmt.Printf(`thermalscannerd

Usage:
  thermalscannerd <command> [flags]

Commands:
  run        Poll the instrument driver and serve temperatures over TCP
  validate   Load and validate a config file without starting the daemon
  version    Print the daemon version

Examples:
  thermalscannerd run -topic GE01 -bridge-addr 127.0.0.1:7010
  thermalscannerd run -config ./config.yaml -save ./telemetry.csv
  thermalscannerd run -discover -port 0
  thermalscannerd validate -config ./config.yaml
`)
}
