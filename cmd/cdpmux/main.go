package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
)

func main() {
	args, err := parseArgs(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n\nRun 'cdpmux --help' for usage information.\n", err)
		os.Exit(2)
	}
	if args.Help {
		showUsage()
		return
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, args, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", args.Command, err)
		os.Exit(1)
	}
}

func showUsage() {
	fmt.Println(`cdpmux - DevTools protocol client

USAGE:
    cdpmux COMMAND [ARGS] [FLAGS]

COMMANDS:
    call METHOD [JSON]   Send one command and print its result
    watch [METHOD...]    Print events as they arrive (all events if none given)
    counters             Print Memory.getDOMCounters
    version              Print Browser.getVersion
    emulate              Serve a local DevTools emulator

FLAGS:
    -h, --help           Show this help message
    --config PATH        Config file path (default: ./cdpmux.yaml)
    --url URL            DevTools endpoint, ws://... or http://host:port
    --session ID         Send 'call' to an attached target session
    --addr HOST:PORT     Listen address for 'emulate' (default: 127.0.0.1:9222)

CONFIGURATION:
    Config file: ./cdpmux.yaml
    Environment: CDPMUX_* variables override config

EXAMPLES:
    cdpmux emulate
    cdpmux --url http://127.0.0.1:9222 version
    cdpmux call Runtime.evaluate '{"expression":"1+1","returnByValue":true}'
    cdpmux watch Page.loadEventFired Runtime.consoleAPICalled`)
}

// cliArgs is the parsed command line.
type cliArgs struct {
	Help       bool
	Command    string
	Args       []string
	ConfigPath string
	URL        string
	SessionID  string
	Addr       string
}

var errNoCommand = errors.New("no command given")

// parseArgs accepts flags anywhere on the line, in both "--flag value" and
// "--flag=value" forms. The first positional argument is the command.
func parseArgs(argv []string) (cliArgs, error) {
	var a cliArgs
	value := func(i *int, name string) (string, error) {
		arg := argv[*i]
		if v, ok := strings.CutPrefix(arg, name+"="); ok {
			return v, nil
		}
		if *i+1 >= len(argv) {
			return "", fmt.Errorf("flag %s needs a value", name)
		}
		*i++
		return argv[*i], nil
	}

	for i := 0; i < len(argv); i++ {
		arg := argv[i]
		var err error
		switch {
		case arg == "-h" || arg == "--help" || arg == "help":
			a.Help = true
		case arg == "--config" || strings.HasPrefix(arg, "--config="):
			a.ConfigPath, err = value(&i, "--config")
		case arg == "--url" || strings.HasPrefix(arg, "--url="):
			a.URL, err = value(&i, "--url")
		case arg == "--session" || strings.HasPrefix(arg, "--session="):
			a.SessionID, err = value(&i, "--session")
		case arg == "--addr" || strings.HasPrefix(arg, "--addr="):
			a.Addr, err = value(&i, "--addr")
		case strings.HasPrefix(arg, "-") && arg != "-":
			err = fmt.Errorf("unknown flag: %s", arg)
		case a.Command == "":
			a.Command = arg
		default:
			a.Args = append(a.Args, arg)
		}
		if err != nil {
			return a, err
		}
	}
	if a.Help {
		return a, nil
	}
	if a.Command == "" {
		return a, errNoCommand
	}
	if a.ConfigPath == "" {
		a.ConfigPath = configPath()
	}
	return a, nil
}

func configPath() string {
	if p := os.Getenv("CDPMUX_CONFIG"); p != "" {
		return p
	}
	return "cdpmux.yaml"
}

func run(ctx context.Context, args cliArgs, stdout io.Writer) error {
	switch args.Command {
	case "call":
		return withConn(ctx, args, func(ctx context.Context, e *env) error {
			return runCall(ctx, e, args, stdout)
		})
	case "watch":
		return withConn(ctx, args, func(ctx context.Context, e *env) error {
			return runWatch(ctx, e, args.Args, stdout)
		})
	case "counters":
		return withConn(ctx, args, func(ctx context.Context, e *env) error {
			return runCounters(ctx, e, stdout)
		})
	case "version":
		return withConn(ctx, args, func(ctx context.Context, e *env) error {
			return runVersion(ctx, e, stdout)
		})
	case "emulate":
		return runEmulate(ctx, args, stdout)
	default:
		return fmt.Errorf("unknown command: %s", args.Command)
	}
}
