// Command pkhostctl drives the engine as the initiating Host: it opens
// one transport (a local framed port or an SSH-tunneled bench rig),
// starts exactly one chain, prints every Event the engine raises, and
// exits once the chain completes or fails.
package main

import (
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/danmuck/pkcmd/internal/pkclock"
	"github.com/danmuck/pkcmd/internal/pkconfig"
	"github.com/danmuck/pkcmd/internal/pkengine"
	"github.com/danmuck/pkcmd/internal/pkframe"
	"github.com/danmuck/pkcmd/internal/pklog"
	"github.com/danmuck/pkcmd/internal/pktransport"
)

type runOptions struct {
	configPath       string
	port             string
	mtu              int
	engineConfigPath string

	op     string
	object string
	data   string
	file   string

	sshHost        string
	sshUser        string
	sshKeyPath     string
	sshRemoteCmd   string
	sshTimeout     time.Duration
	sshMaxAttempts int
}

func main() {
	opts := parseFlags()
	if err := run(opts); err != nil {
		fmt.Fprintf(os.Stderr, "pkhostctl: %v\n", err)
		os.Exit(1)
	}
}

func parseFlags() runOptions {
	var opts runOptions
	flag.StringVar(&opts.configPath, "config", "", "optional pkhostctl.toml path")
	flag.StringVar(&opts.port, "port", "", "path to the local byte-stream device (pipe, UART, character device)")
	flag.IntVar(&opts.mtu, "mtu", 64, "transport MTU in bytes")
	flag.StringVar(&opts.engineConfigPath, "engine-config", "", "optional engine tuning TOML (ack/await/timeout overrides)")

	flag.StringVar(&opts.op, "op", "", "root operation: sendv | requv | invok | pkver")
	flag.StringVar(&opts.object, "object", "", "5-character variable/method name (ignored for pkver)")
	flag.StringVar(&opts.data, "data", "", "request payload (for sendv value / invok args), literal string")
	flag.StringVar(&opts.file, "data-file", "", "request payload read from a file instead of -data")

	flag.StringVar(&opts.sshHost, "ssh-host", "", "bench rig host:port to dial instead of -port")
	flag.StringVar(&opts.sshUser, "ssh-user", "", "SSH user for -ssh-host")
	flag.StringVar(&opts.sshKeyPath, "ssh-key", "", "SSH private key path for -ssh-host")
	flag.StringVar(&opts.sshRemoteCmd, "ssh-remote-cmd", "pkdevicectl", "remote command to run over -ssh-host")
	flag.DurationVar(&opts.sshTimeout, "ssh-timeout", 10*time.Second, "SSH dial timeout")
	flag.IntVar(&opts.sshMaxAttempts, "ssh-max-attempts", 3, "reconnect attempts for -ssh-host, with backoff between them")
	flag.Parse()
	return opts
}

func run(opts runOptions) error {
	if err := loadHostConfig(opts.configPath, &opts); err != nil {
		return err
	}

	op, err := parseOp(opts.op)
	if err != nil {
		return err
	}
	payload, err := loadPayload(opts.data, opts.file)
	if err != nil {
		return err
	}

	logger := pklog.ConfigureRuntime()

	cfg := pkengine.DefaultConfig()
	if strings.TrimSpace(opts.engineConfigPath) != "" {
		cfg, err = pkconfig.LoadEngineConfig(opts.engineConfigPath)
		if err != nil {
			return err
		}
	}

	port, err := openPort(opts)
	if err != nil {
		return err
	}
	defer port.Close()

	eng := pkengine.NewEngine(pkengine.RoleHost, opts.mtu, pkengine.Collaborators{}, cfg, pkclock.Real{}, logger)
	if err := eng.StartHostChain(op, opts.object, payload); err != nil {
		return fmt.Errorf("start chain: %w", err)
	}

	onStep := func(before, after pkengine.Snapshot, step pkengine.Step) {
		for _, ev := range step.Events {
			printEvent(ev)
		}
	}
	return pktransport.Pump(port, eng, pkclock.Real{}, true, onStep, logger)
}

func openPort(opts runOptions) (pktransport.Port, error) {
	if strings.TrimSpace(opts.sshHost) != "" {
		bridge := &pktransport.SSHBridge{
			Host:        opts.sshHost,
			User:        opts.sshUser,
			KeyPath:     opts.sshKeyPath,
			Timeout:     opts.sshTimeout,
			MaxAttempts: opts.sshMaxAttempts,
		}
		return bridge.Dial(opts.sshRemoteCmd)
	}
	if strings.TrimSpace(opts.port) == "" {
		return nil, fmt.Errorf("one of -port or -ssh-host is required")
	}
	f, err := os.OpenFile(opts.port, os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("open port %q: %w", opts.port, err)
	}
	return pktransport.NewFramedPort(f), nil
}

func parseOp(raw string) (pkframe.Op, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "sendv":
		return pkframe.OpSendVariable, nil
	case "requv":
		return pkframe.OpRequireVariable, nil
	case "invok":
		return pkframe.OpInvoke, nil
	case "pkver":
		return pkframe.OpGetVersion, nil
	default:
		return "", fmt.Errorf("unknown -op %q (want sendv, requv, invok, or pkver)", raw)
	}
}

func loadPayload(data, file string) ([]byte, error) {
	if strings.TrimSpace(file) != "" {
		b, err := os.ReadFile(file)
		if err != nil {
			return nil, fmt.Errorf("read -data-file %q: %w", file, err)
		}
		return b, nil
	}
	return []byte(data), nil
}

func printEvent(ev pkengine.Event) {
	switch e := ev.(type) {
	case pkengine.ChainCompleted:
		fmt.Printf("OK %s %s: %s\n", e.RootOp, e.RootObject, formatPayload(e.OutboundBytes))
	case pkengine.ChainFailed:
		fmt.Printf("FAIL %s: %s\n", e.Reason, e.Description)
	case pkengine.IncomingRequest:
		// Host never resolves a request itself; this event is Device-only
		// in practice, but printed defensively in case a future mode feeds
		// the same Collaborators to both roles.
		fmt.Printf("REQUEST %s %s\n", e.RootOp, e.RootObject)
	}
}

func formatPayload(b []byte) string {
	if len(b) == 0 {
		return "(empty)"
	}
	return string(b)
}
