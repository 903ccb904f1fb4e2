// Command pkbench exercises a full Host/Device chain without external
// hardware: by default it wires an in-process Host engine directly to
// a Device engine over pktransport.Loopback, seeding the Device from a
// manifest and running one chain on the Host side. With -remote it
// instead dials a real device rig over SSH, reusing the exact same
// Host engine and driver loop cmd/pkhostctl uses.
package main

import (
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/danmuck/pkcmd/internal/pkclock"
	"github.com/danmuck/pkcmd/internal/pkconfig"
	"github.com/danmuck/pkcmd/internal/pkengine"
	"github.com/danmuck/pkcmd/internal/pkframe"
	"github.com/danmuck/pkcmd/internal/pkhandler"
	"github.com/danmuck/pkcmd/internal/pklog"
	"github.com/danmuck/pkcmd/internal/pktransport"
)

type benchOptions struct {
	manifestPath     string
	engineConfigPath string
	mtu              int

	op     string
	object string
	data   string

	remote         bool
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
		fmt.Fprintf(os.Stderr, "pkbench: %v\n", err)
		os.Exit(1)
	}
}

func parseFlags() benchOptions {
	var opts benchOptions
	flag.StringVar(&opts.manifestPath, "manifest", "", "device manifest TOML (variables, methods, version); required unless -remote")
	flag.StringVar(&opts.engineConfigPath, "engine-config", "", "optional engine tuning TOML shared by both sides")
	flag.IntVar(&opts.mtu, "mtu", 64, "transport MTU in bytes")

	flag.StringVar(&opts.op, "op", "pkver", "root operation: sendv | requv | invok | pkver")
	flag.StringVar(&opts.object, "object", "", "5-character variable/method name (ignored for pkver)")
	flag.StringVar(&opts.data, "data", "", "request payload (for sendv value / invok args)")

	flag.BoolVar(&opts.remote, "remote", false, "dial a real device rig over SSH instead of an in-process loopback")
	flag.StringVar(&opts.sshHost, "ssh-host", "", "bench rig host:port (with -remote)")
	flag.StringVar(&opts.sshUser, "ssh-user", "", "SSH user (with -remote)")
	flag.StringVar(&opts.sshKeyPath, "ssh-key", "", "SSH private key path (with -remote)")
	flag.StringVar(&opts.sshRemoteCmd, "ssh-remote-cmd", "pkdevicectl", "remote command to run (with -remote)")
	flag.DurationVar(&opts.sshTimeout, "ssh-timeout", 10*time.Second, "SSH dial timeout (with -remote)")
	flag.IntVar(&opts.sshMaxAttempts, "ssh-max-attempts", 3, "reconnect attempts (with -remote), with backoff between them")
	flag.Parse()
	return opts
}

func run(opts benchOptions) error {
	logger := pklog.ConfigureRuntime()

	op, err := parseOp(opts.op)
	if err != nil {
		return err
	}

	cfg := pkengine.DefaultConfig()
	if strings.TrimSpace(opts.engineConfigPath) != "" {
		cfg, err = pkconfig.LoadEngineConfig(opts.engineConfigPath)
		if err != nil {
			return err
		}
	}

	hostPort, deviceDone, err := openBenchPorts(opts, cfg, logger)
	if err != nil {
		return err
	}
	defer hostPort.Close()

	hostEng := pkengine.NewEngine(pkengine.RoleHost, opts.mtu, pkengine.Collaborators{}, cfg, pkclock.Real{}, logger)
	if err := hostEng.StartHostChain(op, opts.object, []byte(opts.data)); err != nil {
		return fmt.Errorf("start chain: %w", err)
	}

	onStep := func(before, after pkengine.Snapshot, step pkengine.Step) {
		for _, ev := range step.Events {
			printEvent(ev)
		}
	}
	runErr := pktransport.Pump(hostPort, hostEng, pkclock.Real{}, true, onStep, logger)
	if deviceDone != nil {
		<-deviceDone
	}
	return runErr
}

// openBenchPorts returns the Host-side Port to drive, plus (for the
// loopback case) a channel closed once the in-process Device side has
// finished serving so main can wait for it to unwind before exiting.
func openBenchPorts(opts benchOptions, cfg pkengine.Config, logger zerolog.Logger) (pktransport.Port, chan struct{}, error) {
	if opts.remote {
		if strings.TrimSpace(opts.sshHost) == "" {
			return nil, nil, fmt.Errorf("-ssh-host is required with -remote")
		}
		bridge := &pktransport.SSHBridge{
			Host:        opts.sshHost,
			User:        opts.sshUser,
			KeyPath:     opts.sshKeyPath,
			Timeout:     opts.sshTimeout,
			MaxAttempts: opts.sshMaxAttempts,
		}
		port, err := bridge.Dial(opts.sshRemoteCmd)
		if err != nil {
			return nil, nil, err
		}
		return port, nil, nil
	}

	if strings.TrimSpace(opts.manifestPath) == "" {
		return nil, nil, fmt.Errorf("-manifest is required unless -remote")
	}
	manifest, err := pkconfig.LoadDeviceManifest(opts.manifestPath)
	if err != nil {
		return nil, nil, err
	}
	store := pkhandler.NewStore(manifest.VersionMinor, manifest.VersionPatch)
	for name, value := range manifest.Variables {
		_ = store.Set(name, []byte(value))
	}
	for _, name := range manifest.Methods {
		name := name
		_ = store.RegisterMethod(name, nil, func(args []byte) (pkhandler.Job, error) {
			return pkhandler.NewImmediateJob(args, ""), nil
		})
	}
	mtu := opts.mtu
	if manifest.MTU > 0 {
		mtu = manifest.MTU
	}

	hostPort, devicePort := pktransport.Loopback()
	deviceEng := pkengine.NewEngine(pkengine.RoleDevice, mtu, pkengine.Collaborators{
		Vars: store, Methods: store, Version: store,
	}, cfg, pkclock.Real{}, logger)

	done := make(chan struct{})
	go func() {
		defer close(done)
		defer devicePort.Close()
		_ = pktransport.Pump(devicePort, deviceEng, pkclock.Real{}, true, nil, logger)
	}()

	return hostPort, done, nil
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

func printEvent(ev pkengine.Event) {
	switch e := ev.(type) {
	case pkengine.ChainCompleted:
		fmt.Printf("OK %s %s: %s\n", e.RootOp, e.RootObject, formatPayload(e.OutboundBytes))
	case pkengine.ChainFailed:
		fmt.Printf("FAIL %s: %s\n", e.Reason, e.Description)
	case pkengine.IncomingRequest:
		fmt.Printf("REQUEST %s %s\n", e.RootOp, e.RootObject)
	}
}

func formatPayload(b []byte) string {
	if len(b) == 0 {
		return "(empty)"
	}
	return string(b)
}
