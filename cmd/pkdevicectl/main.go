// Command pkdevicectl drives the engine as the responding Device: it
// wires a variable store and method registry from a TOML manifest,
// opens one transport, and serves chains until the process is
// terminated or the transport closes.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/danmuck/pkcmd/internal/pkclock"
	"github.com/danmuck/pkcmd/internal/pkconfig"
	"github.com/danmuck/pkcmd/internal/pkdiag"
	"github.com/danmuck/pkcmd/internal/pkengine"
	"github.com/danmuck/pkcmd/internal/pkhandler"
	"github.com/danmuck/pkcmd/internal/pklog"
	"github.com/danmuck/pkcmd/internal/pktransport"
)

type runOptions struct {
	configPath       string
	port             string
	mtu              int
	engineConfigPath string
	manifestPath     string
	diagAddr         string
}

func main() {
	opts := parseFlags()
	if err := run(opts); err != nil {
		fmt.Fprintf(os.Stderr, "pkdevicectl: %v\n", err)
		os.Exit(1)
	}
}

func parseFlags() runOptions {
	var opts runOptions
	flag.StringVar(&opts.configPath, "config", "", "optional pkdevicectl.toml path")
	flag.StringVar(&opts.port, "port", "", "path to the local byte-stream device; defaults to stdio (set by an SSH caller running this as -ssh-remote-cmd)")
	flag.IntVar(&opts.mtu, "mtu", 64, "transport MTU in bytes")
	flag.StringVar(&opts.engineConfigPath, "engine-config", "", "optional engine tuning TOML (ack/await/timeout overrides)")
	flag.StringVar(&opts.manifestPath, "manifest", "", "device manifest TOML (variables, methods, version)")
	flag.StringVar(&opts.diagAddr, "diag-addr", "", "optional host:port to serve read-only pkdiag HTTP diagnostics on")
	flag.Parse()
	return opts
}

func run(opts runOptions) error {
	if err := loadDeviceConfig(opts.configPath, &opts); err != nil {
		return err
	}
	if strings.TrimSpace(opts.manifestPath) == "" {
		return fmt.Errorf("-manifest is required")
	}

	logger := pklog.ConfigureRuntime()

	manifest, err := pkconfig.LoadDeviceManifest(opts.manifestPath)
	if err != nil {
		return err
	}
	store := buildStore(manifest)

	cfg, err := loadEngineConfig(opts.engineConfigPath)
	if err != nil {
		return err
	}
	if manifest.MTU > 0 {
		opts.mtu = manifest.MTU
	}

	port, err := openPort(opts.port)
	if err != nil {
		return err
	}
	defer port.Close()

	collab := pkengine.Collaborators{Vars: store, Methods: store, Version: store}
	eng := pkengine.NewEngine(pkengine.RoleDevice, opts.mtu, collab, cfg, pkclock.Real{}, logger)

	var recorder *pkdiag.Recorder
	var diagServer *pkdiag.Server
	if strings.TrimSpace(opts.diagAddr) != "" {
		recorder = pkdiag.NewRecorder("device")
		pkdiag.RegisterMetrics()
		diagServer = pkdiag.NewServer("device", recorder, logger, nil)
		go func() {
			if err := serveDiag(opts.diagAddr, diagServer); err != nil {
				logger.Error().Err(err).Msg("pkdiag server stopped")
			}
		}()
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		port.Close()
	}()

	onStep := func(before, after pkengine.Snapshot, step pkengine.Step) {
		if recorder != nil {
			recorder.Observe(before, after, step, time.Now())
		}
		for _, ev := range step.Events {
			logEvent(logger, ev)
		}
	}

	return pktransport.Pump(port, eng, pkclock.Real{}, false, onStep, logger)
}

func loadEngineConfig(path string) (pkengine.Config, error) {
	if strings.TrimSpace(path) == "" {
		return pkengine.DefaultConfig(), nil
	}
	return pkconfig.LoadEngineConfig(path)
}

func openPort(path string) (pktransport.Port, error) {
	if strings.TrimSpace(path) == "" {
		return pktransport.NewFramedPort(stdio{}), nil
	}
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("open port %q: %w", path, err)
	}
	return pktransport.NewFramedPort(f), nil
}

// stdio glues os.Stdin/os.Stdout into one io.ReadWriteCloser so a
// device process started as an SSH remote command can be framed the
// same way a local character device is.
type stdio struct{}

func (stdio) Read(p []byte) (int, error)  { return os.Stdin.Read(p) }
func (stdio) Write(p []byte) (int, error) { return os.Stdout.Write(p) }
func (stdio) Close() error {
	if err := os.Stdin.Close(); err != nil {
		return err
	}
	return os.Stdout.Close()
}

func buildStore(manifest pkconfig.DeviceManifest) *pkhandler.Store {
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
	return store
}

func logEvent(logger zerolog.Logger, ev pkengine.Event) {
	switch e := ev.(type) {
	case pkengine.ChainCompleted:
		logger.Info().Str("op", string(e.RootOp)).Str("object", e.RootObject).
			Int("bytes", len(e.OutboundBytes)).Msg("chain completed")
	case pkengine.ChainFailed:
		logger.Warn().Str("reason", e.Reason.String()).Str("description", e.Description).Msg("chain failed")
	case pkengine.IncomingRequest:
		logger.Info().Str("op", string(e.RootOp)).Str("object", e.RootObject).
			Int("bytes", len(e.InboundBytes)).Msg("incoming request")
	}
}

func serveDiag(addr string, server *pkdiag.Server) error {
	return http.ListenAndServe(addr, server.Handler())
}
