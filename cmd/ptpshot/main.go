package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/cjeanneret/ptpshot/internal/config"
	"github.com/cjeanneret/ptpshot/internal/debug"
	"github.com/cjeanneret/ptpshot/internal/hw/camera"
	"github.com/cjeanneret/ptpshot/internal/logic/capture"
	"github.com/cjeanneret/ptpshot/internal/notify"
	"github.com/cjeanneret/ptpshot/internal/web"
)

// overrides holds CLI values that replace config entries when non-empty.
type overrides struct {
	Address   string
	OutputDir string
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, os.Args[1:], os.Stdout); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		debug.Error(err)
		fmt.Fprintln(os.Stderr, "ptpshot:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, stdout io.Writer) error {
	// CLI flags
	fs := flag.NewFlagSet("ptpshot", flag.ContinueOnError)
	webPort := &webPortFlag{defaultPort: 8080}
	fs.Var(webPort, "web", "start web server on port; -web= for default 8080, -web 8980 for custom port")
	cfgPath := fs.String("config", filepath.Join("configs", "default.yaml"), "path to config file")
	address := fs.String("address", "", "override camera address (host:port)")
	outDir := fs.String("out", "", "override output directory")
	count := fs.Int("count", 1, "number of shots; more than one runs a timelapse")
	interval := fs.Duration("interval", 5*time.Second, "time between timelapse shots")
	if err := fs.Parse(args); err != nil {
		return err
	}

	// Load configuration
	cfg, err := config.Load(*cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	ov := overrides{Address: *address, OutputDir: *outDir}
	if err := validateCLIOverrides(ov); err != nil {
		return fmt.Errorf("invalid CLI override: %w", err)
	}
	if *count < 1 {
		return fmt.Errorf("invalid CLI override: count must be at least 1, got %d", *count)
	}
	applyOverrides(cfg, ov)

	// Initialize debug system
	debug.Init(cfg.Defaults.DebugLevel)
	debug.Section("Initialization")
	debug.Value("Config path", *cfgPath)
	debug.Value("Debug level", cfg.Defaults.DebugLevel)
	debug.Value("Camera", cfg.Camera.Address)

	notifiers := notify.Multi{}
	if cfg.Notify.NATSURL != "" {
		debug.Step(1, "Connecting to NATS")
		pub, err := notify.ConnectNATS(cfg.Notify.NATSURL, cfg.Notify.Subject)
		if err != nil {
			return err
		}
		defer pub.Close()
		notifiers = append(notifiers, pub)
	}

	var broadcaster *web.StatusBroadcaster
	if webPort.port() > 0 {
		broadcaster = web.NewStatusBroadcaster()
		debug.SetOutput(io.MultiWriter(os.Stderr, web.BroadcastWriter(broadcaster)))
		defer debug.SetOutput(os.Stderr)
		notifiers = append(notifiers, broadcaster)
	}

	// Initialize camera
	debug.Step(2, "Connecting to camera")
	cam, err := camera.New(ctx, cfg, notifiers)
	if err != nil {
		return err
	}
	defer func() {
		if err := cam.Close(); err != nil {
			debug.Error(fmt.Errorf("closing camera: %w", err))
		}
	}()

	if port := webPort.port(); port > 0 {
		h := web.NewHandlers(broadcaster, cam.Shoot, cam.Images(), settingsFromConfig(cfg, cam.Dir()))
		h.BaseContext = ctx
		return web.NewServer(fmt.Sprintf(":%d", port), h).Run(ctx)
	}

	return shoot(ctx, cam, capture.TimelapseParams{Count: *count, Interval: *interval}, stdout)
}

// shoot runs p.Count captures, waits for their downloads and prints the
// persisted paths. A single shot is indexed under the configured mode, a
// series as a timelapse.
func shoot(ctx context.Context, cam camera.Camera, p capture.TimelapseParams, stdout io.Writer) error {
	debug.Step(3, "Capturing")
	var results []capture.Result
	var err error
	if p.Count == 1 {
		var res capture.Result
		if res, err = cam.Shoot(ctx); err == nil {
			results = []capture.Result{res}
		}
	} else {
		results, err = capture.NewSequence(cam).RunTimelapse(ctx, p)
	}
	cam.WaitTransfers()
	if err != nil {
		return fmt.Errorf("capture failed: %w", err)
	}

	debug.Summary("Capture Summary")
	expected := 0
	for _, res := range results {
		if res.HasObject {
			expected++
		}
	}
	if expected == 0 {
		debug.Info("No object reported by the camera")
		return nil
	}
	n := 0
	for _, paths := range cam.Images().Snapshot() {
		for _, path := range paths {
			fmt.Fprintln(stdout, path)
			n++
		}
	}
	if n == 0 {
		return fmt.Errorf("%d objects reported, none persisted: %w", expected, capture.ErrTransferFailed)
	}
	return nil
}

func settingsFromConfig(cfg *config.Config, dir string) web.Settings {
	return web.Settings{
		CameraAddress: cfg.Camera.Address,
		FocusWaitMs:   cfg.Capture.FocusWaitMs,
		ObjectWaitMs:  cfg.Capture.ObjectWaitMs,
		AwaitObject:   cfg.AwaitObject(),
		ShootingMode:  cfg.Capture.ShootingMode,
		OutputDir:     dir,
	}
}

// validateCLIOverrides checks non-empty CLI overrides.
// Empty values are ignored (they mean "use config default").
func validateCLIOverrides(ov overrides) error {
	if ov.Address != "" {
		if _, _, err := net.SplitHostPort(ov.Address); err != nil {
			return fmt.Errorf("address must be host:port, got %q", ov.Address)
		}
	}
	if ov.OutputDir != "" {
		if fi, err := os.Stat(ov.OutputDir); err == nil && !fi.IsDir() {
			return fmt.Errorf("out %q is not a directory", ov.OutputDir)
		}
	}
	return nil
}

// applyOverrides mutates cfg with overrides. Only non-empty values are applied.
func applyOverrides(cfg *config.Config, ov overrides) {
	if ov.Address != "" {
		cfg.Camera.Address = ov.Address
	}
	if ov.OutputDir != "" {
		cfg.Capture.OutputDir = filepath.Clean(ov.OutputDir)
	}
}

// webPortFlag implements flag.Value for -web: 0 = disabled, -web= or -web 8080 → 8080, -web 8980 → 8980.
type webPortFlag struct {
	val         int
	defaultPort int
}

func (w *webPortFlag) String() string {
	if w.val == 0 {
		return "0"
	}
	return strconv.Itoa(w.val)
}

func (w *webPortFlag) Set(s string) error {
	if s == "" {
		w.val = w.defaultPort
		return nil
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return err
	}
	if v <= 0 || v > 65535 {
		return fmt.Errorf("port must be 1-65535, got %d", v)
	}
	w.val = v
	return nil
}

func (w *webPortFlag) port() int { return w.val }
