// Command parley runs a full-duplex voice session between the local
// microphone and speaker and a remote conversational speech service.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.opentelemetry.io/otel"

	"github.com/MrWong99/parley/internal/config"
	"github.com/MrWong99/parley/internal/control"
	"github.com/MrWong99/parley/internal/discovery"
	"github.com/MrWong99/parley/internal/health"
	"github.com/MrWong99/parley/internal/observe"
	"github.com/MrWong99/parley/internal/resilience"
	"github.com/MrWong99/parley/internal/session"
	"github.com/MrWong99/parley/internal/tui"
	"github.com/MrWong99/parley/pkg/audio"
	"github.com/MrWong99/parley/pkg/audio/oto"
	"github.com/MrWong99/parley/pkg/audio/portaudio"
	"github.com/MrWong99/parley/pkg/live"
	"github.com/MrWong99/parley/pkg/live/gemini"
	"github.com/MrWong99/parley/pkg/live/genai"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "parley.yaml", "path to the YAML configuration file")
	useTUI := flag.Bool("tui", false, "run the interactive terminal console")
	logFile := flag.String("log-file", "parley.log", "log destination while the terminal console is active")
	flag.Parse()

	// ── Logger ────────────────────────────────────────────────────────────────
	// The console owns the terminal, so logs go to a file in that mode.
	var logOut io.Writer = os.Stderr
	if *useTUI {
		f, err := os.OpenFile(*logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "parley: open log file: %v\n", err)
			return 1
		}
		defer f.Close()
		logOut = f
	}
	level := new(slog.LevelVar)
	slog.SetDefault(slog.New(slog.NewTextHandler(logOut, &slog.HandlerOptions{Level: level})))

	// ── Load configuration ────────────────────────────────────────────────────
	// ctrl is assigned below; the watcher only calls back from Run.
	var ctrl *session.Controller
	watcher, err := config.NewWatcher(*configPath, func(_, _ *config.Config, d config.ConfigDiff) {
		applyDiff(level, ctrl, d)
	})
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "parley: config file %q not found\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "parley: %v\n", err)
		}
		return 1
	}
	current := *watcher.Current()
	cfg := &current
	if cfg.Remote.APIKey == "" {
		cfg.Remote.APIKey = os.Getenv("GEMINI_API_KEY")
	}
	level.Set(slogLevel(cfg.Server.LogLevel))

	slog.Info("parley starting",
		"version", version,
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"remote", cfg.Remote.Name,
		"input", cfg.Audio.Input.Backend,
		"output", cfg.Audio.Output.Backend,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	tel, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceVersion: version})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tel.Shutdown(sctx); err != nil {
			slog.Warn("telemetry shutdown", "err", err)
		}
	}()
	metrics, err := observe.NewMetrics(otel.GetMeterProvider())
	if err != nil {
		slog.Error("failed to create metrics", "err", err)
		return 1
	}

	// ── Providers and devices ─────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltins(reg)

	remote, err := reg.CreateRemote(ctx, cfg.Remote)
	if err != nil {
		slog.Error("failed to create remote provider", "err", err)
		return 1
	}
	input, err := reg.CreateInput(cfg.Audio.Input)
	if err != nil {
		slog.Error("failed to create audio input", "err", err)
		return 1
	}
	output, err := reg.CreateOutput(cfg.Audio.Output)
	if err != nil {
		slog.Error("failed to create audio output", "err", err)
		return 1
	}

	breaker := resilience.New(resilience.Config{
		Name:         cfg.Remote.Name,
		MaxFailures:  cfg.Session.Breaker.MaxFailures,
		ResetTimeout: cfg.Session.Breaker.ResetTimeout,
		OnStateChange: func(from, to resilience.State) {
			slog.Warn("remote circuit breaker changed state", "from", from, "to", to)
		},
	})

	ctrl, err = session.New(session.Config{
		Provider:       remote,
		Input:          input,
		Output:         output,
		Session:        cfg.Session.Live(),
		PollInterval:   cfg.Session.PollInterval,
		ConnectTimeout: cfg.Session.ConnectTimeout,
		Breaker:        breaker,
		Metrics:        metrics,
	})
	if err != nil {
		slog.Error("failed to create session controller", "err", err)
		return 1
	}

	// ── HTTP server ───────────────────────────────────────────────────────────
	mux := http.NewServeMux()
	control.New(ctrl, control.WithStopTimeout(cfg.Session.StopTimeout)).Register(mux)
	health.New(
		health.SessionChecker(ctrl, 2*cfg.Session.StopTimeout),
		health.RemoteChecker(breaker),
	).Register(mux)
	mux.Handle("GET /metrics", tel.MetricsHandler())

	srv := &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           observe.Middleware(metrics)(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}
	srvErr := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			srvErr <- err
		}
		close(srvErr)
	}()

	// ── mDNS (optional) ───────────────────────────────────────────────────────
	if cfg.Server.MDNS.Enabled {
		if adv := advertise(cfg); adv != nil {
			defer adv.Close()
		}
	}

	go watcher.Run(ctx)
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)
	go reloadOnHangup(ctx, hup, watcher)

	// ── Main loop ─────────────────────────────────────────────────────────────
	exit := 0
	if *useTUI {
		if err := tui.Run(ctx, ctrl, cfg.Session.StopTimeout); err != nil {
			slog.Error("console error", "err", err)
			exit = 1
		}
	} else {
		slog.Info("server ready, press Ctrl+C to shut down", "addr", cfg.Server.ListenAddr)
		select {
		case <-ctx.Done():
		case err := <-srvErr:
			if err != nil {
				slog.Error("http server error", "err", err)
				exit = 1
			}
		}
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	slog.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Session.StopTimeout+5*time.Second)
	defer cancel()

	stopCtx, stopCancel := context.WithTimeout(shutdownCtx, cfg.Session.StopTimeout)
	msg := ctrl.Stop(stopCtx)
	stopCancel()
	if msg == session.MsgStopPending {
		slog.Warn("session did not finish teardown in time", "stop_timeout", cfg.Session.StopTimeout)
		exit = 1
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("http shutdown error", "err", err)
		exit = 1
	}
	slog.Info("goodbye")
	return exit
}

// registerBuiltins wires every implementation that ships with Parley into reg.
func registerBuiltins(reg *config.Registry) {
	// ── Remote ────────────────────────────────────────────────────────────────
	reg.RegisterRemote("gemini-live", func(_ context.Context, e config.ProviderEntry) (live.Provider, error) {
		var opts []gemini.Option
		if e.Model != "" {
			opts = append(opts, gemini.WithModel(e.Model))
		}
		if e.BaseURL != "" {
			opts = append(opts, gemini.WithBaseURL(e.BaseURL))
		}
		return gemini.New(e.APIKey, opts...), nil
	})

	reg.RegisterRemote("genai-live", func(ctx context.Context, e config.ProviderEntry) (live.Provider, error) {
		return genai.New(ctx, genai.Config{
			APIKey:   e.APIKey,
			Vertex:   e.OptionString("backend") == "vertex",
			Project:  e.OptionString("project"),
			Location: e.OptionString("location"),
			Model:    e.Model,
			BaseURL:  e.BaseURL,
		})
	})

	// ── Audio ─────────────────────────────────────────────────────────────────
	reg.RegisterInput("portaudio", func(config.DeviceEntry) (audio.Input, error) {
		return portaudio.New(), nil
	})
	reg.RegisterOutput("portaudio", func(config.DeviceEntry) (audio.Output, error) {
		return portaudio.New(), nil
	})
	reg.RegisterOutput("oto", func(e config.DeviceEntry) (audio.Output, error) {
		var opts []oto.Option
		if s, ok := e.Options["buffer"].(string); ok {
			d, err := time.ParseDuration(s)
			if err != nil {
				return nil, fmt.Errorf("oto: options.buffer: %w", err)
			}
			opts = append(opts, oto.WithBufferSize(d))
		}
		return oto.New(opts...), nil
	})
}

// reloadOnHangup re-reads the config file each time a signal arrives on hup.
func reloadOnHangup(ctx context.Context, hup <-chan os.Signal, w *config.Watcher) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-hup:
		}
		switch err := w.Reload(); {
		case errors.Is(err, config.ErrUnchanged):
			slog.Info("config reload requested, file unchanged")
		case err != nil:
			slog.Warn("config reload failed, keeping previous config", "err", err)
		}
	}
}

// applyDiff applies the hot-reloadable part of a config change.
func applyDiff(level *slog.LevelVar, ctrl *session.Controller, d config.ConfigDiff) {
	if d.LogLevelChanged {
		level.Set(slogLevel(d.NewLogLevel))
		slog.Info("log level changed", "level", d.NewLogLevel)
	}
	if d.SessionChanged && ctrl != nil {
		ctrl.UpdateSessionConfig(d.NewSession.Live())
		slog.Info("session settings updated, effective from the next session")
	}
	if len(d.RestartRequired) > 0 {
		slog.Warn("config changes need a restart to take effect", "fields", d.RestartRequired)
	}
}

// advertise publishes the control API over mDNS. Failures are logged and
// do not stop the daemon.
func advertise(cfg *config.Config) *discovery.Advertiser {
	port, err := discovery.PortFromAddr(cfg.Server.ListenAddr)
	if err != nil {
		slog.Warn("mdns disabled", "err", err)
		return nil
	}
	adv, err := discovery.Advertise(discovery.Config{
		Instance: cfg.Server.MDNS.ServiceName,
		Port:     port,
		Version:  version,
	})
	if err != nil {
		slog.Warn("mdns disabled", "err", err)
		return nil
	}
	return adv
}

func slogLevel(l config.LogLevel) slog.Level {
	switch l {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
