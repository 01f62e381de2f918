// Command pusher connects to a channel service and logs the events it
// receives, or publishes events through the HTTP API.
//
// Usage:
//
//	pusher [flags] listen [-addr :8080] [-channels a,b]
//	pusher [flags] trigger -channel a[,b] -event name -data payload
//	pusher [flags] batch events.json
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"
	"golang.org/x/term"

	"github.com/Guliveer/pusher-go/internal/config"
	"github.com/Guliveer/pusher-go/internal/logger"
	"github.com/Guliveer/pusher-go/internal/metric"
	"github.com/Guliveer/pusher-go/internal/model"
	"github.com/Guliveer/pusher-go/internal/pusher"
	"github.com/Guliveer/pusher-go/internal/server"
	"github.com/Guliveer/pusher-go/internal/socket"
	"github.com/Guliveer/pusher-go/internal/trigger"
)

const defaultHealthAddr = ":8080"

func main() {
	configPath := flag.String("config", "", "Path to the YAML configuration file")
	envFile := flag.String("env", ".env", "Path to a .env file (ignored if missing)")
	logLevel := flag.String("log-level", "", "Log level: DEBUG, INFO, WARN, ERROR (overrides config)")
	logDir := flag.String("log-dir", "", "Directory for a log file in addition to the console")
	noColor := flag.Bool("no-color", false, "Disable colored output (overrides TTY detection)")
	flag.Usage = usage
	flag.Parse()

	if flag.NArg() == 0 {
		usage()
		os.Exit(2)
	}

	if err := config.LoadDotEnv(*envFile); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load %s: %v\n", *envFile, err)
		os.Exit(1)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	level := slog.LevelInfo
	if *logLevel != "" {
		level = logger.ParseLevel(*logLevel)
	} else if cfg.LogLevel != "" {
		level = logger.ParseLevel(cfg.LogLevel)
	}

	colored := !*noColor && term.IsTerminal(int(os.Stdout.Fd())) && os.Getenv("NO_COLOR") == ""

	rootLog, err := logger.Setup(logger.Config{
		Level:     level,
		FileLevel: slog.LevelDebug,
		Colored:   colored,
		LogDir:    *logDir,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to setup logger: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		rootLog.Info("Received shutdown signal", "signal", sig.String())
		cancel()

		time.AfterFunc(30*time.Second, func() {
			rootLog.Error("Graceful shutdown timed out, forcing exit")
			os.Exit(1)
		})
	}()

	cmd, args := flag.Arg(0), flag.Args()[1:]
	switch cmd {
	case "listen":
		err = runListen(ctx, cfg, rootLog, args)
	case "trigger":
		err = runTrigger(ctx, cfg, rootLog, args)
	case "batch":
		err = runBatch(ctx, cfg, rootLog, args)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command %q\n\n", cmd)
		usage()
		os.Exit(2)
	}

	if err != nil {
		rootLog.Error("Command failed", "command", cmd, "error", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintf(os.Stderr, "Usage: %s [flags] <listen|trigger|batch> [command flags]\n\nFlags:\n", os.Args[0])
	flag.PrintDefaults()
}

func runListen(ctx context.Context, cfg *config.Config, log *logger.Logger, args []string) error {
	fs := flag.NewFlagSet("listen", flag.ContinueOnError)
	addr := fs.String("addr", "", "Address for the health and metrics server (empty uses config or "+defaultHealthAddr+")")
	channels := fs.String("channels", "", "Comma-separated channels to subscribe (overrides config)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if *channels != "" {
		cfg.Channels = splitList(*channels)
	}
	healthAddr := *addr
	if healthAddr == "" {
		healthAddr = cfg.HealthAddr
	}
	if healthAddr == "" {
		healthAddr = defaultHealthAddr
	}

	reg := prometheus.NewRegistry()
	client, err := pusher.New(cfg, log, pusher.Options{Metrics: metric.New(reg)})
	if err != nil {
		return err
	}

	eventLog := log.WithComponent("events")
	client.BindFunc("", "", func(ev model.Event) {
		eventLog.Info("Event received", "channel", ev.Channel, "event", ev.Event, "data", ev.Data)
	})
	client.OnError(func(err error) {
		log.Warn("Client error", "error", err)
	})

	failed := make(chan error, 1)
	client.OnStateChange(func(t socket.Transition) {
		if t.To != socket.StateFailed {
			return
		}
		select {
		case failed <- t.Err:
		default:
		}
	})

	for _, ch := range cfg.Channels {
		if err := client.Subscribe(ctx, ch); err != nil {
			return fmt.Errorf("subscribing %s: %w", ch, err)
		}
	}
	log.Info("Starting listener", "channels", len(cfg.Channels), "url", cfg.SocketURL())

	g, gctx := errgroup.WithContext(ctx)

	health := server.NewHealthServer(healthAddr, reg, log.WithComponent("health"))
	health.SetStatusFunc(client.Status)
	g.Go(func() error {
		return health.Run(gctx)
	})

	g.Go(func() error {
		if err := client.Connect(gctx); err != nil {
			return err
		}
		defer client.Disconnect()

		select {
		case <-gctx.Done():
			return gctx.Err()
		case err := <-failed:
			return fmt.Errorf("connection failed: %w", err)
		}
	})

	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		log.Info("Shutdown complete")
		return nil
	}
	return err
}

func runTrigger(ctx context.Context, cfg *config.Config, log *logger.Logger, args []string) error {
	fs := flag.NewFlagSet("trigger", flag.ContinueOnError)
	channels := fs.String("channel", "", "Comma-separated channel names")
	event := fs.String("event", "", "Event name")
	data := fs.String("data", "", "Event data; - reads standard input")
	socketID := fs.String("socket-id", "", "Socket id to exclude from delivery")
	if err := fs.Parse(args); err != nil {
		return err
	}

	payload := *data
	if payload == "-" {
		b, err := io.ReadAll(os.Stdin)
		if err != nil {
			return fmt.Errorf("reading data from stdin: %w", err)
		}
		payload = string(b)
	}

	client, err := pusher.New(cfg, log, pusher.Options{})
	if err != nil {
		return err
	}

	var params *trigger.Params
	if *socketID != "" {
		params = &trigger.Params{SocketID: *socketID}
	}

	names := splitList(*channels)
	if err := client.TriggerMulti(ctx, names, *event, payload, params); err != nil {
		return err
	}
	log.Info("Event triggered", "event", *event, "channel", strings.Join(names, ","))
	return nil
}

func runBatch(ctx context.Context, cfg *config.Config, log *logger.Logger, args []string) error {
	if len(args) != 1 {
		return errors.New("batch expects one JSON file argument (- for stdin)")
	}

	var r io.Reader = os.Stdin
	if args[0] != "-" {
		f, err := os.Open(args[0])
		if err != nil {
			return fmt.Errorf("opening batch file: %w", err)
		}
		defer f.Close()
		r = f
	}

	var events []model.BatchEvent
	if err := json.NewDecoder(r).Decode(&events); err != nil {
		return fmt.Errorf("parsing batch file: %w", err)
	}

	client, err := pusher.New(cfg, log, pusher.Options{})
	if err != nil {
		return err
	}
	if err := client.TriggerBatches(ctx, events); err != nil {
		return err
	}
	log.Info("Batch triggered", "events", len(events))
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
