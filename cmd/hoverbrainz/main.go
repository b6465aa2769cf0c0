package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"
)

const version = "0.3.0"

func printVersion() {
	fmt.Printf("hoverbrainz v%s\n", version)
	fmt.Println("Control and safety loop for two-wheel hoverboard drives")
}

func printUsage() {
	printVersion()
	fmt.Println()
	fmt.Println("USAGE:")
	fmt.Println("  hoverbrainz [OPTIONS]")
	fmt.Println()
	fmt.Println("OPTIONS:")
	fmt.Println("  -config string")
	fmt.Println("        Path to YAML config file (env HOVER_CONFIG)")
	fmt.Println("  -input string")
	fmt.Println("        Input variant: analog|pulse_width|motion|serial|test_sweep")
	fmt.Println("  -serial-port string")
	fmt.Println("        Serial device for the serial input")
	fmt.Println("  -can-interface string")
	fmt.Println("        SocketCAN interface of the motor controllers (empty = log only)")
	fmt.Println("  -power-devices string")
	fmt.Println("        Comma-separated evdev devices reporting KEY_POWER")
	fmt.Println("  -ipc-socket string")
	fmt.Printf("        Unix domain socket path for IPC (default %q)\n", DefaultConfig().IPC.SocketPath)
	fmt.Println("  -telemetry-listen string")
	fmt.Printf("        Telemetry HTTP/websocket listen address, empty disables (default %q)\n", DefaultConfig().Telemetry.ListenAddr)
	fmt.Println("  -log-level string")
	fmt.Println("        Log level: error, warn, info, debug (default \"info\")")
	fmt.Println("  -version")
	fmt.Println("        Print version and exit")
	fmt.Println("  -help")
	fmt.Println("        Print this help message")
	fmt.Println()
	fmt.Println("Configuration precedence: defaults < config file < HOVER_* environment < flags.")
}

func main() {
	var (
		configPath      = flag.String("config", "", "Path to YAML config file")
		inputVariant    = flag.String("input", "", "Input variant")
		serialPort      = flag.String("serial-port", "", "Serial device for the serial input")
		canInterface    = flag.String("can-interface", "", "SocketCAN interface")
		powerDevices    = flag.String("power-devices", "", "Comma-separated evdev devices")
		ipcSocket       = flag.String("ipc-socket", "", "Unix domain socket path for IPC")
		telemetryListen = flag.String("telemetry-listen", "", "Telemetry listen address")
		logLevel        = flag.String("log-level", "", "Log level: error, warn, info, debug")
		showVersion     = flag.Bool("version", false, "Print version and exit")
		showHelp        = flag.Bool("help", false, "Print help message")
	)
	flag.Usage = printUsage
	flag.Parse()

	if *showHelp {
		printUsage()
		return
	}
	if *showVersion {
		printVersion()
		return
	}

	envOverrides, err := LoadEnvOverrides()
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}

	cfg := DefaultConfig()
	path := envOverrides.ConfigPath
	if *configPath != "" {
		path = *configPath
	}
	if path != "" {
		cfg, err = LoadConfigFile(path)
		if err != nil {
			fmt.Fprintln(os.Stderr, "error:", err)
			os.Exit(1)
		}
	}
	envOverrides.Apply(&cfg)

	// Only flags given on the command line override the file.
	var fo FlagOverrides
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "input":
			fo.InputVariant = inputVariant
		case "serial-port":
			fo.SerialPort = serialPort
		case "can-interface":
			fo.CANInterface = canInterface
		case "power-devices":
			fo.PowerDevices = powerDevices
		case "ipc-socket":
			fo.IPCSocket = ipcSocket
		case "telemetry-listen":
			fo.TelemetryListen = telemetryListen
		case "log-level":
			fo.LogLevel = logLevel
		}
	})
	fo.Apply(&cfg)

	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, "error: invalid configuration:", err)
		os.Exit(1)
	}

	level, _ := parseLogLevel(cfg.Logging.Level)
	logger := setupLogger(os.Stdout, level, cfg.Logging.Format)

	controlCfg, err := cfg.ToControlConfig()
	if err != nil {
		logger.Error("failed to build control config", "error", err)
		os.Exit(1)
	}

	hw, closeHW, err := newHardware(cfg, logger)
	if err != nil {
		logger.Error("failed to initialize motor bus", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err = runAndRelease(ctx, cfg, controlCfg, hw, closeHW, logger)
	stop()
	if err != nil {
		logger.Error("hoverbrainz exited with error", "error", err)
		os.Exit(1)
	}
}

// runAndRelease runs the daemon and releases the hardware before returning,
// so the motor bus is closed even on the error path where main calls os.Exit.
func runAndRelease(ctx context.Context, cfg Config, controlCfg ControlConfig, hw *Hardware, closeHW func(), logger *slog.Logger) error {
	defer closeHW()
	return run(ctx, cfg, controlCfg, hw, logger)
}

// run starts every subsystem and blocks until the loop halts, ctx is
// canceled or a subsystem fails.
func run(ctx context.Context, cfg Config, controlCfg ControlConfig, hw *Hardware, logger *slog.Logger) error {
	logger.Info("starting hoverbrainz",
		"version", version,
		"input", controlCfg.Input.Variant(),
		"tick", controlCfg.TickPeriod,
		"max_slew", controlCfg.MaxSlew,
		"slew_mode", controlCfg.SlewMode,
		"inactivity_ticks", controlCfg.InactivityLimitTicks,
	)

	events := make(chan Event, 256)
	broadcasts := make(chan StateBroadcast, 64)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)

	var outs []chan StateBroadcast

	if cfg.Telemetry.ListenAddr != "" {
		ts := NewTelemetryServer(logger, events, HubConfig{})
		wsFeed := make(chan StateBroadcast, 64)
		outs = append(outs, wsFeed)
		mux := newTelemetryMux(ts, cfg.Telemetry.WSPath, events)

		g.Go(func() error { ts.Hub().Run(gctx); return nil })
		g.Go(func() error { RunBroadcaster(gctx, ts.Hub(), wsFeed, logger); return nil })
		g.Go(func() error { return runHTTPServer(gctx, cfg.Telemetry.ListenAddr, mux, logger) })
	}

	if cfg.Telemetry.MQTT.Enabled {
		client, closeMQTT, err := connectMQTT(cfg.Telemetry.MQTT, logger)
		if err != nil {
			// Telemetry is optional; the vehicle still drives.
			logger.Warn("mqtt telemetry disabled", "error", err)
		} else {
			defer closeMQTT()
			feed := make(chan StateBroadcast, 64)
			outs = append(outs, feed)
			g.Go(func() error {
				runTelemetrySink(gctx, "mqtt", feed, mqttPublish(client, cfg.Telemetry.MQTT), logger)
				return nil
			})
		}
	}

	if cfg.Telemetry.AMQP.Enabled {
		ch, closeAMQP, err := connectAMQP(cfg.Telemetry.AMQP, logger)
		if err != nil {
			logger.Warn("amqp telemetry disabled", "error", err)
		} else {
			defer closeAMQP()
			feed := make(chan StateBroadcast, 64)
			outs = append(outs, feed)
			g.Go(func() error {
				runTelemetrySink(gctx, "amqp", feed, amqpPublish(ch, cfg.Telemetry.AMQP), logger)
				return nil
			})
		}
	}

	g.Go(func() error { runBroadcastFanout(gctx, broadcasts, outs); return nil })

	g.Go(func() error { return runIPCServer(gctx, cfg.IPC.SocketPath, events, logger) })

	if controlCfg.Input.Variant() == InputSerial {
		g.Go(func() error { return runSerialLink(gctx, cfg.Input.Serial, events, logger) })
	}

	if len(cfg.Power.ButtonDevices) > 0 {
		g.Go(func() error { return runPowerButtonReader(gctx, cfg.Power.ButtonDevices, events, logger) })
	}

	playStartupChime(hw, logger)

	g.Go(func() error {
		// The loop halting ends the process.
		defer cancel()
		runDaemon(gctx, events, broadcasts, hw, controlCfg, NewLoopState(controlCfg), logger)
		return nil
	})

	err := g.Wait()
	logger.Info("hoverbrainz stopped")
	return err
}
