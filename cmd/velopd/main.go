package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/matthiufungho/linksys-velop/internal/actions"
	"github.com/matthiufungho/linksys-velop/internal/bridge"
	"github.com/matthiufungho/linksys-velop/internal/config"
	"github.com/matthiufungho/linksys-velop/internal/diagnostics"
	"github.com/matthiufungho/linksys-velop/internal/event"
	"github.com/matthiufungho/linksys-velop/internal/mesh"
	"github.com/matthiufungho/linksys-velop/internal/metrics"
	"github.com/matthiufungho/linksys-velop/internal/model"
	"github.com/matthiufungho/linksys-velop/internal/server"
)

const usage = `velopd - Linksys Velop mesh bridge

Usage:
  velopd init --config <path> --node <addr> --password <pw>
  velopd serve --config <path>
  velopd status --config <path>
  velopd nodes --config <path>
  velopd devices --config <path>
  velopd actions [--yaml]
  velopd check-updates --config <path>
  velopd reboot-node --config <path> --node <name> [--is-primary]
  velopd delete-device --config <path> [--id <id>] [--name <name>]
  velopd speedtest start|status|stats --config <path> [--window 24h]
  velopd guest-wifi on|off --config <path>
  velopd parental-control on|off --config <path>
  velopd diagnostics --config <path>
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	cmd := os.Args[1]
	switch cmd {
	case "-h", "--help", "help":
		fmt.Print(usage)
	case "init":
		handleInit(os.Args[2:])
	case "serve":
		handleServe(os.Args[2:])
	case "status":
		handleStatus(os.Args[2:])
	case "nodes":
		handleNodes(os.Args[2:])
	case "devices":
		handleDevices(os.Args[2:])
	case "actions":
		handleActions(os.Args[2:])
	case "check-updates":
		handleCheckUpdates(os.Args[2:])
	case "reboot-node":
		handleRebootNode(os.Args[2:])
	case "delete-device":
		handleDeleteDevice(os.Args[2:])
	case "speedtest":
		handleSpeedtest(os.Args[2:])
	case "guest-wifi":
		handleGuestWiFi(os.Args[2:])
	case "parental-control":
		handleParentalControl(os.Args[2:])
	case "diagnostics":
		handleDiagnostics(os.Args[2:])
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n", cmd)
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
}

func handleInit(args []string) {
	fs := flag.NewFlagSet("init", flag.ExitOnError)
	configPath := fs.String("config", "", "path to YAML config")
	node := fs.String("node", "", "primary node address")
	password := fs.String("password", "", "mesh admin password")
	listen := fs.String("listen", "", "bridge listen address")
	dataDir := fs.String("data-dir", "", "data directory")
	_ = fs.Parse(args)

	if *configPath == "" {
		fatal(errors.New("--config is required"))
	}
	if *node == "" || *password == "" {
		fatal(errors.New("--node and --password are required"))
	}

	cfg := config.Config{
		Mesh:   &config.MeshConfig{Node: *node, Password: *password},
		Bridge: &config.BridgeConfig{Listen: *listen, DataDir: *dataDir},
	}
	config.ApplyDefaults(&cfg)
	if err := config.Validate(cfg); err != nil {
		fatal(err)
	}

	client := newMesh(cfg, newLogger(cfg))
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout(cfg))
	defer cancel()
	if err := client.CheckCredentials(ctx); err != nil {
		fatal(fmt.Errorf("credential check against %s failed: %w", *node, err))
	}

	if err := config.Save(*configPath, cfg); err != nil {
		fatal(err)
	}
	fmt.Fprintf(os.Stdout, "wrote %s\n", *configPath)
}

func handleServe(args []string) {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	configPath := fs.String("config", "", "path to YAML config")
	listen := fs.String("listen", "", "listen address override")
	_ = fs.Parse(args)

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fatal(err)
	}
	if cfg.Bridge == nil {
		cfg.Bridge = &config.BridgeConfig{}
		config.ApplyDefaults(&cfg)
	}
	if *listen != "" {
		cfg.Bridge.Listen = *listen
	}
	if err := config.Validate(cfg); err != nil {
		fatal(err)
	}

	log := newLogger(cfg)
	client := newMesh(cfg, log)
	bus := event.NewBus()

	loop, err := bridge.New(client, bus, *cfg.Bridge, log)
	if err != nil {
		fatal(err)
	}

	ctx, cancel := signalContext()
	defer cancel()
	go func() {
		if err := loop.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.WithError(err).Error("bridge loop stopped")
		}
	}()

	handler := actions.NewHandler(client, log)
	srv := server.NewServer(cfg, client, handler, bus, loop, log)
	fatal(srv.ListenAndServe())
}

func handleStatus(args []string) {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	configPath := fs.String("config", "", "path to YAML config")
	_ = fs.Parse(args)

	snapshot := gather(*configPath)
	primary := snapshot.PrimaryNode()
	primaryName := "-"
	if primary != nil {
		primaryName = primary.Name
	}

	online := 0
	for _, device := range snapshot.Devices {
		if device.Status {
			online++
		}
	}

	fmt.Fprintf(os.Stdout, "mesh=%s wan=%v primary=%s\n", snapshot.ConnectedNode, snapshot.WANStatus, primaryName)
	fmt.Fprintf(os.Stdout, "nodes=%d devices=%d online=%d\n", len(snapshot.Nodes), len(snapshot.Devices), online)
	fmt.Fprintf(os.Stdout, "guest_wifi=%v parental_control=%v\n", snapshot.GuestWiFiEnabled, snapshot.ParentalControlEnabled)
}

func handleNodes(args []string) {
	fs := flag.NewFlagSet("nodes", flag.ExitOnError)
	configPath := fs.String("config", "", "path to YAML config")
	_ = fs.Parse(args)

	snapshot := gather(*configPath)
	for _, node := range snapshot.Nodes {
		status := "offline"
		if node.Status {
			status = "online"
		}
		fmt.Fprintf(os.Stdout, "%-20s %-9s %-7s fw=%s", node.Name, node.Type, status, node.FirmwareVersion)
		if node.Backhaul != nil {
			fmt.Fprintf(os.Stdout, " backhaul=%s %.0f Mbps", node.Backhaul.ConnectionType, node.Backhaul.SpeedMbps)
		}
		fmt.Fprintln(os.Stdout)
	}
}

func handleDevices(args []string) {
	fs := flag.NewFlagSet("devices", flag.ExitOnError)
	configPath := fs.String("config", "", "path to YAML config")
	all := fs.Bool("all", false, "include offline devices")
	_ = fs.Parse(args)

	snapshot := gather(*configPath)
	for _, device := range snapshot.Devices {
		if !device.Status && !*all {
			continue
		}
		status := "offline"
		if device.Status {
			status = "online"
		}
		ip := "-"
		for _, adapter := range device.ConnectedAdapters {
			if adapter.IP != "" {
				ip = adapter.IP
				break
			}
		}
		fmt.Fprintf(os.Stdout, "%-30s %-7s %-15s parent=%s\n", device.Name, status, ip, device.ParentName)
	}
}

func handleActions(args []string) {
	fs := flag.NewFlagSet("actions", flag.ExitOnError)
	asYAML := fs.Bool("yaml", false, "print the schema document as YAML")
	_ = fs.Parse(args)

	doc := actions.Builtin()
	if *asYAML {
		data, err := actions.Marshal(doc)
		if err != nil {
			fatal(err)
		}
		os.Stdout.Write(data)
		return
	}

	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	fatal(encoder.Encode(doc))
}

func handleCheckUpdates(args []string) {
	fs := flag.NewFlagSet("check-updates", flag.ExitOnError)
	configPath := fs.String("config", "", "path to YAML config")
	wait := fs.Bool("wait", false, "wait for the check to finish")
	_ = fs.Parse(args)

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fatal(err)
	}
	client := newMesh(cfg, newLogger(cfg))

	ctx, cancel := signalContext()
	defer cancel()
	if err := client.CheckForUpdates(ctx); err != nil {
		fatal(err)
	}
	fmt.Fprintln(os.Stdout, "update check started")

	if !*wait {
		return
	}
	for {
		time.Sleep(time.Second)
		running, err := client.UpdateCheckRunning(ctx)
		if err != nil {
			fatal(err)
		}
		if !running {
			break
		}
	}

	snapshot, err := client.GatherDetails(ctx)
	if err != nil {
		fatal(err)
	}
	for _, node := range snapshot.Nodes {
		if node.LatestFirmware != "" && node.LatestFirmware != node.FirmwareVersion {
			fmt.Fprintf(os.Stdout, "%s: %s -> %s\n", node.Name, node.FirmwareVersion, node.LatestFirmware)
		} else {
			fmt.Fprintf(os.Stdout, "%s: up to date (%s)\n", node.Name, node.FirmwareVersion)
		}
	}
}

func handleRebootNode(args []string) {
	fs := flag.NewFlagSet("reboot-node", flag.ExitOnError)
	configPath := fs.String("config", "", "path to YAML config")
	node := fs.String("node", "", "node name")
	isPrimary := fs.Bool("is-primary", false, "confirm rebooting the primary node")
	_ = fs.Parse(args)

	if *node == "" {
		fatal(errors.New("--node is required"))
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fatal(err)
	}
	client := newMesh(cfg, newLogger(cfg))

	ctx, cancel := signalContext()
	defer cancel()
	if err := client.RebootNode(ctx, *node, *isPrimary); err != nil {
		fatal(err)
	}
	fmt.Fprintf(os.Stdout, "reboot issued for %s\n", *node)
}

func handleDeleteDevice(args []string) {
	fs := flag.NewFlagSet("delete-device", flag.ExitOnError)
	configPath := fs.String("config", "", "path to YAML config")
	id := fs.String("id", "", "device unique ID")
	name := fs.String("name", "", "device name")
	_ = fs.Parse(args)

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fatal(err)
	}
	client := newMesh(cfg, newLogger(cfg))

	ctx, cancel := signalContext()
	defer cancel()
	if err := client.DeleteDevice(ctx, *id, *name); err != nil {
		fatal(err)
	}
	fmt.Fprintln(os.Stdout, "device deleted")
}

func handleSpeedtest(args []string) {
	if len(args) == 0 {
		fmt.Fprint(os.Stderr, "speedtest subcommand required: start|status|stats\n")
		os.Exit(2)
	}

	switch args[0] {
	case "start":
		speedtestStart(args[1:])
	case "status":
		speedtestStatus(args[1:])
	case "stats":
		speedtestStats(args[1:])
	default:
		fmt.Fprintf(os.Stderr, "unknown speedtest subcommand %q\n", args[0])
		os.Exit(2)
	}
}

func speedtestStart(args []string) {
	fs := flag.NewFlagSet("speedtest start", flag.ExitOnError)
	configPath := fs.String("config", "", "path to YAML config")
	wait := fs.Bool("wait", false, "wait for the run to finish and print the result")
	_ = fs.Parse(args)

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fatal(err)
	}
	client := newMesh(cfg, newLogger(cfg))

	ctx, cancel := signalContext()
	defer cancel()
	if err := client.StartSpeedtest(ctx); err != nil {
		fatal(err)
	}
	fmt.Fprintln(os.Stdout, "speed test started")

	if !*wait {
		return
	}
	for {
		time.Sleep(time.Second)
		stage, err := client.SpeedtestStage(ctx)
		if err != nil {
			fatal(err)
		}
		if stage == "" {
			break
		}
		fmt.Fprintf(os.Stdout, "stage=%s\n", stage)
	}
	printLatestSpeedtest(ctx, client)
}

func speedtestStatus(args []string) {
	fs := flag.NewFlagSet("speedtest status", flag.ExitOnError)
	configPath := fs.String("config", "", "path to YAML config")
	_ = fs.Parse(args)

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fatal(err)
	}
	client := newMesh(cfg, newLogger(cfg))

	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout(cfg))
	defer cancel()
	stage, err := client.SpeedtestStage(ctx)
	if err != nil {
		fatal(err)
	}
	if stage == "" {
		fmt.Fprintln(os.Stdout, "idle")
	} else {
		fmt.Fprintf(os.Stdout, "running stage=%s\n", stage)
	}
	printLatestSpeedtest(ctx, client)
}

func speedtestStats(args []string) {
	fs := flag.NewFlagSet("speedtest stats", flag.ExitOnError)
	configPath := fs.String("config", "", "path to YAML config")
	window := fs.Duration("window", 24*time.Hour, "time window")
	_ = fs.Parse(args)

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fatal(err)
	}
	if cfg.Bridge == nil || cfg.Bridge.SpeedtestHistory == "" {
		fatal(errors.New("bridge.speedtest_history required"))
	}

	items, err := metrics.ReadCSV(cfg.Bridge.SpeedtestHistory)
	if err != nil {
		fatal(err)
	}

	cutoff := time.Now().UTC().Add(-*window)
	summary := metrics.Summarize(items, cutoff)
	if summary.Count == 0 {
		fmt.Fprintln(os.Stdout, "no runs in window")
		return
	}

	fmt.Fprintf(os.Stdout, "runs=%d from=%s to=%s\n", summary.Count, summary.From.Format(time.RFC3339), summary.To.Format(time.RFC3339))
	fmt.Fprintf(os.Stdout, "download avg=%.1f p95=%.1f min=%.1f max=%.1f Mbps\n", summary.AvgDownloadMbps, summary.P95DownloadMbps, summary.MinDownloadMbps, summary.MaxDownloadMbps)
	fmt.Fprintf(os.Stdout, "upload avg=%.1f Mbps latency avg=%.1f ms\n", summary.AvgUploadMbps, summary.AvgLatencyMs)
}

func printLatestSpeedtest(ctx context.Context, client *mesh.Client) {
	latest, err := client.LatestSpeedtestResult(ctx)
	if err != nil {
		fatal(err)
	}
	if latest == nil {
		fmt.Fprintln(os.Stdout, "no results recorded")
		return
	}
	fmt.Fprintf(os.Stdout, "latest: %s down=%.1f Mbps up=%.1f Mbps latency=%.0f ms (%s)\n",
		latest.Timestamp.Format(time.RFC3339), latest.DownloadMbps, latest.UploadMbps, latest.LatencyMs, latest.ExitCode)
}

func handleGuestWiFi(args []string) {
	enabled, rest := parseToggle("guest-wifi", args)
	client, ctx, cancel := toggleClient("guest-wifi", rest)
	defer cancel()
	if err := client.SetGuestWiFi(ctx, enabled); err != nil {
		fatal(err)
	}
	fmt.Fprintf(os.Stdout, "guest wifi enabled=%v\n", enabled)
}

func handleParentalControl(args []string) {
	enabled, rest := parseToggle("parental-control", args)
	client, ctx, cancel := toggleClient("parental-control", rest)
	defer cancel()
	if err := client.SetParentalControl(ctx, enabled); err != nil {
		fatal(err)
	}
	fmt.Fprintf(os.Stdout, "parental control enabled=%v\n", enabled)
}

func parseToggle(cmd string, args []string) (bool, []string) {
	if len(args) == 0 || (args[0] != "on" && args[0] != "off") {
		fmt.Fprintf(os.Stderr, "%s subcommand required: on|off\n", cmd)
		os.Exit(2)
	}
	return args[0] == "on", args[1:]
}

func toggleClient(cmd string, args []string) (*mesh.Client, context.Context, context.CancelFunc) {
	fs := flag.NewFlagSet(cmd, flag.ExitOnError)
	configPath := fs.String("config", "", "path to YAML config")
	_ = fs.Parse(args)

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fatal(err)
	}
	client := newMesh(cfg, newLogger(cfg))
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout(cfg))
	return client, ctx, cancel
}

func handleDiagnostics(args []string) {
	fs := flag.NewFlagSet("diagnostics", flag.ExitOnError)
	configPath := fs.String("config", "", "path to YAML config")
	_ = fs.Parse(args)

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fatal(err)
	}
	client := newMesh(cfg, newLogger(cfg))

	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout(cfg))
	defer cancel()
	snapshot, err := client.GatherDetails(ctx)
	if err != nil {
		fatal(err)
	}

	payload, err := diagnostics.Build(cfg, snapshot)
	if err != nil {
		fatal(err)
	}

	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	fatal(encoder.Encode(payload))
}

func gather(configPath string) *model.Mesh {
	cfg, err := loadConfig(configPath)
	if err != nil {
		fatal(err)
	}
	client := newMesh(cfg, newLogger(cfg))

	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout(cfg))
	defer cancel()
	snapshot, err := client.GatherDetails(ctx)
	if err != nil {
		fatal(err)
	}
	return snapshot
}

func loadConfig(path string) (config.Config, error) {
	if path == "" {
		return config.Config{}, errors.New("--config is required")
	}
	cfg, err := config.Load(path)
	if err != nil {
		return config.Config{}, err
	}
	if err := config.Validate(cfg); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

func newMesh(cfg config.Config, log *logrus.Logger) *mesh.Client {
	return mesh.New(cfg.Mesh.Node, cfg.Mesh.Password, requestTimeout(cfg), log)
}

func requestTimeout(cfg config.Config) time.Duration {
	sec := config.DefaultRequestTimeoutSec
	if cfg.Mesh != nil && cfg.Mesh.RequestTimeoutSec > 0 {
		sec = cfg.Mesh.RequestTimeoutSec
	}
	return time.Duration(sec) * time.Second
}

func newLogger(cfg config.Config) *logrus.Logger {
	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	level := config.DefaultLogLevel
	if cfg.Bridge != nil && cfg.Bridge.LogLevel != "" {
		level = cfg.Bridge.LogLevel
	}
	parsed, err := logrus.ParseLevel(level)
	if err != nil {
		parsed = logrus.InfoLevel
	}
	log.SetLevel(parsed)
	return log
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-signals
		cancel()
	}()
	return ctx, cancel
}

func fatal(err error) {
	if err == nil {
		return
	}
	fmt.Fprintln(os.Stderr, err)
	os.Exit(1)
}
