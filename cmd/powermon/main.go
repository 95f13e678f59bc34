package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/spf13/pflag"

	"powermon/internal/clock"
	"powermon/internal/config"
	"powermon/internal/engine"
	"powermon/internal/errors"
	"powermon/internal/logger"
	"powermon/internal/power"
	"powermon/internal/report"
	"powermon/internal/store"
)

type app struct {
	engine   *engine.Engine
	reporter *report.Reporter
}

func main() {
	global := pflag.NewFlagSet("powermon", pflag.ContinueOnError)
	global.SetInterspersed(false)
	global.Usage = func() { printUsage(global) }
	global.String("database", config.DefaultDatabase, "path to the power database")
	global.String("log-level", config.DefaultLogLevel, "log level (debug|info|warn|error)")
	global.Int("cache-size", config.DefaultCacheSize, "device cache entries, 0 disables")

	if err := global.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	args := global.Args()
	if len(args) == 0 || args[0] == "help" {
		printUsage(global)
		return
	}

	cfg, err := config.Load(global)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	if err := logger.Init(cfg.LogLevel, logger.IsService()); err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	logger.Debug().Msg("Config loaded")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, args[0], args[1:]); err != nil {
		var coded errors.Error
		if errors.As(err, &coded) {
			logger.ErrorWithCode(coded).Msg("Command failed")
		} else {
			logger.Error().Err(err).Msg("Command failed")
		}
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, command string, args []string) error {
	errFactory := errors.New()

	s, err := store.New(store.Config{
		DBPath:          cfg.Database,
		DeviceCacheSize: cfg.CacheSize,
	}, logger.Default())
	if err != nil {
		return err
	}
	defer func() {
		if err := s.Close(); err != nil {
			logger.Error().Err(err).Msg("Failed to close store")
		}
	}()

	clk := clock.System()
	a := &app{
		engine:   engine.New(s, logger.Default(), clk),
		reporter: report.New(s, logger.Default(), clk),
	}

	switch command {
	case "register":
		return a.cmdRegister(ctx, args)
	case "add-meter":
		return a.cmdAddMeter(ctx, args)
	case "meters":
		return a.cmdMeters(ctx, args)
	case "log":
		return a.cmdLog(ctx, args)
	case "wattage":
		return a.cmdWattage(ctx, args)
	case "runtime":
		return a.cmdRuntime(ctx, args)
	case "event":
		return a.cmdEvent(ctx, args)
	case "events":
		return a.cmdEvents(ctx, args)
	case "budget":
		return a.cmdBudget(ctx, args)
	case "history":
		return a.cmdHistory(ctx, args)
	case "report":
		return a.cmdReport(ctx, args)
	case "chart":
		return a.cmdChart(ctx, args)
	default:
		return errFactory.WithData(errors.ErrInvalidArgument, "unknown command: "+command)
	}
}

func usageError(usage string) error {
	return errors.New().WithMessage(errors.ErrInvalidArgument, "usage: powermon "+usage)
}

func parseFloatArg(name, raw string) (float64, error) {
	value, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, errors.New().WithData(errors.ErrInvalidArgument,
			fmt.Sprintf("%s must be a number, got %q", name, raw))
	}
	return value, nil
}

func printJSON(v any) error {
	raw, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(raw))

	return nil
}

func (a *app) cmdRegister(ctx context.Context, args []string) error {
	fs := pflag.NewFlagSet("register", pflag.ContinueOnError)
	threshold := fs.Float64("threshold", 3.0, "shutdown threshold in volts")
	target := fs.Float64("target", 0, "target watt-hours")
	if err := fs.Parse(args); err != nil {
		return err
	}
	rest := fs.Args()
	if len(rest) != 2 {
		return usageError("register <device-id> <name> [--threshold V] [--target WH]")
	}

	var targetWh *float64
	if fs.Changed("target") {
		targetWh = target
	}

	device, err := a.engine.RegisterDevice(ctx, rest[0], rest[1], *threshold, targetWh)
	if err != nil {
		return err
	}

	return printJSON(device)
}

func (a *app) cmdAddMeter(ctx context.Context, args []string) error {
	fs := pflag.NewFlagSet("add-meter", pflag.ContinueOnError)
	capacity := fs.Float64("capacity", 0, "battery capacity in watt-hours")
	name := fs.String("name", "", "meter name")
	if err := fs.Parse(args); err != nil {
		return err
	}
	rest := fs.Args()
	if len(rest) != 2 {
		return usageError("add-meter <device-id> <type> [--capacity WH] [--name NAME]")
	}

	meter, err := a.engine.AddMeter(ctx, rest[0], rest[1], *capacity, *name)
	if err != nil {
		return err
	}

	return printJSON(meter)
}

func (a *app) cmdMeters(ctx context.Context, args []string) error {
	fs := pflag.NewFlagSet("meters", pflag.ContinueOnError)
	deviceID := fs.String("device", "", "only meters of this device")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if len(fs.Args()) != 0 {
		return usageError("meters [--device DEVICE]")
	}

	meters, err := a.engine.ListMeters(ctx, *deviceID)
	if err != nil {
		return err
	}
	if meters == nil {
		meters = []power.Meter{}
	}

	return printJSON(meters)
}

func (a *app) cmdLog(ctx context.Context, args []string) error {
	fs := pflag.NewFlagSet("log", pflag.ContinueOnError)
	charge := fs.Float64("charge", 0, "charge percentage, reuses the stored value when omitted")
	if err := fs.Parse(args); err != nil {
		return err
	}
	rest := fs.Args()
	if len(rest) != 3 {
		return usageError("log <meter-id> <voltage> <current> [--charge PCT]")
	}

	voltage, err := parseFloatArg("voltage", rest[1])
	if err != nil {
		return err
	}
	current, err := parseFloatArg("current", rest[2])
	if err != nil {
		return err
	}

	var chargePct *float64
	if fs.Changed("charge") {
		chargePct = charge
	}

	reading, err := a.engine.LogPower(ctx, rest[0], voltage, current, chargePct)
	if err != nil {
		return err
	}

	return printJSON(reading)
}

func (a *app) cmdWattage(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return usageError("wattage <meter-id>")
	}

	wattage, err := a.engine.CalculateWattage(ctx, args[0])
	if err != nil {
		return err
	}
	fmt.Printf("%.4f\n", wattage)

	return nil
}

func (a *app) cmdRuntime(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return usageError("runtime <device-id>")
	}

	hours, ok, err := a.reporter.EstimateRuntime(ctx, args[0])
	if err != nil {
		return err
	}
	if !ok {
		fmt.Println("no estimate available")
		return nil
	}
	fmt.Printf("%.2f\n", hours)

	return nil
}

func (a *app) cmdEvent(ctx context.Context, args []string) error {
	fs := pflag.NewFlagSet("event", pflag.ContinueOnError)
	value := fs.Float64("value", 0, "event value")
	note := fs.String("note", "", "free-form note")
	if err := fs.Parse(args); err != nil {
		return err
	}
	rest := fs.Args()
	if len(rest) != 2 {
		return usageError("event <device-id> <type> [--value N] [--note NOTE]")
	}

	event, err := a.engine.TriggerEvent(ctx, rest[0], rest[1], *value, *note)
	if err != nil {
		return err
	}

	return printJSON(event)
}

func (a *app) cmdEvents(ctx context.Context, args []string) error {
	fs := pflag.NewFlagSet("events", pflag.ContinueOnError)
	limit := fs.Int("limit", 0, "maximum events to return, 50 when omitted")
	if err := fs.Parse(args); err != nil {
		return err
	}
	rest := fs.Args()
	if len(rest) != 1 {
		return usageError("events <device-id> [--limit N]")
	}

	events, err := a.engine.GetEvents(ctx, rest[0], *limit)
	if err != nil {
		return err
	}
	if events == nil {
		events = []power.Event{}
	}

	return printJSON(events)
}

func (a *app) cmdBudget(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return usageError("budget <device-id> [<device-id>...]")
	}

	return printJSON(a.reporter.PowerBudgetCheck(ctx, args))
}

func (a *app) cmdHistory(ctx context.Context, args []string) error {
	fs := pflag.NewFlagSet("history", pflag.ContinueOnError)
	hours := fs.Int("hours", 0, "trailing window in hours, 24 when omitted")
	if err := fs.Parse(args); err != nil {
		return err
	}
	rest := fs.Args()
	if len(rest) != 1 {
		return usageError("history <meter-id> [--hours N]")
	}

	readings, err := a.reporter.GetHistory(ctx, rest[0], *hours)
	if err != nil {
		return err
	}
	if readings == nil {
		readings = []power.Reading{}
	}

	return printJSON(readings)
}

func (a *app) cmdReport(ctx context.Context, args []string) error {
	fs := pflag.NewFlagSet("report", pflag.ContinueOnError)
	days := fs.Int("days", 0, "report window in days, 7 when omitted")
	if err := fs.Parse(args); err != nil {
		return err
	}
	rest := fs.Args()
	if len(rest) != 1 {
		return usageError("report <device-id> [--days N]")
	}

	rpt, err := a.reporter.ExportReport(ctx, rest[0], *days)
	if err != nil {
		return err
	}

	return printJSON(rpt)
}

func (a *app) cmdChart(ctx context.Context, args []string) error {
	fs := pflag.NewFlagSet("chart", pflag.ContinueOnError)
	hours := fs.Int("hours", 0, "trailing window in hours, 24 when omitted")
	out := fs.String("out", "history.png", "output file")
	if err := fs.Parse(args); err != nil {
		return err
	}
	rest := fs.Args()
	if len(rest) != 1 {
		return usageError("chart <meter-id> [--hours N] [--out FILE]")
	}

	f, err := os.Create(*out)
	if err != nil {
		return err
	}

	if err := a.reporter.RenderHistoryChart(ctx, rest[0], *hours, f); err != nil {
		f.Close()
		os.Remove(*out)
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}

	logger.Info().Str("path", *out).Msg("Chart written")

	return nil
}

func printUsage(global *pflag.FlagSet) {
	fmt.Fprintf(os.Stderr, `Power telemetry recorder for edge devices

Usage:
  powermon [flags] <command> [command flags] [args]

Commands:
  register <device-id> <name>     Register or update a device
  add-meter <device-id> <type>    Attach a meter (main|battery|solar|ups)
  meters                          List meters
  log <meter-id> <volts> <amps>   Record a power reading
  wattage <meter-id>              Current wattage of a meter
  runtime <device-id>             Estimated battery runtime in hours
  event <device-id> <type>        Raise an event (charge_start|discharge|low_battery|shutdown|restore)
  events <device-id>              List recent events, newest first
  budget <device-id> [...]        Power budget check across devices
  history <meter-id>              Readings from the trailing window
  report <device-id>              Export a device report as JSON
  chart <meter-id>                Render history to a PNG

Flags:
%s`, global.FlagUsages())
}
