package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"
	_ "time/tzdata"

	"golang.org/x/sync/errgroup"

	"calcore/internal/config"
	"calcore/internal/events"
	"calcore/internal/ics"
	appLog "calcore/internal/log"
	"calcore/internal/query"
	"calcore/internal/reminder"
	"calcore/internal/schedule"
	"calcore/internal/storage"
	"calcore/internal/view"
	"calcore/internal/web"
)

const version = "1.0.0"

// flagConfig holds CLI flag values that override or bypass the config file.
type flagConfig struct {
	configPath string
	listen     string
	dataFile   string
	importPath string
	exportPath string
	debug      bool
}

func main() {
	flags := parseFlags()
	if flags.debug {
		appLog.SetLevel(appLog.LevelDebug)
	}
	appLog.Info("calcore starting", "version", version)

	conf, err := config.Load(flags.configPath)
	if err != nil {
		appLog.Error("failed to load config", err, "config_path", flags.configPath)
		os.Exit(1)
	}
	if flags.listen != "" {
		conf.Listen = flags.listen
	}
	if flags.dataFile != "" {
		conf.DataFile = flags.dataFile
	}
	if !flags.debug {
		appLog.SetLevel(appLog.ParseLevel(conf.LogLevel))
	}

	loc, err := conf.Location()
	if err != nil {
		appLog.Error("failed to load timezone; falling back to local", err, "timezone", conf.Timezone)
		loc = time.Local
	}

	appLog.Info("effective config",
		"listen", conf.Listen,
		"timezone", loc.String(),
		"data_file", conf.DataFile,
		"work_start_hour", conf.WorkStartHour,
		"work_end_hour", conf.WorkEndHour,
		"reminder_cron", conf.ReminderCron,
		"strict_load", conf.StrictLoad,
	)

	repo, err := events.Open(
		storage.NewFileStore(conf.DataFile, loc),
		events.WithLocation(loc),
		events.WithDefaultReminder(conf.DefaultReminderMinutes),
		events.WithStrictLoad(conf.StrictLoad),
	)
	if err != nil {
		appLog.Error("failed to open event repository", err, "data_file", conf.DataFile)
		os.Exit(1)
	}

	engine := query.NewEngine(repo, query.WithLocation(loc))
	deps := web.Deps{
		Repo:     repo,
		Engine:   engine,
		Analyzer: schedule.NewAnalyzer(engine, schedule.WithLocation(loc), schedule.WithWorkHours(conf.WorkStartHour, conf.WorkEndHour)),
		Grid:     view.NewBuilder(engine, view.WithLocation(loc)),
	}

	// One-shot ICS modes run and exit without starting the server.
	if flags.importPath != "" || flags.exportPath != "" {
		if err := runInterchange(flags, repo, engine, loc); err != nil {
			os.Exit(1)
		}
		return
	}

	poller, err := reminder.NewPoller(engine, conf.ReminderCron, reminder.WithLocation(loc))
	if err != nil {
		appLog.Error("failed to set up reminder poller", err, "reminder_cron", conf.ReminderCron)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return poller.Run(gctx) })
	g.Go(func() error { return web.StartServer(gctx, conf, deps) })

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		appLog.Error("calcore stopped with error", err)
		os.Exit(1)
	}
	appLog.Info("calcore exiting")
}

func runInterchange(flags flagConfig, repo *events.Repository, engine *query.Engine, loc *time.Location) error {
	if flags.importPath != "" {
		f, err := os.Open(flags.importPath)
		if err != nil {
			appLog.Error("failed to open ICS file", err, "path", flags.importPath)
			return err
		}
		defer f.Close()

		res, err := ics.Import(f, loc, repo)
		if err != nil {
			appLog.Error("ICS import failed", err, "path", flags.importPath, "created", res.Created)
			return err
		}
		appLog.Info("ICS import done", "path", flags.importPath, "created", res.Created, "skipped", res.Skipped)
	}

	if flags.exportPath != "" {
		f, err := os.Create(flags.exportPath)
		if err != nil {
			appLog.Error("failed to create ICS file", err, "path", flags.exportPath)
			return err
		}
		defer f.Close()

		all := engine.All()
		if err := ics.Export(f, all); err != nil {
			return err
		}
		appLog.Info("ICS export done", "path", flags.exportPath, "event_count", len(all))
	}
	return nil
}

func parseFlags() flagConfig {
	var cfg flagConfig

	flag.StringVar(&cfg.configPath, "config", "config.yaml", "Path to config file")
	flag.StringVar(&cfg.listen, "listen", "", "HTTP listen address (overrides config if set)")
	flag.StringVar(&cfg.dataFile, "data", "", "Event data file (overrides config if set)")
	flag.StringVar(&cfg.importPath, "import", "", "Import events from an ICS file and exit")
	flag.StringVar(&cfg.exportPath, "export", "", "Export all events to an ICS file and exit")
	flag.BoolVar(&cfg.debug, "debug", false, "Enable debug logging")

	flag.Parse()

	return cfg
}
