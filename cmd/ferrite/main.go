package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/mattn/go-isatty"

	"github.com/ferrite-bot/ferrite/internal/bus"
	"github.com/ferrite-bot/ferrite/internal/coc"
	"github.com/ferrite-bot/ferrite/internal/command"
	"github.com/ferrite-bot/ferrite/internal/commands"
	"github.com/ferrite-bot/ferrite/internal/config"
	"github.com/ferrite-bot/ferrite/internal/crates"
	"github.com/ferrite-bot/ferrite/internal/discord"
	"github.com/ferrite-bot/ferrite/internal/dispatch"
	"github.com/ferrite-bot/ferrite/internal/gateway"
	"github.com/ferrite-bot/ferrite/internal/health"
	"github.com/ferrite-bot/ferrite/internal/jobs"
	"github.com/ferrite-bot/ferrite/internal/perms"
	"github.com/ferrite-bot/ferrite/internal/persistence"
	"github.com/ferrite-bot/ferrite/internal/telemetry"
)

// Version is set via ldflags at build time: -ldflags "-X main.Version=..."
var Version = "v0.1-dev"

func printUsage() {
	fmt.Fprintf(os.Stderr, `Usage of %s:

  %s                      Run the bot (gateway session + health endpoints)
  %s -version             Print the version and exit

FLAGS:
`, os.Args[0], os.Args[0], os.Args[0])
	flag.PrintDefaults()
	fmt.Fprintf(os.Stderr, `
ENVIRONMENT VARIABLES:
  FERRITE_HOME            Data directory (default: ~/.ferrite)
  DISCORD_TOKEN           Bot token (required)
  FERRITE_LOG_LEVEL       debug, info, warn, or error

Configuration is read from $FERRITE_HOME/config.yaml; environment variables
override file values. Editing config.yaml while running reloads role IDs and
feature toggles; everything else needs a restart.
`)
}

func main() {
	loadDotEnv(".env")

	showVersion := flag.Bool("version", false, "print version and exit")
	home := flag.String("home", "", "data directory (overrides FERRITE_HOME)")
	flag.Usage = printUsage
	flag.Parse()

	if *showVersion {
		fmt.Println("ferrite", Version)
		return
	}
	if *home != "" {
		_ = os.Setenv("FERRITE_HOME", *home)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	os.Exit(run(ctx, stop))
}

func run(ctx context.Context, stop context.CancelFunc) int {
	cfg, err := config.Load()
	if err != nil {
		fatalStartup(nil, "E_CONFIG_LOAD", err)
	}

	interactive := isatty.IsTerminal(os.Stdout.Fd())
	logger, closer, err := telemetry.NewLogger(cfg.HomeDir, cfg.LogLevel, interactive)
	if err != nil {
		fatalStartup(nil, "E_LOGGER_INIT", err)
	}
	defer closer.Close()
	slog.SetDefault(logger)
	logger.Info("startup phase", "phase", "config_loaded", "fingerprint", cfg.Fingerprint())

	if cfg.Discord.Token == "" {
		fatalStartup(logger, "E_MISSING_TOKEN",
			errors.New("no bot token; set DISCORD_TOKEN or discord.token in config.yaml"))
	}

	eventBus := bus.New()

	store, err := persistence.Open(filepath.Join(cfg.HomeDir, "ferrite.db"), eventBus)
	if err != nil {
		fatalStartup(logger, "E_STORE_OPEN", err)
	}
	defer store.Close()
	logger.Info("startup phase", "phase", "schema_migrated")

	roles, err := seedRoles(ctx, store, cfg.Roles)
	if err != nil {
		fatalStartup(logger, "E_ROLE_SEED", err)
	}

	cache := perms.NewCache()
	resolver := perms.NewResolver(cache, roles, logger)

	rest, err := discord.NewClient(discord.ClientConfig{
		Token:   cfg.Discord.Token,
		BaseURL: cfg.Discord.APIBaseURL,
		Logger:  logger,
	})
	if err != nil {
		fatalStartup(logger, "E_REST_CLIENT", err)
	}

	registry := crates.NewClient(crates.Config{
		UserAgent: cfg.Crates.UserAgent,
		Logger:    logger,
	})

	tracker := coc.NewTracker(coc.Config{
		Store: store,
		Rest:  rest,
		// Read through the resolver so a config reload affects future binds.
		TalkRole: func() string { return resolver.Roles().Talk },
		Message:  cfg.CoCMessage,
		Logger:   logger,
	})

	router := command.New(command.Config{
		Prefix:   cfg.Prefix,
		Resolver: resolver,
		Rest:     rest,
		Logger:   logger,
		Bus:      eventBus,
	})
	toggles := commands.NewToggles(cfg.Features.Tags, cfg.Features.Crates)
	err = commands.Register(router, commands.Deps{
		Store:    store,
		Rest:     rest,
		Crates:   registry,
		Tracker:  tracker,
		Resolver: resolver,
		Logger:   logger,
	}, toggles)
	if err != nil {
		fatalStartup(logger, "E_COMMAND_REGISTER", err)
	}
	logger.Info("startup phase", "phase", "commands_registered", "prefix", cfg.Prefix)

	intents := cfg.Discord.Intents
	if intents == 0 {
		intents = discord.DefaultIntents
	}
	session, err := gateway.New(gateway.Config{
		Token:      cfg.Discord.Token,
		Intents:    intents,
		GatewayURL: cfg.Discord.GatewayURL,
		URLFunc: func(urlCtx context.Context) (string, error) {
			resp, err := rest.GatewayBot(urlCtx)
			if err != nil {
				return "", err
			}
			logger.Info("gateway url fetched",
				"url", resp.URL,
				"sessions_remaining", resp.SessionStartLimit.Remaining)
			return resp.URL, nil
		},
		Logger: logger,
		Bus:    eventBus,
	})
	if err != nil {
		fatalStartup(logger, "E_GATEWAY_INIT", err)
	}

	loop := dispatch.New(dispatch.Config{
		Events:         session.Events(),
		Router:         router,
		Tracker:        tracker,
		Cache:          cache,
		Store:          store,
		Logger:         logger,
		Workers:        cfg.WorkerCount,
		HandlerTimeout: time.Duration(cfg.HandlerTimeoutSeconds) * time.Second,
		DrainTimeout:   time.Duration(cfg.DrainTimeoutSeconds) * time.Second,
	})

	healthSrv := health.NewServer(health.Config{
		Addr:    cfg.BindAddr,
		Store:   store,
		Session: session,
		Logger:  logger,
	})
	healthErr, err := healthSrv.Start()
	if err != nil {
		if isAddrInUse(err) {
			err = fmt.Errorf("%w\n\n  %s is already in use. Stop the other process or change bind_addr in config.yaml.",
				err, cfg.BindAddr)
		}
		fatalStartup(logger, "E_HEALTH_BIND", err)
	}
	logger.Info("startup phase", "phase", "health_listener_bound", "addr", healthSrv.Addr())

	sweep := jobs.NewUnbanSweep(store, rest, eventBus, logger)
	sched, err := jobs.NewScheduler(jobs.Config{
		Jobs:   []jobs.Job{sweep.Job(), jobs.HistoryPruneJob(router)},
		Logger: logger,
	})
	if err != nil {
		fatalStartup(logger, "E_JOBS_INIT", err)
	}
	sched.Start(ctx)
	defer sched.Stop()
	logger.Info("startup phase", "phase", "scheduler_started")

	watcher := config.NewWatcher(cfg.HomeDir, logger)
	if err := watcher.Start(ctx); err != nil {
		logger.Warn("config watcher unavailable; role and feature reloads disabled", "error", err)
	} else {
		go func() {
			for range watcher.Events() {
				newCfg, err := config.Load()
				if err != nil {
					logger.Error("config reload failed; keeping previous settings", "error", err)
					continue
				}
				newRoles, err := seedRoles(context.Background(), store, newCfg.Roles)
				if err != nil {
					logger.Error("config reload failed to seed roles", "error", err)
					continue
				}
				resolver.SetRoles(newRoles)
				toggles.Apply(newCfg.Features.Tags, newCfg.Features.Crates)
				logger.Info("config reloaded", "fingerprint", newCfg.Fingerprint())
			}
		}()
	}

	sessionErr := make(chan error, 1)
	go func() { sessionErr <- session.Run(ctx) }()

	loopDone := make(chan struct{})
	go func() {
		defer close(loopDone)
		loop.Run(ctx)
	}()
	logger.Info("ferrite running", "version", Version)

	exit := 0
	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-sessionErr:
		// Run only returns an error on a fatal close code (bad token,
		// invalid intents). Exit non-zero and let supervision decide.
		if err != nil {
			logger.Error("gateway session failed", "error", err)
			exit = 1
		} else {
			logger.Info("gateway session ended")
		}
	case err := <-healthErr:
		logger.Error("health server failed", "error", err)
		exit = 1
	}

	// Shutdown: stop intake first, then wait for in-flight handlers to
	// drain before the deferred closes tear down the store.
	stop()
	select {
	case <-loopDone:
	case <-time.After(time.Duration(cfg.DrainTimeoutSeconds)*time.Second + 5*time.Second):
		logger.Warn("dispatch loop did not exit in time")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = healthSrv.Shutdown(shutdownCtx)

	logger.Info("shutdown complete")
	return exit
}

// seedRoles merges configured role IDs with the stored registry. Config
// values win and are written back; stored values fill the gaps so removing
// a yaml entry does not forget a previously known role.
func seedRoles(ctx context.Context, store *persistence.Store, rc config.RolesConfig) (perms.RoleSet, error) {
	stored, err := store.Roles(ctx)
	if err != nil {
		return perms.RoleSet{}, fmt.Errorf("load role registry: %w", err)
	}
	pick := func(name, configured string) (string, error) {
		if configured == "" {
			return stored[name], nil
		}
		if configured != stored[name] {
			if err := store.UpsertRole(ctx, name, configured); err != nil {
				return "", err
			}
		}
		return configured, nil
	}

	var set perms.RoleSet
	if set.Mod, err = pick("mod", rc.Mod); err != nil {
		return set, err
	}
	if set.Talk, err = pick("talk", rc.Talk); err != nil {
		return set, err
	}
	if set.WgAndTeams, err = pick("wg_and_teams", rc.WgAndTeams); err != nil {
		return set, err
	}
	return set, nil
}

func fatalStartup(logger *slog.Logger, reasonCode string, err error) {
	message := ""
	if err != nil {
		message = err.Error()
	}
	if logger != nil {
		logger.Error("startup failure", "reason_code", reasonCode, "error", message)
	} else {
		fmt.Fprintf(
			os.Stderr,
			`{"timestamp":"%s","level":"ERROR","component":"runtime","msg":"startup failure","reason_code":%q,"error":%q}`+"\n",
			time.Now().UTC().Format(time.RFC3339Nano),
			reasonCode,
			message,
		)
	}
	os.Exit(1)
}

func isAddrInUse(err error) bool {
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		var sysErr *os.SyscallError
		if errors.As(opErr.Err, &sysErr) {
			return sysErr.Err == syscall.EADDRINUSE
		}
	}
	return strings.Contains(err.Error(), "address already in use")
}

func loadDotEnv(path string) {
	f, err := os.Open(path)
	if err != nil {
		return
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		eq := strings.Index(line, "=")
		if eq <= 0 {
			continue
		}
		key := strings.TrimSpace(line[:eq])
		val := strings.TrimSpace(line[eq+1:])
		if key == "" || os.Getenv(key) != "" {
			continue
		}
		_ = os.Setenv(key, val)
	}
}
