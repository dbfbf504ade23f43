package main

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	tbapi "github.com/OvyFlash/telegram-bot-api"
	"github.com/fatih/color"
	"github.com/go-pkgz/lgr"
	"github.com/jessevdk/go-flags"

	"github.com/tg-lounge/tg-lounge/app/core"
	"github.com/tg-lounge/tg-lounge/app/msgcache"
	"github.com/tg-lounge/tg-lounge/app/relay"
	"github.com/tg-lounge/tg-lounge/app/scheduler"
	"github.com/tg-lounge/tg-lounge/app/stats"
	"github.com/tg-lounge/tg-lounge/app/storage"
	"github.com/tg-lounge/tg-lounge/app/storage/engine"
	"github.com/tg-lounge/tg-lounge/app/webapi"
)

type options struct {
	Quiet  bool   `short:"q" long:"quiet" description:"show warnings and errors only"`
	Debug  bool   `short:"d" long:"debug" description:"debug mode"`
	Config string `short:"c" long:"config" default:"./config.yaml" description:"config file location"`
}

var revision = "local"

func main() {
	fmt.Printf("tg-lounge %s\n", revision)

	var opts options
	p := flags.NewParser(&opts, flags.PrintErrors|flags.PassDoubleDash|flags.HelpFlag)
	if _, err := p.Parse(); err != nil {
		var flagsErr *flags.Error
		if errors.As(err, &flagsErr) && flagsErr.Type == flags.ErrHelp {
			os.Exit(0)
		}
		os.Exit(1)
	}

	cfg, err := loadConfig(opts.Config)
	if err != nil {
		log.Printf("[ERROR] %v", err)
		os.Exit(1)
	}
	setupLog(opts.Debug, opts.Quiet, cfg.BotToken)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := execute(ctx, cfg); err != nil {
		log.Printf("[ERROR] %v", err)
		os.Exit(1)
	}
}

func execute(ctx context.Context, cfg *config) error {
	store, err := openStore(cfg.Database)
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.Printf("[WARN] failed to close store: %v", err)
		}
	}()

	if cfg.SecretSalt != "" {
		salt, err := hex.DecodeString(cfg.SecretSalt)
		if err != nil {
			return fmt.Errorf("secret_salt is not a hex string: %w", err)
		}
		storage.SetObfuscationSalt(salt)
	}
	if cfg.Locale != "" && cfg.Locale != "en" {
		log.Printf("[WARN] locale %q not available, using english replies", cfg.Locale)
	}

	net, err := cfg.network()
	if err != nil {
		return err
	}

	api, err := tbapi.NewBotAPI(cfg.BotToken)
	if err != nil {
		return fmt.Errorf("failed to connect to telegram: %w", err)
	}
	log.Printf("[INFO] authorized as @%s", api.Self.UserName)

	mc := msgcache.New()
	rel := relay.New(api, mc, net, relay.Config{
		AllowContacts:   cfg.AllowContacts,
		AllowDocuments:  cfg.AllowDocuments,
		AllowRemove:     cfg.AllowRemoveCommand,
		EnableSigning:   cfg.EnableSigning,
		HideForwardFrom: cfg.HideForwardFrom,
		Workers:         cfg.RelayWorkers,
		AuditLog:        cfg.AuditLog,
	})
	engine := core.New(store, mc, rel, core.Config{
		BlacklistContact: cfg.BlacklistContact,
		EnableSigning:    cfg.EnableSigning,
		MediaLimitPeriod: time.Duration(cfg.MediaLimitPeriod) * time.Hour,
		SignInterval:     time.Duration(cfg.SignLimitInterval) * time.Second,
		SecretSalt:       cfg.SecretSalt,
		Version:          revision,
	})
	rel.SetCore(engine)

	sched := scheduler.New()
	engine.RegisterTasks(sched)
	rel.RegisterTasks(sched)
	store.RegisterTasks(sched)

	registry := stats.NewRegistry()
	engine.RegisterStats(registry)

	go sched.Run(ctx)
	go func() {
		socket := stats.SocketServer{Registry: registry, Path: stats.SocketPath(cfg.BotName)}
		if err := socket.Run(ctx); err != nil {
			log.Printf("[WARN] stats socket failed: %v", err)
		}
	}()
	if cfg.StatusListen != "" {
		go func() {
			srv := webapi.Server{ListenAddr: cfg.StatusListen, Version: revision, Registry: registry}
			if err := srv.Run(ctx); err != nil {
				log.Printf("[WARN] status server failed: %v", err)
			}
		}()
	}
	go func() {
		if err := net.Watch(ctx); err != nil {
			log.Printf("[WARN] linked network watch failed: %v", err)
		}
	}()

	return rel.Run(ctx)
}

// openStore creates the configured storage backend, database is [type, args...]
func openStore(database []string) (storage.Store, error) {
	if len(database) < 2 {
		return nil, fmt.Errorf("config database must be [type, args...], got %v", database)
	}
	switch database[0] {
	case "json":
		return storage.NewJSON(database[1])
	case "sqlite":
		if dir := filepath.Dir(database[1]); dir != "." {
			if err := os.MkdirAll(dir, 0o700); err != nil {
				return nil, fmt.Errorf("failed to create %s: %w", dir, err)
			}
		}
		db, err := engine.NewSqlite(database[1])
		if err != nil {
			return nil, fmt.Errorf("failed to open sqlite db: %w", err)
		}
		return storage.NewSQL(db)
	case "postgres":
		db, err := engine.NewPostgres(database[1])
		if err != nil {
			return nil, fmt.Errorf("failed to connect to postgres: %w", err)
		}
		return storage.NewSQL(db)
	default:
		return nil, fmt.Errorf("unknown database type %q", database[0])
	}
}

func setupLog(dbg, quiet bool, secrets ...string) {
	logOpts := []lgr.Option{lgr.Msec, lgr.LevelBraces, lgr.StackTraceOnError}
	if dbg {
		logOpts = []lgr.Option{lgr.Debug, lgr.CallerFile, lgr.CallerFunc, lgr.Msec, lgr.LevelBraces, lgr.StackTraceOnError}
	}

	colorizer := lgr.Mapper{
		ErrorFunc:  func(s string) string { return color.New(color.FgHiRed).Sprint(s) },
		WarnFunc:   func(s string) string { return color.New(color.FgRed).Sprint(s) },
		InfoFunc:   func(s string) string { return color.New(color.FgYellow).Sprint(s) },
		DebugFunc:  func(s string) string { return color.New(color.FgWhite).Sprint(s) },
		CallerFunc: func(s string) string { return color.New(color.FgBlue).Sprint(s) },
		TimeFunc:   func(s string) string { return color.New(color.FgCyan).Sprint(s) },
	}
	logOpts = append(logOpts, lgr.Map(colorizer))
	if quiet {
		logOpts = append(logOpts, lgr.Out(quietWriter{os.Stdout}))
	}

	for _, s := range secrets {
		if s != "" {
			logOpts = append(logOpts, lgr.Secret(s))
		}
	}
	lgr.SetupStdLogger(logOpts...)
	lgr.Setup(logOpts...)
}

// quietWriter drops info and debug lines, -q keeps warnings and errors only
type quietWriter struct{ w io.Writer }

func (q quietWriter) Write(p []byte) (int, error) {
	if strings.Contains(string(p), "[INFO]") || strings.Contains(string(p), "[DEBUG]") {
		return len(p), nil
	}
	return q.w.Write(p)
}
