package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/nhle/pmsched/internal/api"
	"github.com/nhle/pmsched/internal/credential"
	"github.com/nhle/pmsched/internal/engine"
	"github.com/nhle/pmsched/internal/events"
	"github.com/nhle/pmsched/internal/logging"
	"github.com/nhle/pmsched/internal/model"
	"github.com/nhle/pmsched/internal/refdata"
	"github.com/nhle/pmsched/internal/store"
)

var version = "dev"

const shutdownTimeout = 15 * time.Second

func usage() {
	fmt.Fprintf(flag.CommandLine.Output(), `Usage: pmsched [-config path] <command>

Commands:
  serve        run the HTTP API (default)
  reconcile    materialize overdue statuses once and exit
  init-config  write a default config file
  set-token    store the reference-data token in the keyring (reads stdin)
  version      print the version

Flags:
`)
	flag.PrintDefaults()
}

func main() {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", model.DefaultConfigPath(), "path to config yaml")
	flag.Usage = usage
	flag.Parse()

	cmd := "serve"
	if flag.NArg() > 0 {
		cmd = flag.Arg(0)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	var err error
	switch cmd {
	case "version":
		fmt.Println("pmsched", version)
		return
	case "init-config":
		err = initConfig(cfgPath)
	case "set-token":
		err = setToken(cfgPath)
	case "serve", "reconcile":
		err = run(ctx, cmd, cfgPath)
	default:
		flag.Usage()
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cmd, cfgPath string) error {
	cfg, err := model.LoadConfig(cfgPath)
	if err != nil {
		return err
	}
	log := logging.New(cfg.Log)

	app, err := newApp(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer app.close()

	if cmd == "reconcile" {
		n, err := app.svc.ReconcileOverdue(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("marked %d task(s) overdue\n", n)
		return nil
	}
	return serve(ctx, cfg, log, app)
}

// app holds the wired runtime dependencies.
type app struct {
	store *store.SQLStore
	rdb   *redis.Client
	svc   *engine.Service
	log   zerolog.Logger
}

func newApp(ctx context.Context, cfg *model.AppConfig, log zerolog.Logger) (*app, error) {
	loc, err := time.LoadLocation(cfg.Schedule.Timezone)
	if err != nil {
		return nil, fmt.Errorf("loading timezone %q: %w", cfg.Schedule.Timezone, err)
	}

	if cfg.Database.Driver == "sqlite" && cfg.Database.DSN != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(cfg.Database.DSN), 0o755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}
	st, err := store.Open(cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}
	a := &app{store: st, log: log}
	log.Info().Str("driver", cfg.Database.Driver).Msg("store ready")

	pubs := events.Multi{events.NewStorePublisher(st)}
	if cfg.Events.RedisURL != "" {
		rdb, err := events.ConnectRedis(ctx, cfg.Events.RedisURL)
		if err != nil {
			a.close()
			return nil, err
		}
		a.rdb = rdb
		pubs = append(pubs, events.NewRedisPublisher(rdb, cfg.Events.RedisList))
		log.Info().Str("list", cfg.Events.RedisList).Msg("publishing events to redis")
	}

	var refs refdata.Resolver = refdata.AllowAll{}
	if cfg.RefData.BaseURL != "" {
		token := credential.Token(cfg.RefData.TokenKey)
		if token == "" {
			log.Warn().Msg("no reference-data token configured, calling unauthenticated")
		}
		refs = refdata.NewClient(
			cfg.RefData.BaseURL,
			token,
			time.Duration(cfg.RefData.TimeoutSec)*time.Second,
		).WithRateLimit(cfg.RefData.RatePerSec)
	} else {
		log.Warn().Msg("reference-data service not configured, existence checks disabled")
	}

	a.svc = engine.New(st,
		engine.WithResolver(refs),
		engine.WithPublisher(pubs),
		engine.WithLogger(log),
		engine.WithLocation(loc),
		engine.WithCodePrefix(cfg.Schedule.TaskCodePrefix),
	)
	return a, nil
}

func (a *app) close() {
	if a.rdb != nil {
		if err := a.rdb.Close(); err != nil {
			a.log.Warn().Err(err).Msg("closing redis")
		}
	}
	if err := a.store.Close(); err != nil {
		a.log.Warn().Err(err).Msg("closing store")
	}
}

func serve(ctx context.Context, cfg *model.AppConfig, log zerolog.Logger, a *app) error {
	gin.SetMode(gin.ReleaseMode)
	h := api.NewHandler(a.svc, a.store, log)
	srv := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           api.NewRouter(h, log),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", cfg.HTTP.Addr).Str("version", version).Msg("starting api server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("serving http: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	log.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down http server: %w", err)
	}
	return nil
}

func initConfig(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config %s already exists", path)
	}
	if err := model.SaveConfig(path, model.DefaultAppConfig()); err != nil {
		return err
	}
	fmt.Println("wrote", path)
	return nil
}

func setToken(cfgPath string) error {
	cfg, err := model.LoadConfig(cfgPath)
	if err != nil {
		return err
	}
	fmt.Fprint(os.Stderr, "reference-data token: ")
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && line == "" {
		return fmt.Errorf("reading token: %w", err)
	}
	token := strings.TrimSpace(line)
	if token == "" {
		return errors.New("empty token")
	}
	if err := credential.Set(cfg.RefData.TokenKey, token); err != nil {
		return err
	}
	fmt.Fprintln(os.Stderr, "stored under", cfg.RefData.TokenKey)
	return nil
}
