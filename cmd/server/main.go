package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"fablebot.gg/internal/persistence/gamedb"
	persistlog "fablebot.gg/internal/persistence/log"
	"fablebot.gg/internal/rpg/actions"
	"fablebot.gg/internal/rpg/battle"
	"fablebot.gg/internal/rpg/cache"
	"fablebot.gg/internal/rpg/catalogs"
	"fablebot.gg/internal/rpg/config"
	"fablebot.gg/internal/rpg/formula"
	"fablebot.gg/internal/rpg/players"
	"fablebot.gg/internal/rpg/recovery"
	"fablebot.gg/internal/rpg/scheduler"
	"fablebot.gg/internal/rpg/tuning"
	"fablebot.gg/internal/transport"
	"fablebot.gg/internal/transport/httpapi"
	"fablebot.gg/internal/transport/ws"
)

func main() {
	var (
		addr       = flag.String("addr", ":8080", "http listen address")
		dataDir    = flag.String("data", "./data", "runtime data directory")
		configDir  = flag.String("configs", "./configs", "config directory")
		tuningPath = flag.String("tuning", "", "path to tuning.yaml (default: <configs>/tuning.yaml)")
		disableWS  = flag.Bool("disable_ws", false, "serve only the http api")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[server] ", log.LstdFlags|log.Lmicroseconds)

	cfg, err := config.Resolve(config.Config{
		Addr:      *addr,
		DataDir:   *dataDir,
		ConfigDir: *configDir,
		Tuning:    *tuningPath,
		DisableWS: *disableWS,
	})
	if err != nil {
		logger.Fatalf("resolve config: %v", err)
	}
	if cfg.Tuning == "" {
		cfg.Tuning = filepath.Join(cfg.ConfigDir, "tuning.yaml")
	}

	tune, err := tuning.Load(cfg.Tuning)
	if err != nil {
		if os.IsNotExist(err) {
			logger.Printf("tuning not found (%s); using defaults", cfg.Tuning)
			tune = tuning.Defaults()
		} else {
			logger.Fatalf("load tuning: %v", err)
		}
	}

	cats, err := catalogs.Load(cfg.ConfigDir)
	if err != nil {
		logger.Fatalf("load catalogs: %v", err)
	}

	store, err := gamedb.Open(filepath.Join(cfg.DataDir, "game.sqlite"))
	if err != nil {
		logger.Fatalf("open game db: %v", err)
	}
	defer store.Close()

	auditFile := persistlog.NewAuditLogger(cfg.DataDir)
	defer auditFile.Close()
	store.SetAuditFile(auditFile)

	// Catalog seed expressions land in the stored-formula table once; rows
	// already edited by operators are left untouched.
	seed := map[string]string{}
	for name, f := range cats.Formulas.ByName {
		seed[name] = f.Expr
	}
	if err := store.SeedFormulas(seed); err != nil {
		logger.Fatalf("seed formulas: %v", err)
	}

	engine := formula.New(store, logger)
	mirror := cache.New()

	playerSvc := players.New(store, cats, tune, logger)
	actionMgr := actions.New(store, mirror, engine, cats, tune, logger)
	battleRes := battle.New(store, mirror, engine, cats, tune, logger)

	schedLog := log.New(os.Stdout, "[scheduler] ", log.LstdFlags|log.Lmicroseconds)
	actionTimers := scheduler.New(actionMgr.HandleDue, schedLog)
	defer actionTimers.Close()
	battleTimers := scheduler.New(battleRes.HandleDue, schedLog)
	defer battleTimers.Close()
	actionMgr.BindTimers(actionTimers)
	battleRes.BindTimers(battleTimers)

	// Reconcile durable state before any request is served.
	coord := recovery.New(store, actionMgr, battleRes,
		log.New(os.Stdout, "[recovery] ", log.LstdFlags|log.Lmicroseconds))
	if err := coord.Run(); err != nil {
		logger.Fatalf("recovery: %v", err)
	}
	logger.Printf("recovery complete")

	// The periodic sweep backs up in-process timers across restarts and
	// missed fires.
	sweepEvery := time.Duration(tune.SweepEverySeconds) * time.Second
	actionTimers.StartSweep(sweepEvery, store.OverdueActionIDs)
	battleTimers.StartSweep(sweepEvery, store.OverdueBattleIDs)

	core := &transport.Core{Players: playerSvc, Actions: actionMgr, Battles: battleRes}

	mux := http.NewServeMux()
	httpapi.NewServer(core, store, logger).Register(mux)
	if !cfg.DisableWS {
		mux.HandleFunc("/v1/ws", ws.NewServer(core, logger).Handler())
	}

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		logger.Printf("listening on %s", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatalf("serve: %v", err)
		}
	}()

	<-ctx.Done()
	logger.Printf("shutting down")
	shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutCtx); err != nil {
		logger.Printf("shutdown: %v", err)
	}
}
