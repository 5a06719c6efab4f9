package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"sitewright.io/internal/access"
	"sitewright.io/internal/audit"
	"sitewright.io/internal/cache"
	"sitewright.io/internal/config"
	"sitewright.io/internal/httpapi"
	"sitewright.io/internal/jobs"
	"sitewright.io/internal/mail"
	"sitewright.io/internal/obs"
	"sitewright.io/internal/store/pg"
)

var version = "0.3.0"

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	log := obs.NewLogger(cfg.Environment)
	obs.Init()

	pgStore, err := pg.Open(cfg.Postgres.DSN)
	if err != nil {
		log.Fatal().Err(err).Msg("open postgres")
	}
	defer pgStore.DB().Close()

	var store access.Store = pgStore
	if cfg.Redis.Enabled {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		client, err := cache.NewClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		cancel()
		if err != nil {
			log.Fatal().Err(err).Msg("connect redis")
		}
		defer client.Close()
		store = cache.Wrap(store, client, log)
		log.Info().Str("addr", cfg.Redis.Addr).Msg("session cache enabled")
	}

	recorder := audit.NewRecorder(store, log)
	settings := cfg.Settings()

	var mailer access.Mailer
	if cfg.Mail.SMTPAddr != "" {
		mailer = mail.NewSMTP(mail.Config(cfg.Mail), log)
	} else {
		mailer = mail.NewLog(log)
		log.Warn().Msg("no SMTP relay configured, mailing links to the log")
	}

	groups, err := access.NewGroups(store, recorder)
	if err != nil {
		log.Fatal().Err(err).Msg("init groups")
	}
	directory, err := access.NewDirectory(store, recorder)
	if err != nil {
		log.Fatal().Err(err).Msg("init directory")
	}
	sessions, err := access.NewSessions(store, settings, recorder)
	if err != nil {
		log.Fatal().Err(err).Msg("init sessions")
	}
	recovery, err := access.NewRecovery(store, settings, recorder, access.WithMailer(mailer))
	if err != nil {
		log.Fatal().Err(err).Msg("init recovery")
	}
	resolver, err := access.NewResolver(store)
	if err != nil {
		log.Fatal().Err(err).Msg("init resolver")
	}
	guard, err := access.NewGuard(store, recorder)
	if err != nil {
		log.Fatal().Err(err).Msg("init guard")
	}

	var tokens *access.ServiceTokens
	if cfg.ServiceToken.Secret != "" {
		tokens, err = access.NewServiceTokens(cfg.ServiceToken.Secret, cfg.ServiceToken.TTL)
		if err != nil {
			log.Fatal().Err(err).Msg("init service tokens")
		}
	} else {
		log.Warn().Msg("no service token secret configured, decision endpoints disabled")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	if err := groups.EnsureSystemGroups(ctx); err != nil {
		cancel()
		log.Fatal().Err(err).Msg("ensure system groups")
	}
	if err := store.EnsurePermissions(ctx, access.BuiltinPermissions); err != nil {
		cancel()
		log.Fatal().Err(err).Msg("ensure permission catalogue")
	}
	cancel()

	scheduler := jobs.NewScheduler(sessions, recovery, log)
	if err := scheduler.Start(); err != nil {
		log.Fatal().Err(err).Msg("start scheduler")
	}

	api := httpapi.New(httpapi.Deps{
		Log:       log,
		Ready:     httpapi.ReadyProbe{DB: pgStore.DB()},
		Version:   version,
		Sessions:  sessions,
		Recovery:  recovery,
		Resolver:  resolver,
		Guard:     guard,
		Groups:    groups,
		Directory: directory,
		Tokens:    tokens,
	})

	srv := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.HTTP.Host, cfg.HTTP.Port),
		Handler:           api.Handler(),
		ReadTimeout:       cfg.HTTP.ReadTimeout,
		ReadHeaderTimeout: cfg.HTTP.ReadTimeout,
		WriteTimeout:      cfg.HTTP.WriteTimeout,
		IdleTimeout:       cfg.HTTP.IdleTimeout,
	}

	log.Info().Str("version", version).Str("addr", srv.Addr).Msg("starting sitewright-uas")

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("listen")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	log.Info().Msg("shutting down")

	scheduler.Stop()
	api.Close()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	_ = srv.Shutdown(shutdownCtx)

	log.Info().Msg("stopped")
}
