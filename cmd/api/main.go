package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"paperkeep/api/internal/app"
	"paperkeep/api/internal/authpw"
	"paperkeep/api/internal/config"
	"paperkeep/api/internal/docs"
	"paperkeep/api/internal/email"
	"paperkeep/api/internal/files"
	"paperkeep/api/internal/notify"
	"paperkeep/api/internal/prefs"
	"paperkeep/api/internal/reminder"
	"paperkeep/api/internal/search"
	"paperkeep/api/internal/session"
	"paperkeep/api/internal/store"
)

func main() {
	cfg := config.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("open database: %v", err)
	}
	defer db.Close()

	if err := store.ApplyMigrations(ctx, db, cfg.MigrationsDir); err != nil {
		log.Fatalf("apply migrations: %v", err)
	}

	pg := store.NewPostgresStore(db)

	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		log.Fatalf("parse redis url: %v", err)
	}
	redisClient := redis.NewClient(redisOpts)
	defer redisClient.Close()

	if err := redisClient.Ping(ctx).Err(); err != nil {
		log.Fatalf("ping redis: %v", err)
	}

	docStore := docs.NewStoreWithClient(redisClient)
	prefStore := prefs.NewStoreWithClient(redisClient)
	alertStore := notify.NewAlertStore(redisClient)
	throttleStore := reminder.NewThrottleStore(redisClient)
	sessionStore := session.NewRedisStoreWithClient(redisClient)

	emailService := email.NewService(email.Config{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		Username: cfg.SMTPUsername,
		Password: cfg.SMTPPassword,
		From:     cfg.SMTPFrom,
		FromName: cfg.SMTPFromName,
	})
	if emailService.IsConfigured() {
		log.Printf("email: SMTP configured, notifications enabled")
	} else {
		log.Printf("email: SMTP not configured, email channel disabled")
	}

	var meili *search.Meili
	if cfg.MeiliURL != "" {
		meili = search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey)
		defer meili.Close()
		log.Printf("search: meilisearch configured at %s", cfg.MeiliURL)
	} else {
		log.Printf("search: meilisearch not configured, using store scan")
	}
	searchService := search.NewService(meili, docStore)

	pusher := notify.NewWebhookPusher(cfg.PushWebhookURL)
	speaker := notify.NewHTTPSpeaker(cfg.SpeechURL)
	dispatcher := notify.NewDispatcher(alertStore, pusher, speaker, emailService, prefStore)

	scheduler := reminder.NewScheduler(docStore, prefStore, dispatcher, pg, throttleStore, reminder.Options{
		ThrottleWindow: cfg.ThrottleWindow,
		GraceDelay:     cfg.ReminderGraceDelay,
		Interval:       cfg.SweepInterval,
	})
	go scheduler.Run(ctx)

	deps := app.Deps{
		Users:     pg,
		Sessions:  sessionStore,
		Documents: docStore,
		Prefs:     prefStore,
		Alerts:    alertStore,
		Scheduler: scheduler,
		Search:    searchService,
		AuthPw:    authpw.NewService(pg),
		Email:     emailService,
	}

	if cfg.MinioEndpoint != "" {
		blobs, err := files.New(ctx, files.Config{
			Endpoint:  cfg.MinioEndpoint,
			AccessKey: cfg.MinioAccessKey,
			SecretKey: cfg.MinioSecretKey,
			Bucket:    cfg.MinioBucket,
			UseSSL:    cfg.MinioUseSSL,
		})
		if err != nil {
			log.Fatalf("open blob storage: %v", err)
		}
		deps.Files = blobs
		log.Printf("files: attachment storage enabled at %s", cfg.MinioEndpoint)
	} else {
		log.Printf("files: attachment storage not configured")
	}

	service := app.New(cfg, deps)
	httpServer := app.NewHTTPServer(service, cfg.CORSOrigin)

	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		log.Printf("paperkeep api listening on %s", cfg.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("serve: %v", err)
		}
	}()

	<-ctx.Done()
	log.Printf("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown: %v", err)
	}
}
