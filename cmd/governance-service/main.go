package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"

	"github.com/pilotdesk/governance/internal/audit"
	"github.com/pilotdesk/governance/internal/auth"
	"github.com/pilotdesk/governance/internal/config"
	"github.com/pilotdesk/governance/internal/httpserver"
	"github.com/pilotdesk/governance/internal/ledger"
	"github.com/pilotdesk/governance/internal/policy"
	"github.com/pilotdesk/governance/internal/registry"
	"github.com/pilotdesk/governance/internal/risk"
	"github.com/pilotdesk/governance/internal/service"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("[startup] config load: %v", err)
	}

	classifier := risk.NewClassifier()
	if cfg.RiskTablePath != "" {
		if err := classifier.LoadOverrides(cfg.RiskTablePath); err != nil {
			log.Fatalf("[startup] risk table load: %v", err)
		}
	}

	var (
		reg      registry.Store
		policies policy.Store
		led      ledger.Ledger
		sink     audit.Sink
		auditPG  *audit.PGStore
		db       *sql.DB
	)
	if cfg.DatabaseURL != "" {
		db, err = sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("[startup] db open: %v", err)
		}
		defer db.Close()
		db.SetMaxOpenConns(10)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(30 * time.Minute)
		if err := db.Ping(); err != nil {
			log.Fatalf("[startup] db ping: %v", err)
		}
		reg = registry.NewPGStore(db)
		policies = policy.NewPGStore(db)
		led = ledger.NewPGLedger(db)
		auditPG = audit.NewPGStore(db)
		sink = auditPG
	} else {
		log.Printf("[startup] no database configured, using in-memory stores")
		reg = registry.NewMemoryStore()
		policies = policy.NewMemoryStore()
		led = ledger.NewMemoryLedger()
		sink = audit.NewMemorySink()
	}

	debugToken := ""
	if cfg.AllowDebugToken {
		debugToken = cfg.DebugToken
	}
	verifier, err := auth.NewVerifier([]byte(cfg.AuthSecret), debugToken)
	if err != nil {
		log.Fatalf("[startup] auth init: %v", err)
	}

	svc := service.New(reg, policies, led, classifier, sink, service.Config{SLA: cfg.SLA})
	server := httpserver.New(cfg, svc, reg, verifier)

	httpServer := &http.Server{
		Addr:    cfg.Addr,
		Handler: server.Router(),
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.StreamingEnabled() {
		producer, err := audit.NewKafkaProducer(audit.KafkaProducerConfig{
			Brokers: cfg.KafkaBrokers,
			Topic:   cfg.KafkaTopic,
		})
		if err != nil {
			log.Fatalf("[startup] kafka producer init: %v", err)
		}
		defer producer.Close()
		archiver, err := audit.NewS3Archiver(ctx, cfg.S3Bucket, cfg.S3Prefix)
		if err != nil {
			log.Fatalf("[startup] s3 archiver init: %v", err)
		}
		streamer := audit.NewStreamer(auditPG, producer, archiver, audit.StreamerConfig{})
		go func() {
			if err := streamer.Run(ctx); err != nil && err != context.Canceled {
				log.Printf("[audit.streamer] exited: %v", err)
			}
		}()
	}

	go runSweeper(ctx, svc, cfg.SweepInterval)

	go func() {
		log.Printf("governance service listening on %s", cfg.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("http server error: %v", err)
		}
	}()

	waitForShutdown(cancel, httpServer)
}

// runSweeper periodically expires pending proposals that passed their review
// deadline. The HTTP expire endpoint triggers the same pass on demand.
func runSweeper(ctx context.Context, svc *service.Service, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			count, err := svc.ExpireStale(ctx)
			if err != nil {
				log.Printf("[sweeper] expire pass failed: %v", err)
				continue
			}
			if count > 0 {
				log.Printf("[sweeper] expired %d proposals", count)
			}
		}
	}
}

func waitForShutdown(cancel context.CancelFunc, srv *http.Server) {
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	cancel()
	ctx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
	}
}
