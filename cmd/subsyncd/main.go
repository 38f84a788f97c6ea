package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/golang-migrate/migrate/v4"
	migratepg "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"

	"github.com/chathub/backend/internal/kvstore"
	"github.com/chathub/backend/internal/messaging"
	"github.com/chathub/backend/internal/metrics"
	"github.com/chathub/backend/internal/substore"
	"github.com/chathub/backend/internal/subscription"
	"github.com/chathub/backend/internal/syncqueue"
	"github.com/chathub/backend/internal/timebudget"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("no .env file found, using environment")
	}

	log.Println("Starting ChatHub subscription sync daemon...")

	// --- Postgres ---
	dsn := "postgres://localhost/chathub?sslmode=disable"
	if v := os.Getenv("DATABASE_URL"); v != "" {
		dsn = v
	}
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		log.Fatalf("failed to open Postgres: %v", err)
	}
	pingCtx, pingCancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := db.PingContext(pingCtx); err != nil {
		pingCancel()
		log.Fatalf("failed to connect to Postgres: %v", err)
	}
	pingCancel()

	migrationsDir := "migrations"
	if v := os.Getenv("MIGRATIONS_DIR"); v != "" {
		migrationsDir = v
	}
	if err := runMigrations(db, migrationsDir); err != nil {
		log.Fatalf("migrations failed: %v", err)
	}

	// --- Redis ---
	redisAddr := "localhost:6379"
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		redisAddr = v
	}
	rdb := redis.NewClient(&redis.Options{Addr: redisAddr})
	pingCtx, pingCancel = context.WithTimeout(context.Background(), 5*time.Second)
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		pingCancel()
		log.Fatalf("failed to connect to Redis: %v", err)
	}
	pingCancel()

	// --- NATS ---
	natsConfig := messaging.DefaultNATSConfig()
	if v := os.Getenv("NATS_URL"); v != "" {
		natsConfig.URL = v
	}
	natsConfig.Name = "chathub-subsyncd"
	natsClient, err := messaging.NewNATSClient(natsConfig)
	if err != nil {
		log.Fatalf("failed to connect to NATS: %v", err)
	}

	store := substore.NewStore(db)
	queue := syncqueue.NewRedisQueue(rdb)
	budget := timebudget.NewStore(rdb)
	syncer := subscription.NewSyncer(store, queue, metrics.SyncReporter{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Billing-platform snapshots arrive on subscription.updated.<uid>: the
	// daemon reconciles the user's cached state, grants call seconds on new
	// purchases, and pushes the snapshot to the canonical store.
	err = natsClient.SubscribeSubscriptionUpdated(func(uid string, data []byte) {
		var doc subscription.Document
		if err := json.Unmarshal(data, &doc); err != nil {
			log.Printf("[subsyncd] bad update payload uid=%s: %v", uid, err)
			return
		}

		mgr := subscription.NewManager(kvstore.NewRedis(rdb, "subcache:"+uid))
		mgr.UpdateFromState(doc.State)

		if doc.IsNewPurchase && mgr.HasPremiumAccess() {
			if err := budget.Grant(ctx, uid, timebudget.DefaultCallSeconds); err != nil {
				log.Printf("[subsyncd] budget grant uid=%s: %v", uid, err)
			} else {
				log.Printf("[subsyncd] granted %ds call budget uid=%s order=%s",
					timebudget.DefaultCallSeconds, uid, doc.OrderID)
			}
		}

		syncer.SaveFullState(ctx, uid, doc)
	})
	if err != nil {
		log.Fatalf("failed to subscribe to subscription updates: %v", err)
	}

	if err := natsClient.SubscribeSyncKick(func() {
		log.Printf("[subsyncd] sync kick received")
		syncer.Kick()
	}); err != nil {
		log.Fatalf("failed to subscribe to sync kicks: %v", err)
	}

	go syncer.Run(ctx)

	// --- metrics / health endpoint ---
	metricsAddr := ":9090"
	if v := os.Getenv("METRICS_ADDR"); v != "" {
		metricsAddr = v
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ok"}`))
	})
	httpServer := &http.Server{Addr: metricsAddr, Handler: mux}
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("metrics server error: %v", err)
		}
	}()

	log.Printf("ChatHub subscription sync daemon running")
	log.Printf("  database:     %s", dsn)
	log.Printf("  redis_addr:   %s", redisAddr)
	log.Printf("  nats_url:     %s", natsConfig.URL)
	log.Printf("  metrics_addr: %s", metricsAddr)

	// Graceful shutdown.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Printf("received signal %v, shutting down...", sig)

	cancel()
	natsClient.Close()

	shutCtx, shutCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutCancel()
	_ = httpServer.Shutdown(shutCtx)

	if err := rdb.Close(); err != nil {
		log.Printf("redis close error: %v", err)
	}
	if err := db.Close(); err != nil {
		log.Printf("postgres close error: %v", err)
	}
}

// runMigrations applies any pending schema migrations from the given
// directory against the open database.
func runMigrations(db *sql.DB, dir string) error {
	driver, err := migratepg.WithInstance(db, &migratepg.Config{})
	if err != nil {
		return err
	}

	m, err := migrate.NewWithDatabaseInstance("file://"+dir, "postgres", driver)
	if err != nil {
		return err
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return err
	}

	version, dirty, err := m.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		return err
	}
	log.Printf("[subsyncd] schema at version %d (dirty=%v)", version, dirty)
	return nil
}
