package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	_ "github.com/lib/pq"

	"github.com/helpdesk/livechat/internal/history"
	"github.com/helpdesk/livechat/internal/messaging"
)

func main() {
	log.Println("Starting livechat archiver...")

	// PostgreSQL setup.
	databaseURL := "postgres://localhost:5432/livechat?sslmode=disable"
	if v := os.Getenv("DATABASE_URL"); v != "" {
		databaseURL = v
	}
	migrationsDir := "migrations"
	if v := os.Getenv("MIGRATIONS_DIR"); v != "" {
		migrationsDir = v
	}

	// Apply schema migrations before consuming anything.
	m, err := migrate.New("file://"+migrationsDir, databaseURL)
	if err != nil {
		log.Fatalf("failed to init migrations: %v", err)
	}
	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		log.Fatalf("failed to apply migrations: %v", err)
	}
	srcErr, dbErr := m.Close()
	if srcErr != nil || dbErr != nil {
		log.Printf("migration close: source=%v db=%v", srcErr, dbErr)
	}

	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		log.Fatalf("failed to open postgres: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := db.PingContext(ctx); err != nil {
		cancel()
		log.Fatalf("failed to connect to postgres: %v", err)
	}
	cancel()

	store := history.NewStore(db)

	// NATS setup.
	natsConfig := messaging.DefaultConfig()
	if v := os.Getenv("NATS_URL"); v != "" {
		natsConfig.URL = v
	}
	natsConfig.Name = "livechat-archiver"

	natsClient, err := messaging.NewClient(natsConfig)
	if err != nil {
		log.Fatalf("failed to connect to NATS: %v", err)
	}

	// Consume the chat history feed and persist each message. The insert is
	// idempotent on (session_id, message_id), so redelivery is harmless.
	err = natsClient.SubscribeChatEvents(func(data []byte) {
		var event history.Event
		if err := json.Unmarshal(data, &event); err != nil {
			log.Printf("[archiver] failed to unmarshal event: %v", err)
			return
		}

		sentAt, err := time.Parse(time.RFC3339, event.Timestamp)
		if err != nil {
			sentAt = time.Now().UTC()
		}

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := store.Insert(ctx, &history.Message{
			MessageID:   event.MessageID,
			SessionID:   event.SessionID,
			SenderID:    event.SenderID,
			SenderType:  event.SenderType,
			Content:     event.Content,
			MessageType: event.MessageType,
			SentAt:      sentAt,
		}); err != nil {
			log.Printf("[archiver] insert failed session=%s message=%s: %v",
				event.SessionID, event.MessageID, err)
			return
		}

		log.Printf("[archiver] stored session=%s message=%s sender=%s",
			event.SessionID, event.MessageID, event.SenderID)
	})
	if err != nil {
		log.Fatalf("failed to subscribe to chat events: %v", err)
	}

	log.Printf("livechat archiver running")
	log.Printf("  database_url: %s", databaseURL)
	log.Printf("  nats_url:     %s", natsConfig.URL)

	// Graceful shutdown.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Printf("received signal %v, shutting down...", sig)

	natsClient.Close()
	if err := db.Close(); err != nil {
		log.Printf("postgres close error: %v", err)
	}
}
