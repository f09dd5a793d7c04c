package main

import (
	"context"
	"encoding/json"
	"log"
	"os"
	"os/signal"
	"syscall"

	"opkomst/internal/config"
	"opkomst/internal/notify"
	"opkomst/internal/queue"
	"opkomst/internal/repo"
	"opkomst/internal/store"
)

// Worker consumes event-change messages and fans them out to the mail and
// push transports. A failed delivery is logged and dropped: notifications
// are independent side effects and never affect the event mutation that
// produced them.
func main() {
	cfg := config.Load()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Println("shutdown signal received")
		cancel()
	}()

	db, err := store.NewDB(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("db connect failed: %v", err)
	}
	defer db.Close()

	pg, err := repo.NewPostgres(db.Client)
	if err != nil {
		log.Fatalf("store init failed: %v", err)
	}
	users := pg.Users()

	redisClient := store.NewRedis(cfg.RedisAddr)

	var q queue.Queue
	if cfg.QueueBackend == "memory" {
		q = queue.NewInMemory(64)
	} else {
		q = queue.NewRedisQueue(redisClient.Client, cfg.QueueKey)
	}

	transports := []notify.Transport{
		notify.LogTransport{Name: "mail"},
		notify.LogTransport{Name: "push"},
	}

	messages, err := q.Consume(ctx)
	if err != nil {
		log.Fatalf("queue consume init failed: %v", err)
	}

	log.Println("worker started, waiting for messages...")
	for msg := range messages {
		if msg.Type != notify.MessageType {
			continue
		}

		var change notify.Change
		if err := json.Unmarshal(msg.Body, &change); err != nil {
			log.Printf("skip undecodable message: %v", err)
			continue
		}

		recipients, err := users.List(ctx)
		if err != nil {
			log.Printf("list members for %s failed: %v", change.EventID, err)
			continue
		}

		for _, t := range transports {
			if err := t.Send(ctx, change, recipients); err != nil {
				log.Printf("delivery for %s failed: %v", change.EventID, err)
			}
		}
	}

	log.Println("worker stopped")
}
