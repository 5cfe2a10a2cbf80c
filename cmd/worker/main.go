package main

import (
	"context"
	"encoding/json"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/askchat/backend/internal/askchat"
	"github.com/askchat/backend/internal/chat"
	"github.com/askchat/backend/internal/config"
	"github.com/askchat/backend/internal/db"
	"github.com/askchat/backend/internal/events"
	"github.com/askchat/backend/internal/logger"
	"github.com/askchat/backend/internal/push"
	"github.com/askchat/backend/internal/store"
	"github.com/askchat/backend/internal/store/redisstore"
)

// maxAttempts bounds redelivery: after this many tries the event is parked
// on the DLQ instead of looping through the retry queue.
const maxAttempts = 5

func workerConcurrency() int {
	v := os.Getenv("WORKER_CONCURRENCY")
	if v == "" {
		return 2
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return 2
	}
	if n > 50 {
		return 50
	}
	return n
}

func main() {
	cfg := config.Load()

	log, err := logger.New(cfg.Env)
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	gdb := db.Connect(cfg.DBDSN)
	if err := store.AutoMigrate(gdb); err != nil {
		log.Fatal("automigrate", "err", err)
	}
	repo := store.NewRepo(gdb)

	var tokens chat.TokenStore = repo
	if rdb, err := redisstore.Connect(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB); err != nil {
		log.Warn("redis unavailable, fanout reads tokens from the store", "err", err)
	} else {
		tokens = redisstore.NewTokenCache(rdb, repo, log)
	}

	pub, err := events.NewRabbitPublisher(cfg.RabbitURL, cfg.RabbitQueue)
	if err != nil {
		log.Fatal("rabbit publisher", "err", err)
	}
	defer pub.Close()

	asker := askchat.NewClient(cfg.BackendURL, cfg.BackendToken)
	sender := push.NewHTTPSender(cfg.PushGatewayURL, cfg.NotificationChannel)

	svc := chat.NewService(repo, asker, sender, tokens, pub, log, config.AssistantID)

	conn, err := amqp.Dial(cfg.RabbitURL)
	if err != nil {
		log.Fatal("rabbit dial", "err", err)
	}
	defer conn.Close()

	ch, err := conn.Channel()
	if err != nil {
		log.Fatal("rabbit channel", "err", err)
	}
	defer ch.Close()

	if err := events.DeclareTopology(ch, cfg.RabbitQueue); err != nil {
		log.Fatal("queue declare", "err", err)
	}

	concurrency := workerConcurrency()
	if err := ch.Qos(concurrency, 0, false); err != nil {
		log.Fatal("qos", "err", err)
	}

	msgs, err := ch.Consume(cfg.RabbitQueue, "", false, false, false, false, nil)
	if err != nil {
		log.Fatal("consume", "err", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Info("worker started", "queue", cfg.RabbitQueue, "concurrency", concurrency, "region", cfg.Region)

	jobs := make(chan amqp.Delivery, concurrency*2)

	var wg sync.WaitGroup
	wg.Add(concurrency)
	for i := 0; i < concurrency; i++ {
		go func(workerID int) {
			defer wg.Done()
			for d := range jobs {
				handleDelivery(ctx, svc, ch, cfg.RabbitQueue, log.With("worker", workerID), d)
			}
		}(i)
	}

	for {
		select {
		case <-ctx.Done():
			log.Info("worker shutting down")
			close(jobs)
			wg.Wait()
			return

		case d, ok := <-msgs:
			if !ok {
				log.Warn("delivery channel closed")
				time.Sleep(1 * time.Second)
				continue
			}
			jobs <- d
		}
	}
}

func handleDelivery(ctx context.Context, svc *chat.Service, ch *amqp.Channel, queue string, log *logger.Logger, d amqp.Delivery) {
	var ev events.Event
	if err := json.Unmarshal(d.Body, &ev); err != nil || ev.Type == "" {
		log.Warn("bad event payload", "err", err)
		_ = d.Ack(false) // unparseable, retrying cannot help
		return
	}

	start := time.Now()
	if err := svc.HandleEvent(ctx, ev); err != nil {
		attempts := deathCount(d) + 1
		log.Warn("event failed", "type", ev.Type, "event_id", ev.ID, "attempt", attempts, "cost", time.Since(start), "err", err)
		if attempts >= maxAttempts {
			park(ctx, ch, queue, log, d, ev)
			return
		}
		_ = d.Nack(false, false) // dead-letters to the retry queue
		return
	}

	if err := d.Ack(false); err != nil {
		log.Warn("ack failed", "event_id", ev.ID, "err", err)
	}
}

// park moves an exhausted event to the DLQ and acks the original.
func park(ctx context.Context, ch *amqp.Channel, queue string, log *logger.Logger, d amqp.Delivery, ev events.Event) {
	cctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	err := ch.PublishWithContext(cctx, "", queue+".dlq", false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    ev.ID,
		Type:         ev.Type,
		Body:         d.Body,
		Timestamp:    time.Now(),
	})
	if err != nil {
		log.Error("dlq publish failed", "event_id", ev.ID, "err", err)
		_ = d.Nack(false, false)
		return
	}
	log.Error("event parked on dlq", "type", ev.Type, "event_id", ev.ID)
	_ = d.Ack(false)
}

func deathCount(d amqp.Delivery) int {
	deaths, ok := d.Headers["x-death"].([]any)
	if !ok {
		return 0
	}
	total := 0
	for _, raw := range deaths {
		entry, ok := raw.(amqp.Table)
		if !ok {
			continue
		}
		switch n := entry["count"].(type) {
		case int64:
			total += int(n)
		case int32:
			total += int(n)
		}
	}
	return total
}
