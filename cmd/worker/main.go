package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/suPer8Hu/gopherchat/internal/app"
	"github.com/suPer8Hu/gopherchat/internal/config"
	"github.com/suPer8Hu/gopherchat/internal/jobs"
	"github.com/suPer8Hu/gopherchat/internal/store/rabbitmq"
)

const (
	maxAttempts = 3
	retryDelay  = 10 * time.Second
)

func main() {
	cfg := config.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	core, err := app.NewCore(ctx, cfg)
	if err != nil {
		log.Fatalf("startup failed: %v", err)
	}
	defer core.Close()

	runner := jobs.NewRunner(jobs.NewRepo(core.KV), core.Summarizer, maxAttempts)

	conn, err := amqp.Dial(cfg.RabbitURL)
	if err != nil {
		log.Fatalf("rabbit dial: %v", err)
	}
	defer conn.Close()

	ch, err := conn.Channel()
	if err != nil {
		log.Fatalf("rabbit channel: %v", err)
	}
	defer ch.Close()

	if err := rabbitmq.DeclareTopology(ch, cfg.RabbitQueue); err != nil {
		log.Fatalf("queue declare: %v", err)
	}
	retries := rabbitmq.NewChannelPublisher(ch, cfg.RabbitQueue)

	// strict concurrency control
	concurrency := cfg.WorkerConcurrency
	if err := ch.Qos(concurrency, 0, false); err != nil {
		log.Fatalf("qos: %v", err)
	}

	msgs, err := ch.Consume(cfg.RabbitQueue, "", false, false, false, false, nil)
	if err != nil {
		log.Fatalf("consume: %v", err)
	}

	log.Printf("[Worker] started, queue=%s concurrency=%d", cfg.RabbitQueue, concurrency)

	// worker pool
	deliveries := make(chan amqp.Delivery, concurrency*2)

	var wg sync.WaitGroup
	wg.Add(concurrency)
	for i := 0; i < concurrency; i++ {
		go func(workerID int) {
			defer wg.Done()
			for d := range deliveries {
				handleDelivery(ctx, workerID, core, runner, retries, d)
			}
		}(i)
	}

	// dispatcher
	for {
		select {
		case <-ctx.Done():
			log.Printf("[Worker] shutting down")
			close(deliveries)
			wg.Wait()
			return

		case d, ok := <-msgs:
			if !ok {
				log.Printf("[Worker] delivery channel closed")
				close(deliveries)
				wg.Wait()
				return
			}
			deliveries <- d
		}
	}
}

func handleDelivery(ctx context.Context, workerID int, core *app.Core, runner *jobs.Runner, retries *rabbitmq.Publisher, d amqp.Delivery) {
	m, err := rabbitmq.ParseJobMessage(d.Body)
	if err != nil {
		log.Printf("[Worker] worker=%d bad message: %v", workerID, err)
		_ = d.Nack(false, false)
		return
	}

	// pick up provider credentials saved since the last job
	if err := core.Settings.Load(ctx); err != nil {
		log.Printf("[Worker] worker=%d reload settings: %v", workerID, err)
	}

	start := time.Now()
	err = runner.Handle(ctx, m.JobID)
	switch {
	case err == nil:
		if err := d.Ack(false); err != nil {
			log.Printf("[Worker] worker=%d ack failed job=%s err=%v", workerID, m.JobID, err)
		}
	case errors.Is(err, jobs.ErrRetry):
		if pubErr := retries.PublishRetry(ctx, m.JobID, retryDelay); pubErr != nil {
			// the job is queued again, so redeliver it straight away
			log.Printf("[Worker] worker=%d job=%s retry publish failed: %v", workerID, m.JobID, pubErr)
			_ = d.Nack(false, true)
			return
		}
		_ = d.Ack(false)
	default:
		log.Printf("[Worker] worker=%d job=%s failed cost=%s err=%v", workerID, m.JobID, time.Since(start), err)
		_ = d.Nack(false, false)
	}
}
