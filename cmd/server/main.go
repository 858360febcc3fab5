package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/suPer8Hu/gopherchat/internal/app"
	"github.com/suPer8Hu/gopherchat/internal/chat"
	"github.com/suPer8Hu/gopherchat/internal/config"
	"github.com/suPer8Hu/gopherchat/internal/httpapi"
	"github.com/suPer8Hu/gopherchat/internal/jobs"
	"github.com/suPer8Hu/gopherchat/internal/store/rabbitmq"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg := config.Load()

	core, err := app.NewCore(ctx, cfg)
	if err != nil {
		log.Fatalf("startup failed: %v", err)
	}
	defer core.Close()

	chats := chat.NewStore(core.KV, core.Catalog, core.Instructions, core.Settings)
	if err := chats.Init(ctx); err != nil {
		log.Fatalf("chat store init: %v", err)
	}
	svc := chat.NewService(chats, core.LLM, core.Instructions, core.Settings, core.Summarizer)

	// queued summaries are optional; synchronous summaries work without them
	if cfg.RabbitURL != "" {
		pub, err := rabbitmq.NewPublisher(cfg.RabbitURL, cfg.RabbitQueue)
		if err != nil {
			log.Printf("[Server] rabbitmq unavailable, summary jobs disabled: %v", err)
		} else {
			defer pub.Close()
			svc.WithJobs(jobs.NewRepo(core.KV), pub)
		}
	}

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           httpapi.NewRouter(cfg, core, svc),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Printf("[Server] listening on %s", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("listen: %v", err)
		}
	}()

	<-ctx.Done()
	log.Printf("[Server] shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("[Server] shutdown: %v", err)
	}
	// let in-flight title generation finish writing
	svc.Wait()
}
