package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	_ "go.uber.org/automaxprocs"

	"github.com/rebooked/order-service/internal/banking"
	"github.com/rebooked/order-service/internal/commit"
	"github.com/rebooked/order-service/internal/config"
	"github.com/rebooked/order-service/internal/courier"
	"github.com/rebooked/order-service/internal/httpx"
	kafkax "github.com/rebooked/order-service/internal/kafka"
	"github.com/rebooked/order-service/internal/notifications"
	"github.com/rebooked/order-service/internal/orders"
	"github.com/rebooked/order-service/internal/paystack"
	"github.com/rebooked/order-service/internal/postgres"
	"github.com/rebooked/order-service/internal/redisx"
	"github.com/rebooked/order-service/internal/refunds"
)

func main() {
	_ = godotenv.Load()

	cfg := config.Load()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// DB
	db, err := postgres.Connect(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Fatalf("db connect: %v", err)
	}
	defer db.Close()

	// Redis
	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()

	// External adapters
	gateway := paystack.New(cfg.PaystackBaseURL, cfg.PaystackSecret)
	courierClient := courier.New(cfg.CourierBaseURL, cfg.CourierAPIKey, rdb)

	sealer, err := banking.NewSealer(cfg.BankingKeyHex)
	if err != nil {
		log.Fatalf("banking sealer: %v", err)
	}

	// Kafka producers, one per topic
	pCreated := kafkax.NewProducer(cfg.KafkaBrokers, orders.TopicOrderCreated, 1024)
	pCommitted := kafkax.NewProducer(cfg.KafkaBrokers, orders.TopicOrderCommitted, 1024)
	pDeclined := kafkax.NewProducer(cfg.KafkaBrokers, orders.TopicOrderDeclined, 1024)
	pRefunded := kafkax.NewProducer(cfg.KafkaBrokers, orders.TopicOrderRefunded, 1024)
	producers := []*kafkax.Producer{pCreated, pCommitted, pDeclined, pRefunded}
	for _, p := range producers {
		p.Start(ctx)
	}

	// Repos & services
	orderRepo := &orders.Repo{DB: db}
	notifRepo := &notifications.Repo{DB: db}
	refundSvc := &refunds.Service{
		Store:         &refunds.Repo{DB: db},
		Orders:        orderRepo,
		Gateway:       gateway,
		Lock:          refunds.NewRedisLock(rdb),
		Notifications: notifRepo,
		Producer:      pRefunded,
		ServiceName:   cfg.ServiceName,
	}
	commitSvc := &commit.Service{
		Orders:            orderRepo,
		Courier:           courierClient,
		Refunds:           refundSvc,
		Notifications:     notifRepo,
		CommittedProducer: pCommitted,
		DeclinedProducer:  pDeclined,
		Redis:             rdb,
		ServiceName:       cfg.ServiceName,
		CommitWindow:      cfg.CommitWindow,
		DeliverySLA:       cfg.DeliverySLA,
		PayoutLeadCut:     cfg.PayoutLeadCut,
	}
	bankingSvc := &banking.Service{
		Repo:    &banking.Repo{DB: db},
		Gateway: gateway,
		Sealer:  sealer,
	}

	// HTTP
	router := httpx.NewRouter()
	(&httpx.OrdersHandler{
		Commits: commitSvc,
		Refunds: refundSvc,
		Repo:    orderRepo,
		Courier: courierClient,
		Redis:   rdb,
		Secret:  cfg.JWTSecret,
	}).Register(router)
	(&httpx.BankingHandler{Banking: bankingSvc, Secret: cfg.JWTSecret}).Register(router)
	(&httpx.WebhookHandler{
		Repo:          orderRepo,
		Notifications: notifRepo,
		Gateway:       gateway,
		Producer:      pCreated,
		Redis:         rdb,
		Service:       cfg.ServiceName,
	}).Register(router)

	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: router}

	go func() {
		log.Printf("HTTP listening at %s", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	log.Println("shutting down...")

	ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel2()
	_ = srv.Shutdown(ctx2)

	for _, p := range producers {
		p.Close()
	}
	cancel()
	for _, p := range producers {
		p.WaitClosed()
	}
}
