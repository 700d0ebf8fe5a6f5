package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	_ "go.uber.org/automaxprocs"

	"github.com/rebooked/order-service/internal/banking"
	"github.com/rebooked/order-service/internal/commit"
	"github.com/rebooked/order-service/internal/config"
	"github.com/rebooked/order-service/internal/courier"
	"github.com/rebooked/order-service/internal/delivery"
	kafkax "github.com/rebooked/order-service/internal/kafka"
	"github.com/rebooked/order-service/internal/notifications"
	"github.com/rebooked/order-service/internal/orders"
	"github.com/rebooked/order-service/internal/paystack"
	"github.com/rebooked/order-service/internal/postgres"
	"github.com/rebooked/order-service/internal/redisx"
	"github.com/rebooked/order-service/internal/refunds"
)

func atoiOr(s string, def int) int {
	if s == "" {
		return def
	}
	i, err := strconv.Atoi(s)
	if err != nil || i <= 0 {
		log.Printf("invalid worker count %q, using %d", s, def)
		return def
	}
	return i
}

func main() {
	_ = godotenv.Load()
	cfg := config.Load()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := postgres.Connect(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Fatalf("db: %v", err)
	}
	defer db.Close()

	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()

	gateway := paystack.New(cfg.PaystackBaseURL, cfg.PaystackSecret)
	courierClient := courier.New(cfg.CourierBaseURL, cfg.CourierAPIKey, rdb)

	sealer, err := banking.NewSealer(cfg.BankingKeyHex)
	if err != nil {
		log.Fatalf("banking sealer: %v", err)
	}

	pDeclined := kafkax.NewProducer(cfg.KafkaBrokers, orders.TopicOrderDeclined, 1024)
	pDeclined.Start(ctx)
	pRefunded := kafkax.NewProducer(cfg.KafkaBrokers, orders.TopicOrderRefunded, 1024)
	pRefunded.Start(ctx)

	orderRepo := &orders.Repo{DB: db}
	notifRepo := &notifications.Repo{DB: db}
	bankingSvc := &banking.Service{Repo: &banking.Repo{DB: db}, Gateway: gateway, Sealer: sealer}

	refundSvc := &refunds.Service{
		Store:         &refunds.Repo{DB: db},
		Orders:        orderRepo,
		Gateway:       gateway,
		Lock:          refunds.NewRedisLock(rdb),
		Notifications: notifRepo,
		Producer:      pRefunded,
		ServiceName:   cfg.ServiceName + "-worker",
	}
	commitSvc := &commit.Service{
		Orders:           orderRepo,
		Courier:          courierClient,
		Refunds:          refundSvc,
		Notifications:    notifRepo,
		DeclinedProducer: pDeclined,
		Redis:            rdb,
		ServiceName:      cfg.ServiceName + "-worker",
		CommitWindow:     cfg.CommitWindow,
		DeliverySLA:      cfg.DeliverySLA,
		PayoutLeadCut:    cfg.PayoutLeadCut,
	}
	deliverySvc := &delivery.Service{
		Orders:        orderRepo,
		Gateway:       gateway,
		Banking:       bankingSvc,
		Notifications: notifRepo,
		Redis:         rdb,
		ServiceName:   cfg.ServiceName + "-worker",
	}

	// Tracking event consumer
	group := getenv("DELIVERY_GROUP", "delivery-worker")
	workers := atoiOr(os.Getenv("DELIVERY_WORKERS"), 4)
	cons := kafkax.NewConsumer(cfg.KafkaBrokers, group, orders.TopicDeliveryEvents, workers)

	go func() {
		log.Printf("delivery consumer started: group=%s topic=%s workers=%d", group, orders.TopicDeliveryEvents, workers)
		if err := cons.Start(ctx, deliverySvc.HandleTrackingEvent); err != nil {
			log.Printf("consumer exit: %v", err)
			cancel()
		}
	}()

	// Commit-window sweep: auto-decline + refund stale pending_commit orders
	cr := cron.New()
	if _, err := cr.AddFunc(cfg.SweepSchedule, func() {
		sctx, scancel := context.WithTimeout(ctx, 2*time.Minute)
		defer scancel()
		n, err := commitSvc.AutoDeclineExpired(sctx, 100)
		if err != nil {
			log.Printf("expiry sweep: %v", err)
			return
		}
		if n > 0 {
			log.Printf("expiry sweep: declined %d stale orders", n)
		}
	}); err != nil {
		log.Fatalf("cron: %v", err)
	}
	cr.Start()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	log.Println("shutting down worker...")
	<-cr.Stop().Done()
	cancel()
	time.Sleep(500 * time.Millisecond)
	pDeclined.Close()
	pRefunded.Close()
	pDeclined.WaitClosed()
	pRefunded.WaitClosed()
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}
