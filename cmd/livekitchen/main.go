package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"livekitchen/internal/auth"
	"livekitchen/internal/broadcast"
	"livekitchen/internal/common/httpx"
	"livekitchen/internal/common/logger"
	"livekitchen/internal/config"
	"livekitchen/internal/connections/database"
	"livekitchen/internal/connections/rabbitmq"
	"livekitchen/internal/hub"
	"livekitchen/internal/lifecycle"
	"livekitchen/internal/notify"
	"livekitchen/internal/payments"
	"livekitchen/internal/registry"
	"livekitchen/internal/repository"
	"livekitchen/internal/statusapi"
	"livekitchen/internal/tables"
	"livekitchen/internal/transport"
)

func main() {
	_ = godotenv.Load()

	mode := flag.String("mode", "live", "live | notification-subscriber")
	cfgPath := flag.String("config", "", "path to config.yaml")
	listen := flag.String("listen", ":4000", "live: socket listen address")
	flag.Parse()

	lg := logger.New("bootstrap")
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	path := *cfgPath
	if path == "" {
		p, err := config.FindConfig()
		if err != nil {
			fmt.Fprintln(os.Stderr, "no config file found; pass --config")
			os.Exit(2)
		}
		path = p
	}
	cfg, err := config.Load(path)
	if err != nil {
		lg.Error("config_load_failed", err, map[string]any{"path": path})
		os.Exit(1)
	}

	switch *mode {
	case "live":
		lg.Info("service_started", map[string]any{"service": "livekitchen", "listen": *listen, "http_port": cfg.HTTP.Port})
		if err := runLive(ctx, cfg, *listen); err != nil {
			lg.Error("fatal", err, nil)
			os.Exit(1)
		}
	case "notification-subscriber":
		lg.Info("service_started", map[string]any{"service": "notification-subscriber"})
		mq, err := rabbitmq.Dial(cfg.RabbitMQ)
		if err != nil {
			lg.Error("fatal", err, nil)
			os.Exit(1)
		}
		defer mq.Close()
		if err := notify.Run(ctx, mq); err != nil {
			lg.Error("fatal", err, nil)
			os.Exit(1)
		}
	default:
		fmt.Fprintln(os.Stderr, "--mode must be: live | notification-subscriber")
		os.Exit(2)
	}
}

func runLive(ctx context.Context, cfg *config.Config, listen string) error {
	lg := logger.New("livekitchen")

	pool, err := database.Connect(ctx, cfg.Database)
	if err != nil {
		return err
	}
	defer pool.Close()

	mq, err := rabbitmq.Dial(cfg.RabbitMQ)
	if err != nil {
		return err
	}
	defer mq.Close()
	if err := mq.DeclareTopology(); err != nil {
		return err
	}

	ordersRepo := repository.NewOrdersPG(pool)
	payRepo := repository.NewPaymentsPG(pool)
	occRepo := repository.NewOccupancyPG(pool)
	presRepo := repository.NewPresencePG(pool)

	reg := registry.New(presRepo, lg)
	if err := reg.Rebuild(ctx); err != nil {
		lg.Error("presence_rebuild_failed", err, nil)
	}

	bc := broadcast.New(mq, lg)
	gw := payments.NewHTTPGateway(cfg.Gateway.URL, cfg.Secrets.GatewayKey)
	orch := payments.NewOrchestrator(gw, payRepo, cfg.Secrets.GatewayTimeout, lg)
	orders := lifecycle.New(ordersRepo, payRepo, orch, reg, bc, lg)
	tracker := tables.New(occRepo, reg, bc, lg)
	verifier := auth.NewVerifier(cfg.Secrets.JWTSecret)
	h := hub.New(reg, tracker, orders, bc, verifier, lg)

	api := httpx.New(fmt.Sprintf(":%d", cfg.HTTP.Port),
		statusapi.Router(statusapi.NewHandler(ordersRepo, orders)))
	sock := transport.NewServer(h, lg)

	errCh := make(chan error, 2)
	go func() { errCh <- api.Run(ctx) }()
	go func() { errCh <- sock.Run(ctx, listen) }()

	select {
	case <-ctx.Done():
		lg.Info("graceful_shutdown", nil)
		return nil
	case err := <-errCh:
		return err
	}
}
