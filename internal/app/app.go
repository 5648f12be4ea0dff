package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"vendora/settlement-service/internal/cart"
	"vendora/settlement-service/internal/config"
	"vendora/settlement-service/internal/contracts"
	"vendora/settlement-service/internal/escrow"
	"vendora/settlement-service/internal/gateway"
	"vendora/settlement-service/internal/httpapi"
	"vendora/settlement-service/internal/messaging"
	"vendora/settlement-service/internal/metrics"
	"vendora/settlement-service/internal/notify"
	"vendora/settlement-service/internal/order"
	"vendora/settlement-service/internal/scheduler"
	"vendora/settlement-service/internal/storage"
	"vendora/settlement-service/internal/websocket"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rabbitmq/amqp091-go"
)

type App struct {
	cfg        config.Config
	logger     *slog.Logger
	store      *storage.Store
	wsHub      *websocket.Hub
	publisher  messaging.Publisher
	consumer   *messaging.Consumer
	outbox     *messaging.OutboxDispatcher
	dispatcher *notify.Dispatcher
	scheduler  *scheduler.Scheduler
	httpSrv    *http.Server
}

func New(ctx context.Context, cfg config.Config, logger *slog.Logger) (*App, error) {
	store, err := storage.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}

	m := metrics.New(prometheus.DefaultRegisterer)

	wsHub := websocket.NewHub()
	carts := cart.NewClient(cfg.CartServiceURL, 5*time.Second)
	orderSvc := order.NewService(store.Pool(), carts, wsHub, logger)
	escrowSvc := escrow.NewService(store.Pool(), cfg.ReturnWindow, logger)
	verifier := gateway.NewClient(cfg.GatewayBaseURL, cfg.GatewaySecret, cfg.GatewayTimeout)

	publisher, err := messaging.NewRabbitPublisher(cfg.RabbitURL, cfg.SettlementExchange)
	if err != nil {
		store.Close()
		return nil, err
	}

	consumer, err := messaging.NewRabbitConsumer(cfg.RabbitURL, cfg.SettlementExchange, cfg.NotificationsQueue, logger)
	if err != nil {
		store.Close()
		publisher.Close()
		return nil, err
	}

	mailer := notify.NewMailerClient(cfg.MailerURL, 5*time.Second, logger)
	dispatcher := notify.NewDispatcher(notify.NewRepo(store.Pool()), mailer, m, logger)

	api := httpapi.NewServer(orderSvc, escrowSvc, verifier, orderSvc, cfg.WebhookSecret, m, logger)
	wsHandler := websocket.NewHandler(wsHub, orderSvc, logger)
	api.HandleFunc("GET /orders/{orderID}/ws", wsHandler.ServeWS)
	api.Handle("GET /metrics", metrics.Handler())

	outbox := messaging.NewOutboxDispatcher(store.Pool(), publisher, cfg.OutboxInterval, cfg.OutboxBatchSize, logger)
	sched := scheduler.New(escrowSvc, cfg.SchedulerInterval, cfg.AutoConfirmAfter, cfg.ReleaseBatchSize, logger)

	httpSrv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: api,
	}

	return &App{
		cfg:        cfg,
		logger:     logger,
		store:      store,
		wsHub:      wsHub,
		publisher:  publisher,
		consumer:   consumer,
		outbox:     outbox,
		dispatcher: dispatcher,
		scheduler:  sched,
		httpSrv:    httpSrv,
	}, nil
}

func (a *App) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	errCh := make(chan error, 2)

	a.outbox.Start(ctx)
	a.scheduler.Start(ctx)

	go a.wsHub.Run(ctx)

	go func() {
		errCh <- a.consumer.Start(ctx, a.handleEvent)
	}()

	go func() {
		a.logger.Info("settlement http server listening", "addr", a.cfg.HTTPAddr)
		if err := a.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		return nil
	case err := <-errCh:
		return err
	}
}

func (a *App) Close(ctx context.Context) {
	shutdownCtx, cancel := context.WithTimeout(ctx, a.cfg.ShutdownGracePeriod)
	defer cancel()
	_ = a.httpSrv.Shutdown(shutdownCtx)
	a.consumer.Close()
	a.publisher.Close()
	a.store.Close()
}

// handleEvent routes broker deliveries to the notification dispatcher. The
// dispatcher never errors: once an event is delivered here, the underlying
// state change is committed and the only sensible move is to attempt every
// notification and ack.
func (a *App) handleEvent(ctx context.Context, msg amqp091.Delivery) {
	switch msg.Type {
	case contracts.EventPaymentConfirmed:
		var evt contracts.PaymentConfirmedEvent
		if err := json.Unmarshal(msg.Body, &evt); err != nil {
			a.logger.Error("invalid payment event", "err", err)
			_ = msg.Nack(false, false)
			return
		}
		a.dispatcher.DispatchPaymentConfirmed(ctx, evt)
	case contracts.EventEscrowResolved:
		var evt contracts.EscrowResolvedEvent
		if err := json.Unmarshal(msg.Body, &evt); err != nil {
			a.logger.Error("invalid escrow event", "err", err)
			_ = msg.Nack(false, false)
			return
		}
		a.dispatcher.DispatchEscrowResolved(ctx, evt)
	default:
		a.logger.Warn("unknown event type", "type", msg.Type)
	}

	_ = msg.Ack(false)
}

func Run() error {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	cfg := config.Load()
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := New(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("init app: %w", err)
	}
	defer app.Close(ctx)

	if err := app.Run(ctx); err != nil {
		return err
	}

	return nil
}
