package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"vendora/settlement-service/internal/escrow"
	"vendora/settlement-service/internal/gateway"
	"vendora/settlement-service/internal/metrics"
	"vendora/settlement-service/internal/order"

	"github.com/google/uuid"
)

// Verifier re-checks a claimed transaction against the payment gateway.
type Verifier interface {
	Verify(ctx context.Context, transactionID string) (*gateway.VerifiedTransaction, error)
}

// Settler applies a verified payment to its order.
type Settler interface {
	Settle(ctx context.Context, vt gateway.VerifiedTransaction) (order.SettleResult, error)
}

type OrderAPI interface {
	Create(ctx context.Context, in order.CreateInput) (*order.Order, error)
	List(ctx context.Context, userID uuid.UUID) ([]order.Order, error)
	Get(ctx context.Context, userID, orderID uuid.UUID) (*order.Order, error)
}

type EscrowAPI interface {
	Release(ctx context.Context, subOrderID uuid.UUID, actor string) error
	Refund(ctx context.Context, subOrderID uuid.UUID, reason, actor string) error
	ReleaseQueue(ctx context.Context, filter escrow.QueueFilter) (*escrow.QueuePage, error)
	RefundQueue(ctx context.Context, filter escrow.QueueFilter) (*escrow.QueuePage, error)
	ConfirmDelivery(ctx context.Context, userID, subOrderID uuid.UUID) error
	SetDeliveryStatus(ctx context.Context, subOrderID uuid.UUID, to order.DeliveryStatus, actor string) error
	WalletBalance(ctx context.Context, storeID uuid.UUID) (int64, error)
}

type Server struct {
	orders        OrderAPI
	escrow        EscrowAPI
	verifier      Verifier
	settler       Settler
	webhookSecret string
	metrics       *metrics.Metrics
	logger        *slog.Logger
	mux           *http.ServeMux
}

func NewServer(orders OrderAPI, esc EscrowAPI, verifier Verifier, settler Settler, webhookSecret string, m *metrics.Metrics, logger *slog.Logger) *Server {
	s := &Server{
		orders:        orders,
		escrow:        esc,
		verifier:      verifier,
		settler:       settler,
		webhookSecret: webhookSecret,
		metrics:       m,
		logger:        logger,
		mux:           http.NewServeMux(),
	}

	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("POST /webhooks/payments", s.handlePaymentWebhook)

	s.mux.HandleFunc("POST /orders", s.createOrder)
	s.mux.HandleFunc("GET /orders", s.listOrders)
	s.mux.HandleFunc("GET /orders/{orderID}", s.getOrder)
	s.mux.HandleFunc("POST /sub-orders/{subOrderID}/confirm-delivery", s.confirmDelivery)

	s.mux.HandleFunc("GET /admin/escrow/release-queue", s.releaseQueue)
	s.mux.HandleFunc("GET /admin/escrow/refund-queue", s.refundQueue)
	s.mux.HandleFunc("POST /admin/sub-orders/{subOrderID}/release", s.releaseEscrow)
	s.mux.HandleFunc("POST /admin/sub-orders/{subOrderID}/refund", s.refundEscrow)
	s.mux.HandleFunc("POST /admin/sub-orders/{subOrderID}/delivery-status", s.setDeliveryStatus)
	s.mux.HandleFunc("GET /admin/stores/{storeID}/wallet", s.walletBalance)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// HandleFunc registers an extra route on the server's mux, for routes owned
// by other packages (websocket, metrics).
func (s *Server) HandleFunc(pattern string, h func(http.ResponseWriter, *http.Request)) {
	s.mux.HandleFunc(pattern, h)
}

func (s *Server) Handle(pattern string, h http.Handler) {
	s.mux.Handle(pattern, h)
}

func (s *Server) createOrder(w http.ResponseWriter, r *http.Request) {
	userID, err := userIDFromRequest(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var in order.CreateInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	in.UserID = userID

	o, err := s.orders.Create(r.Context(), in)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	writeJSON(w, http.StatusCreated, o)
}

func (s *Server) listOrders(w http.ResponseWriter, r *http.Request) {
	userID, err := userIDFromRequest(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	orders, err := s.orders.List(r.Context(), userID)
	if err != nil {
		s.logger.Error("list orders", "err", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"orders": orders})
}

func (s *Server) getOrder(w http.ResponseWriter, r *http.Request) {
	userID, err := userIDFromRequest(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	orderID, err := uuid.Parse(r.PathValue("orderID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid order id")
		return
	}

	o, err := s.orders.Get(r.Context(), userID, orderID)
	if err != nil {
		if errors.Is(err, order.ErrOrderNotFound) {
			writeError(w, http.StatusNotFound, "order not found")
			return
		}
		s.logger.Error("get order", "err", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	writeJSON(w, http.StatusOK, o)
}

func (s *Server) confirmDelivery(w http.ResponseWriter, r *http.Request) {
	userID, err := userIDFromRequest(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	subOrderID, err := uuid.Parse(r.PathValue("subOrderID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid sub-order id")
		return
	}

	if err := s.escrow.ConfirmDelivery(r.Context(), userID, subOrderID); err != nil {
		s.writeEscrowError(w, err, "confirm delivery")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"message": "delivery confirmed"})
}

func (s *Server) writeEscrowError(w http.ResponseWriter, err error, op string) {
	switch {
	case errors.Is(err, escrow.ErrSubOrderNotFound):
		writeError(w, http.StatusNotFound, "sub-order not found")
	case errors.Is(err, escrow.ErrStateConflict), errors.Is(err, escrow.ErrNotEligible), errors.Is(err, escrow.ErrInvalidTransition):
		writeError(w, http.StatusConflict, err.Error())
	default:
		s.logger.Error(op, "err", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func userIDFromRequest(r *http.Request) (uuid.UUID, error) {
	value := r.Header.Get("X-User-ID")
	if value == "" {
		return uuid.UUID{}, errors.New("missing X-User-ID header")
	}
	return uuid.Parse(value)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func WithServer(ctx context.Context, addr string, srv http.Handler) *http.Server {
	server := &http.Server{
		Addr:    addr,
		Handler: srv,
	}
	go func() {
		<-ctx.Done()
		_ = server.Shutdown(context.Background())
	}()
	return server
}
