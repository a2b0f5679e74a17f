// Package httpapi exposes the fulfillment service over HTTP.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/nazeru/order-fulfillment/internal/fulfillment"
	"github.com/nazeru/order-fulfillment/internal/order/domain"
	"github.com/nazeru/order-fulfillment/pkg/idempotency"
	"github.com/nazeru/order-fulfillment/pkg/logging"
	"github.com/nazeru/order-fulfillment/pkg/metrics"
)

const uuidPattern = "[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}"

type Config struct {
	RequestTimeout time.Duration
	// Health reports whether the backing store answers. Nil means healthy.
	Health   func(ctx context.Context) error
	Gatherer prometheus.Gatherer
}

type Server struct {
	svc     *fulfillment.Service
	logger  *zap.Logger
	metrics *metrics.ServerMetrics
	cfg     Config
}

func New(svc *fulfillment.Service, logger *zap.Logger, m *metrics.ServerMetrics, cfg Config) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 2500 * time.Millisecond
	}
	return &Server{svc: svc, logger: logger, metrics: m, cfg: cfg}
}

func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.Use(s.instrument)

	r.HandleFunc("/health", s.health).Methods(http.MethodGet).Name("health")
	if s.cfg.Gatherer != nil {
		r.Handle("/metrics", metrics.Handler(s.cfg.Gatherer)).Methods(http.MethodGet).Name("metrics")
	}

	o := r.PathPrefix("/orders").Subrouter()
	o.HandleFunc("", s.createOrder).Methods(http.MethodPost).Name("create_order")
	o.HandleFunc("/revenue", s.revenue).Methods(http.MethodGet).Name("revenue")
	o.HandleFunc("/count", s.count).Methods(http.MethodGet).Name("count")
	o.HandleFunc("/by-number/{orderNumber}", s.getOrderByNumber).Methods(http.MethodGet).Name("get_order_by_number")
	o.HandleFunc("/{id:"+uuidPattern+"}", s.getOrder).Methods(http.MethodGet).Name("get_order")
	o.HandleFunc("/{id:"+uuidPattern+"}/status", s.updateStatus).Methods(http.MethodPut).Name("update_status")
	o.HandleFunc("/{id:"+uuidPattern+"}/cancel", s.cancelOrder).Methods(http.MethodPost).Name("cancel_order")
	return r
}

type statusRecorder struct {
	http.ResponseWriter
	code int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.code = code
	r.ResponseWriter.WriteHeader(code)
}

// instrument applies the request timeout and records per-route metrics.
func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ctx, cancel := context.WithTimeout(r.Context(), s.cfg.RequestTimeout)
		defer cancel()

		rec := &statusRecorder{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(rec, r.WithContext(ctx))

		name := "unknown"
		if route := mux.CurrentRoute(r); route != nil && route.GetName() != "" {
			name = route.GetName()
		}
		if s.metrics != nil {
			s.metrics.Requests.WithLabelValues(name, strconv.Itoa(rec.code)).Inc()
			s.metrics.LatencyMS.WithLabelValues(name).Observe(float64(time.Since(start).Milliseconds()))
		}
	})
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Health != nil {
		if err := s.cfg.Health(r.Context()); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "db_error"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (s *Server) createOrder(w http.ResponseWriter, r *http.Request) {
	key, err := idempotency.Key(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	var req createOrderRequest
	if err := decode(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	in, err := req.input(key)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	res, err := s.svc.CreateOrder(r.Context(), in)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	code := http.StatusCreated
	if res.Replayed {
		idempotency.MarkReplay(w)
		code = http.StatusOK
	}
	writeJSON(w, code, toResponse(res.Order))
}

func (req createOrderRequest) input(key string) (fulfillment.CreateOrderInput, error) {
	userID, err := uuid.Parse(strings.TrimSpace(req.UserID))
	if err != nil {
		return fulfillment.CreateOrderInput{}, fmt.Errorf("%w: user_id must be a uuid", errBadRequest)
	}
	lines := make([]fulfillment.LineRequest, 0, len(req.Items))
	for _, it := range req.Items {
		pid, err := uuid.Parse(strings.TrimSpace(it.ProductID))
		if err != nil {
			return fulfillment.CreateOrderInput{}, fmt.Errorf("%w: product_id %q must be a uuid", errBadRequest, it.ProductID)
		}
		lines = append(lines, fulfillment.LineRequest{ProductID: pid, Quantity: it.Quantity})
	}
	return fulfillment.CreateOrderInput{
		UserID:          userID,
		Lines:           lines,
		TaxAmount:       req.TaxAmount,
		ShippingAmount:  req.ShippingAmount,
		ShippingAddress: req.ShippingAddress,
		Notes:           req.Notes,
		IdempotencyKey:  key,
	}, nil
}

func (s *Server) getOrder(w http.ResponseWriter, r *http.Request) {
	o, err := s.svc.GetOrder(r.Context(), uuid.MustParse(mux.Vars(r)["id"]))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toResponse(o))
}

func (s *Server) getOrderByNumber(w http.ResponseWriter, r *http.Request) {
	o, err := s.svc.GetOrderByNumber(r.Context(), mux.Vars(r)["orderNumber"])
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toResponse(o))
}

func (s *Server) updateStatus(w http.ResponseWriter, r *http.Request) {
	var req statusRequest
	if err := decode(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	status, err := domain.ParseStatus(req.Status)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	o, err := s.svc.UpdateStatus(r.Context(), uuid.MustParse(mux.Vars(r)["id"]), status, req.Reason)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toResponse(o))
}

func (s *Server) cancelOrder(w http.ResponseWriter, r *http.Request) {
	var req cancelRequest
	if err := decodeOptional(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	o, err := s.svc.CancelOrder(r.Context(), uuid.MustParse(mux.Vars(r)["id"]), req.Reason)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toResponse(o))
}

func (s *Server) revenue(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	fromS, toS := q.Get("from"), q.Get("to")

	var (
		total decimal.Decimal
		err   error
	)
	switch {
	case fromS == "" && toS == "":
		total, err = s.svc.Revenue(r.Context())
	case fromS == "" || toS == "":
		err = fmt.Errorf("%w: from and to must be given together", errBadRequest)
	default:
		var from, to time.Time
		if from, err = time.Parse(time.RFC3339, fromS); err != nil {
			err = fmt.Errorf("%w: from must be RFC3339", errBadRequest)
			break
		}
		if to, err = time.Parse(time.RFC3339, toS); err != nil {
			err = fmt.Errorf("%w: to must be RFC3339", errBadRequest)
			break
		}
		total, err = s.svc.RevenueBetween(r.Context(), from, to)
	}
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"revenue": total})
}

func (s *Server) count(w http.ResponseWriter, r *http.Request) {
	status, err := domain.ParseStatus(r.URL.Query().Get("status"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	n, err := s.svc.CountByStatus(r.Context(), status)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": status, "count": n})
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	code := statusFor(err)
	fields := logging.Fields{OrderID: mux.Vars(r)["id"], Step: r.Method + " " + r.URL.Path, Status: strconv.Itoa(code)}
	if code >= http.StatusInternalServerError {
		s.logger.Error("request failed", append(fields.Zap(), zap.Error(err))...)
	} else {
		s.logger.Debug("request rejected", append(fields.Zap(), zap.Error(err))...)
	}
	writeJSON(w, code, errorBody(err, code))
}

func decode(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: invalid json: %v", errBadRequest, err)
	}
	return nil
}

// decodeOptional is decode for endpoints whose body may be absent. An empty
// body leaves v untouched, whether or not the client sent a Content-Length.
func decodeOptional(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("%w: invalid json: %v", errBadRequest, err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
