// Package api exposes a broker over HTTP.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/rustyeddy/papertrader/broker"
	"github.com/rustyeddy/papertrader/ledger"
	"github.com/rustyeddy/papertrader/market"
	"github.com/rustyeddy/papertrader/session"
	"github.com/rustyeddy/papertrader/sim"
)

type Server struct {
	broker broker.Broker
	auth   *Authenticator
	log    *zap.Logger
}

func NewServer(b broker.Broker, auth *Authenticator, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if auth == nil {
		auth = NewAuthenticator("")
	}
	return &Server{broker: b, auth: auth, log: logger.Named("api")}
}

func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.accessLog)

	r.Get("/healthz", s.health)

	r.Route("/v1", func(r chi.Router) {
		r.Use(s.auth.Middleware)
		r.Post("/orders", s.placeOrder)
		r.Get("/positions", s.positions)
		r.Get("/trades", s.trades)
		r.Get("/funds", s.funds)
		r.Post("/squareoff", s.squareOff)
	})
	return r
}

func (s *Server) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.log.Debug("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("took", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}

type errorBody struct {
	Error string `json:"error"`
	Code  string `json:"code"`
	// Trades lists the closes that did fill when a square-off fails part way.
	Trades []ledger.Trade `json:"trades,omitempty"`
}

type orderRequest struct {
	Instrument string              `json:"instrument"`
	Side       string              `json:"side"`
	Quantity   int64               `json:"quantity"`
	OrderKind  string              `json:"order_kind"`
	LimitPrice decimal.NullDecimal `json:"limit_price"`
	Product    string              `json:"product"`
	Tag        string              `json:"tag"`
}

func (o orderRequest) toSim() sim.OrderRequest {
	return sim.OrderRequest{
		Instrument: o.Instrument,
		Side:       market.Side(strings.ToUpper(strings.TrimSpace(o.Side))),
		Quantity:   o.Quantity,
		Kind:       market.OrderKind(strings.ToUpper(strings.TrimSpace(o.OrderKind))),
		LimitPrice: o.LimitPrice,
		Product:    market.Product(strings.ToUpper(strings.TrimSpace(o.Product))),
		Tag:        o.Tag,
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// statusFor maps an order or broker error to an HTTP status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, session.ErrEmptyUserID):
		return http.StatusUnauthorized
	case errors.Is(err, broker.ErrLiveUnavailable):
		return http.StatusNotImplemented
	case errors.Is(err, session.ErrClosed):
		return http.StatusServiceUnavailable
	}
	switch sim.KindOf(err) {
	case sim.KindValidation:
		return http.StatusBadRequest
	case sim.KindRisk, sim.KindLimit:
		return http.StatusUnprocessableEntity
	case sim.KindPrice:
		return http.StatusServiceUnavailable
	case sim.KindLedger:
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError && status != http.StatusServiceUnavailable {
		s.log.Error("request failed", zap.String("path", r.URL.Path), zap.Error(err))
	}
	writeJSON(w, status, errorBody{Error: err.Error(), Code: sim.ReasonCode(err)})
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "broker": s.broker.Name()})
}

func (s *Server) placeOrder(w http.ResponseWriter, r *http.Request) {
	user, _ := UserID(r.Context())

	var req orderRequest
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid request body: " + err.Error(), Code: "BAD_REQUEST"})
		return
	}

	trade, err := s.broker.PlaceOrder(r.Context(), user, req.toSim())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, trade)
}

func (s *Server) positions(w http.ResponseWriter, r *http.Request) {
	user, _ := UserID(r.Context())
	ps, err := s.broker.Positions(r.Context(), user)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if ps == nil {
		ps = []ledger.Position{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"positions": ps})
}

func (s *Server) trades(w http.ResponseWriter, r *http.Request) {
	user, _ := UserID(r.Context())
	ts, err := s.broker.Trades(r.Context(), user)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if ts == nil {
		ts = []ledger.Trade{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"trades": ts})
}

func (s *Server) funds(w http.ResponseWriter, r *http.Request) {
	user, _ := UserID(r.Context())
	acct, err := s.broker.Account(r.Context(), user)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, acct)
}

func (s *Server) squareOff(w http.ResponseWriter, r *http.Request) {
	user, _ := UserID(r.Context())
	ts, err := s.broker.SquareOff(r.Context(), user)
	if err != nil {
		status := statusFor(err)
		if status >= http.StatusInternalServerError && status != http.StatusServiceUnavailable {
			s.log.Error("square-off failed", zap.String("user", user), zap.Error(err))
		}
		writeJSON(w, status, errorBody{Error: err.Error(), Code: sim.ReasonCode(err), Trades: ts})
		return
	}
	if ts == nil {
		ts = []ledger.Trade{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"trades": ts})
}
