package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/rustyeddy/papertrader/broker"
	"github.com/rustyeddy/papertrader/internal/clock"
	"github.com/rustyeddy/papertrader/journal"
	"github.com/rustyeddy/papertrader/market"
	"github.com/rustyeddy/papertrader/risk"
	"github.com/rustyeddy/papertrader/session"
	"github.com/rustyeddy/papertrader/sim"
)

const testSecret = "test-secret"

type testEnv struct {
	handler http.Handler
	ticks   *market.TickStore
}

func newEnv(t *testing.T, secret string) *testEnv {
	t.Helper()
	clk := clock.NewFake(time.Date(2024, 1, 2, 10, 0, 0, 0, time.UTC), clock.Cutoff{Hour: 15, Minute: 15, Loc: time.UTC})
	ticks := market.NewTickStore(0, clk.Now)
	reg, err := session.New(session.Options{
		Engine: sim.Config{
			InitialCapital: decimal.NewFromInt(100000),
			Limits:         risk.Limits{MaxTradesPerDay: 3},
		},
		Prices: ticks,
		Clock:  clk,
		Store:  journal.NewMemory(),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = reg.Close(context.Background()) })

	srv := NewServer(broker.NewPaper(reg), NewAuthenticator(secret), zaptest.NewLogger(t))
	return &testEnv{handler: srv.Routes(), ticks: ticks}
}

func (e *testEnv) price(instr, px string) {
	e.ticks.Set(market.Tick{Instrument: instr, LTP: decimal.RequireFromString(px), Time: time.Now()})
}

func (e *testEnv) do(t *testing.T, method, path, user string, body any) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		switch b := body.(type) {
		case string:
			buf.WriteString(b)
		default:
			require.NoError(t, json.NewEncoder(&buf).Encode(b))
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	if user != "" {
		req.Header.Set(UserHeader, user)
	}
	rr := httptest.NewRecorder()
	e.handler.ServeHTTP(rr, req)

	var out map[string]any
	if rr.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &out))
	}
	return rr, out
}

func TestHealthz(t *testing.T) {
	env := newEnv(t, "")
	rr, body := env.do(t, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "paper", body["broker"])
}

func TestSquareOffReportsFilledClosesOnFailure(t *testing.T) {
	env := newEnv(t, "")
	env.price("INFY", "1500")
	env.price("TCS", "3500")
	for _, instr := range []string{"INFY", "TCS"} {
		rr, _ := env.do(t, http.MethodPost, "/v1/orders", "alice", map[string]any{
			"instrument": instr, "side": "BUY", "quantity": 1,
		})
		require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	}

	// the third trade of the day is the last one allowed
	rr, body := env.do(t, http.MethodPost, "/v1/squareoff", "alice", nil)
	assert.Equal(t, http.StatusUnprocessableEntity, rr.Code, rr.Body.String())
	assert.Equal(t, "MAX_TRADES_REACHED", body["code"])
	filled, ok := body["trades"].([]any)
	require.True(t, ok, rr.Body.String())
	require.Len(t, filled, 1)
	assert.Equal(t, "SQUARE_OFF", filled[0].(map[string]any)["tag"])

	rr, body = env.do(t, http.MethodGet, "/v1/positions", "alice", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Len(t, body["positions"], 1)
}

func TestRequiresUser(t *testing.T) {
	env := newEnv(t, "")
	rr, body := env.do(t, http.MethodGet, "/v1/funds", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
	assert.Equal(t, "UNAUTHORIZED", body["code"])
}

func TestOrderFlow(t *testing.T) {
	env := newEnv(t, "")
	env.price("RELIANCE", "2550.50")

	rr, body := env.do(t, http.MethodPost, "/v1/orders", "alice", map[string]any{
		"instrument": "reliance",
		"side":       "buy",
		"quantity":   10,
		"product":    "mis",
	})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	assert.Equal(t, "RELIANCE", body["instrument"])
	assert.Equal(t, "BUY", body["side"])
	assert.Equal(t, "2550.5", body["fill_price"])
	assert.Equal(t, "MIS", body["product"])

	rr, body = env.do(t, http.MethodGet, "/v1/funds", "alice", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "74495", body["available_funds"])
	assert.Equal(t, "25505", body["invested_amount"])
	assert.EqualValues(t, 1, body["open_positions"])

	rr, body = env.do(t, http.MethodGet, "/v1/positions", "alice", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Len(t, body["positions"], 1)

	rr, body = env.do(t, http.MethodGet, "/v1/positions", "bob", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Len(t, body["positions"], 0)

	env.price("RELIANCE", "2560")
	rr, body = env.do(t, http.MethodPost, "/v1/squareoff", "alice", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	closed := body["trades"].([]any)
	require.Len(t, closed, 1)
	assert.Equal(t, "SQUARE_OFF", closed[0].(map[string]any)["tag"])
	assert.Equal(t, "95", closed[0].(map[string]any)["realized_pnl"])

	rr, body = env.do(t, http.MethodGet, "/v1/trades", "alice", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Len(t, body["trades"], 2)
}

func TestOrderErrors(t *testing.T) {
	env := newEnv(t, "")
	env.price("INFY", "100")

	tests := []struct {
		name   string
		body   any
		status int
		code   string
	}{
		{"bad json", "{", http.StatusBadRequest, "BAD_REQUEST"},
		{"unknown field", `{"instrument":"INFY","colour":"red"}`, http.StatusBadRequest, "BAD_REQUEST"},
		{"zero qty", map[string]any{"instrument": "INFY", "side": "BUY", "quantity": 0}, http.StatusBadRequest, "INVALID_QUANTITY"},
		{"bad side", map[string]any{"instrument": "INFY", "side": "HOLD", "quantity": 1}, http.StatusBadRequest, "INVALID_SIDE"},
		{"no price", map[string]any{"instrument": "TCS", "side": "BUY", "quantity": 1}, http.StatusServiceUnavailable, "PRICE_UNAVAILABLE"},
		{"short", map[string]any{"instrument": "INFY", "side": "SELL", "quantity": 1}, http.StatusConflict, "NO_OPEN_POSITION"},
		{"limit not met", map[string]any{"instrument": "INFY", "side": "BUY", "quantity": 1, "order_kind": "LIMIT", "limit_price": "99"},
			http.StatusUnprocessableEntity, "LIMIT_NOT_MET"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr, body := env.do(t, http.MethodPost, "/v1/orders", "alice", tt.body)
			assert.Equal(t, tt.status, rr.Code, rr.Body.String())
			assert.Equal(t, tt.code, body["code"])
			assert.NotEmpty(t, body["error"])
		})
	}
}

func TestRiskRejectionIs422(t *testing.T) {
	env := newEnv(t, "")
	env.price("INFY", "100")
	order := map[string]any{"instrument": "INFY", "side": "BUY", "quantity": 1}
	for i := 0; i < 3; i++ {
		rr, _ := env.do(t, http.MethodPost, "/v1/orders", "alice", order)
		require.Equal(t, http.StatusCreated, rr.Code)
	}
	rr, body := env.do(t, http.MethodPost, "/v1/orders", "alice", order)
	assert.Equal(t, http.StatusUnprocessableEntity, rr.Code)
	assert.Equal(t, "MAX_TRADES_REACHED", body["code"])
}

func signed(t *testing.T, secret string, method jwt.SigningMethod, claims jwt.MapClaims) string {
	t.Helper()
	s, err := jwt.NewWithClaims(method, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return s
}

func TestJWTIdentification(t *testing.T) {
	env := newEnv(t, testSecret)
	exp := time.Now().Add(time.Hour).Unix()

	tests := []struct {
		name   string
		header string
		status int
	}{
		{"valid", "Bearer " + signed(t, testSecret, jwt.SigningMethodHS256, jwt.MapClaims{"sub": "alice", "exp": exp}), http.StatusOK},
		{"wrong secret", "Bearer " + signed(t, "other", jwt.SigningMethodHS256, jwt.MapClaims{"sub": "alice", "exp": exp}), http.StatusUnauthorized},
		{"wrong alg", "Bearer " + signed(t, testSecret, jwt.SigningMethodHS512, jwt.MapClaims{"sub": "alice", "exp": exp}), http.StatusUnauthorized},
		{"expired", "Bearer " + signed(t, testSecret, jwt.SigningMethodHS256, jwt.MapClaims{"sub": "alice", "exp": time.Now().Add(-time.Hour).Unix()}), http.StatusUnauthorized},
		{"no exp", "Bearer " + signed(t, testSecret, jwt.SigningMethodHS256, jwt.MapClaims{"sub": "alice"}), http.StatusUnauthorized},
		{"no sub", "Bearer " + signed(t, testSecret, jwt.SigningMethodHS256, jwt.MapClaims{"exp": exp}), http.StatusUnauthorized},
		{"no bearer", "alice", http.StatusUnauthorized},
		{"missing", "", http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/v1/funds", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			// the header fallback is ignored once a secret is set
			req.Header.Set(UserHeader, "mallory")
			rr := httptest.NewRecorder()
			env.handler.ServeHTTP(rr, req)
			assert.Equal(t, tt.status, rr.Code, rr.Body.String())
		})
	}
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, http.StatusNotImplemented, statusFor(broker.ErrLiveUnavailable))
	assert.Equal(t, http.StatusUnauthorized, statusFor(session.ErrEmptyUserID))
	assert.Equal(t, http.StatusServiceUnavailable, statusFor(session.ErrClosed))
	assert.Equal(t, http.StatusConflict, statusFor(sim.ErrOverClose))
	assert.Equal(t, http.StatusInternalServerError, statusFor(sim.ErrEngineHalted))
	assert.Equal(t, http.StatusInternalServerError, statusFor(errors.New("boom")))
}
