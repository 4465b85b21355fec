package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
	"nhooyr.io/websocket"

	"inferpay/core"
	"inferpay/core/events"
	"inferpay/core/types"
	"inferpay/native/escrow"
	"inferpay/native/pricing"
	"inferpay/native/settlement"
	"inferpay/services/auditlog"
	"inferpay/storage"
)

const (
	testSecret = "rpc-test-secret"
	testIssuer = "inferpay-test"
)

var (
	custody   = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	relay     = common.HexToAddress("0x00000000000000000000000000000000000000a2")
	revenue   = common.HexToAddress("0x00000000000000000000000000000000000000a3")
	relayComp = common.HexToAddress("0x00000000000000000000000000000000000000a4")
	protocol  = common.HexToAddress("0x00000000000000000000000000000000000000a5")
	notifier  = common.HexToAddress("0x00000000000000000000000000000000000000a6")
	refPool   = common.HexToAddress("0x00000000000000000000000000000000000000a7")
	payer     = common.HexToAddress("0x00000000000000000000000000000000000000b1")
	owner     = common.HexToAddress("0x00000000000000000000000000000000000000b2")
)

type harness struct {
	node   *core.Node
	server *Server
	audit  *auditlog.Store
	stream *events.Broadcaster
}

func newHarness(t *testing.T, cfg ServerConfig) *harness {
	t.Helper()
	node, err := core.NewNode(storage.NewMemDB(), core.Options{
		Custody: custody,
		Settlement: settlement.Config{
			Relay:   relay,
			Custody: custody,
			Payees:  settlement.Payees{Revenue: revenue, RelayCompensation: relayComp, ProtocolFee: protocol},
		},
		Updater: pricing.UpdaterConfig{
			Notifier:            notifier,
			ReferencePool:       refPool,
			BaseInputPrice:      big.NewInt(100),
			BaseOutputPrice:     big.NewInt(200),
			InputBand:           pricing.Band{Min: big.NewInt(50), Max: big.NewInt(400)},
			OutputBand:          pricing.Band{Min: big.NewInt(100), Max: big.NewInt(800)},
			MaxStepBps:          1_000,
			VolatilityWeightBps: 5_000,
		},
		Genesis: pricing.Params{
			PricePerInputUnit:  big.NewInt(100),
			PricePerOutputUnit: big.NewInt(200),
			ProtocolFeeBps:     100,
			GasMarkupPerCall:   big.NewInt(10_000),
			Denomination:       "USDC",
		},
		GenesisBalances: []core.GenesisBalance{{Address: payer, Token: "USDC", Amount: big.NewInt(50_000_000)}},
	})
	require.NoError(t, err)

	db, err := auditlog.Open("sqlite", fmt.Sprintf("file:rpc_%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_")))
	require.NoError(t, err)
	audit, err := auditlog.New(db, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = audit.Close() })

	stream := events.NewBroadcaster(16)
	node.SetEventSink(events.Multi{audit, stream})

	if cfg.JWTSecret == "" {
		cfg.JWTSecret = testSecret
		cfg.JWTIssuer = testIssuer
	}
	if cfg.RateLimitPerSecond == 0 {
		cfg.RateLimitPerSecond = 1_000
		cfg.RateLimitBurst = 1_000
	}
	srv, err := NewServer(node, audit, stream, cfg, nil)
	require.NoError(t, err)
	return &harness{node: node, server: srv, audit: audit, stream: stream}
}

func signToken(t *testing.T, sub common.Address, scopes ...string) string {
	t.Helper()
	claims := jwt.MapClaims{
		"sub":   sub.Hex(),
		"iss":   testIssuer,
		"scope": strings.Join(scopes, " "),
		"exp":   time.Now().Add(time.Hour).Unix(),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	require.NoError(t, err)
	return signed
}

func (h *harness) do(t *testing.T, method, path, token string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.server.Handler().ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func fund(t *testing.T, h *harness, id string, amount string) *httptest.ResponseRecorder {
	t.Helper()
	return h.do(t, http.MethodPost, "/v1/deposits", signToken(t, payer, ScopeFunder), fundDepositRequest{
		RequestID: id,
		Owner:     owner.Hex(),
		Token:     "usdc",
		Amount:    amount,
	})
}

func TestFundAndSettleOverHTTP(t *testing.T) {
	h := newHarness(t, ServerConfig{})

	rec := fund(t, h, "req-1", "10000000")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	dep := decode[depositResult](t, rec)
	require.Equal(t, "USDC", dep.Token)
	require.Equal(t, "10000000", dep.Amount)
	require.Equal(t, owner.Hex(), dep.Owner)

	rec = h.do(t, http.MethodGet, "/v1/deposits/"+dep.RequestID, "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.False(t, decode[depositResult](t, rec).Settled)

	relayToken := signToken(t, relay, ScopeRelay)
	rec = h.do(t, http.MethodPost, "/v1/settlements/quote", relayToken, settleRequest{RequestID: "req-1", InputUnits: 50, OutputUnits: 120})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.Equal(t, "9960710", decode[outcomeResult](t, rec).Refund)

	rec = h.do(t, http.MethodPost, "/v1/settlements", relayToken, settleRequest{RequestID: "req-1", InputUnits: 50, OutputUnits: 120})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	outcome := decode[outcomeResult](t, rec)
	require.Equal(t, "29000", outcome.BaseCost)
	require.Equal(t, "290", outcome.Fee)
	require.Equal(t, "10000", outcome.GasComp)
	require.Equal(t, "9960710", outcome.Refund)
	require.Equal(t, uint64(1), outcome.PricingVersion)

	rec = h.do(t, http.MethodPost, "/v1/settlements", relayToken, settleRequest{RequestID: "req-1", InputUnits: 50, OutputUnits: 120})
	require.Equal(t, http.StatusConflict, rec.Code)
	require.Equal(t, "already_settled", decode[problem](t, rec).Reason)

	bal, err := h.node.Balance(owner, "USDC")
	require.NoError(t, err)
	require.Equal(t, int64(9_960_710), bal.Int64())
}

func TestErrorReasons(t *testing.T) {
	h := newHarness(t, ServerConfig{})
	require.Equal(t, http.StatusCreated, fund(t, h, "small", "1000").Code)

	rec := fund(t, h, "small", "1000")
	require.Equal(t, http.StatusConflict, rec.Code)
	require.Equal(t, "duplicate_request", decode[problem](t, rec).Reason)

	rec = h.do(t, http.MethodGet, "/v1/deposits/missing", "", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
	require.Equal(t, "not_found", decode[problem](t, rec).Reason)

	rec = h.do(t, http.MethodPost, "/v1/settlements", signToken(t, relay, ScopeRelay), settleRequest{RequestID: "small", InputUnits: 5, OutputUnits: 5})
	require.Equal(t, http.StatusPaymentRequired, rec.Code)
	require.Equal(t, "underfunded", decode[problem](t, rec).Reason)

	rec = fund(t, h, "too-much", "999999999999")
	require.Equal(t, http.StatusPaymentRequired, rec.Code)
	require.Equal(t, "insufficient_funds", decode[problem](t, rec).Reason)

	rec = fund(t, h, "zero", "0")
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, "invalid_argument", decode[problem](t, rec).Reason)
}

func TestAuthentication(t *testing.T) {
	h := newHarness(t, ServerConfig{})
	body := settleRequest{RequestID: "x", InputUnits: 1, OutputUnits: 1}

	rec := h.do(t, http.MethodPost, "/v1/settlements", "", body)
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = h.do(t, http.MethodPost, "/v1/settlements", signToken(t, relay, ScopeFunder), body)
	require.Equal(t, http.StatusForbidden, rec.Code)

	require.Equal(t, http.StatusCreated, fund(t, h, "x", "10000000").Code)
	rec = h.do(t, http.MethodPost, "/v1/settlements", signToken(t, payer, ScopeRelay), body)
	require.Equal(t, http.StatusForbidden, rec.Code)
	require.Equal(t, "unauthorized", decode[problem](t, rec).Reason)

	expired, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":   relay.Hex(),
		"iss":   testIssuer,
		"scope": ScopeRelay,
		"exp":   time.Now().Add(-time.Hour).Unix(),
	}).SignedString([]byte(testSecret))
	require.NoError(t, err)
	rec = h.do(t, http.MethodPost, "/v1/settlements", expired, body)
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	wrongIssuer, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":   relay.Hex(),
		"iss":   "someone-else",
		"scope": []string{ScopeRelay},
		"exp":   time.Now().Add(time.Hour).Unix(),
	}).SignedString([]byte(testSecret))
	require.NoError(t, err)
	rec = h.do(t, http.MethodPost, "/v1/settlements", wrongIssuer, body)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestPoolActivityAlwaysAccepted(t *testing.T) {
	h := newHarness(t, ServerConfig{})
	activity := poolActivityRequest{poolJSON: poolJSON{
		Address:     refPool.Hex(),
		Token0:      "0x0000000000000000000000000000000000000001",
		Token1:      "0x0000000000000000000000000000000000000002",
		Fee:         3000,
		TickSpacing: 60,
		Tick:        6932,
		Liquidity:   "1000000",
	}}

	rec := h.do(t, http.MethodPost, "/v1/pools/activity", signToken(t, payer, ScopeNotifier), activity)
	require.Equal(t, http.StatusAccepted, rec.Code)
	rejected := decode[poolActivityResult](t, rec)
	require.False(t, rejected.Applied)
	require.Equal(t, "unauthorized", rejected.Reason)

	rec = h.do(t, http.MethodPost, "/v1/pools/activity", signToken(t, notifier, ScopeNotifier), activity)
	require.Equal(t, http.StatusAccepted, rec.Code)
	applied := decode[poolActivityResult](t, rec)
	require.True(t, applied.Applied)
	require.True(t, applied.Repriced)
	require.Equal(t, uint64(2), applied.Version)

	rec = h.do(t, http.MethodGet, "/v1/pricing", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	prices := decode[pricingResult](t, rec)
	require.Equal(t, uint64(2), prices.Version)
	require.Equal(t, "110", prices.PricePerInputUnit)
	require.Equal(t, "220", prices.PricePerOutputUnit)

	rec = h.do(t, http.MethodGet, "/v1/pools", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	pools := decode[[]poolJSON](t, rec)
	require.Len(t, pools, 1)
	require.Equal(t, refPool.Hex(), pools[0].Address)
	require.NotEmpty(t, pools[0].SqrtPriceX96)

	rec = h.do(t, http.MethodPost, "/v1/quotes/exact-input", "", quoteRequest{PoolAddress: refPool.Hex(), Direction: "zeroForOne", AmountIn: "1000"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}

func inlinePool() *poolJSON {
	return &poolJSON{
		Address:      "0x9000000000000000000000000000000000000009",
		Token0:       "0x1000000000000000000000000000000000000001",
		Token1:       "0x2000000000000000000000000000000000000002",
		Fee:          3000,
		TickSpacing:  60,
		SqrtPriceX96: "79228162514264337593543950336",
		Tick:         0,
		Liquidity:    "1000000000000000000",
	}
}

func TestQuotes(t *testing.T) {
	h := newHarness(t, ServerConfig{})

	rec := h.do(t, http.MethodPost, "/v1/quotes/exact-input", "", quoteRequest{Pool: inlinePool(), Direction: "zeroForOne", AmountIn: "1000000"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	single := decode[quoteResult](t, rec)
	require.Equal(t, "3000", single.FeeAmount)
	require.True(t, single.Approximate)

	rec = h.do(t, http.MethodPost, "/v1/quotes/batch", "", quoteRequest{Pool: inlinePool(), Direction: "zeroForOne", Amounts: []string{"5", "1000000"}})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	batch := decode[[]quoteResult](t, rec)
	require.Len(t, batch, 2)
	require.Equal(t, single, batch[1])

	rec = h.do(t, http.MethodPost, "/v1/quotes/exact-input", "", quoteRequest{Pool: inlinePool(), Direction: "zeroForOne", AmountIn: "0"})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, "invalid_argument", decode[problem](t, rec).Reason)

	rec = h.do(t, http.MethodPost, "/v1/quotes/batch", "", quoteRequest{Pool: inlinePool(), Direction: "zeroForOne"})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = h.do(t, http.MethodPost, "/v1/quotes/exact-input", "", quoteRequest{Pool: inlinePool(), Direction: "sideways", AmountIn: "1"})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = h.do(t, http.MethodPost, "/v1/quotes/exact-input", "", quoteRequest{PoolAddress: refPool.Hex(), AmountIn: "1"})
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestValidatePool(t *testing.T) {
	h := newHarness(t, ServerConfig{})

	rec := h.do(t, http.MethodPost, "/v1/pools/validate", "", inlinePool())
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.True(t, decode[validateResult](t, rec).Valid)

	bad := inlinePool()
	bad.Token0, bad.Token1 = bad.Token1, bad.Token0
	bad.Liquidity = "0"
	rec = h.do(t, http.MethodPost, "/v1/pools/validate", "", bad)
	require.Equal(t, http.StatusOK, rec.Code)
	verdict := decode[validateResult](t, rec)
	require.False(t, verdict.Valid)
	require.False(t, verdict.OrderedAssets)
	require.False(t, verdict.HasLiquidity)
}

func TestAuditQuery(t *testing.T) {
	h := newHarness(t, ServerConfig{})
	require.Equal(t, http.StatusCreated, fund(t, h, "audited", "10000000").Code)
	rec := h.do(t, http.MethodPost, "/v1/settlements", signToken(t, relay, ScopeRelay), settleRequest{RequestID: "audited", InputUnits: 1, OutputUnits: 1})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = h.do(t, http.MethodGet, "/v1/audit", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	all := decode[[]auditRecord](t, rec)
	require.Len(t, all, 2)
	require.Equal(t, events.TypeDepositCreated, all[0].Type)
	require.Equal(t, events.TypeSettlementCompleted, all[1].Type)
	require.Less(t, all[0].Height, all[1].Height)

	rec = h.do(t, http.MethodGet, "/v1/audit?type="+events.TypeSettlementCompleted, "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, decode[[]auditRecord](t, rec), 1)

	rec = h.do(t, http.MethodGet, "/v1/audit?requestId=audited", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	byLabel := decode[[]auditRecord](t, rec)
	require.Len(t, byLabel, 2)

	id, err := escrow.ParseRequestID("audited")
	require.NoError(t, err)
	require.Equal(t, id.Hex(), byLabel[0].Attributes["requestId"])
	rec = h.do(t, http.MethodGet, "/v1/audit?requestId="+id.Hex(), "", nil)
	require.Len(t, decode[[]auditRecord](t, rec), 2)

	rec = h.do(t, http.MethodGet, "/v1/audit?requestId=other", "", nil)
	require.Empty(t, decode[[]auditRecord](t, rec))

	rec = h.do(t, http.MethodGet, "/v1/audit?fromHeight=abc", "", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAuditStreamDeliversCommittedEvents(t *testing.T) {
	h := newHarness(t, ServerConfig{})
	ts := httptest.NewServer(h.server.Handler())
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(ts.URL, "http")+"/v1/audit/stream", nil)
	require.NoError(t, err)
	defer conn.Close(websocket.StatusNormalClosure, "")

	require.Equal(t, http.StatusCreated, fund(t, h, "streamed", "1000").Code)

	_, payload, err := conn.Read(ctx)
	require.NoError(t, err)
	var evt types.Event
	require.NoError(t, json.Unmarshal(payload, &evt))
	require.Equal(t, events.TypeDepositCreated, evt.Type)
	require.Equal(t, uint64(2), evt.Height)
	require.Equal(t, "1000", evt.Attr("amount"))
}

func TestRateLimit(t *testing.T) {
	h := newHarness(t, ServerConfig{RateLimitPerSecond: 0.001, RateLimitBurst: 1})
	require.Equal(t, http.StatusOK, h.do(t, http.MethodGet, "/v1/pricing", "", nil).Code)
	rec := h.do(t, http.MethodGet, "/v1/pricing", "", nil)
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	require.Equal(t, "rate_limited", decode[problem](t, rec).Reason)
}

func TestHealthAndMetrics(t *testing.T) {
	h := newHarness(t, ServerConfig{})
	rec := h.do(t, http.MethodGet, "/healthz", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"height":1`)

	h.do(t, http.MethodGet, "/v1/pricing", "", nil)
	rec = h.do(t, http.MethodGet, "/metrics", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "inferpay_rpc_requests_total")
}

func TestStatusForReason(t *testing.T) {
	cases := map[string]int{
		"duplicate_request":      http.StatusConflict,
		"not_found":              http.StatusNotFound,
		"already_settled":        http.StatusConflict,
		"underfunded":            http.StatusPaymentRequired,
		"unauthorized":           http.StatusForbidden,
		"invalid_pricing":        http.StatusUnprocessableEntity,
		"transfer_failed":        http.StatusBadGateway,
		"invalid_argument":       http.StatusBadRequest,
		"paused":                 http.StatusServiceUnavailable,
		"quota_exceeded":         http.StatusTooManyRequests,
		"insufficient_funds":     http.StatusPaymentRequired,
		"custody_shortfall":      http.StatusConflict,
		"conversion_unavailable": http.StatusUnprocessableEntity,
		"internal":               http.StatusInternalServerError,
	}
	for reason, want := range cases {
		require.Equal(t, want, statusForReason(reason), reason)
	}
}
