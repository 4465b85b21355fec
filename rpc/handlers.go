package rpc

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"math/big"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	coreerrors "inferpay/core/errors"
	"inferpay/native/escrow"
	"inferpay/native/swap"
	"inferpay/services/auditlog"
)

func decodeBody(w http.ResponseWriter, r *http.Request, dst interface{}) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("%w: malformed body: %v", coreerrors.ErrInvalidArgument, err)
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	height, err := s.node.Height()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"status": "ok", "height": height})
}

func (s *Server) handleFundDeposit(w http.ResponseWriter, r *http.Request) {
	payer, _ := CallerFrom(r.Context())
	var req fundDepositRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	id, err := escrow.ParseRequestID(req.RequestID)
	if err != nil {
		writeError(w, err)
		return
	}
	owner := payer
	if strings.TrimSpace(req.Owner) != "" {
		if owner, err = parseAddress("owner", req.Owner, false); err != nil {
			writeError(w, err)
			return
		}
	}
	amount, err := parseAmount("amount", req.Amount)
	if err != nil {
		writeError(w, err)
		return
	}
	dep, err := s.node.FundDeposit(payer, id, owner, req.Token, amount)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, formatDeposit(dep))
}

func (s *Server) handleGetDeposit(w http.ResponseWriter, r *http.Request) {
	id, err := escrow.ParseRequestID(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	dep, err := s.node.GetDeposit(id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, formatDeposit(dep))
}

func (s *Server) handleSettle(w http.ResponseWriter, r *http.Request) {
	caller, _ := CallerFrom(r.Context())
	var req settleRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	id, err := escrow.ParseRequestID(req.RequestID)
	if err != nil {
		writeError(w, err)
		return
	}
	outcome, err := s.node.SettleRequest(caller, id, req.InputUnits, req.OutputUnits)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, formatOutcome(outcome))
}

func (s *Server) handleQuoteSettlement(w http.ResponseWriter, r *http.Request) {
	var req settleRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	id, err := escrow.ParseRequestID(req.RequestID)
	if err != nil {
		writeError(w, err)
		return
	}
	outcome, err := s.node.QuoteSettlement(id, req.InputUnits, req.OutputUnits)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, formatOutcome(outcome))
}

// handlePoolActivity always answers 202 once the caller is authenticated and
// the body parses: the pool does not act on the outcome.
func (s *Server) handlePoolActivity(w http.ResponseWriter, r *http.Request) {
	caller, _ := CallerFrom(r.Context())
	var req poolActivityRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	act, err := req.toActivity()
	if err != nil {
		writeError(w, err)
		return
	}
	update, err := s.node.HandlePoolActivity(caller, act)
	if err != nil {
		writeJSON(w, http.StatusAccepted, poolActivityResult{Reason: coreerrors.Reason(err)})
		return
	}
	writeJSON(w, http.StatusAccepted, poolActivityResult{
		Applied:  true,
		Repriced: update.Repriced,
		Clamped:  update.Clamped,
		Version:  update.Params.Version,
	})
}

func (s *Server) handlePricing(w http.ResponseWriter, r *http.Request) {
	params, err := s.node.Pricing()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, formatPricing(params))
}

func (s *Server) handlePools(w http.ResponseWriter, r *http.Request) {
	pools, err := s.node.PoolSnapshots()
	if err != nil {
		writeError(w, err)
		return
	}
	out := make([]poolJSON, 0, len(pools))
	for _, p := range pools {
		out = append(out, formatPool(p))
	}
	writeJSON(w, http.StatusOK, out)
}

// resolvePool returns the inline pool, or the recorded snapshot for
// poolAddress when no inline pool is given.
func (s *Server) resolvePool(req quoteRequest) (swap.PoolState, error) {
	if req.Pool != nil {
		return req.Pool.toPoolState()
	}
	addr, err := parseAddress("poolAddress", req.PoolAddress, false)
	if err != nil {
		return swap.PoolState{}, err
	}
	pools, err := s.node.PoolSnapshots()
	if err != nil {
		return swap.PoolState{}, err
	}
	for _, p := range pools {
		if p.Address == addr {
			return p, nil
		}
	}
	return swap.PoolState{}, fmt.Errorf("%w: no snapshot for pool %s", coreerrors.ErrNotFound, addr.Hex())
}

func (s *Server) handleQuoteExactInput(w http.ResponseWriter, r *http.Request) {
	var req quoteRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	pool, err := s.resolvePool(req)
	if err != nil {
		writeError(w, err)
		return
	}
	direction, err := swap.ParseDirection(req.Direction)
	if err != nil {
		writeError(w, err)
		return
	}
	amountIn, err := parseAmount("amountIn", req.AmountIn)
	if err != nil {
		writeError(w, err)
		return
	}
	quote, err := swap.QuoteExactInputSingle(pool, amountIn, direction)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, formatQuote(quote))
}

func (s *Server) handleQuoteBatch(w http.ResponseWriter, r *http.Request) {
	var req quoteRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	pool, err := s.resolvePool(req)
	if err != nil {
		writeError(w, err)
		return
	}
	direction, err := swap.ParseDirection(req.Direction)
	if err != nil {
		writeError(w, err)
		return
	}
	if len(req.Amounts) > swap.MaxBatchSize {
		writeError(w, fmt.Errorf("%w: batch of %d exceeds %d", coreerrors.ErrInvalidArgument, len(req.Amounts), swap.MaxBatchSize))
		return
	}
	amounts := make([]*big.Int, len(req.Amounts))
	for i, raw := range req.Amounts {
		if amounts[i], err = parseAmount(fmt.Sprintf("amounts[%d]", i), raw); err != nil {
			writeError(w, err)
			return
		}
	}
	quotes, err := swap.QuoteBatch(pool, amounts, direction)
	if err != nil {
		writeError(w, err)
		return
	}
	out := make([]quoteResult, len(quotes))
	for i, q := range quotes {
		out[i] = formatQuote(q)
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleValidatePool(w http.ResponseWriter, r *http.Request) {
	var req poolJSON
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	pool, err := req.toPoolState()
	if err != nil {
		writeError(w, err)
		return
	}
	verdict := swap.ValidatePool(pool)
	writeJSON(w, http.StatusOK, validateResult{Valid: verdict.Valid(), Verdict: verdict})
}

func (s *Server) handleAuditQuery(w http.ResponseWriter, r *http.Request) {
	if s.audit == nil {
		writeProblem(w, http.StatusNotImplemented, "audit_disabled", "audit log not configured")
		return
	}
	q := r.URL.Query()
	filter := auditlog.Filter{Type: q.Get("type")}
	if raw := strings.TrimSpace(q.Get("requestId")); raw != "" {
		id, err := escrow.ParseRequestID(raw)
		if err != nil {
			writeError(w, err)
			return
		}
		filter.RequestID = id.Hex()
	}
	if raw := q.Get("fromHeight"); raw != "" {
		h, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			writeProblem(w, http.StatusBadRequest, "invalid_argument", "fromHeight must be an unsigned integer")
			return
		}
		filter.FromHeight = h
	}
	if raw := q.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			writeProblem(w, http.StatusBadRequest, "invalid_argument", "limit must be a non-negative integer")
			return
		}
		filter.Limit = limit
	}
	records, err := s.audit.Query(r.Context(), filter)
	if err != nil {
		s.logger.Error("audit query failed", slog.String("error", err.Error()))
		writeError(w, err)
		return
	}
	out := make([]auditRecord, 0, len(records))
	for _, rec := range records {
		out = append(out, formatRecord(rec))
	}
	writeJSON(w, http.StatusOK, out)
}
