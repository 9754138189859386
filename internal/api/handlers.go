package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"closer/internal/export"
	"closer/internal/models"
	"closer/internal/platform"
	"closer/internal/session"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

const (
	defaultTxListLimit = 50
	maxTxListLimit     = 500
	xlsxContentType    = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
)

type nightsRequest struct {
	session.Session
	Nights []models.BookingNight `json:"nights"`
}

type stakeEstimateRequest struct {
	session.Session
	Year  uint16          `json:"year"`
	Total decimal.Decimal `json:"total"`
}

type stakeRequest struct {
	session.Session
	Nights []models.BookingNight `json:"nights"`
	Amount decimal.Decimal       `json:"amount"`
}

type buyRequest struct {
	session.Session
	Amount decimal.Decimal `json:"amount"`
}

func (s *HTTPServer) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *HTTPServer) handleReady(w http.ResponseWriter, r *http.Request) {
	failures := make(map[string]string)
	for _, check := range s.svc.Readiness {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		err := check.Check(ctx)
		cancel()
		if err != nil {
			failures[check.Name] = err.Error()
		}
	}
	if len(failures) > 0 {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "unavailable", "failures": failures})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *HTTPServer) handleStatus(w http.ResponseWriter, _ *http.Request) {
	resp := map[string]bool{}
	if s.svc.Booking != nil {
		resp["booking_pending"] = s.svc.Booking.IsPending()
	}
	if s.svc.Sale != nil {
		resp["purchase_pending"] = s.svc.Sale.IsPending()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *HTTPServer) handleCurvePrice(w http.ResponseWriter, r *http.Request) {
	supply, err := queryDecimal(r, "supply")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	price, err := s.svc.Curve.CurrentUnitPrice(supply)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"supply": supply, "unit_price": price})
}

func (s *HTTPServer) handleCurveCost(w http.ResponseWriter, r *http.Request) {
	supply, err := queryDecimal(r, "supply")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	amount, err := queryDecimal(r, "amount")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	total, err := s.svc.Curve.TotalPrice(supply, amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"supply": supply, "amount": amount, "total": total})
}

func (s *HTTPServer) handleSale(w http.ResponseWriter, r *http.Request) {
	info, err := s.svc.Sale.Sale(r.Context())
	if err != nil {
		s.logger.Error().Err(err).Msg("read sale")
		writeError(w, http.StatusBadGateway, "failed to read sale")
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (s *HTTPServer) handleTokenCost(w http.ResponseWriter, r *http.Request) {
	amount, err := queryDecimal(r, "amount")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if !amount.IsPositive() {
		writeError(w, http.StatusBadRequest, "amount must be positive")
		return
	}
	cost, err := s.svc.Sale.GetTotalCost(r.Context(), amount)
	if err != nil {
		s.logger.Error().Err(err).Msg("calculate total cost")
		writeError(w, http.StatusBadGateway, "failed to calculate cost")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"amount": amount, "cost": cost})
}

func (s *HTTPServer) handleBuy(w http.ResponseWriter, r *http.Request) {
	var req buyRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if !s.allowTx(w, r, req.Wallet.Account) {
		return
	}
	writeTxResult(w, s.svc.Sale.BuyTokens(r.Context(), req.Session, req.Amount))
}

func (s *HTTPServer) handleBookingCheck(w http.ResponseWriter, r *http.Request) {
	var req nightsRequest
	if !decodeBody(w, r, &req) {
		return
	}
	writeJSON(w, http.StatusOK, s.svc.Booking.CheckContract(r.Context(), req.Session, req.Nights))
}

func (s *HTTPServer) handleStakeEstimate(w http.ResponseWriter, r *http.Request) {
	var req stakeEstimateRequest
	if !decodeBody(w, r, &req) {
		return
	}
	writeJSON(w, http.StatusOK, s.svc.Booking.NeededStake(r.Context(), req.Session, req.Year, req.Total))
}

func (s *HTTPServer) handleStake(w http.ResponseWriter, r *http.Request) {
	var req stakeRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if !s.allowTx(w, r, req.Wallet.Account) {
		return
	}
	writeTxResult(w, s.svc.Booking.StakeTokens(r.Context(), req.Session, req.Nights, req.Amount))
}

func (s *HTTPServer) handleAccountStake(w http.ResponseWriter, r *http.Request) {
	account, ok := pathAddress(w, r)
	if !ok {
		return
	}
	stake, err := s.svc.Booking.AccountStake(r.Context(), account)
	if err != nil {
		s.logger.Error().Err(err).Str("account", account.Hex()).Msg("read account stake")
		writeError(w, http.StatusBadGateway, "failed to read account stake")
		return
	}
	writeJSON(w, http.StatusOK, stake)
}

func (s *HTTPServer) handleStakeExport(w http.ResponseWriter, r *http.Request) {
	account, ok := pathAddress(w, r)
	if !ok {
		return
	}
	stake, err := s.svc.Booking.AccountStake(r.Context(), account)
	if err != nil {
		s.logger.Error().Err(err).Str("account", account.Hex()).Msg("read account stake")
		writeError(w, http.StatusBadGateway, "failed to read account stake")
		return
	}

	f, err := export.StakeLedger(stake.Account, stake.Bookings, stake.StakeByYear)
	if err != nil {
		s.logger.Error().Err(err).Msg("build stake ledger")
		writeError(w, http.StatusInternalServerError, "failed to build export")
		return
	}
	defer f.Close()

	name := export.FileName(account.Hex(), s.now())
	if s.svc.ExportDir != "" {
		if path, err := export.Archive(f, s.svc.ExportDir, name); err != nil {
			s.logger.Warn().Err(err).Msg("archive stake ledger")
		} else {
			s.logger.Info().Str("file_path", path).Msg("stake ledger archived")
		}
	}

	w.Header().Set("Content-Type", xlsxContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	if err := f.Write(w); err != nil {
		s.logger.Error().Err(err).Msg("write stake ledger")
	}
}

func (s *HTTPServer) handleTransactions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	account := strings.TrimSpace(q.Get("account"))
	if account != "" && !common.IsHexAddress(account) {
		writeError(w, http.StatusBadRequest, "invalid account address")
		return
	}

	status := strings.TrimSpace(q.Get("status"))
	switch status {
	case "":
		status = models.TxStatusPending
	case "all":
		status = ""
	case models.TxStatusPending, models.TxStatusConfirmed, models.TxStatusReverted, models.TxStatusDropped:
	default:
		writeError(w, http.StatusBadRequest, "invalid status")
		return
	}

	limit := defaultTxListLimit
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = min(n, maxTxListLimit)
	}

	txs, err := s.svc.Transactions.ListTransactions(r.Context(), account, status, limit)
	if err != nil {
		s.logger.Error().Err(err).Msg("list transactions")
		writeError(w, http.StatusInternalServerError, "failed to list transactions")
		return
	}
	if txs == nil {
		txs = []models.PendingTransaction{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"transactions": txs})
}

func (s *HTTPServer) handlePlatformConfig(w http.ResponseWriter, r *http.Request) {
	raw, err := s.svc.Platform.GetConfig(r.Context(), r.PathValue("slug"))
	if err != nil {
		var statusErr *platform.StatusError
		switch {
		case errors.Is(err, platform.ErrNotConfigured):
			writeError(w, http.StatusServiceUnavailable, err.Error())
		case errors.As(err, &statusErr) && statusErr.Code == http.StatusNotFound:
			writeError(w, http.StatusNotFound, "config not found")
		default:
			s.logger.Warn().Err(err).Msg("fetch platform config")
			writeError(w, http.StatusBadGateway, "failed to fetch config")
		}
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(raw)
}

// allowTx applies the per-wallet transaction limit. Limiter errors let the
// request through.
func (s *HTTPServer) allowTx(w http.ResponseWriter, r *http.Request, account string) bool {
	limit := s.cfg.RateLimit.TxPerMinute
	if s.svc.TxLimiter == nil || limit <= 0 || account == "" {
		return true
	}
	allowed, err := s.svc.TxLimiter.CheckRateLimit(r.Context(), "tx:"+strings.ToLower(account), limit, time.Minute)
	if err != nil {
		s.logger.Warn().Err(err).Msg("tx rate limit check")
		return true
	}
	if !allowed {
		writeError(w, http.StatusTooManyRequests, "too many transactions, try again later")
		return false
	}
	return true
}

func writeTxResult(w http.ResponseWriter, res models.TxResult) {
	if res.OK() {
		writeJSON(w, http.StatusOK, res)
		return
	}
	writeJSON(w, http.StatusUnprocessableEntity, res)
}

func decodeBody(w http.ResponseWriter, r *http.Request, out any) bool {
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(out); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

func queryDecimal(r *http.Request, name string) (decimal.Decimal, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return decimal.Zero, fmt.Errorf("%s is required", name)
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid %s", name)
	}
	return d, nil
}

func pathAddress(w http.ResponseWriter, r *http.Request) (common.Address, bool) {
	raw := r.PathValue("address")
	if !common.IsHexAddress(raw) {
		writeError(w, http.StatusBadRequest, "invalid account address")
		return common.Address{}, false
	}
	return common.HexToAddress(raw), true
}
