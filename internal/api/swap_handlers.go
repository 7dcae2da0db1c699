package api

import (
	"math/big"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lockbox-wallet/lockbox/internal/swap"
	apperrors "github.com/lockbox-wallet/lockbox/pkg/errors"
	"github.com/lockbox-wallet/lockbox/pkg/types"
)

// handleSwapOperations routes /v1/swap/quote and /v1/swap/execute
func (s *Server) handleSwapOperations(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.methodNotAllowed(w, r)
		return
	}

	switch strings.TrimPrefix(r.URL.Path, "/v1/swap/") {
	case "quote":
		s.handleSwapQuote(w, r)
	case "execute":
		s.handleSwapExecute(w, r)
	default:
		s.writeError(w, r, apperrors.ErrNotFound)
	}
}

type swapQuoteRequest struct {
	TokenIn     string  `json:"token_in"`
	TokenOut    string  `json:"token_out"`
	SymbolIn    string  `json:"symbol_in"`
	SymbolOut   string  `json:"symbol_out"`
	DecimalsIn  int     `json:"decimals_in"`
	DecimalsOut int     `json:"decimals_out"`
	Amount      string  `json:"amount"` // raw units, decimal string
	Mode        string  `json:"mode"`
	SlippagePct float64 `json:"slippage_pct,omitempty"`
}

// swapQuoteResponse is the wire shape of a quote. Raw amounts travel as
// decimal strings; execution references the quote by its ID.
type swapQuoteResponse struct {
	ID                 string          `json:"id"`
	Pair               types.TokenPair `json:"pair"`
	Mode               string          `json:"mode"`
	AmountIn           string          `json:"amount_in"`
	AmountOut          string          `json:"amount_out"`
	AmountInFormatted  string          `json:"amount_in_formatted"`
	AmountOutFormatted string          `json:"amount_out_formatted"`
	ExchangeRate       float64         `json:"exchange_rate"`
	PriceImpact        float64         `json:"price_impact"`
	MinAmountOut       string          `json:"min_amount_out"`
	SlippageTolerance  float64         `json:"slippage_tolerance"`
	PoolFee            uint32          `json:"pool_fee"`
	EstimatedGas       uint64          `json:"estimated_gas"`
	Timestamp          time.Time       `json:"timestamp"`
}

func toQuoteResponse(q *types.SwapQuote) swapQuoteResponse {
	return swapQuoteResponse{
		ID:                 q.ID.String(),
		Pair:               q.Pair,
		Mode:               string(q.Mode),
		AmountIn:           q.AmountIn.String(),
		AmountOut:          q.AmountOut.String(),
		AmountInFormatted:  q.AmountInFormatted,
		AmountOutFormatted: q.AmountOutFormatted,
		ExchangeRate:       q.ExchangeRate,
		PriceImpact:        q.PriceImpact,
		MinAmountOut:       q.MinAmountOut.String(),
		SlippageTolerance:  q.SlippageTolerance,
		PoolFee:            q.PoolFee,
		EstimatedGas:       q.EstimatedGas,
		Timestamp:          q.Timestamp,
	}
}

func (s *Server) handleSwapQuote(w http.ResponseWriter, r *http.Request) {
	var req swapQuoteRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	amount, ok := new(big.Int).SetString(req.Amount, 10)
	if !ok {
		s.writeError(w, r, apperrors.NewWithDetail(
			apperrors.ErrCodeBadRequest,
			"Invalid amount",
			"amount must be a base-10 integer string in raw units",
			http.StatusBadRequest,
		))
		return
	}

	pair := types.TokenPair{
		TokenIn:     req.TokenIn,
		TokenOut:    req.TokenOut,
		SymbolIn:    req.SymbolIn,
		SymbolOut:   req.SymbolOut,
		DecimalsIn:  req.DecimalsIn,
		DecimalsOut: req.DecimalsOut,
	}

	quote, err := s.swaps.Quote(r.Context(), pair, amount, types.SwapMode(req.Mode), req.SlippagePct)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	s.writeJSON(w, http.StatusOK, toQuoteResponse(quote))
}

// swapExecuteRequest names an issued quote. The engine keeps every quote it
// priced; only the ID crosses the wire, so quote fields cannot be tampered
// with between quoting and execution.
type swapExecuteRequest struct {
	QuoteID string `json:"quote_id"`
}

func (s *Server) handleSwapExecute(w http.ResponseWriter, r *http.Request) {
	var req swapExecuteRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	quoteID, err := uuid.Parse(req.QuoteID)
	if err != nil {
		s.writeError(w, r, apperrors.NewWithDetail(
			apperrors.ErrCodeBadRequest,
			"Invalid quote ID",
			err.Error(),
			http.StatusBadRequest,
		))
		return
	}

	record, err := s.swaps.Execute(r.Context(), quoteID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"state":       swap.StateSuccess,
		"transaction": toTxResponse(record),
	})
}
