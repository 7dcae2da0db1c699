package api

import (
	"math/big"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/lockbox-wallet/lockbox/internal/engine"
	"github.com/lockbox-wallet/lockbox/internal/logger"
	apperrors "github.com/lockbox-wallet/lockbox/pkg/errors"
	"github.com/lockbox-wallet/lockbox/pkg/types"
)

// txResponse is the wire shape of a tracked transaction
type txResponse struct {
	Hash         string     `json:"hash"`
	From         string     `json:"from"`
	To           *string    `json:"to,omitempty"`
	Value        string     `json:"value"`
	TokenAddress *string    `json:"token_address,omitempty"`
	Symbol       string     `json:"symbol"`
	Decimals     int        `json:"decimals"`
	Status       string     `json:"status"`
	Kind         string     `json:"kind"`
	BlockNumber  *uint64    `json:"block_number,omitempty"`
	Timestamp    *time.Time `json:"timestamp,omitempty"`
	GasUsed      *uint64    `json:"gas_used,omitempty"`
	GasPrice     *string    `json:"gas_price,omitempty"`
	ChainID      int64      `json:"chain_id"`
	Error        *string    `json:"error,omitempty"`
}

func toTxResponse(tx *types.Transaction) txResponse {
	resp := txResponse{
		Hash:         tx.Hash,
		From:         tx.From,
		To:           tx.To,
		TokenAddress: tx.TokenAddress,
		Symbol:       tx.Symbol,
		Decimals:     tx.Decimals,
		Status:       string(tx.Status),
		Kind:         string(tx.Kind),
		BlockNumber:  tx.BlockNumber,
		Timestamp:    tx.Timestamp,
		GasUsed:      tx.GasUsed,
		ChainID:      tx.ChainID,
		Error:        tx.Error,
	}
	if tx.Value != nil {
		resp.Value = tx.Value.String()
	}
	if tx.GasPrice != nil {
		price := tx.GasPrice.String()
		resp.GasPrice = &price
	}
	return resp
}

func toTxResponses(txs []*types.Transaction) []txResponse {
	out := make([]txResponse, 0, len(txs))
	for _, tx := range txs {
		out = append(out, toTxResponse(tx))
	}
	return out
}

// handleBalances serves native and token balances for an address
func (s *Server) handleBalances(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.methodNotAllowed(w, r)
		return
	}

	address, err := s.resolveAddress(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	var tokens []string
	if raw := r.URL.Query().Get("tokens"); raw != "" {
		tokens = strings.Split(raw, ",")
	}

	balances, err := s.assets.Balances(r.Context(), address, tokens)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{"address": address, "balances": balances})
}

// handleTransactions handles history queries and send submissions
func (s *Server) handleTransactions(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.handleListTransactions(w, r)
	case http.MethodPost:
		s.handleSend(w, r)
	default:
		s.methodNotAllowed(w, r)
	}
}

// handleTransactionOperations routes /v1/transactions/{pending|summary|hash}
func (s *Server) handleTransactionOperations(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.methodNotAllowed(w, r)
		return
	}

	tail := strings.TrimPrefix(r.URL.Path, "/v1/transactions/")
	switch tail {
	case "pending":
		s.handlePendingTransactions(w, r)
	case "summary":
		s.handleTransactionSummary(w, r)
	default:
		s.handleGetTransaction(w, r, tail)
	}
}

func (s *Server) handleListTransactions(w http.ResponseWriter, r *http.Request) {
	address, err := s.resolveAddress(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	var status *types.TxStatus
	if raw := r.URL.Query().Get("status"); raw != "" {
		st := types.TxStatus(raw)
		status = &st
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, _ = strconv.Atoi(raw)
	}

	txs, err := s.assets.History(r.Context(), address, status, limit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{"transactions": toTxResponses(txs)})
}

func (s *Server) handlePendingTransactions(w http.ResponseWriter, r *http.Request) {
	address, err := s.resolveAddress(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	txs, err := s.assets.Pending(r.Context(), address)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{"transactions": toTxResponses(txs)})
}

func (s *Server) handleTransactionSummary(w http.ResponseWriter, r *http.Request) {
	address, err := s.resolveAddress(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	counts, err := s.assets.Summary(r.Context(), address)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{"address": address, "counts": counts})
}

func (s *Server) handleGetTransaction(w http.ResponseWriter, r *http.Request, hash string) {
	tx, err := s.assets.Transaction(r.Context(), hash)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, toTxResponse(tx))
}

type sendRequest struct {
	To     string `json:"to"`
	Amount string `json:"amount"` // raw units, decimal string
	Token  string `json:"token,omitempty"`
}

// handleSend submits a native or token transfer from the unlocked wallet.
// The response carries the pending record; the watcher keeps polling in the
// background and the record is re-queryable by hash.
func (s *Server) handleSend(w http.ResponseWriter, r *http.Request) {
	var req sendRequest
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

	sendReq := &engine.SendRequest{
		To:       req.To,
		Amount:   amount,
		Symbol:   "ETH",
		Decimals: 18,
	}

	if req.Token != "" {
		contract := common.HexToAddress(req.Token)
		symbol, err := s.chain.TokenSymbol(r.Context(), contract)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		decimals, err := s.chain.TokenDecimals(r.Context(), contract)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		sendReq.Token = &req.Token
		sendReq.Symbol = symbol
		sendReq.Decimals = int(decimals)
	}

	record, watcher, err := s.engine.Send(r.Context(), sendReq)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	go drainWatcher(watcher)

	s.writeJSON(w, http.StatusAccepted, toTxResponse(record))
}

// drainWatcher consumes a watcher's updates so the monitor never blocks,
// logging each transition for operators.
func drainWatcher(w *engine.Watcher) {
	log := logger.Component("monitor").With("hash", w.Hash().Hex())
	for u := range w.Updates() {
		if u.Status == types.TxStatusPending {
			log.Debug("confirmation progress", "confirmations", u.Confirmations)
			continue
		}
		log.Info("transaction finalized", "status", u.Status, "code", u.Code, "reason", u.Reason)
	}
}

// resolveAddress picks the query address: the explicit ?address= parameter,
// or the unlocked wallet's address when omitted.
func (s *Server) resolveAddress(r *http.Request) (string, error) {
	if address := r.URL.Query().Get("address"); address != "" {
		return address, nil
	}

	addr, err := s.session.Address()
	if err != nil {
		return "", apperrors.NewWithDetail(
			apperrors.ErrCodeBadRequest,
			"No address specified",
			"pass ?address= or unlock a wallet",
			http.StatusBadRequest,
		)
	}
	return addr.Hex(), nil
}
