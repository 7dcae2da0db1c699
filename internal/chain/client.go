// Package chain wraps the remote node the core trusts for balances, fee
// data, broadcast, and receipts.
package chain

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/lockbox-wallet/lockbox/internal/metrics"
	apperrors "github.com/lockbox-wallet/lockbox/pkg/errors"
)

// Client wraps an Ethereum RPC client
type Client struct {
	client  *ethclient.Client
	chainID *big.Int
}

// NewClient creates a new EVM client and auto-detects chain ID
func NewClient(rpcURL string) (*Client, error) {
	if rpcURL == "" {
		return nil, fmt.Errorf("RPC URL is required")
	}

	client, err := ethclient.Dial(rpcURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RPC: %w", err)
	}

	// Auto-detect chain ID from RPC
	chainID, err := client.ChainID(context.Background())
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to get chain ID: %w", err)
	}

	return &Client{
		client:  client,
		chainID: chainID,
	}, nil
}

// ChainID returns the chain ID
func (c *Client) ChainID() int64 {
	return c.chainID.Int64()
}

// ChainIDBig returns the chain ID as big.Int
func (c *Client) ChainIDBig() *big.Int {
	return c.chainID
}

// Balance returns the native balance of an address in wei
func (c *Client) Balance(ctx context.Context, address common.Address) (*big.Int, error) {
	balance, err := c.client.BalanceAt(ctx, address, nil)
	if err != nil {
		metrics.RecordRPCRequest("balance", "failed")
		return nil, apperrors.NetworkError(fmt.Sprintf("balance lookup: %v", err))
	}
	metrics.RecordRPCRequest("balance", "success")
	return balance, nil
}

// PendingNonce returns the next unused nonce for an address, including
// transactions still in the mempool
func (c *Client) PendingNonce(ctx context.Context, address common.Address) (uint64, error) {
	nonce, err := c.client.PendingNonceAt(ctx, address)
	if err != nil {
		metrics.RecordRPCRequest("pending_nonce", "failed")
		return 0, apperrors.NetworkError(fmt.Sprintf("nonce lookup: %v", err))
	}
	metrics.RecordRPCRequest("pending_nonce", "success")
	return nonce, nil
}

// MinedNonce returns the mined nonce for an address. Used by the monitor to
// detect that a watched transaction was replaced.
func (c *Client) MinedNonce(ctx context.Context, address common.Address) (uint64, error) {
	nonce, err := c.client.NonceAt(ctx, address, nil)
	if err != nil {
		metrics.RecordRPCRequest("mined_nonce", "failed")
		return 0, apperrors.NetworkError(fmt.Sprintf("mined nonce lookup: %v", err))
	}
	metrics.RecordRPCRequest("mined_nonce", "success")
	return nonce, nil
}

// EstimateGas estimates the gas needed for a call
func (c *Client) EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error) {
	gas, err := c.client.EstimateGas(ctx, msg)
	if err != nil {
		metrics.RecordRPCRequest("estimate_gas", "failed")
		return 0, fmt.Errorf("failed to estimate gas: %w", err)
	}
	metrics.RecordRPCRequest("estimate_gas", "success")
	return gas, nil
}

// SuggestGasTipCap returns the suggested priority fee for EIP-1559 transactions
func (c *Client) SuggestGasTipCap(ctx context.Context) (*big.Int, error) {
	tipCap, err := c.client.SuggestGasTipCap(ctx)
	if err != nil {
		metrics.RecordRPCRequest("tip_cap", "failed")
		return nil, apperrors.NetworkError(fmt.Sprintf("tip cap lookup: %v", err))
	}
	metrics.RecordRPCRequest("tip_cap", "success")
	return tipCap, nil
}

// BaseFee returns the latest block's base fee
func (c *Client) BaseFee(ctx context.Context) (*big.Int, error) {
	header, err := c.client.HeaderByNumber(ctx, nil)
	if err != nil {
		metrics.RecordRPCRequest("base_fee", "failed")
		return nil, apperrors.NetworkError(fmt.Sprintf("header lookup: %v", err))
	}
	metrics.RecordRPCRequest("base_fee", "success")
	if header.BaseFee == nil {
		return nil, fmt.Errorf("chain does not report a base fee (pre-London)")
	}
	return header.BaseFee, nil
}

// SendTransaction broadcasts a signed transaction and returns its hash
func (c *Client) SendTransaction(ctx context.Context, signedTx *ethtypes.Transaction) (string, error) {
	if err := c.client.SendTransaction(ctx, signedTx); err != nil {
		metrics.RecordRPCRequest("send_tx", "failed")
		return "", fmt.Errorf("failed to send transaction: %w", err)
	}
	metrics.RecordRPCRequest("send_tx", "success")
	return signedTx.Hash().Hex(), nil
}

// TransactionReceipt returns the receipt for a hash, or nil while the
// transaction is still pending
func (c *Client) TransactionReceipt(ctx context.Context, hash common.Hash) (*ethtypes.Receipt, error) {
	receipt, err := c.client.TransactionReceipt(ctx, hash)
	if err == ethereum.NotFound {
		metrics.RecordRPCRequest("receipt", "success")
		return nil, nil
	}
	if err != nil {
		metrics.RecordRPCRequest("receipt", "failed")
		return nil, apperrors.NetworkError(fmt.Sprintf("receipt lookup: %v", err))
	}
	metrics.RecordRPCRequest("receipt", "success")
	return receipt, nil
}

// BlockNumber returns the latest block number
func (c *Client) BlockNumber(ctx context.Context) (uint64, error) {
	n, err := c.client.BlockNumber(ctx)
	if err != nil {
		metrics.RecordRPCRequest("block_number", "failed")
		return 0, apperrors.NetworkError(fmt.Sprintf("block number lookup: %v", err))
	}
	metrics.RecordRPCRequest("block_number", "success")
	return n, nil
}

// BlockTime returns the timestamp of a block
func (c *Client) BlockTime(ctx context.Context, number uint64) (time.Time, error) {
	header, err := c.client.HeaderByNumber(ctx, new(big.Int).SetUint64(number))
	if err != nil {
		metrics.RecordRPCRequest("header", "failed")
		return time.Time{}, apperrors.NetworkError(fmt.Sprintf("header lookup: %v", err))
	}
	metrics.RecordRPCRequest("header", "success")
	return time.Unix(int64(header.Time), 0).UTC(), nil
}

// CallContract executes a read-only contract call
func (c *Client) CallContract(ctx context.Context, msg ethereum.CallMsg) ([]byte, error) {
	out, err := c.client.CallContract(ctx, msg, nil)
	if err != nil {
		metrics.RecordRPCRequest("call", "failed")
		return nil, apperrors.NetworkError(fmt.Sprintf("contract call: %v", err))
	}
	metrics.RecordRPCRequest("call", "success")
	return out, nil
}

// Close closes the client connection
func (c *Client) Close() {
	c.client.Close()
}
