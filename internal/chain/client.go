package chain

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	gethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/rs/zerolog"
)

var (
	ErrWalletUnavailable   = errors.New("wallet not connected")
	ErrSimulationFailed    = errors.New("transaction simulation failed")
	ErrTransactionReverted = errors.New("transaction reverted")
	ErrReceiptTimeout      = errors.New("timed out waiting for receipt")
)

// CallRequest addresses one contract function.
type CallRequest struct {
	Address      common.Address
	ABI          *abi.ABI
	FunctionName string
	Args         []any
}

// Client is the public/wallet client surface the services depend on.
type Client interface {
	ReadContract(ctx context.Context, req CallRequest) ([]any, error)
	WriteContract(ctx context.Context, req CallRequest) (common.Hash, error)
	WaitForTransactionReceipt(ctx context.Context, hash common.Hash) (*gethtypes.Receipt, error)
	TransactionReceipt(ctx context.Context, hash common.Hash) (*gethtypes.Receipt, error)
	ChainID(ctx context.Context) (*big.Int, error)
	Account() (common.Address, bool)
}

// Backend is the subset of the Ethereum RPC used by EthClient.
type Backend interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasTipCap(ctx context.Context) (*big.Int, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*gethtypes.Header, error)
	SendTransaction(ctx context.Context, tx *gethtypes.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*gethtypes.Receipt, error)
	ChainID(ctx context.Context) (*big.Int, error)
}

// Dial initialises an RPC backend for the provided endpoint.
func Dial(endpoint string) (*ethclient.Client, error) {
	trimmed := strings.TrimSpace(endpoint)
	if trimmed == "" {
		return nil, fmt.Errorf("rpc endpoint required")
	}
	return ethclient.Dial(trimmed)
}

// Options tune transaction submission and receipt polling.
type Options struct {
	PollInterval   time.Duration
	ReceiptTimeout time.Duration
	GasBufferPct   uint64
}

// EthClient implements Client over an Ethereum JSON-RPC backend and an
// optional local signing key. Without a key the client is read-only.
type EthClient struct {
	backend Backend
	key     *ecdsa.PrivateKey
	account common.Address
	opts    Options
	logger  zerolog.Logger

	mu      sync.Mutex
	chainID *big.Int
}

// NewEthClient builds a client. key may be nil.
func NewEthClient(backend Backend, key *ecdsa.PrivateKey, opts Options, logger *zerolog.Logger) *EthClient {
	if opts.PollInterval <= 0 {
		opts.PollInterval = 2 * time.Second
	}
	if opts.ReceiptTimeout <= 0 {
		opts.ReceiptTimeout = 2 * time.Minute
	}
	if opts.GasBufferPct == 0 {
		opts.GasBufferPct = 20
	}
	c := &EthClient{backend: backend, key: key, opts: opts, logger: zerolog.Nop()}
	if logger != nil {
		c.logger = logger.With().Str("component", "chain").Logger()
	}
	if key != nil {
		c.account = gethcrypto.PubkeyToAddress(key.PublicKey)
	}
	return c
}

// ParsePrivateKey decodes a hex private key with or without 0x prefix.
func ParsePrivateKey(raw string) (*ecdsa.PrivateKey, error) {
	raw = strings.TrimPrefix(strings.TrimSpace(raw), "0x")
	if raw == "" {
		return nil, nil
	}
	key, err := gethcrypto.HexToECDSA(raw)
	if err != nil {
		return nil, fmt.Errorf("parse signer key: %w", err)
	}
	return key, nil
}

// Account returns the signer address, false when no key is configured.
func (c *EthClient) Account() (common.Address, bool) {
	return c.account, c.key != nil
}

// ChainID returns the backend chain id, cached after the first call.
func (c *EthClient) ChainID(ctx context.Context) (*big.Int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.chainID != nil {
		return new(big.Int).Set(c.chainID), nil
	}
	id, err := c.backend.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch chain id: %w", err)
	}
	c.chainID = new(big.Int).Set(id)
	return id, nil
}

// ReadContract performs an eth_call and unpacks the outputs.
func (c *EthClient) ReadContract(ctx context.Context, req CallRequest) ([]any, error) {
	if req.ABI == nil {
		return nil, fmt.Errorf("abi required for %s", req.FunctionName)
	}
	data, err := req.ABI.Pack(req.FunctionName, req.Args...)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", req.FunctionName, err)
	}
	to := req.Address
	msg := ethereum.CallMsg{To: &to, Data: data}
	if c.key != nil {
		msg.From = c.account
	}
	raw, err := c.backend.CallContract(ctx, msg, nil)
	if err != nil {
		return nil, fmt.Errorf("call %s: %w", req.FunctionName, err)
	}
	out, err := req.ABI.Unpack(req.FunctionName, raw)
	if err != nil {
		return nil, fmt.Errorf("unpack %s: %w", req.FunctionName, err)
	}
	return out, nil
}

// WriteContract simulates, signs and broadcasts a contract call from the
// configured signer. It does not wait for the receipt.
func (c *EthClient) WriteContract(ctx context.Context, req CallRequest) (common.Hash, error) {
	if c.key == nil {
		return common.Hash{}, ErrWalletUnavailable
	}
	if req.ABI == nil {
		return common.Hash{}, fmt.Errorf("abi required for %s", req.FunctionName)
	}
	data, err := req.ABI.Pack(req.FunctionName, req.Args...)
	if err != nil {
		return common.Hash{}, fmt.Errorf("pack %s: %w", req.FunctionName, err)
	}

	to := req.Address
	msg := ethereum.CallMsg{From: c.account, To: &to, Data: data}
	if _, err := c.backend.CallContract(ctx, msg, nil); err != nil {
		return common.Hash{}, fmt.Errorf("%w: %s: %v", ErrSimulationFailed, req.FunctionName, err)
	}

	chainID, err := c.ChainID(ctx)
	if err != nil {
		return common.Hash{}, err
	}
	nonce, err := c.backend.PendingNonceAt(ctx, c.account)
	if err != nil {
		return common.Hash{}, fmt.Errorf("fetch nonce: %w", err)
	}
	tip, err := c.backend.SuggestGasTipCap(ctx)
	if err != nil {
		return common.Hash{}, fmt.Errorf("suggest tip: %w", err)
	}
	head, err := c.backend.HeaderByNumber(ctx, nil)
	if err != nil {
		return common.Hash{}, fmt.Errorf("fetch head: %w", err)
	}
	feeCap := new(big.Int).Set(tip)
	if head != nil && head.BaseFee != nil {
		feeCap.Add(feeCap, new(big.Int).Mul(head.BaseFee, big.NewInt(2)))
	}
	gas, err := c.backend.EstimateGas(ctx, msg)
	if err != nil {
		return common.Hash{}, fmt.Errorf("%w: estimate gas: %v", ErrSimulationFailed, err)
	}
	gas += gas * c.opts.GasBufferPct / 100

	tx := gethtypes.NewTx(&gethtypes.DynamicFeeTx{
		ChainID:   chainID,
		Nonce:     nonce,
		GasTipCap: tip,
		GasFeeCap: feeCap,
		Gas:       gas,
		To:        &to,
		Data:      data,
	})
	signed, err := gethtypes.SignTx(tx, gethtypes.LatestSignerForChainID(chainID), c.key)
	if err != nil {
		return common.Hash{}, fmt.Errorf("sign %s: %w", req.FunctionName, err)
	}
	if err := c.backend.SendTransaction(ctx, signed); err != nil {
		return common.Hash{}, fmt.Errorf("send %s: %w", req.FunctionName, err)
	}

	c.logger.Info().
		Str("function", req.FunctionName).
		Str("to", to.Hex()).
		Str("tx", signed.Hash().Hex()).
		Uint64("nonce", nonce).
		Msg("transaction submitted")
	return signed.Hash(), nil
}

// TransactionReceipt fetches a receipt without waiting. It returns
// ethereum.NotFound while the transaction is pending.
func (c *EthClient) TransactionReceipt(ctx context.Context, hash common.Hash) (*gethtypes.Receipt, error) {
	return c.backend.TransactionReceipt(ctx, hash)
}

// WaitForTransactionReceipt polls until the receipt is available. A receipt
// with failed status is returned together with ErrTransactionReverted.
func (c *EthClient) WaitForTransactionReceipt(ctx context.Context, hash common.Hash) (*gethtypes.Receipt, error) {
	ctx, cancel := context.WithTimeout(ctx, c.opts.ReceiptTimeout)
	defer cancel()

	ticker := time.NewTicker(c.opts.PollInterval)
	defer ticker.Stop()

	for {
		receipt, err := c.backend.TransactionReceipt(ctx, hash)
		switch {
		case err == nil && receipt != nil:
			if receipt.Status != gethtypes.ReceiptStatusSuccessful {
				return receipt, fmt.Errorf("%w: %s", ErrTransactionReverted, hash.Hex())
			}
			return receipt, nil
		case err != nil && !errors.Is(err, ethereum.NotFound):
			return nil, fmt.Errorf("fetch receipt: %w", err)
		}

		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return nil, fmt.Errorf("%w: %s", ErrReceiptTimeout, hash.Hex())
			}
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}
