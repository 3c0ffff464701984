// Package evm implements the ledger adapter on an EVM compatible chain. The
// custody account is an externally owned account whose key is held by the
// service; every outbound transfer is a native value transaction carrying the
// memo as calldata.
package evm

import (
	"context"
	"crypto/ecdsa"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	xerrors "AgentEscrow-Chain/internal/errors"
	"AgentEscrow-Chain/internal/ledger"
	"AgentEscrow-Chain/pkg/logger"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	gethrpc "github.com/ethereum/go-ethereum/rpc"
)

const (
	txBaseGas     = 21_000
	txDataZeroGas = 4
	txDataByteGas = 16
)

// Backend is the subset of chain access the ledger needs. *ethclient.Client
// and the simulated backend client both satisfy it.
type Backend interface {
	ChainID(ctx context.Context) (*big.Int, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
	NonceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (uint64, error)
	CodeAt(ctx context.Context, account common.Address, blockNumber *big.Int) ([]byte, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
	BlockByNumber(ctx context.Context, number *big.Int) (*types.Block, error)
}

// Config describes the custody signer.
type Config struct {
	ChainID *big.Int
	Key     *ecdsa.PrivateKey
	Symbol  string
}

// Ledger moves native value out of the custody account.
type Ledger struct {
	backend Backend
	batch   *gethrpc.Client
	rpc     *gethrpc.Client
	key     *ecdsa.PrivateKey
	custody common.Address
	chainID *big.Int
	signer  types.Signer
	symbol  string
	mu      sync.Mutex
}

// Dial connects to rpcURL and builds a ledger backed by an ethclient.
func Dial(ctx context.Context, rpcURL string, cfg Config) (*Ledger, error) {
	rpcURL = strings.TrimSpace(rpcURL)
	if rpcURL == "" {
		return nil, xerrors.New(xerrors.CodeInitialization, "ledger rpc url is not configured")
	}
	rpcClient, err := gethrpc.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInitialization, err, "dial ledger rpc")
	}
	l, err := New(ctx, ethclient.NewClient(rpcClient), cfg)
	if err != nil {
		rpcClient.Close()
		return nil, err
	}
	l.rpc = rpcClient
	l.batch = rpcClient
	return l, nil
}

// New wraps an existing backend. The chain id is fetched when cfg.ChainID is nil.
func New(ctx context.Context, backend Backend, cfg Config) (*Ledger, error) {
	if backend == nil {
		return nil, xerrors.New(xerrors.CodeInitialization, "ledger backend is nil")
	}
	if cfg.Key == nil {
		return nil, xerrors.New(xerrors.CodeInitialization, "custody key is not configured")
	}
	chainID := cfg.ChainID
	if chainID == nil {
		id, err := backend.ChainID(ctx)
		if err != nil {
			return nil, xerrors.Wrap(xerrors.CodeInitialization, err, "fetch chain id")
		}
		chainID = id
	}
	symbol := strings.TrimSpace(cfg.Symbol)
	if symbol == "" {
		symbol = "ETH"
	}
	return &Ledger{
		backend: backend,
		key:     cfg.Key,
		custody: crypto.PubkeyToAddress(cfg.Key.PublicKey),
		chainID: new(big.Int).Set(chainID),
		signer:  types.LatestSignerForChainID(chainID),
		symbol:  symbol,
	}, nil
}

// ParseKey decodes a hex encoded secp256k1 private key.
func ParseKey(hexKey string) (*ecdsa.PrivateKey, error) {
	hexKey = strings.TrimPrefix(strings.TrimSpace(hexKey), "0x")
	if hexKey == "" {
		return nil, errors.New("empty custody key")
	}
	return crypto.HexToECDSA(hexKey)
}

// Close releases the RPC connection opened by Dial.
func (l *Ledger) Close() {
	if l.rpc != nil {
		l.rpc.Close()
		l.rpc = nil
		l.batch = nil
	}
}

// Custody returns the checksummed custody address.
func (l *Ledger) Custody() string { return l.custody.Hex() }

// Symbol returns the native symbol served by this ledger.
func (l *Ledger) Symbol() string { return l.symbol }

// ChainID returns the chain id transactions are signed for.
func (l *Ledger) ChainID() *big.Int { return new(big.Int).Set(l.chainID) }

// Transfer implements ledger.Ledger.
func (l *Ledger) Transfer(ctx context.Context, t ledger.Transfer) error {
	return l.TransferBatch(ctx, []ledger.Transfer{t})
}

// TransferBatch signs every transfer with consecutive nonces before any is
// broadcast, so a validation failure leaves the chain untouched.
func (l *Ledger) TransferBatch(ctx context.Context, transfers []ledger.Transfer) error {
	if len(transfers) == 0 {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	nonce, err := l.backend.PendingNonceAt(ctx, l.custody)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeLedgerFailure, err, "fetch custody nonce", xerrors.WithRetryable(true))
	}
	gasPrice, err := l.backend.SuggestGasPrice(ctx)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeLedgerFailure, err, "suggest gas price", xerrors.WithRetryable(true))
	}

	txs := make([]*types.Transaction, 0, len(transfers))
	for i, t := range transfers {
		tx, err := l.sign(t, nonce+uint64(i), gasPrice)
		if err != nil {
			return err
		}
		txs = append(txs, tx)
	}
	if err := l.broadcast(ctx, txs); err != nil {
		return err
	}
	for i, tx := range txs {
		logger.Named("ledger.evm").Debug("transfer broadcast",
			"tx", tx.Hash().Hex(),
			"to", transfers[i].To,
			"amount", transfers[i].Amount,
			"memo", transfers[i].Memo,
		)
	}
	return nil
}

func (l *Ledger) sign(t ledger.Transfer, nonce uint64, gasPrice *big.Int) (*types.Transaction, error) {
	if t.Symbol != "" && !strings.EqualFold(t.Symbol, l.symbol) {
		return nil, xerrors.Newf(xerrors.CodeInvalidArgument, "ledger only moves %s, got %s", l.symbol, t.Symbol)
	}
	if !strings.EqualFold(t.From, l.custody.Hex()) {
		return nil, xerrors.Newf(xerrors.CodeLedgerFailure, "cannot sign for %s, custody is %s", t.From, l.custody.Hex())
	}
	if !common.IsHexAddress(t.To) {
		return nil, xerrors.Newf(xerrors.CodeInvalidArgument, "recipient %q is not an address", t.To)
	}
	to := common.HexToAddress(t.To)
	data := []byte(t.Memo)
	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		To:       &to,
		Value:    new(big.Int).SetUint64(t.Amount),
		Gas:      IntrinsicGas(data),
		GasPrice: gasPrice,
		Data:     data,
	})
	signed, err := types.SignTx(tx, l.signer, l.key)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeLedgerFailure, err, "sign transfer")
	}
	return signed, nil
}

func (l *Ledger) broadcast(ctx context.Context, txs []*types.Transaction) error {
	if l.batch == nil || len(txs) == 1 {
		for i, tx := range txs {
			if err := l.backend.SendTransaction(ctx, tx); err != nil {
				return xerrors.Wrap(xerrors.CodeLedgerFailure, err, fmt.Sprintf("send transfer %d", i))
			}
		}
		return nil
	}

	hashes := make([]common.Hash, len(txs))
	elems := make([]gethrpc.BatchElem, len(txs))
	for i, tx := range txs {
		raw, err := tx.MarshalBinary()
		if err != nil {
			return xerrors.Wrap(xerrors.CodeLedgerFailure, err, "encode transfer")
		}
		elems[i] = gethrpc.BatchElem{
			Method: "eth_sendRawTransaction",
			Args:   []any{"0x" + hex.EncodeToString(raw)},
			Result: &hashes[i],
		}
	}
	if err := l.batch.BatchCallContext(ctx, elems); err != nil {
		return xerrors.Wrap(xerrors.CodeLedgerFailure, err, "batch send transfers", xerrors.WithRetryable(true))
	}
	for i := range elems {
		if elems[i].Error != nil {
			return xerrors.Wrap(xerrors.CodeLedgerFailure, elems[i].Error, fmt.Sprintf("send transfer %d", i))
		}
	}
	return nil
}

// AccountExists reports whether the address has any on-chain footprint.
func (l *Ledger) AccountExists(ctx context.Context, account string) (bool, error) {
	if !common.IsHexAddress(account) {
		return false, nil
	}
	addr := common.HexToAddress(account)
	balance, err := l.backend.BalanceAt(ctx, addr, nil)
	if err != nil {
		return false, xerrors.Wrap(xerrors.CodeLedgerFailure, err, "query balance", xerrors.WithRetryable(true))
	}
	if balance.Sign() > 0 {
		return true, nil
	}
	nonce, err := l.backend.NonceAt(ctx, addr, nil)
	if err != nil {
		return false, xerrors.Wrap(xerrors.CodeLedgerFailure, err, "query nonce", xerrors.WithRetryable(true))
	}
	if nonce > 0 {
		return true, nil
	}
	code, err := l.backend.CodeAt(ctx, addr, nil)
	if err != nil {
		return false, xerrors.Wrap(xerrors.CodeLedgerFailure, err, "query code", xerrors.WithRetryable(true))
	}
	return len(code) > 0, nil
}

// Authorize implements ledger.Ledger.
func (l *Ledger) Authorize(ctx context.Context, account string) error {
	return ledger.AuthorizeFromContext(ctx, account)
}

// Now returns the timestamp of the latest block, falling back to wall clock
// time when the node cannot be reached.
func (l *Ledger) Now(ctx context.Context) time.Time {
	header, err := l.backend.HeaderByNumber(ctx, nil)
	if err != nil || header == nil {
		logger.Named("ledger.evm").Warn("latest header unavailable, using wall clock", "error", err)
		return time.Now().UTC().Truncate(time.Second)
	}
	return time.Unix(int64(header.Time), 0).UTC()
}

// Balance returns the native balance of account.
func (l *Ledger) Balance(ctx context.Context, account string) (*big.Int, error) {
	if !common.IsHexAddress(account) {
		return nil, xerrors.Newf(xerrors.CodeInvalidArgument, "%q is not an address", account)
	}
	return l.backend.BalanceAt(ctx, common.HexToAddress(account), nil)
}

// IntrinsicGas is the gas consumed by a plain value transfer carrying data.
func IntrinsicGas(data []byte) uint64 {
	gas := uint64(txBaseGas)
	for _, b := range data {
		if b == 0 {
			gas += txDataZeroGas
		} else {
			gas += txDataByteGas
		}
	}
	return gas
}

var (
	_ ledger.Ledger          = (*Ledger)(nil)
	_ ledger.BatchTransferer = (*Ledger)(nil)
)
