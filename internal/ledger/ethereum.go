package ledger

import (
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"fmt"
	"math/big"
	"os"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/ChuLiYu/ledger-scheduler/pkg/types"
)

// EthereumConfig carries what is needed to reach the contract.
type EthereumConfig struct {
	RPCURL          string
	PrivateKey      string // signs assignProvider and submitResult
	OwnerPrivateKey string // signs release
	ContractAddress string
	ABIPath         string
	MaxTxPerSecond  float64
}

// Ethereum is a Client backed by an EVM contract.
type Ethereum struct {
	backend  *ethclient.Client
	contract *bind.BoundContract
	chainID  *big.Int
	signer   *ecdsa.PrivateKey
	owner    *ecdsa.PrivateKey
	limiter  *rate.Limiter
	logger   *zap.Logger
}

// Dial connects to the RPC endpoint and binds the contract.
func Dial(ctx context.Context, cfg EthereumConfig, logger *zap.Logger) (*Ethereum, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if !common.IsHexAddress(cfg.ContractAddress) {
		return nil, fmt.Errorf("ledger: invalid contract address %q", cfg.ContractAddress)
	}

	parsed, err := LoadABI(cfg.ABIPath)
	if err != nil {
		return nil, err
	}
	signer, err := parseKey(cfg.PrivateKey)
	if err != nil {
		return nil, fmt.Errorf("ledger: private key: %w", err)
	}
	owner, err := parseKey(cfg.OwnerPrivateKey)
	if err != nil {
		return nil, fmt.Errorf("ledger: owner private key: %w", err)
	}

	backend, err := ethclient.DialContext(ctx, cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("ledger: dial %s: %w", cfg.RPCURL, err)
	}
	chainID, err := backend.ChainID(ctx)
	if err != nil {
		backend.Close()
		return nil, fmt.Errorf("ledger: chain id: %w", err)
	}

	limit := rate.Inf
	if cfg.MaxTxPerSecond > 0 {
		limit = rate.Limit(cfg.MaxTxPerSecond)
	}

	address := common.HexToAddress(cfg.ContractAddress)
	logger.Info("ledger connected",
		zap.String("rpc", cfg.RPCURL),
		zap.String("contract", address.Hex()),
		zap.Stringer("chain_id", chainID),
		zap.String("signer", crypto.PubkeyToAddress(signer.PublicKey).Hex()),
	)

	return &Ethereum{
		backend:  backend,
		contract: bind.NewBoundContract(address, parsed, backend, backend, backend),
		chainID:  chainID,
		signer:   signer,
		owner:    owner,
		limiter:  rate.NewLimiter(limit, 1),
		logger:   logger,
	}, nil
}

// LoadABI reads a contract interface from path. Both a bare ABI array and a
// build artifact with an "abi" field are accepted.
func LoadABI(path string) (abi.ABI, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return abi.ABI{}, fmt.Errorf("ledger: read abi: %w", err)
	}

	raw := strings.TrimSpace(string(data))
	if strings.HasPrefix(raw, "{") {
		var artifact struct {
			ABI json.RawMessage `json:"abi"`
		}
		if err := json.Unmarshal(data, &artifact); err != nil {
			return abi.ABI{}, fmt.Errorf("ledger: parse artifact: %w", err)
		}
		if len(artifact.ABI) == 0 {
			return abi.ABI{}, fmt.Errorf("ledger: artifact %s has no abi field", path)
		}
		raw = string(artifact.ABI)
	}

	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		return abi.ABI{}, fmt.Errorf("ledger: parse abi: %w", err)
	}
	for _, m := range []string{MethodAssign, MethodSubmitResult, MethodRelease} {
		if _, ok := parsed.Methods[m]; !ok {
			return abi.ABI{}, fmt.Errorf("ledger: abi is missing method %s", m)
		}
	}
	return parsed, nil
}

// Assign records provider as the operator for the job.
func (e *Ethereum) Assign(ctx context.Context, jobID types.JobID, provider string) error {
	if !ValidAddress(provider) {
		return fmt.Errorf("%w: invalid provider address %q", ErrSubmit, provider)
	}
	return e.transact(ctx, e.signer, MethodAssign, string(jobID), common.HexToAddress(provider))
}

// SubmitResult records the job's result hash.
func (e *Ethereum) SubmitResult(ctx context.Context, jobID types.JobID, resultHash string) error {
	hash, err := ParseResultHash(resultHash)
	if err != nil {
		return err
	}
	return e.transact(ctx, e.signer, MethodSubmitResult, string(jobID), hash)
}

// Release pays out the job's escrow. It is signed by the owner key.
func (e *Ethereum) Release(ctx context.Context, jobID types.JobID) error {
	return e.transact(ctx, e.owner, MethodRelease, string(jobID))
}

// Close drops the RPC connection.
func (e *Ethereum) Close() {
	e.backend.Close()
}

func (e *Ethereum) transact(ctx context.Context, key *ecdsa.PrivateKey, method string, args ...interface{}) error {
	if err := e.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrSubmit, method, err)
	}

	opts, err := bind.NewKeyedTransactorWithChainID(key, e.chainID)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrSubmit, method, err)
	}
	opts.Context = ctx

	start := time.Now()
	tx, err := e.contract.Transact(opts, method, args...)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrSubmit, method, err)
	}
	e.logger.Debug("ledger transaction sent",
		zap.String("method", method),
		zap.String("tx", tx.Hash().Hex()),
	)

	receipt, err := bind.WaitMined(ctx, e.backend, tx)
	if err != nil {
		return fmt.Errorf("%w: %s tx %s: %v", ErrConfirm, method, tx.Hash().Hex(), err)
	}
	if receipt.Status != ethtypes.ReceiptStatusSuccessful {
		return fmt.Errorf("%w: %s tx %s reverted", ErrConfirm, method, tx.Hash().Hex())
	}

	e.logger.Info("ledger transaction confirmed",
		zap.String("method", method),
		zap.String("tx", tx.Hash().Hex()),
		zap.Uint64("block", receipt.BlockNumber.Uint64()),
		zap.Duration("elapsed", time.Since(start)),
	)
	return nil
}

func parseKey(hexKey string) (*ecdsa.PrivateKey, error) {
	key := strings.TrimPrefix(strings.TrimSpace(hexKey), "0x")
	if key == "" {
		return nil, fmt.Errorf("empty key")
	}
	return crypto.HexToECDSA(key)
}
