// Package ledger talks to the settlement contract that records provider
// assignment, result submission and payment release for a job.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/ChuLiYu/ledger-scheduler/pkg/types"
)

// Contract method names.
const (
	MethodAssign       = "assignProvider"
	MethodSubmitResult = "submitResult"
	MethodRelease      = "release"
)

var (
	// ErrSubmit means the transaction never made it to the chain.
	ErrSubmit = errors.New("ledger: transaction submission failed")
	// ErrConfirm means the transaction was sent but did not confirm successfully.
	ErrConfirm = errors.New("ledger: transaction not confirmed")
	// ErrInvalidHash means a result hash is not a 32-byte hex value. Retrying cannot help.
	ErrInvalidHash = errors.New("ledger: result hash must be 32 bytes of hex")
)

// Client is the ledger as the lifecycle manager sees it. Every call submits a
// transaction and waits for its confirmation; a submission that confirms
// with a failure is reported the same as one that was never sent.
type Client interface {
	Assign(ctx context.Context, jobID types.JobID, provider string) error
	SubmitResult(ctx context.Context, jobID types.JobID, resultHash string) error
	Release(ctx context.Context, jobID types.JobID) error
}

// ValidAddress reports whether s is a hex account address.
func ValidAddress(s string) bool {
	return s != "" && common.IsHexAddress(s)
}

// ParseResultHash decodes a 0x-prefixed 32-byte hex value.
func ParseResultHash(s string) ([32]byte, error) {
	var out [32]byte
	raw := strings.TrimSpace(s)
	if !strings.HasPrefix(raw, "0x") && !strings.HasPrefix(raw, "0X") {
		raw = "0x" + raw
	}
	b, err := hexutil.Decode(raw)
	if err != nil {
		return out, fmt.Errorf("%w: %v", ErrInvalidHash, err)
	}
	if len(b) != len(out) {
		return out, fmt.Errorf("%w: got %d bytes", ErrInvalidHash, len(b))
	}
	copy(out[:], b)
	return out, nil
}
