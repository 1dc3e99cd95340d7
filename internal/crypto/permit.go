package crypto

import (
	"context"
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/alanyoungcy/dcaengine/internal/domain"
)

// PermitOracle answers subscription checks by verifying permits signed by a
// single authority. It holds no state beyond the authority and chain.
type PermitOracle struct {
	authority common.Address
	domainSep []byte
	now       func() time.Time
}

// NewPermitOracle creates an oracle trusting permits from authority on chainID.
func NewPermitOracle(authority common.Address, chainID int64) *PermitOracle {
	return &PermitOracle{
		authority: authority,
		domainSep: domainSeparator(chainID),
		now:       time.Now,
	}
}

// WithClock overrides the clock used for expiry checks.
func (o *PermitOracle) WithClock(now func() time.Time) *PermitOracle {
	o.now = now
	return o
}

// IsSubscribed implements domain.SubscriptionOracle. An empty permit means
// not subscribed. A malformed or foreign permit returns ErrInvalidSignature
// and a stale one ErrSubscriptionExpired.
func (o *PermitOracle) IsSubscribed(_ context.Context, principal common.Address, permit []byte) (bool, error) {
	if len(permit) == 0 {
		return false, nil
	}
	if len(permit) != PermitLen {
		return false, fmt.Errorf("crypto/permit: %d bytes: %w", len(permit), domain.ErrInvalidSignature)
	}

	exp, sig := permit[:32], append([]byte(nil), permit[32:]...)
	if sig[64] >= 27 {
		sig[64] -= 27
	}
	pub, err := ethcrypto.SigToPub(permitDigest(o.domainSep, principal, exp), sig)
	if err != nil {
		return false, fmt.Errorf("crypto/permit: recover: %v: %w", err, domain.ErrInvalidSignature)
	}
	if ethcrypto.PubkeyToAddress(*pub) != o.authority {
		return false, fmt.Errorf("crypto/permit: %s not signed by authority: %w", principal.Hex(), domain.ErrInvalidSignature)
	}

	expiry := new(big.Int).SetBytes(exp)
	if !expiry.IsInt64() || o.now().Unix() > expiry.Int64() {
		return false, fmt.Errorf("crypto/permit: %s expired at %s: %w", principal.Hex(), expiry, domain.ErrSubscriptionExpired)
	}
	return true, nil
}

// EncodePermit renders a permit as 0x-prefixed hex.
func EncodePermit(permit []byte) string {
	return "0x" + hex.EncodeToString(permit)
}

// DecodePermit parses a hex permit. An empty string decodes to no permit.
func DecodePermit(s string) ([]byte, error) {
	s = strings.TrimPrefix(strings.TrimSpace(s), "0x")
	if s == "" {
		return nil, nil
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("crypto/permit: decode: %w", err)
	}
	return b, nil
}

var _ domain.SubscriptionOracle = (*PermitOracle)(nil)
