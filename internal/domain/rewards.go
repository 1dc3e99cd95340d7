package domain

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// RewardKind distinguishes who a ledger balance is owed to.
type RewardKind string

const (
	RewardStrategist RewardKind = "strategist"
	RewardReferrer   RewardKind = "referrer"
	RewardProtocol   RewardKind = "protocol"
)

// RewardKey addresses one ledger balance.
type RewardKey struct {
	Kind      RewardKind     `json:"kind"`
	Principal common.Address `json:"principal"`
	Token     common.Address `json:"token"`
}

// RewardBalance is a ledger row.
type RewardBalance struct {
	RewardKey
	Amount *big.Int `json:"amount"`
}
