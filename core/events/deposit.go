package events

import (
	"math/big"
	"strconv"

	"github.com/ethereum/go-ethereum/common"

	"inferpay/core/types"
)

const (
	// TypeDepositCreated is emitted when a request is escrowed.
	TypeDepositCreated = "escrow.deposit.created"
)

// DepositCreated records a new escrow lock for a request id.
type DepositCreated struct {
	RequestID [32]byte
	Owner     common.Address
	Token     string
	Amount    *big.Int
	CreatedAt uint64
}

// EventType satisfies the events.Event interface.
func (DepositCreated) EventType() string { return TypeDepositCreated }

// Event converts the payload into a broadcastable event.
func (e DepositCreated) Event() *types.Event {
	return &types.Event{
		Type: TypeDepositCreated,
		Attributes: map[string]string{
			"requestId": requestIDHex(e.RequestID),
			"owner":     addressString(e.Owner),
			"token":     normalizeAsset(e.Token),
			"amount":    amountString(e.Amount),
			"createdAt": strconv.FormatUint(e.CreatedAt, 10),
		},
	}
}
