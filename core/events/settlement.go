package events

import (
	"math/big"
	"strconv"

	"github.com/ethereum/go-ethereum/common"

	"inferpay/core/types"
)

const (
	// TypeSettlementCompleted is emitted once per settled request.
	TypeSettlementCompleted = "settlement.completed"
)

// SettlementCompleted is the audit record of a settlement's full cost
// breakdown. BaseCost+Fee+GasComp+Refund always equals Amount.
type SettlementCompleted struct {
	RequestID      [32]byte
	Owner          common.Address
	Relay          common.Address
	Token          string
	Amount         *big.Int
	InputUnits     uint64
	OutputUnits    uint64
	BaseCost       *big.Int
	Fee            *big.Int
	GasComp        *big.Int
	Refund         *big.Int
	PricingVersion uint64
	Converted      bool
}

// EventType satisfies the events.Event interface.
func (SettlementCompleted) EventType() string { return TypeSettlementCompleted }

// Event converts the payload into a broadcastable event.
func (e SettlementCompleted) Event() *types.Event {
	return &types.Event{
		Type: TypeSettlementCompleted,
		Attributes: map[string]string{
			"requestId":      requestIDHex(e.RequestID),
			"owner":          addressString(e.Owner),
			"relay":          addressString(e.Relay),
			"token":          normalizeAsset(e.Token),
			"amountPaid":     amountString(e.Amount),
			"inputUnits":     strconv.FormatUint(e.InputUnits, 10),
			"outputUnits":    strconv.FormatUint(e.OutputUnits, 10),
			"baseCost":       amountString(e.BaseCost),
			"fee":            amountString(e.Fee),
			"gasComp":        amountString(e.GasComp),
			"refund":         amountString(e.Refund),
			"pricingVersion": strconv.FormatUint(e.PricingVersion, 10),
			"converted":      strconv.FormatBool(e.Converted),
		},
	}
}
