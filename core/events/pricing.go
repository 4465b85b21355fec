package events

import (
	"math/big"
	"strconv"

	"github.com/ethereum/go-ethereum/common"

	"inferpay/core/types"
)

const (
	// TypePricingUpdated is emitted whenever the updater commits a new version.
	TypePricingUpdated = "pricing.updated"
)

// PricingUpdated captures one committed pricing version and the pool signal
// that produced it.
type PricingUpdated struct {
	Version            uint64
	Pool               common.Address
	Tick               int32
	VolatilityBps      uint32
	PrevInputPrice     *big.Int
	PrevOutputPrice    *big.Int
	InputPrice         *big.Int
	OutputPrice        *big.Int
	CandidateInput     *big.Int
	CandidateOutput    *big.Int
	Clamped            bool
	ProtocolFeeBps     uint32
	GasMarkupPerCall   *big.Int
	DenominationSymbol string
}

// EventType satisfies the events.Event interface.
func (PricingUpdated) EventType() string { return TypePricingUpdated }

// Event converts the payload into a broadcastable event.
func (e PricingUpdated) Event() *types.Event {
	attrs := map[string]string{
		"version":            strconv.FormatUint(e.Version, 10),
		"pricePerInputUnit":  amountString(e.InputPrice),
		"pricePerOutputUnit": amountString(e.OutputPrice),
		"prevInputPrice":     amountString(e.PrevInputPrice),
		"prevOutputPrice":    amountString(e.PrevOutputPrice),
		"candidateInput":     amountString(e.CandidateInput),
		"candidateOutput":    amountString(e.CandidateOutput),
		"clamped":            strconv.FormatBool(e.Clamped),
		"protocolFeeBps":     strconv.FormatUint(uint64(e.ProtocolFeeBps), 10),
		"gasMarkupPerCall":   amountString(e.GasMarkupPerCall),
		"tick":               strconv.FormatInt(int64(e.Tick), 10),
		"volatilityBps":      strconv.FormatUint(uint64(e.VolatilityBps), 10),
	}
	if pool := addressString(e.Pool); pool != "" {
		attrs["pool"] = pool
	}
	if denom := normalizeAsset(e.DenominationSymbol); denom != "" {
		attrs["denomination"] = denom
	}
	return &types.Event{Type: TypePricingUpdated, Attributes: attrs}
}
