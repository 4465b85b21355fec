package escrow

import (
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	coreerrors "inferpay/core/errors"
)

// RequestID is the opaque key a funding transaction escrows against. It is
// never reused.
type RequestID [32]byte

// Hex renders the identifier with a 0x prefix.
func (id RequestID) Hex() string {
	return "0x" + hex.EncodeToString(id[:])
}

func (id RequestID) String() string { return id.Hex() }

// MarshalText encodes the identifier as 0x-prefixed hex.
func (id RequestID) MarshalText() ([]byte, error) {
	return []byte(id.Hex()), nil
}

// UnmarshalText accepts the same forms as ParseRequestID.
func (id *RequestID) UnmarshalText(text []byte) error {
	parsed, err := ParseRequestID(string(text))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

// ParseRequestID accepts either a 0x-prefixed 32-byte hex string, which is used
// verbatim, or any other non-empty label, which is hashed with keccak256.
func ParseRequestID(raw string) (RequestID, error) {
	var id RequestID
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return id, fmt.Errorf("%w: request id required", coreerrors.ErrInvalidArgument)
	}
	if strings.HasPrefix(trimmed, "0x") || strings.HasPrefix(trimmed, "0X") {
		decoded, err := hex.DecodeString(trimmed[2:])
		if err == nil && len(decoded) == len(id) {
			copy(id[:], decoded)
			return id, nil
		}
	}
	return RequestID(ethcrypto.Keccak256Hash([]byte(trimmed))), nil
}

// Deposit is the escrow record for one request. Amount is fixed at creation
// and Settled only ever moves from false to true.
type Deposit struct {
	RequestID   RequestID      `json:"requestId"`
	Owner       common.Address `json:"owner"`
	Token       string         `json:"token"`
	Amount      *big.Int       `json:"amount"`
	Settled     bool           `json:"settled"`
	CreatedAt   uint64         `json:"createdAt"`
	CreatedUnix int64          `json:"createdUnix"`
	SettledAt   uint64         `json:"settledAt,omitempty"`
}

// Clone returns a deep copy of the deposit so callers can safely mutate the
// copy without affecting the stored instance.
func (d *Deposit) Clone() *Deposit {
	if d == nil {
		return nil
	}
	clone := *d
	if d.Amount != nil {
		clone.Amount = new(big.Int).Set(d.Amount)
	} else {
		clone.Amount = big.NewInt(0)
	}
	return &clone
}

// NormalizeToken returns the canonical upper-case form of a token symbol.
func NormalizeToken(symbol string) (string, error) {
	trimmed := strings.ToUpper(strings.TrimSpace(symbol))
	if trimmed == "" {
		return "", fmt.Errorf("%w: token symbol required", coreerrors.ErrUnsupportedToken)
	}
	return trimmed, nil
}

type storedDeposit struct {
	Owner       common.Address
	Token       string
	Amount      *big.Int
	Settled     bool
	CreatedAt   uint64
	CreatedUnix uint64
	SettledAt   uint64
}

func (s *storedDeposit) toDeposit(id RequestID) *Deposit {
	amount := big.NewInt(0)
	if s.Amount != nil {
		amount = new(big.Int).Set(s.Amount)
	}
	return &Deposit{
		RequestID:   id,
		Owner:       s.Owner,
		Token:       s.Token,
		Amount:      amount,
		Settled:     s.Settled,
		CreatedAt:   s.CreatedAt,
		CreatedUnix: int64(s.CreatedUnix),
		SettledAt:   s.SettledAt,
	}
}

func newStoredDeposit(d *Deposit) *storedDeposit {
	created := uint64(0)
	if d.CreatedUnix > 0 {
		created = uint64(d.CreatedUnix)
	}
	return &storedDeposit{
		Owner:       d.Owner,
		Token:       d.Token,
		Amount:      new(big.Int).Set(d.Amount),
		Settled:     d.Settled,
		CreatedAt:   d.CreatedAt,
		CreatedUnix: created,
		SettledAt:   d.SettledAt,
	}
}
