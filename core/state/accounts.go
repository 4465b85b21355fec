package state

import (
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// ErrInsufficientBalance is returned when a debit exceeds the account balance.
var ErrInsufficientBalance = errors.New("state: insufficient balance")

var balancePrefix = []byte("balance:")

func balanceKey(addr common.Address, symbol string) []byte {
	buf := make([]byte, 0, len(balancePrefix)+len(symbol)+1+common.AddressLength)
	buf = append(buf, balancePrefix...)
	buf = append(buf, symbol...)
	buf = append(buf, ':')
	buf = append(buf, addr.Bytes()...)
	return buf
}

func normalizeSymbol(symbol string) (string, error) {
	trimmed := strings.ToUpper(strings.TrimSpace(symbol))
	if trimmed == "" {
		return "", fmt.Errorf("state: token symbol required")
	}
	return trimmed, nil
}

// Balance returns the token balance held by addr. Unknown accounts hold zero.
func (m *Manager) Balance(addr common.Address, token string) (*big.Int, error) {
	symbol, err := normalizeSymbol(token)
	if err != nil {
		return nil, err
	}
	balance := new(big.Int)
	ok, err := m.KVGet(balanceKey(addr, symbol), balance)
	if err != nil {
		return nil, err
	}
	if !ok {
		return big.NewInt(0), nil
	}
	return balance, nil
}

// SetBalance overwrites the token balance held by addr.
func (m *Manager) SetBalance(addr common.Address, token string, amount *big.Int) error {
	symbol, err := normalizeSymbol(token)
	if err != nil {
		return err
	}
	if amount == nil || amount.Sign() < 0 {
		return fmt.Errorf("state: balance must be non-negative")
	}
	if amount.Sign() == 0 {
		return m.KVDelete(balanceKey(addr, symbol))
	}
	return m.KVPut(balanceKey(addr, symbol), amount)
}

// Credit adds amount to the balance of addr.
func (m *Manager) Credit(addr common.Address, token string, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return fmt.Errorf("state: credit amount must be non-negative")
	}
	current, err := m.Balance(addr, token)
	if err != nil {
		return err
	}
	return m.SetBalance(addr, token, current.Add(current, amount))
}

// Transfer moves amount of token from one account to another. Zero transfers
// are no-ops.
func (m *Manager) Transfer(from, to common.Address, token string, amount *big.Int) error {
	if amount == nil || amount.Sign() == 0 {
		return nil
	}
	if amount.Sign() < 0 {
		return fmt.Errorf("state: negative transfer amount")
	}
	fromBal, err := m.Balance(from, token)
	if err != nil {
		return err
	}
	if fromBal.Cmp(amount) < 0 {
		return fmt.Errorf("%w: %s holds %s %s, needs %s", ErrInsufficientBalance, from.Hex(), fromBal, strings.ToUpper(token), amount)
	}
	if err := m.SetBalance(from, token, fromBal.Sub(fromBal, amount)); err != nil {
		return err
	}
	// Re-read so a self-transfer sees the debited balance.
	toBal, err := m.Balance(to, token)
	if err != nil {
		return err
	}
	return m.SetBalance(to, token, toBal.Add(toBal, amount))
}
