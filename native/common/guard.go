package common

import coreerrors "inferpay/core/errors"

// Module names accepted by Guard.
const (
	ModuleDeposits   = "deposits"
	ModuleSettlement = "settlement"
	ModulePricing    = "pricing"
)

var ErrModulePaused = coreerrors.ErrModulePaused

type PauseView interface {
	IsPaused(module string) bool
}

func Guard(p PauseView, module string) error {
	if p == nil || module == "" {
		return nil
	}
	if p.IsPaused(module) {
		return ErrModulePaused
	}
	return nil
}
