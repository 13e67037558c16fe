package strategy

import (
	"errors"
	"math/big"

	"dragonvault/native/fixedpoint"
)

// ErrHealthCheck rejects a report whose profit or loss moves outside the
// configured bounds.
var ErrHealthCheck = errors.New("strategy engine: report outside health bounds")

const (
	// DefaultProfitLimitBps allows a report to at most double the tracked
	// value before tripping the check.
	DefaultProfitLimitBps uint64 = 10_000
	// DefaultLossLimitBps allows no loss by default.
	DefaultLossLimitBps uint64 = 0
)

// HealthCheck bounds the profit and loss a single report may realize,
// expressed in basis points of the value tracked before the report. A
// tripped check fails the report instead of silently clamping; operators
// arm a one-shot bypass to let a legitimate outsized report through.
type HealthCheck struct {
	enabled        bool
	profitLimitBps uint64
	lossLimitBps   uint64
	bypassOnce     bool
}

func NewHealthCheck() *HealthCheck {
	return &HealthCheck{
		enabled:        true,
		profitLimitBps: DefaultProfitLimitBps,
		lossLimitBps:   DefaultLossLimitBps,
	}
}

// SetEnabled toggles the check entirely.
func (h *HealthCheck) SetEnabled(enabled bool) { h.enabled = enabled }

// Enabled reports whether the check runs on reports.
func (h *HealthCheck) Enabled() bool { return h.enabled }

// SetLimits replaces both bounds.
func (h *HealthCheck) SetLimits(profitBps, lossBps uint64) {
	h.profitLimitBps = profitBps
	h.lossLimitBps = lossBps
}

// ProfitLimitBps returns the profit bound.
func (h *HealthCheck) ProfitLimitBps() uint64 { return h.profitLimitBps }

// LossLimitBps returns the loss bound.
func (h *HealthCheck) LossLimitBps() uint64 { return h.lossLimitBps }

// BypassOnce arms a single-report bypass. The flag resets as soon as the
// next report consumes it, whether or not the report would have tripped.
func (h *HealthCheck) BypassOnce() { h.bypassOnce = true }

// BypassArmed reports whether the next report skips the check.
func (h *HealthCheck) BypassArmed() bool { return h.bypassOnce }

// check validates a report delta against the value tracked before the
// report. A zero previous value admits any delta, there is no base to bound
// against.
func (h *HealthCheck) check(profit, loss, previousValue *big.Int) error {
	if !h.enabled {
		return nil
	}
	if h.bypassOnce {
		h.bypassOnce = false
		return nil
	}
	if previousValue == nil || previousValue.Sign() <= 0 {
		return nil
	}
	if profit != nil && profit.Sign() > 0 {
		limit, err := fixedpoint.Bps(previousValue, h.profitLimitBps)
		if err != nil {
			return err
		}
		if profit.Cmp(limit) > 0 {
			return ErrHealthCheck
		}
	}
	if loss != nil && loss.Sign() > 0 {
		limit, err := fixedpoint.Bps(previousValue, h.lossLimitBps)
		if err != nil {
			return err
		}
		if loss.Cmp(limit) > 0 {
			return ErrHealthCheck
		}
	}
	return nil
}
