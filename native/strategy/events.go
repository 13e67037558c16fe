package strategy

import (
	"math/big"
	"strconv"

	"dragonvault/core/types"
	"dragonvault/crypto"
)

const (
	EventTypeDeposit           = "strategy.deposit"
	EventTypeWithdraw          = "strategy.withdraw"
	EventTypeReported          = "strategy.reported"
	EventTypeEmergencyWithdraw = "strategy.emergency_withdraw"
)

type strategyEvent struct {
	evt *types.Event
}

func (e strategyEvent) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e strategyEvent) Event() *types.Event { return e.evt }

func formatAmount(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

func newDepositEvent(sender, receiver crypto.Address, assets, shares *big.Int) strategyEvent {
	return strategyEvent{evt: &types.Event{
		Type: EventTypeDeposit,
		Attributes: map[string]string{
			"sender":   sender.String(),
			"receiver": receiver.String(),
			"assets":   formatAmount(assets),
			"shares":   formatAmount(shares),
		},
	}}
}

func newWithdrawEvent(owner, receiver crypto.Address, assets, shares, loss *big.Int) strategyEvent {
	return strategyEvent{evt: &types.Event{
		Type: EventTypeWithdraw,
		Attributes: map[string]string{
			"owner":    owner.String(),
			"receiver": receiver.String(),
			"assets":   formatAmount(assets),
			"shares":   formatAmount(shares),
			"loss":     formatAmount(loss),
		},
	}}
}

func newReportedEvent(profit, loss, rate *big.Int, at int64) strategyEvent {
	attrs := map[string]string{
		"profit": formatAmount(profit),
		"loss":   formatAmount(loss),
		"at":     strconv.FormatInt(at, 10),
	}
	if rate != nil {
		attrs["rate"] = rate.String()
	}
	return strategyEvent{evt: &types.Event{
		Type:       EventTypeReported,
		Attributes: attrs,
	}}
}

func newEmergencyWithdrawEvent(caller crypto.Address, freed *big.Int) strategyEvent {
	return strategyEvent{evt: &types.Event{
		Type: EventTypeEmergencyWithdraw,
		Attributes: map[string]string{
			"caller": caller.String(),
			"freed":  formatAmount(freed),
		},
	}}
}
