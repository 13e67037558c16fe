package vault

import (
	"math/big"
	"strconv"

	"dragonvault/core/types"
	"dragonvault/crypto"
)

const (
	EventTypeDeposit         = "vault.deposit"
	EventTypeWithdraw        = "vault.withdraw"
	EventTypeStrategyAdded   = "vault.strategy.added"
	EventTypeStrategyRevoked = "vault.strategy.revoked"
	EventTypeDebtUpdated     = "vault.strategy.debt_updated"
	EventTypeReported        = "vault.strategy.reported"
)

type vaultEvent struct {
	evt *types.Event
}

func (e vaultEvent) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e vaultEvent) Event() *types.Event { return e.evt }

func formatAmount(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

func intToString(v int64) string { return strconv.FormatInt(v, 10) }

func newDepositEvent(sender, receiver crypto.Address, assets, shares *big.Int) vaultEvent {
	return vaultEvent{evt: &types.Event{
		Type: EventTypeDeposit,
		Attributes: map[string]string{
			"sender":   sender.String(),
			"receiver": receiver.String(),
			"assets":   formatAmount(assets),
			"shares":   formatAmount(shares),
		},
	}}
}

func newWithdrawEvent(owner, receiver crypto.Address, assets, shares, loss *big.Int) vaultEvent {
	return vaultEvent{evt: &types.Event{
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

func newStrategyAddedEvent(strategy crypto.Address, activation int64) vaultEvent {
	return vaultEvent{evt: &types.Event{
		Type: EventTypeStrategyAdded,
		Attributes: map[string]string{
			"strategy":   strategy.String(),
			"activation": intToString(activation),
		},
	}}
}

func newStrategyRevokedEvent(strategy crypto.Address, loss *big.Int) vaultEvent {
	return vaultEvent{evt: &types.Event{
		Type: EventTypeStrategyRevoked,
		Attributes: map[string]string{
			"strategy": strategy.String(),
			"loss":     formatAmount(loss),
		},
	}}
}

func newDebtUpdatedEvent(strategy crypto.Address, previous, current *big.Int) vaultEvent {
	return vaultEvent{evt: &types.Event{
		Type: EventTypeDebtUpdated,
		Attributes: map[string]string{
			"strategy":     strategy.String(),
			"previousDebt": formatAmount(previous),
			"currentDebt":  formatAmount(current),
		},
	}}
}

func newReportedEvent(strategy crypto.Address, gain, loss *big.Int, at int64) vaultEvent {
	return vaultEvent{evt: &types.Event{
		Type: EventTypeReported,
		Attributes: map[string]string{
			"strategy": strategy.String(),
			"gain":     formatAmount(gain),
			"loss":     formatAmount(loss),
			"at":       intToString(at),
		},
	}}
}
