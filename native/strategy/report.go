package strategy

import (
	"math/big"

	nativecommon "dragonvault/native/common"
	"dragonvault/native/fixedpoint"
)

// Report reconciles the ledger against the live value of the yield source
// and settles the difference with the beneficiary according to the variant.
// Both outcomes run through the health check before any state mutates.
// Returns the realized profit and loss; for the skimming variant both are
// denominated in value units rather than raw assets.
func (e *Engine) Report() (*big.Int, *big.Int, error) {
	if err := e.enter(); err != nil {
		return nil, nil, err
	}
	defer e.exit()
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return nil, nil, err
	}
	if e.state == nil {
		return nil, nil, errNilState
	}
	if e.integration == nil {
		return nil, nil, errNilIntegration
	}
	if !e.hasBeneficiary {
		return nil, nil, ErrDonationNotEnabled
	}
	switch e.variant {
	case VariantSkimming:
		return e.reportSkimming()
	default:
		return e.reportDonating()
	}
}

// reportDonating realizes the value delta since the last report. Profit is
// minted to the beneficiary as shares priced before the ledger absorbs the
// gain, so depositor share price does not move. Loss is charged to the
// beneficiary first by burning its shares at their pre-burn value.
func (e *Engine) reportDonating() (*big.Int, *big.Int, error) {
	value, err := e.integration.ReportValue()
	if err != nil {
		return nil, nil, err
	}
	if value == nil || value.Sign() < 0 {
		value = big.NewInt(0)
	}
	previous := e.ledger.TotalAssets()

	profit := big.NewInt(0)
	loss := big.NewInt(0)
	switch value.Cmp(previous) {
	case 1:
		profit = new(big.Int).Sub(value, previous)
	case -1:
		loss = new(big.Int).Sub(previous, value)
	}
	if err := e.health.check(profit, loss, previous); err != nil {
		return nil, nil, err
	}

	if profit.Sign() > 0 {
		minted, err := e.ledger.ConvertToShares(profit, fixedpoint.RoundDown)
		if err != nil {
			return nil, nil, err
		}
		if minted.Sign() > 0 {
			if err := e.ledger.Mint(e.beneficiary, minted); err != nil {
				return nil, nil, err
			}
		}
		e.ledger.AddTotalAssets(profit)
	} else if loss.Sign() > 0 {
		if e.burnOnLoss {
			// Value the beneficiary's cover before the ledger shrinks.
			lossShares, err := e.ledger.ConvertToShares(loss, fixedpoint.RoundDown)
			if err != nil {
				return nil, nil, err
			}
			burn := fixedpoint.Min(lossShares, e.ledger.BalanceOf(e.beneficiary))
			if burn.Sign() > 0 {
				if err := e.ledger.Burn(e.beneficiary, burn); err != nil {
					return nil, nil, err
				}
			}
		}
		e.ledger.SubTotalAssets(loss)
	}

	e.lastReport = e.nowFn()
	if err := e.persistShares(); err != nil {
		return nil, nil, err
	}
	e.emitter.Emit(newReportedEvent(profit, loss, nil, e.lastReport))
	return profit, loss, nil
}

// reportSkimming reconciles the value of the held assets at the current
// exchange rate against the recorded user and beneficiary obligations.
// Surplus value is skimmed as freshly minted beneficiary shares; shortfall
// burns beneficiary shares down to zero and leaves any remainder as
// insolvency. User debt is never written down by a report.
func (e *Engine) reportSkimming() (*big.Int, *big.Int, error) {
	rate, err := e.currentRate()
	if err != nil {
		return nil, nil, err
	}
	currentValue, err := fixedpoint.MulWad(e.ledger.TotalAssets(), rate)
	if err != nil {
		return nil, nil, err
	}
	totalDebt := new(big.Int).Add(e.userDebtValue, e.dragonDebtValue)

	profit := big.NewInt(0)
	loss := big.NewInt(0)
	switch currentValue.Cmp(totalDebt) {
	case 1:
		profit = new(big.Int).Sub(currentValue, totalDebt)
	case -1:
		loss = new(big.Int).Sub(totalDebt, currentValue)
	}
	if err := e.health.check(profit, loss, totalDebt); err != nil {
		return nil, nil, err
	}

	if profit.Sign() > 0 {
		// Shares are value-denominated: one share per unit of skimmed value.
		if err := e.ledger.Mint(e.beneficiary, profit); err != nil {
			return nil, nil, err
		}
		e.dragonDebtValue = new(big.Int).Add(e.dragonDebtValue, profit)
	} else if loss.Sign() > 0 {
		burn := fixedpoint.Min(loss, e.ledger.BalanceOf(e.beneficiary))
		if burn.Sign() > 0 {
			if err := e.ledger.Burn(e.beneficiary, burn); err != nil {
				return nil, nil, err
			}
		}
		e.dragonDebtValue = clampSub(e.dragonDebtValue, burn)
	}

	e.lastRate = new(big.Int).Set(rate)
	e.lastReport = e.nowFn()
	if err := e.persistShares(); err != nil {
		return nil, nil, err
	}
	e.emitter.Emit(newReportedEvent(profit, loss, rate, e.lastReport))
	return profit, loss, nil
}
