package domain

import "github.com/shopspring/decimal"

// Charge is the priced outcome of consuming some units under a policy.
type Charge struct {
	Cost         decimal.Decimal `json:"cost"`
	FreeUnits    decimal.Decimal `json:"free_units"`
	BilledUnits  decimal.Decimal `json:"billed_units"`
	OverageUnits decimal.Decimal `json:"overage_units"`
}

// ChargeFor prices consuming units under cfg, given the units already
// consumed for the code in the current allowance period. Free allowance is
// applied first; units beyond it are overage and must be permitted by the
// config. Volume tiers price marginally over cumulative period usage.
func ChargeFor(cfg EffectiveConfig, units, usedThisPeriod decimal.Decimal) (Charge, error) {
	charge := Charge{
		Cost:         decimal.Zero,
		FreeUnits:    decimal.Zero,
		BilledUnits:  decimal.Zero,
		OverageUnits: decimal.Zero,
	}
	if units.Sign() <= 0 {
		return charge, ErrInvalidCost
	}
	if usedThisPeriod.IsNegative() {
		usedThisPeriod = decimal.Zero
	}

	freeRemaining := cfg.FreeAllowance.Sub(usedThisPeriod)
	if freeRemaining.IsNegative() {
		freeRemaining = decimal.Zero
	}
	charge.FreeUnits = decimal.Min(units, freeRemaining)
	charge.BilledUnits = units.Sub(charge.FreeUnits)
	if charge.BilledUnits.Sign() <= 0 {
		return charge, nil
	}

	if cfg.FreeAllowance.Sign() > 0 {
		// Beyond the free allowance: the overage policy governs.
		charge.OverageUnits = charge.BilledUnits
		if !cfg.AllowOverage {
			return Charge{}, ErrOverageNotAllowed
		}
		if cfg.OverageLimit.Sign() > 0 {
			overageTotal := usedThisPeriod.Add(units).Sub(cfg.FreeAllowance)
			if overageTotal.GreaterThan(cfg.OverageLimit) {
				return Charge{}, ErrOverageLimitExceeded
			}
		}
		if cfg.OverageCost.Sign() > 0 {
			charge.Cost = charge.BilledUnits.Mul(cfg.OverageCost).Mul(multiplier(cfg))
			return charge, nil
		}
	}

	if len(cfg.VolumeTiers) > 0 {
		cost, err := tieredCost(cfg.VolumeTiers, usedThisPeriod, charge.BilledUnits)
		if err != nil {
			return Charge{}, err
		}
		charge.Cost = cost.Mul(multiplier(cfg))
		return charge, nil
	}

	charge.Cost = charge.BilledUnits.Mul(cfg.CreditCost).Mul(multiplier(cfg))
	return charge, nil
}

// tieredCost walks the ordered breakpoints, charging each cumulative span at
// its tier cost starting from the units already consumed.
func tieredCost(tiers []VolumeTier, from, units decimal.Decimal) (decimal.Decimal, error) {
	cost := decimal.Zero
	remaining := units
	position := from

	for _, tier := range tiers {
		if remaining.Sign() <= 0 {
			break
		}
		span := remaining
		if tier.UpTo != nil {
			if position.GreaterThanOrEqual(*tier.UpTo) {
				continue
			}
			capacity := tier.UpTo.Sub(position)
			span = decimal.Min(remaining, capacity)
		}
		cost = cost.Add(span.Mul(tier.UnitCost))
		position = position.Add(span)
		remaining = remaining.Sub(span)
	}

	if remaining.Sign() > 0 {
		// Past the last bounded tier with no unbounded one configured.
		return decimal.Zero, ErrInvalidVolumeTiers
	}
	return cost, nil
}

// ValidateTiers rejects malformed tier lists at config write time, so
// consumption never has to deal with them.
func ValidateTiers(tiers []VolumeTier) error {
	var prev *decimal.Decimal
	for i, tier := range tiers {
		if tier.UnitCost.IsNegative() {
			return ErrInvalidVolumeTiers
		}
		if tier.UpTo == nil {
			if i != len(tiers)-1 {
				return ErrInvalidVolumeTiers
			}
			continue
		}
		if tier.UpTo.Sign() <= 0 {
			return ErrInvalidVolumeTiers
		}
		if prev != nil && !tier.UpTo.GreaterThan(*prev) {
			return ErrInvalidVolumeTiers
		}
		prev = tier.UpTo
	}
	return nil
}

func multiplier(cfg EffectiveConfig) decimal.Decimal {
	if cfg.UnitMultiplier.Sign() <= 0 {
		return decimal.NewFromInt(1)
	}
	return cfg.UnitMultiplier
}
