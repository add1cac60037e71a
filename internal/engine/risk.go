package engine

import "github.com/alejandrodnm/polyflash/internal/domain"

// assess resolves the strategy, size and slippage allowance for a
// detection. Pure computation: balance and liquidity caps apply later in
// the placement path.
func (e *Engine) assess(d domain.Detection) domain.RiskAssessment {
	strategy := e.cfg.Profile
	if strategy == domain.StratAdaptive {
		strategy = resolveAdaptive(d)
	}

	size := e.cfg.BaseOrderUSD * strategy.SizeMultiplier() * (0.5 + 0.5*d.Confidence)
	if d.RiskScore > 50 {
		size *= 0.7
	}

	return domain.RiskAssessment{
		Approved:    true,
		Strategy:    strategy,
		SizeUSD:     size,
		MaxSlippage: e.slippageFor(strategy, d.RiskScore),
	}
}

// resolveAdaptive maps a detection onto a concrete posture: high
// confidence presses, low risk stays careful, anything else sits in the
// middle.
func resolveAdaptive(d domain.Detection) domain.StrategyProfile {
	switch {
	case d.Confidence > 0.8:
		return domain.StratAggressive
	case d.RiskScore < 30:
		return domain.StratConservative
	default:
		return domain.StratBalanced
	}
}

// slippageFor picks the price-limit offset. A configured adaptive profile
// scales the offset with the normalized risk score; fixed profiles use
// their posture's allowance. Always capped.
func (e *Engine) slippageFor(resolved domain.StrategyProfile, riskScore float64) float64 {
	if e.cfg.Profile == domain.StratAdaptive {
		s := slippageConservative + (riskScore/100)*(slippageCap-slippageConservative)
		if s > slippageCap {
			s = slippageCap
		}
		return s
	}
	switch resolved {
	case domain.StratConservative:
		return slippageConservative
	case domain.StratAggressive:
		return slippageAggressive
	default:
		return slippageBalanced
	}
}

// orderTypeFor selects time-in-force: aggressive tolerates partial fills,
// conservative is all-or-nothing, adaptive switches on the confidence
// cutoff.
func (e *Engine) orderTypeFor(confidence float64, resolved domain.StrategyProfile) domain.OrderType {
	if e.cfg.Profile == domain.StratAdaptive {
		if confidence > e.cfg.ConfCutoff {
			return domain.OrderFAK
		}
		return domain.OrderFOK
	}
	switch resolved {
	case domain.StratConservative:
		return domain.OrderFOK
	case domain.StratAggressive:
		return domain.OrderFAK
	default:
		return domain.OrderFAK
	}
}

// priceLimit offsets the reference price against the trade direction:
// buys accept up to limit above, sells down to limit below.
func priceLimit(price float64, side domain.Side, slippage float64) float64 {
	if side == domain.SideSell {
		return price * (1 - slippage)
	}
	return price * (1 + slippage)
}

// exitLevels computes the absolute stop-loss and take-profit prices,
// inverted for sell-direction entries.
func exitLevels(entry float64, side domain.Side, stopPct, targetPct float64) (stop, target float64) {
	if side == domain.SideSell {
		return entry * (1 + stopPct), entry * (1 - targetPct)
	}
	return entry * (1 - stopPct), entry * (1 + targetPct)
}
