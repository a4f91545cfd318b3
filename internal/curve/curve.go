// Package curve mirrors the factory program's bonding curve math. The pipeline
// never prices trades itself (the chain already did), but metrics need a spot
// price and market cap for agents between trades, and graduation detection
// needs the reserve threshold.
package curve

import (
	"math/big"

	"ursus-market/internal/domain"
)

// Native unit scales of the factory program.
const (
	LamportsPerSol = 1_000_000_000
	TokenDecimals  = 1_000_000_000 // 9 decimals
)

// NewState returns curve reserves as initialized by the create_agent
// instruction: 30 SOL / 1.073B token virtual reserves, 800M curve tokens,
// 1B total supply, graduation at 30,000 SOL.
func NewState() domain.CurveState {
	return domain.CurveState{
		VirtualSolReserves:   30 * LamportsPerSol,
		VirtualTokenReserves: 1_073_000_000 * TokenDecimals,
		RealSolReserves:      0,
		RealTokenReserves:    800_000_000 * TokenDecimals,
		GraduationThreshold:  30_000 * LamportsPerSol,
		BondingCurveSupply:   800_000_000 * TokenDecimals,
		TotalSupply:          1_000_000_000 * TokenDecimals,
	}
}

// SpotPrice returns the instantaneous curve price in SOL per token.
// Both reserve sides carry 9 decimals, so the ratio is already unit-correct.
func SpotPrice(s domain.CurveState) float64 {
	if s.VirtualTokenReserves == 0 {
		return 0
	}
	return float64(s.VirtualSolReserves) / float64(s.VirtualTokenReserves)
}

// MarketCap returns the circulating market cap in SOL: tokens sold off the
// curve so far at the current spot price. Mirrors get_market_cap in the
// program; a fresh agent has no circulating supply and reports zero.
func MarketCap(s domain.CurveState) float64 {
	circulating := satSub(s.BondingCurveSupply, s.RealTokenReserves)
	return SpotPrice(s) * float64(circulating) / TokenDecimals
}

// GraduationProgress returns real SOL reserves as a fraction of the graduation
// threshold, capped at 1.
func GraduationProgress(s domain.CurveState) float64 {
	if s.GraduationThreshold == 0 {
		return 0
	}
	p := float64(s.RealSolReserves) / float64(s.GraduationThreshold)
	if p > 1 {
		return 1
	}
	return p
}

// CanGraduate reports whether an agent's reserves have crossed the graduation
// threshold. Mirrors Agent::can_graduate in the program.
func CanGraduate(a *domain.Agent) bool {
	return !a.Graduated && a.Curve.RealSolReserves >= a.Curve.GraduationThreshold
}

// TokensOut returns tokens received for solIn lamports under the constant
// product formula. The u128 intermediate product of the program is reproduced
// with big.Int since the reserve product overflows uint64.
func TokensOut(s domain.CurveState, solIn uint64) uint64 {
	newSol := new(big.Int).Add(u64(s.VirtualSolReserves), u64(solIn))
	product := new(big.Int).Mul(u64(s.VirtualSolReserves), u64(s.VirtualTokenReserves))
	newTokens := new(big.Int).Div(product, newSol)
	out := new(big.Int).Sub(u64(s.VirtualTokenReserves), newTokens)
	if out.Sign() < 0 {
		return 0
	}
	return out.Uint64()
}

// SolOut returns SOL received for tokenIn token units under the constant
// product formula.
func SolOut(s domain.CurveState, tokenIn uint64) uint64 {
	newTokens := new(big.Int).Add(u64(s.VirtualTokenReserves), u64(tokenIn))
	product := new(big.Int).Mul(u64(s.VirtualSolReserves), u64(s.VirtualTokenReserves))
	newSol := new(big.Int).Div(product, newTokens)
	out := new(big.Int).Sub(u64(s.VirtualSolReserves), newSol)
	if out.Sign() < 0 {
		return 0
	}
	return out.Uint64()
}

// ApplyBuy moves solIn into the curve and tokensOut from it, updating both the
// virtual and real reserve sides. Saturates at zero instead of erroring: the
// chain already validated the trade, local state only mirrors it.
func ApplyBuy(s domain.CurveState, solIn, tokensOut uint64) domain.CurveState {
	s.VirtualSolReserves += solIn
	s.VirtualTokenReserves = satSub(s.VirtualTokenReserves, tokensOut)
	s.RealSolReserves += solIn
	s.RealTokenReserves = satSub(s.RealTokenReserves, tokensOut)
	return s
}

// ApplySell moves tokenIn into the curve and solOut from it.
func ApplySell(s domain.CurveState, tokenIn, solOut uint64) domain.CurveState {
	s.VirtualTokenReserves += tokenIn
	s.VirtualSolReserves = satSub(s.VirtualSolReserves, solOut)
	s.RealTokenReserves += tokenIn
	s.RealSolReserves = satSub(s.RealSolReserves, solOut)
	return s
}

func satSub(a, b uint64) uint64 {
	if b > a {
		return 0
	}
	return a - b
}

func u64(v uint64) *big.Int {
	return new(big.Int).SetUint64(v)
}
