package utils

import (
	"golang.org/x/exp/constraints"
	"math"
	"math/big"
)

// Clamp 将 v 限制在 [lo, hi]
func Clamp[T constraints.Integer | constraints.Float](v, lo, hi T) T {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Float64Round2 对 float64 保留最多两位小数，适用于市值、流动性等指标
func Float64Round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// SafeRatio 分母为 0 时返回 fallback
func SafeRatio(num, den, fallback float64) float64 {
	if den == 0 || math.IsNaN(den) || math.IsInf(den, 0) {
		return fallback
	}
	return num / den
}

func Pow10(n uint8) float64 {
	switch n {
	case 0:
		return 1
	case 6:
		return 1e6
	case 8:
		return 1e8
	case 9:
		return 1e9
	case 18:
		return 1e18
	default:
		return math.Pow10(int(n))
	}
}

// BigToFloat64 链上整数金额按 decimals 换算成 float64
func BigToFloat64(v *big.Int, decimals uint8) float64 {
	if v == nil || v.Sign() == 0 {
		return 0
	}
	if v.IsUint64() {
		return float64(v.Uint64()) / Pow10(decimals)
	}
	bf := new(big.Float).SetInt(v)
	bf.Quo(bf, new(big.Float).SetFloat64(Pow10(decimals)))
	result, _ := bf.Float64()
	return result
}
