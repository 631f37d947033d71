package solana

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/brojonat/solrelay/service/relayerr"
)

const (
	// SOLDecimals is the number of decimal places between SOL and lamports.
	SOLDecimals = 9

	// LamportsPerSOL is the base-unit-per-unit constant.
	LamportsPerSOL = 1_000_000_000
)

// SOLToLamports converts a decimal SOL amount to lamports without float
// rounding. The amount must be a plain positive decimal ("1", "1.5",
// "0.000000001"); anything else fails with invalid_amount.
func SOLToLamports(amount string) (uint64, error) {
	s := strings.TrimSpace(amount)
	if s == "" {
		return 0, relayerr.New(relayerr.KindInvalidAmount, "amount is required")
	}
	if strings.HasPrefix(s, "-") {
		return 0, relayerr.New(relayerr.KindInvalidAmount, "amount must be positive")
	}

	whole, frac, hasDot := strings.Cut(s, ".")
	if !isDigits(whole) || (hasDot && !isDigits(frac)) {
		return 0, relayerr.New(relayerr.KindInvalidAmount, "amount must be a plain decimal number, got %q", amount)
	}
	if len(frac) > SOLDecimals {
		return 0, relayerr.New(relayerr.KindInvalidAmount, "amount has more than %d decimal places", SOLDecimals)
	}
	frac += strings.Repeat("0", SOLDecimals-len(frac))

	lamports, err := strconv.ParseUint(whole+frac, 10, 64)
	if err != nil {
		return 0, relayerr.Wrap(relayerr.KindInvalidAmount, err, "amount out of range")
	}
	if lamports == 0 {
		return 0, relayerr.New(relayerr.KindInvalidAmount, "amount must be positive")
	}
	// Stored and published as a signed 64-bit value.
	if lamports > math.MaxInt64 {
		return 0, relayerr.New(relayerr.KindInvalidAmount, "amount out of range")
	}
	return lamports, nil
}

// LamportsToSOL converts lamports to whole SOL for display.
func LamportsToSOL(lamports uint64) float64 {
	return float64(lamports) / LamportsPerSOL
}

// FormatLamports renders lamports as an exact SOL decimal string.
// Example: FormatLamports(24981836) = "0.024981836"
func FormatLamports(lamports uint64) string {
	s := fmt.Sprintf("%d", lamports)
	for len(s) <= SOLDecimals {
		s = "0" + s
	}
	pos := len(s) - SOLDecimals
	return s[:pos] + "." + s[pos:]
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
