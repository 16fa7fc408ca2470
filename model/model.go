package model

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// GenerateUUIDWithSuffix generates a new UUID prefixed with a short module
// tag, e.g. "plg_7f9c...". The tag makes identifiers self-describing in
// logs and foreign keys.
func GenerateUUIDWithSuffix(module string) string {
	id := uuid.New()
	return fmt.Sprintf("%s_%s", module, id.String())
}

// OneCent is the smallest amount a contribution can carry.
var OneCent = decimal.New(1, -2)

// RoundCents rounds to two decimal places, half up. Computed minimums use
// this; stored amounts are already exact cents.
func RoundCents(d decimal.Decimal) decimal.Decimal {
	return d.Round(2)
}

// SplitCents divides amount into n whole-cent parts that sum exactly to
// amount. The remainder cents go to the earliest parts, so part 0 is never
// smaller than part n-1.
func SplitCents(amount decimal.Decimal, n int) []decimal.Decimal {
	if n <= 0 {
		return nil
	}
	totalCents := amount.Mul(decimal.New(100, 0)).IntPart()
	base := totalCents / int64(n)
	rem := totalCents % int64(n)
	parts := make([]decimal.Decimal, n)
	for i := 0; i < n; i++ {
		cents := base
		if int64(i) < rem {
			cents++
		}
		parts[i] = decimal.New(cents, -2)
	}
	return parts
}
