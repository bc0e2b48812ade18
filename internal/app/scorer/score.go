package scorer

import (
	"math"
	"strings"
)

// Rating categories, ordered from most to least valuable.
const (
	CategoryLeadingZeroes = "leading_zeroes"
	CategoryLeadingAny    = "leading_any"
	CategoryLettersHeavy  = "letters_heavy"
	CategoryRandom        = "random"
)

// Score is the rating of a single candidate address.
type Score struct {
	Total    float64
	Category string
	Price    int64
}

// ScoreAddress rates a 0x-prefixed address. The total is the expected number
// of attempts needed to mine an address at least this good in the winning
// category, so a fully random address scores 1.
func ScoreAddress(address string) Score {
	hexPart := strings.ToLower(strings.TrimPrefix(address, "0x"))

	best := Score{Total: 1, Category: CategoryRandom}

	if n := leadingRun(hexPart, '0'); n > 0 {
		consider(&best, math.Pow(16, float64(n)), CategoryLeadingZeroes)
	}
	if len(hexPart) > 0 {
		if n := leadingRun(hexPart, hexPart[0]); n > 1 {
			consider(&best, math.Pow(16, float64(n-1)), CategoryLeadingAny)
		}
	}
	if n := leadingLetters(hexPart); n > 0 {
		consider(&best, math.Pow(16.0/6.0, float64(n)), CategoryLettersHeavy)
	}

	best.Price = priceFor(best)
	return best
}

func consider(best *Score, total float64, category string) {
	if total > best.Total {
		best.Total = total
		best.Category = category
	}
}

func leadingRun(s string, c byte) int {
	n := 0
	for n < len(s) && s[n] == c {
		n++
	}
	return n
}

func leadingLetters(s string) int {
	n := 0
	for n < len(s) && s[n] >= 'a' && s[n] <= 'f' {
		n++
	}
	return n
}

// priceFor converts a rating into a listing price in cents. Scarcer
// categories carry a premium over the raw difficulty.
func priceFor(s Score) int64 {
	mult := 1.0
	switch s.Category {
	case CategoryLeadingZeroes:
		mult = 2.0
	case CategoryLeadingAny:
		mult = 1.5
	case CategoryLettersHeavy:
		mult = 1.2
	}
	return int64((math.Log10(s.Total) + 1) * 100 * mult)
}
