package reconcile

import (
	"math"
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/akaunkita/finledger/internal/money"
)

// Score is the composite confidence of a candidate pair, broken down by factor.
type Score struct {
	Total       float64 `json:"total"`
	Amount      float64 `json:"amount"`
	Date        float64 `json:"date"`
	Description float64 `json:"description"`
}

// Scorer rates how likely a bank line and a ledger movement are the same event.
type Scorer interface {
	Score(bank BankTransaction, internal InternalTransaction) Score
}

// WeightedScorer adds an exact-amount credit, a linearly decaying date credit
// and an edit-distance description credit.
type WeightedScorer struct {
	AmountWeight      float64
	DateWeight        float64
	DateDecayPerDay   float64
	DateWindowDays    float64
	DescriptionWeight float64
}

// DefaultScorer returns the standard weights: amount 50, date 30 decaying 10
// per day over 3 days, description 20.
func DefaultScorer() WeightedScorer {
	return WeightedScorer{
		AmountWeight:      50,
		DateWeight:        30,
		DateDecayPerDay:   10,
		DateWindowDays:    3,
		DescriptionWeight: 20,
	}
}

// Score implements Scorer.
func (w WeightedScorer) Score(bank BankTransaction, internal InternalTransaction) Score {
	var s Score
	if money.Equal(bank.Amount.Abs(), internal.Amount) {
		s.Amount = w.AmountWeight
	}
	days := math.Abs(bank.Date.Sub(internal.Date).Hours()) / 24
	if days <= w.DateWindowDays {
		s.Date = math.Max(0, w.DateWeight-days*w.DateDecayPerDay)
	}
	s.Description = Similarity(bank.Description, internal.Description) * w.DescriptionWeight
	s.Total = round2(s.Amount + s.Date + s.Description)
	return s
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// NormalizeText case-folds s, strips accents and collapses whitespace.
func NormalizeText(s string) string {
	// Chains carry state, so each call builds its own.
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	stripped, _, err := transform.String(t, s)
	if err != nil {
		stripped = s
	}
	folded := cases.Fold().String(stripped)
	return strings.Join(strings.Fields(folded), " ")
}

// Similarity returns 1 - distance/len(longer) over normalized text, in [0,1].
// Two empty strings are identical.
func Similarity(a, b string) float64 {
	ra := []rune(NormalizeText(a))
	rb := []rune(NormalizeText(b))
	longer := max(len(ra), len(rb))
	if longer == 0 {
		return 1
	}
	return float64(longer-Levenshtein(ra, rb)) / float64(longer)
}

// Levenshtein is the edit distance between a and b.
func Levenshtein(a, b []rune) int {
	if len(a) < len(b) {
		a, b = b, a
	}
	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(a); i++ {
		curr[0] = i
		for j := 1; j <= len(b); j++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			curr[j] = min(prev[j]+1, curr[j-1]+1, prev[j-1]+cost)
		}
		prev, curr = curr, prev
	}
	return prev[len(b)]
}
