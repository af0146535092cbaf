package reconcile

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/akaunkita/finledger/internal/money"
)

var day0 = time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)

func bankTxn(id, amount string, at time.Time, desc string) BankTransaction {
	return BankTransaction{ID: id, Amount: money.MustParse(amount), Date: at, Description: desc}
}

func internalTxn(id, amount string, at time.Time, desc string) InternalTransaction {
	return InternalTransaction{ID: id, Amount: money.MustParse(amount), Date: at, Description: desc}
}

func TestWeightedScorerFactors(t *testing.T) {
	sc := DefaultScorer()

	exact := sc.Score(bankTxn("b", "-150.00", day0, "PETRONAS KL"), internalTxn("i", "150", day0, "petronas kl"))
	require.Equal(t, 50.0, exact.Amount)
	require.Equal(t, 30.0, exact.Date)
	require.Equal(t, 20.0, exact.Description)
	require.Equal(t, 100.0, exact.Total)

	twoDays := sc.Score(bankTxn("b", "150", day0.AddDate(0, 0, 2), "x"), internalTxn("i", "150", day0, "y"))
	require.Equal(t, 10.0, twoDays.Date)

	outside := sc.Score(bankTxn("b", "150", day0.AddDate(0, 0, 4), "x"), internalTxn("i", "150", day0, "y"))
	require.Zero(t, outside.Date)

	offBySen := sc.Score(bankTxn("b", "150.01", day0, "x"), internalTxn("i", "150", day0, "x"))
	require.Zero(t, offBySen.Amount)
}

func TestScoreMonotonicInDateDistance(t *testing.T) {
	sc := DefaultScorer()
	internal := internalTxn("i", "80", day0, "Grab ride")
	prev := sc.Score(bankTxn("b", "80", day0, "GRAB RIDE"), internal).Total
	for hours := 6; hours <= 24*5; hours += 6 {
		next := sc.Score(bankTxn("b", "80", day0.Add(time.Duration(hours)*time.Hour), "GRAB RIDE"), internal).Total
		require.LessOrEqual(t, next, prev, "hours=%d", hours)
		prev = next
	}
}

func TestScoreMonotonicInAmountMismatch(t *testing.T) {
	sc := DefaultScorer()
	internal := internalTxn("i", "80", day0, "Grab ride")
	prev := sc.Score(bankTxn("b", "80", day0, "Grab ride"), internal).Total
	for _, amt := range []string{"80.01", "81", "90", "200"} {
		next := sc.Score(bankTxn("b", amt, day0, "Grab ride"), internal).Total
		require.LessOrEqual(t, next, prev, amt)
		prev = next
	}
}

func TestSimilarityNormalizesText(t *testing.T) {
	require.Equal(t, 1.0, Similarity("Café  Kopitiam", "cafe kopitiam"))
	require.Equal(t, 1.0, Similarity("", ""))
	require.Zero(t, Similarity("abc", "xyz"))
	require.InDelta(t, 0.8, Similarity("shell", "shel"), 1e-9)
}

func TestLevenshtein(t *testing.T) {
	cases := []struct {
		a, b string
		want int
	}{
		{"", "", 0},
		{"kitten", "sitting", 3},
		{"flaw", "lawn", 2},
		{"same", "same", 0},
		{"", "abc", 3},
	}
	for _, tc := range cases {
		require.Equal(t, tc.want, Levenshtein([]rune(tc.a), []rune(tc.b)), "%s/%s", tc.a, tc.b)
	}
}
