package reconcile

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestGreedyMatcherClaimsExclusively(t *testing.T) {
	bank := []BankTransaction{
		bankTxn("b1", "-120.00", day0, "PETRONAS SS2"),
		bankTxn("b2", "-120.00", day0, "PETRONAS SS2"),
		bankTxn("b3", "55.00", day0.AddDate(0, 0, 1), "Transfer from Ali"),
	}
	internal := []InternalTransaction{
		internalTxn("i1", "120.00", day0, "Petronas SS2 fuel"),
		internalTxn("i2", "55.00", day0, "Payment received Ali"),
		internalTxn("i3", "999.00", day0.AddDate(0, 0, 20), "Rent"),
	}

	res := NewGreedyMatcher().Match(bank, internal)

	require.Len(t, res.Matched, 2)
	require.Equal(t, "b1", res.Matched[0].Bank.ID)
	require.Equal(t, "i1", res.Matched[0].Internal.ID)
	require.Equal(t, "b3", res.Matched[1].Bank.ID)
	require.Equal(t, "i2", res.Matched[1].Internal.ID)

	// b2 cannot reuse i1; its best remaining candidate is only suggested.
	sides := map[string]Side{}
	for _, u := range res.Unmatched {
		sides[u.RefID] = u.Side
	}
	require.Equal(t, map[string]Side{"b2": SideBank, "i3": SideLedger}, sides)
	require.Len(t, res.Suggestions, 1)
	require.Equal(t, "b2", res.Suggestions[0].Bank.ID)
	require.Equal(t, reasonPartial, res.Suggestions[0].Reason)

	require.Equal(t, Summary{TotalBank: 3, TotalInternal: 3, MatchedCount: 2, SuggestedCount: 1, UnmatchedCount: 2, Rate: 66.67}, res.Summary)
}

func TestGreedyMatcherThresholdIsExclusive(t *testing.T) {
	// Amount (50) plus a one-day date credit (20) with no description credit lands at 70.
	m := NewGreedyMatcher()
	res := m.Match(
		[]BankTransaction{bankTxn("b", "10", day0.AddDate(0, 0, 1), "aaaa")},
		[]InternalTransaction{internalTxn("i", "10", day0, "zzzz")},
	)
	require.Len(t, res.Matched, 1)
	require.Equal(t, reasonProbable, res.Matched[0].Reason)

	m.AutoThreshold = 70
	res = m.Match(
		[]BankTransaction{bankTxn("b", "10", day0.AddDate(0, 0, 1), "aaaa")},
		[]InternalTransaction{internalTxn("i", "10", day0, "zzzz")},
	)
	require.Empty(t, res.Matched)
	require.Len(t, res.Suggestions, 1)
}

func TestGreedyMatcherSuggestionFloor(t *testing.T) {
	m := NewGreedyMatcher()
	m.SuggestionFloor = 30
	res := m.Match(
		[]BankTransaction{bankTxn("b", "10", day0.AddDate(0, 0, 10), "abc")},
		[]InternalTransaction{internalTxn("i", "99", day0, "abd")},
	)
	require.Empty(t, res.Suggestions)
	require.Len(t, res.Unmatched, 2)
}

func TestGreedyMatcherEmptyInputs(t *testing.T) {
	res := NewGreedyMatcher().Match(nil, nil)
	require.Empty(t, res.Matched)
	require.Empty(t, res.Unmatched)
	require.Zero(t, res.Summary.Rate)

	res = NewGreedyMatcher().Match([]BankTransaction{bankTxn("b", "1", day0, "x")}, nil)
	require.Len(t, res.Unmatched, 1)
	require.Empty(t, res.Suggestions)
}

func TestGreedyMatcherSkipsExcludedPairs(t *testing.T) {
	bank := []BankTransaction{bankTxn("b1", "-120.00", day0, "PETRONAS SS2")}
	internal := []InternalTransaction{
		internalTxn("i1", "120.00", day0, "Petronas SS2 fuel"),
		internalTxn("i2", "120.00", day0.AddDate(0, 0, 1), "Petronas SS2"),
	}

	res := NewGreedyMatcher().MatchExcluding(bank, internal, Exclusions{{BankID: "b1", InternalID: "i1"}: {}})
	require.Len(t, res.Matched, 1)
	require.Equal(t, "i2", res.Matched[0].Internal.ID)
	require.Len(t, res.Unmatched, 1)
	require.Equal(t, "i1", res.Unmatched[0].RefID)

	res = NewGreedyMatcher().MatchExcluding(bank, internal[:1], Exclusions{{BankID: "b1", InternalID: "i1"}: {}})
	require.Empty(t, res.Matched)
	require.Empty(t, res.Suggestions)
	require.Len(t, res.Unmatched, 2)
}
