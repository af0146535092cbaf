package reconcile

import "math"

// Pair is one scored bank/ledger candidate.
type Pair struct {
	Bank     BankTransaction     `json:"bank"`
	Internal InternalTransaction `json:"internal"`
	Score    Score               `json:"score"`
	Reason   string              `json:"reason"`
}

// Summary counts a matching run.
type Summary struct {
	TotalBank      int     `json:"totalBankTransactions"`
	TotalInternal  int     `json:"totalInternalTransactions"`
	MatchedCount   int     `json:"matchedCount"`
	SuggestedCount int     `json:"suggestedCount"`
	UnmatchedCount int     `json:"unmatchedCount"`
	Rate           float64 `json:"reconciliationRate"`
}

// Result is the outcome of a matching run. Absence of a match is reported in
// Unmatched, never as an error.
type Result struct {
	Matched     []Pair          `json:"matched"`
	Suggestions []Pair          `json:"suggestions"`
	Unmatched   []UnmatchedItem `json:"unmatched"`
	Summary     Summary         `json:"summary"`
}

const (
	reasonHigh     = "High confidence match"
	reasonProbable = "Probable match"
	reasonPartial  = "Partial match - please review"
)

// PairKey identifies a bank line paired with an internal movement.
type PairKey struct {
	BankID     string
	InternalID string
}

// Exclusions lists pairs a matcher must not propose again.
type Exclusions map[PairKey]struct{}

func (e Exclusions) has(b BankTransaction, in InternalTransaction) bool {
	_, ok := e[PairKey{BankID: b.ID, InternalID: in.ID}]
	return ok
}

// GreedyMatcher claims, for each bank line in order, the best-scoring unclaimed
// ledger movement. It is single pass and exclusive, not a global assignment.
type GreedyMatcher struct {
	Scorer Scorer
	// AutoThreshold is the score a pair must exceed to be matched.
	AutoThreshold float64
	// SuggestionFloor is the score a below-threshold pair must exceed to be suggested.
	SuggestionFloor float64
	// HighConfidence labels matches scoring above it.
	HighConfidence float64
}

// NewGreedyMatcher returns a matcher with the default scorer and thresholds.
func NewGreedyMatcher() GreedyMatcher {
	return GreedyMatcher{Scorer: DefaultScorer(), AutoThreshold: 60, SuggestionFloor: 0, HighConfidence: 80}
}

// Match pairs bank lines with internal movements.
func (m GreedyMatcher) Match(bank []BankTransaction, internal []InternalTransaction) Result {
	return m.MatchExcluding(bank, internal, nil)
}

// MatchExcluding is Match with the excluded pairs never scored. The bank line
// and the movement each stay free to pair with anything else.
func (m GreedyMatcher) MatchExcluding(bank []BankTransaction, internal []InternalTransaction, excluded Exclusions) Result {
	scorer := m.Scorer
	if scorer == nil {
		scorer = DefaultScorer()
	}
	claimed := make([]bool, len(internal))
	res := Result{
		Matched:     []Pair{},
		Suggestions: []Pair{},
		Unmatched:   []UnmatchedItem{},
	}

	for _, b := range bank {
		best := -1
		var bestScore Score
		for i, in := range internal {
			if claimed[i] || excluded.has(b, in) {
				continue
			}
			sc := scorer.Score(b, in)
			if sc.Total > bestScore.Total {
				best, bestScore = i, sc
			}
		}
		switch {
		case best >= 0 && bestScore.Total > m.AutoThreshold:
			claimed[best] = true
			reason := reasonProbable
			if bestScore.Total > m.HighConfidence {
				reason = reasonHigh
			}
			res.Matched = append(res.Matched, Pair{Bank: b, Internal: internal[best], Score: bestScore, Reason: reason})
		default:
			res.Unmatched = append(res.Unmatched, UnmatchedItem{
				RefID: b.ID, Side: SideBank, Description: b.Description, Amount: b.Amount, Date: b.Date,
			})
			if best >= 0 && bestScore.Total > m.SuggestionFloor {
				res.Suggestions = append(res.Suggestions, Pair{Bank: b, Internal: internal[best], Score: bestScore, Reason: reasonPartial})
			}
		}
	}
	for i, in := range internal {
		if claimed[i] {
			continue
		}
		res.Unmatched = append(res.Unmatched, UnmatchedItem{
			RefID: in.ID, Side: SideLedger, Description: in.Description, Amount: in.Amount, Date: in.Date,
		})
	}

	res.Summary = Summary{
		TotalBank:      len(bank),
		TotalInternal:  len(internal),
		MatchedCount:   len(res.Matched),
		SuggestedCount: len(res.Suggestions),
		UnmatchedCount: len(res.Unmatched),
	}
	if len(bank) > 0 {
		res.Summary.Rate = math.Round(float64(len(res.Matched))/float64(len(bank))*10000) / 100
	}
	return res
}
