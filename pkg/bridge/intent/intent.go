// Package intent infers a caller's interest category from transcript
// fragments. It is a keyword heuristic, not NLU; false positives are
// accepted and the latest match wins because callers change topic.
package intent

import "regexp"

type Interest string

const (
	InterestRental      Interest = "Rental"
	InterestPurchase    Interest = "Purchase"
	InterestSelling     Interest = "Selling"
	InterestMaintenance Interest = "Maintenance"
)

// Classifier maps a transcript fragment to an interest category. It is a
// narrow seam so the keyword heuristic can be swapped without touching the
// session bridge.
type Classifier interface {
	Classify(text string) (Interest, bool)
}

type rule struct {
	interest Interest
	pattern  *regexp.Regexp
}

// KeywordClassifier scans fixed keyword sets in a fixed order; when several
// categories match one fragment the later rule wins.
type KeywordClassifier struct {
	rules []rule
}

func NewKeywordClassifier() *KeywordClassifier {
	return &KeywordClassifier{rules: []rule{
		{InterestRental, regexp.MustCompile(`(?i)\b(rent|renting|rental|lease|leasing)\b`)},
		{InterestPurchase, regexp.MustCompile(`(?i)\b(buy|buying|purchase|invest|investing|investment)\b`)},
		{InterestSelling, regexp.MustCompile(`(?i)\b(sell|selling|list|listing)\b`)},
		{InterestMaintenance, regexp.MustCompile(`(?i)\b(maintenance|repair|fix|broken|leak|plumbing|heat|ac|pest|mold)\b`)},
	}}
}

func (c *KeywordClassifier) Classify(text string) (Interest, bool) {
	var (
		matched  Interest
		anyMatch bool
	)
	for _, r := range c.rules {
		if r.pattern.MatchString(text) {
			matched = r.interest
			anyMatch = true
		}
	}
	return matched, anyMatch
}
