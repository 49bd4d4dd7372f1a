package similarity

// PairStrategy enumerates the candidate pairs (i, j), i < j, over n items.
// Engines score only the pairs a strategy yields, so a blocking or bucketing
// strategy can replace exhaustive enumeration without touching them.
type PairStrategy interface {
	Pairs(n int, visit func(i, j int) error) error
}

// AllPairs yields every unordered pair. O(n²), acceptable at catalog scale.
type AllPairs struct{}

func (AllPairs) Pairs(n int, visit func(i, j int) error) error {
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			if err := visit(i, j); err != nil {
				return err
			}
		}
	}
	return nil
}

// PairCount is the number of pairs AllPairs yields for n items.
func PairCount(n int) int {
	if n < 2 {
		return 0
	}
	return n * (n - 1) / 2
}
