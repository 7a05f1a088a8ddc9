package discovery

import "context"

// FakeSource returns a fixed list of candidates, useful for tests and for
// running the coordinator end-to-end without a live metadata catalog.
type FakeSource struct {
	Candidates []Candidate
}

func (f *FakeSource) Discover(ctx context.Context) ([]Candidate, error) {
	return f.Candidates, nil
}
