package classify_test

import (
	"testing"

	"cdr.dev/slog/v3/sloggers/slogtest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ospoolreport/internal/adapters/topology/topologytest"
	"ospoolreport/internal/domain"
	"ospoolreport/internal/services/classify"
)

func directory() *topologytest.Directory {
	return topologytest.New().
		AddInstitution(domain.Institution{ID: "r1", Name: "Big State", Metadata: map[string]any{
			"carnegie_classification": "Doctoral Universities: Very High Research Activity",
		}}).
		AddInstitution(domain.Institution{ID: "r2", Name: "Mid State", Metadata: map[string]any{
			"carnegie_classification": "Doctoral Universities: High Research Activity",
		}}).
		AddInstitution(domain.Institution{ID: "short", Name: "Tier Flag", Metadata: map[string]any{
			"carnegie_classification": "",
			"research_tier":           "R1",
		}}).
		AddInstitution(domain.Institution{ID: "flag", Name: "Bool Flag", Metadata: map[string]any{
			"research_tier": false,
		}}).
		AddInstitution(domain.Institution{ID: "bare", Name: "No Metadata"}).
		AddInstitution(domain.Institution{ID: "odd", Name: "Odd Metadata", Metadata: map[string]any{
			"website_address": "https://odd.example.edu",
		}})
}

func TestClassify(t *testing.T) {
	t.Parallel()

	cases := []struct {
		id     string
		wantR1 bool
		wantOK bool
	}{
		{id: "r1", wantR1: true, wantOK: true},
		{id: "r2", wantR1: false, wantOK: true},
		{id: "short", wantR1: true, wantOK: true},
		{id: "flag", wantR1: false, wantOK: true},
		{id: "bare", wantOK: false},
		{id: "odd", wantOK: false},
		{id: "missing", wantOK: false},
		{id: "", wantOK: false},
	}
	o := classify.New(directory(), slogtest.Make(t, nil))
	for _, tc := range cases {
		r1, ok := o.Classify(tc.id)
		assert.Equal(t, tc.wantOK, ok, tc.id)
		assert.Equal(t, tc.wantR1, r1, tc.id)
	}
}

func TestClassifyMemoized(t *testing.T) {
	t.Parallel()

	dir := directory()
	o := classify.New(dir, slogtest.Make(t, nil))
	for range 3 {
		r1, ok := o.Classify("r1")
		require.True(t, ok)
		require.True(t, r1)
		_, ok = o.Classify("missing")
		require.False(t, ok)
	}
	assert.Equal(t, 1, dir.Lookups("r1"))
	assert.Equal(t, 1, dir.Lookups("missing"))
	assert.Equal(t, 2, o.Memoized())

	// A fresh oracle starts with an empty memo.
	fresh := classify.New(dir, slogtest.Make(t, nil))
	assert.Zero(t, fresh.Memoized())
	_, _ = fresh.Classify("r1")
	assert.Equal(t, 2, dir.Lookups("r1"))
}

func TestAbsentIsNotFalse(t *testing.T) {
	t.Parallel()

	o := classify.New(directory(), slogtest.Make(t, nil))
	nonR1 := map[string]bool{}
	for _, id := range []string{"r1", "r2", "missing", "bare"} {
		if r1, ok := o.Classify(id); ok && !r1 {
			nonR1[id] = true
		}
	}
	assert.Equal(t, map[string]bool{"r2": true}, nonR1)
}
