package resolver_test

import (
	"testing"
	"time"

	"cdr.dev/slog/v3/sloggers/slogtest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ospoolreport/internal/adapters/topology/topologytest"
	"ospoolreport/internal/domain"
	"ospoolreport/internal/services/resolver"
)

var univA = domain.Institution{ID: "https://osg-htc.org/iid/aaa111", ShortID: "aaa111", Name: "Univ A"}

func newResolver(t *testing.T) *resolver.Resolver {
	t.Helper()
	dir := topologytest.New().
		AddInstitution(univA).
		AddResource("SiteX", univA).
		AddProject("projY", univA)
	return resolver.New(dir, slogtest.Make(t, nil))
}

func bucket(key string, count int64, seen time.Time) domain.RawBucket {
	return domain.RawBucket{Key: key, DocCount: count, LastSeen: seen}
}

func TestResolveUsersCaseInsensitive(t *testing.T) {
	t.Parallel()
	r := newResolver(t)

	for _, key := range []string{"Alice", "alice", "ALICE@ap.example.org", "alice@ap40.uw.osg-htc.org"} {
		ent, out := r.Resolve(bucket(key, 1, time.Time{}), domain.SourceUsers, domain.CategoryUsers)
		require.Equal(t, resolver.Resolved, out, key)
		assert.Equal(t, "alice", ent.Canonical, key)
		again, _ := r.Resolve(bucket(ent.Canonical, 1, time.Time{}), domain.SourceUsers, domain.CategoryUsers)
		assert.Equal(t, ent.Canonical, again.Canonical, "resolution must be idempotent")
	}
}

func TestResolveContribution(t *testing.T) {
	t.Parallel()
	r := newResolver(t)

	ent, out := r.Resolve(bucket("sitex", 5, time.Time{}), domain.SourceResources, domain.CategoryInstitutionsContrib)
	require.Equal(t, resolver.Resolved, out)
	assert.Equal(t, "Univ A", ent.Canonical)
	assert.Equal(t, univA.ID, ent.InstitutionID)

	ent, out = r.Resolve(bucket("https://osg-htc.org_iid_aaa111", 2, time.Time{}), domain.SourceResourceIDs, domain.CategoryInstitutionsContrib)
	require.Equal(t, resolver.Resolved, out)
	assert.Equal(t, "Univ A", ent.Canonical)

	// Ids without the token fall back to the resource table.
	ent, out = r.Resolve(bucket("SITEX", 2, time.Time{}), domain.SourceResourceIDs, domain.CategoryInstitutionsContrib)
	require.Equal(t, resolver.Resolved, out)
	assert.Equal(t, "Univ A", ent.Canonical)
}

func TestResolveBenefitAndProjects(t *testing.T) {
	t.Parallel()
	r := newResolver(t)

	ent, out := r.Resolve(bucket("ProjY", 3, time.Time{}), domain.SourceProjects, domain.CategoryInstitutionsBenefit)
	require.Equal(t, resolver.Resolved, out)
	assert.Equal(t, "Univ A", ent.Canonical)

	ent, out = r.Resolve(bucket("ProjY", 3, time.Time{}), domain.SourceProjects, domain.CategoryProjects)
	require.Equal(t, resolver.Resolved, out)
	assert.Equal(t, "projy", ent.Canonical)

	// An unmapped project is still a project, but benefits no institution.
	ent, out = r.Resolve(bucket("Orphan", 3, time.Time{}), domain.SourceProjects, domain.CategoryProjects)
	require.Equal(t, resolver.Resolved, out)
	assert.Equal(t, "orphan", ent.Canonical)
	ent, out = r.Resolve(bucket("Orphan", 3, time.Time{}), domain.SourceProjects, domain.CategoryInstitutionsBenefit)
	require.Equal(t, resolver.Unmapped, out)
	assert.Equal(t, domain.Unknown, ent.Canonical)
	assert.False(t, ent.Resolved())
}

func TestResolveSentinels(t *testing.T) {
	t.Parallel()
	r := newResolver(t)

	for _, key := range []string{"UNKNOWN", "unknown", "Unknown"} {
		require.True(t, r.MarkUndefined(bucket(key, 4, time.Unix(100, 0)), domain.SourceResources), key)
		ent, out := r.Resolve(bucket(key, 4, time.Time{}), domain.SourceResources, domain.CategoryInstitutionsContrib)
		assert.Equal(t, resolver.Undefined, out)
		assert.False(t, ent.Resolved())
	}
	require.False(t, r.MarkUndefined(bucket("SiteX", 1, time.Time{}), domain.SourceResources))

	ent, out := r.Resolve(bucket("", 1, time.Time{}), domain.SourceUsers, domain.CategoryUsers)
	assert.Equal(t, resolver.Skipped, out)
	assert.False(t, ent.Resolved())

	ent, out = r.Resolve(bucket("@ap.example.org", 1, time.Time{}), domain.SourceUsers, domain.CategoryUsers)
	assert.Equal(t, resolver.Skipped, out)
	assert.False(t, ent.Resolved())

	undefined := r.Undefined()
	assert.Equal(t, int64(12), undefined[domain.SourceResources].DocCount)
	assert.Equal(t, time.Unix(100, 0), undefined[domain.SourceResources].LastSeen)

	// Undefined keys never show up as unmapped.
	assert.Empty(t, r.Unmapped()[domain.UnmappedResources])
}

func TestUnmappedWatermark(t *testing.T) {
	t.Parallel()

	t1 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	t2 := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)

	for name, order := range map[string][]time.Time{
		"Ascending":  {t1, t2},
		"Descending": {t2, t1},
	} {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			r := newResolver(t)
			for _, seen := range order {
				_, out := r.Resolve(bucket("GhostSite", 1, seen), domain.SourceResources, domain.CategoryInstitutionsContrib)
				require.Equal(t, resolver.Unmapped, out)
			}
			recs := r.Unmapped()[domain.UnmappedResources]
			require.Len(t, recs, 1)
			assert.Equal(t, "GhostSite", recs[0].RawKey)
			assert.Equal(t, t2, recs[0].LastSeen)
		})
	}
}

func TestUnmappedSortedNewestFirst(t *testing.T) {
	t.Parallel()
	r := newResolver(t)

	_, _ = r.Resolve(bucket("old", 1, time.Unix(10, 0)), domain.SourceProjects, domain.CategoryInstitutionsBenefit)
	_, _ = r.Resolve(bucket("new", 1, time.Unix(30, 0)), domain.SourceProjects, domain.CategoryInstitutionsBenefit)
	_, _ = r.Resolve(bucket("mid", 1, time.Unix(20, 0)), domain.SourceProjects, domain.CategoryInstitutionsBenefit)

	recs := r.Unmapped()[domain.UnmappedProjects]
	require.Len(t, recs, 3)
	assert.Equal(t, []string{"new", "mid", "old"}, []string{recs[0].RawKey, recs[1].RawKey, recs[2].RawKey})
}
