// Package aggregate builds the monthly usage documents: it drives one pair of
// queries per window, reconciles every bucket, and keeps per-window and
// run-wide deduplicated sets.
package aggregate

import (
	"context"
	"time"

	"cdr.dev/slog/v3"
	"golang.org/x/xerrors"

	"ospoolreport/internal/domain"
	"ospoolreport/internal/ports"
	"ospoolreport/internal/services/classify"
	"ospoolreport/internal/services/resolver"
)

// routes lists the categories each bucket source feeds.
var routes = []struct {
	source     domain.Source
	categories []domain.Category
}{
	{domain.SourceUsers, []domain.Category{domain.CategoryUsers}},
	{domain.SourceProjects, []domain.Category{domain.CategoryProjects, domain.CategoryInstitutionsBenefit}},
	{domain.SourceResources, []domain.Category{domain.CategoryInstitutionsContrib}},
	{domain.SourceResourceIDs, []domain.Category{domain.CategoryInstitutionsContrib}},
}

func tiered(c domain.Category) bool {
	return c == domain.CategoryInstitutionsContrib || c == domain.CategoryInstitutionsBenefit
}

// Result is the output of one run. Months and WindowSets are in window order.
type Result struct {
	Months     []domain.MonthlyDocument
	WindowSets []map[domain.Category][]string
	Total      domain.MonthlyDocument
	Sets       map[domain.Category][]string
	Unmapped  map[string][]domain.UnmappedRecord
	Undefined map[domain.Source]domain.UndefinedRecord
}

// Engine runs aggregations. It holds no per-run state, so one Engine can
// serve many runs, one at a time or concurrently.
type Engine struct {
	query ports.WindowQuerier
	dir   ports.InstitutionLookup
	log   slog.Logger
}

func New(query ports.WindowQuerier, dir ports.InstitutionLookup, log slog.Logger) *Engine {
	return &Engine{query: query, dir: dir, log: log}
}

// Run processes windows in order. A failed query aborts the run; no partial
// result is returned.
func (e *Engine) Run(ctx context.Context, windows []domain.TimeWindow) (Result, error) {
	r := e.newRun()
	months := make([]domain.MonthlyDocument, 0, len(windows))
	windowSets := make([]map[domain.Category][]string, 0, len(windows))
	for _, w := range windows {
		doc, local, err := r.window(ctx, e.query, w)
		if err != nil {
			return Result{}, xerrors.Errorf("window %s: %w", w.Key(), err)
		}
		months = append(months, doc)
		windowSets = append(windowSets, local.members())
	}
	res := r.finalize(months)
	res.WindowSets = windowSets
	return res, nil
}

// scope is one set of accumulated sets: a window's or the run's.
type scope struct {
	sets  map[domain.Category]set
	r1    map[domain.Category]set
	nonR1 map[domain.Category]set
}

func newScope() *scope {
	s := &scope{
		sets:  map[domain.Category]set{},
		r1:    map[domain.Category]set{},
		nonR1: map[domain.Category]set{},
	}
	for _, c := range domain.Categories {
		s.sets[c] = set{}
		if tiered(c) {
			s.r1[c] = set{}
			s.nonR1[c] = set{}
		}
	}
	return s
}

func (s *scope) members() map[domain.Category][]string {
	out := make(map[domain.Category][]string, len(s.sets))
	for c, m := range s.sets {
		out[c] = m.sorted()
	}
	return out
}

// fill writes the cardinalities and derived metrics of s into doc.
func (s *scope) fill(doc *domain.MonthlyDocument) {
	contrib := s.sets[domain.CategoryInstitutionsContrib]
	benefit := s.sets[domain.CategoryInstitutionsBenefit]

	doc.Users = len(s.sets[domain.CategoryUsers])
	doc.Projects = len(s.sets[domain.CategoryProjects])
	doc.InstitutionsContrib = len(contrib)
	doc.InstitutionsBenefit = len(benefit)
	doc.R1InstitutionsContrib = len(s.r1[domain.CategoryInstitutionsContrib])
	doc.NonR1InstitutionsContrib = len(s.nonR1[domain.CategoryInstitutionsContrib])
	doc.R1InstitutionsBenefit = len(s.r1[domain.CategoryInstitutionsBenefit])
	doc.NonR1InstitutionsBenefit = len(s.nonR1[domain.CategoryInstitutionsBenefit])
	doc.InstitutionsBoth = IntersectCount(contrib, benefit)
	doc.InstitutionsAny = UnionCount(contrib, benefit)

	doc.CoreHoursPerJob = Ratio(doc.CoreHours, doc.TotalJobs)
	doc.FilesPerJob = Ratio(doc.FilesTransferred, doc.TotalJobs)
	doc.OSDFFileFraction = Ratio(doc.OSDFFilesTransferred, doc.FilesTransferred)
}

type run struct {
	log      slog.Logger
	resolver *resolver.Resolver
	oracle   *classify.Oracle
	total    *scope
	totalDoc domain.MonthlyDocument
}

func (e *Engine) newRun() *run {
	return &run{
		log:      e.log,
		resolver: resolver.New(e.dir, e.log.Named("resolver")),
		oracle:   classify.New(e.dir, e.log.Named("classify")),
		total:    newScope(),
		totalDoc: domain.MonthlyDocument{Date: domain.TotalKey},
	}
}

func (r *run) window(ctx context.Context, q ports.WindowQuerier, w domain.TimeWindow) (domain.MonthlyDocument, *scope, error) {
	start := time.Now()
	doc := domain.MonthlyDocument{Date: w.Key()}

	sums, err := q.QuerySums(ctx, w)
	if err != nil {
		return doc, nil, xerrors.Errorf("query sums: %w", err)
	}
	buckets, err := q.QueryBuckets(ctx, w)
	if err != nil {
		return doc, nil, xerrors.Errorf("query buckets: %w", err)
	}

	doc.Sums = sums
	r.totalDoc.Add(sums)

	local := newScope()
	lists := map[domain.Source][]domain.RawBucket{
		domain.SourceUsers:       buckets.Users,
		domain.SourceProjects:    buckets.Projects,
		domain.SourceResources:   buckets.Resources,
		domain.SourceResourceIDs: buckets.ResourceIDs,
	}
	for _, route := range routes {
		for _, b := range lists[route.source] {
			if r.resolver.MarkUndefined(b, route.source) {
				r.countUndefined(&doc, route.source, b.DocCount)
				continue
			}
			for _, c := range route.categories {
				ent, outcome := r.resolver.Resolve(b, route.source, c)
				switch outcome {
				case resolver.Unmapped:
					r.countUnmapped(&doc, route.source, c, b.DocCount)
				case resolver.Resolved:
					r.insert(local, ent)
				}
			}
		}
	}
	local.fill(&doc)

	r.log.Debug(ctx, "window aggregated",
		slog.F("window", w.Key()),
		slog.F("users", doc.Users),
		slog.F("projects", doc.Projects),
		slog.F("institutions_contrib", doc.InstitutionsContrib),
		slog.F("institutions_benefit", doc.InstitutionsBenefit),
		slog.F("elapsed", time.Since(start)),
	)
	return doc, local, nil
}

// insert adds ent to the window scope and the run scope. Only a definite
// false classification lands in the non-tier-1 set.
func (r *run) insert(local *scope, ent domain.ResolvedEntity) {
	if !ent.Resolved() {
		return
	}
	local.sets[ent.Category].add(ent.Canonical)
	r.total.sets[ent.Category].add(ent.Canonical)
	if !tiered(ent.Category) {
		return
	}
	r1, ok := r.oracle.Classify(ent.InstitutionID)
	switch {
	case ok && r1:
		local.r1[ent.Category].add(ent.Canonical)
		r.total.r1[ent.Category].add(ent.Canonical)
	case ok && !r1:
		local.nonR1[ent.Category].add(ent.Canonical)
		r.total.nonR1[ent.Category].add(ent.Canonical)
	}
}

func (r *run) countUndefined(doc *domain.MonthlyDocument, src domain.Source, n int64) {
	switch src {
	case domain.SourceProjects:
		doc.UndefinedProjectJobs += n
		r.totalDoc.UndefinedProjectJobs += n
	case domain.SourceResources:
		doc.UndefinedResourceJobs += n
		r.totalDoc.UndefinedResourceJobs += n
	}
}

// countUnmapped adds unmapped job counts. The resources and resource_ids
// lists describe the same jobs, so only the resources list is counted; keys
// from both lists are still recorded by the resolver.
func (r *run) countUnmapped(doc *domain.MonthlyDocument, src domain.Source, c domain.Category, n int64) {
	if src == domain.SourceResourceIDs {
		return
	}
	switch c {
	case domain.CategoryInstitutionsBenefit:
		doc.UnmappedProjectJobs += n
		r.totalDoc.UnmappedProjectJobs += n
	case domain.CategoryInstitutionsContrib:
		doc.UnmappedResourceJobs += n
		r.totalDoc.UnmappedResourceJobs += n
	}
}

func (r *run) finalize(months []domain.MonthlyDocument) Result {
	total := r.totalDoc
	r.total.fill(&total)

	return Result{
		Months:    months,
		Total:     total,
		Sets:      r.total.members(),
		Unmapped:  r.resolver.Unmapped(),
		Undefined: r.resolver.Undefined(),
	}
}
