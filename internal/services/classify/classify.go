// Package classify derives the research tier of an institution from the
// metadata attached to its directory record.
package classify

import (
	"context"
	"strings"

	"cdr.dev/slog/v3"

	"ospoolreport/internal/domain"
)

// Fields checked, in order, in an institution's metadata.
var tierFields = []string{
	"carnegie_classification",
	"carnegie_classification_2021",
	"research_tier",
}

// InstitutionSource is the part of the reference directory the oracle needs.
type InstitutionSource interface {
	InstitutionByID(id string) (domain.Institution, bool)
}

type result struct {
	r1 bool
	ok bool
}

// Oracle answers tier questions for one run. Answers are memoized in a map
// owned by the Oracle; create a new one per run.
type Oracle struct {
	dir  InstitutionSource
	log  slog.Logger
	memo map[string]result
}

func New(dir InstitutionSource, log slog.Logger) *Oracle {
	return &Oracle{dir: dir, log: log, memo: map[string]result{}}
}

// Classify reports whether the institution is tier 1. ok is false when no
// definite answer exists: empty id, unknown institution, or missing metadata.
// Callers must not read !ok as "not tier 1".
func (o *Oracle) Classify(id string) (r1 bool, ok bool) {
	if res, hit := o.memo[id]; hit {
		return res.r1, res.ok
	}
	res, reason := o.evaluate(id)
	if !res.ok {
		o.log.Debug(context.Background(), "institution has no tier classification",
			slog.F("institution_id", id), slog.F("reason", reason))
	}
	o.memo[id] = res
	return res.r1, res.ok
}

// Memoized returns how many ids have an answer cached.
func (o *Oracle) Memoized() int { return len(o.memo) }

func (o *Oracle) evaluate(id string) (result, string) {
	if id == "" {
		return result{}, "empty id"
	}
	inst, found := o.dir.InstitutionByID(id)
	if !found {
		return result{}, "not in directory"
	}
	if len(inst.Metadata) == 0 {
		return result{}, "no metadata"
	}
	for _, field := range tierFields {
		v, present := inst.Metadata[field]
		if !present || v == nil {
			continue
		}
		switch tv := v.(type) {
		case bool:
			return result{r1: tv, ok: true}, ""
		case string:
			tv = strings.TrimSpace(tv)
			if tv == "" {
				continue
			}
			return result{r1: isTierOne(tv), ok: true}, ""
		}
	}
	return result{}, "no recognized classification field"
}

func isTierOne(v string) bool {
	if strings.EqualFold(v, "R1") {
		return true
	}
	return strings.Contains(strings.ToLower(v), "very high research")
}
