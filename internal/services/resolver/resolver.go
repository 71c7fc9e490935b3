// Package resolver maps raw event-store identifiers to canonical entities and
// remembers the keys it could not map.
package resolver

import (
	"context"
	"sort"
	"strings"
	"time"

	"cdr.dev/slog/v3"

	"ospoolreport/internal/domain"
	"ospoolreport/internal/ports"
)

// InstitutionIDToken marks a resource institution id value, e.g.
// "https://osg-htc.org_iid_05ejpqr48"; the id is the suffix after the last "_".
const InstitutionIDToken = "osg-htc.org_"

// Outcome tells the caller how a bucket was accounted for.
type Outcome int

const (
	Resolved Outcome = iota
	// Unmapped means a reference table had no entry for the key.
	Unmapped
	// Undefined means the event itself lacked the field.
	Undefined
	// Skipped means the key was empty.
	Skipped
)

// Resolver holds the per-run reconciliation state. It is not safe for
// concurrent use; a run processes windows sequentially.
type Resolver struct {
	dir ports.InstitutionLookup
	log slog.Logger

	unmapped  map[string]map[string]time.Time
	undefined map[domain.Source]domain.UndefinedRecord
}

func New(dir ports.InstitutionLookup, log slog.Logger) *Resolver {
	return &Resolver{
		dir: dir,
		log: log,
		unmapped: map[string]map[string]time.Time{
			domain.UnmappedResources: {},
			domain.UnmappedProjects:  {},
		},
		undefined: map[domain.Source]domain.UndefinedRecord{},
	}
}

// MarkUndefined records b as undefined for src when its key is the literal
// sentinel and reports whether it did. Call it once per bucket before Resolve.
func (r *Resolver) MarkUndefined(b domain.RawBucket, src domain.Source) bool {
	if b.Key == "" || !strings.EqualFold(b.Key, domain.Unknown) {
		return false
	}
	rec := r.undefined[src]
	rec.DocCount += b.DocCount
	if b.LastSeen.After(rec.LastSeen) {
		rec.LastSeen = b.LastSeen
	}
	r.undefined[src] = rec
	return true
}

// Resolve maps a bucket from src into the entity tracked for cat. The first
// matching rule wins:
//
//  1. contributions keyed by an institution id token: institution table by id
//  2. contributions keyed by a resource name: resource table
//  3. benefit from a project: project table
//  4. users: local part before "@", case-folded
//  5. anything else: case-folded key
//
// Misses in 1-3 are recorded as unmapped and yield the Unknown sentinel.
func (r *Resolver) Resolve(b domain.RawBucket, src domain.Source, cat domain.Category) (domain.ResolvedEntity, Outcome) {
	ent := domain.ResolvedEntity{Canonical: domain.Unknown, Category: cat}
	switch {
	case b.Key == "":
		return ent, Skipped
	case strings.EqualFold(b.Key, domain.Unknown):
		return ent, Undefined
	}

	switch {
	case cat == domain.CategoryInstitutionsContrib && strings.Contains(b.Key, InstitutionIDToken):
		id := b.Key[strings.LastIndex(b.Key, "_")+1:]
		inst, ok := r.dir.InstitutionByID(id)
		if !ok || inst.Name == "" {
			r.markUnmapped(domain.UnmappedResources, b, "ID")
			return ent, Unmapped
		}
		return institutionEntity(inst, cat), Resolved

	case cat == domain.CategoryInstitutionsContrib:
		inst, ok := r.dir.InstitutionByResource(strings.ToLower(b.Key))
		if !ok || domain.IsUnknown(inst.Name) {
			r.markUnmapped(domain.UnmappedResources, b, "name")
			return ent, Unmapped
		}
		return institutionEntity(inst, cat), Resolved

	case cat == domain.CategoryInstitutionsBenefit:
		inst, ok := r.dir.InstitutionByProject(strings.ToLower(b.Key))
		if !ok || domain.IsUnknown(inst.Name) {
			r.markUnmapped(domain.UnmappedProjects, b, "")
			return ent, Unmapped
		}
		return institutionEntity(inst, cat), Resolved

	case src == domain.SourceUsers:
		user, _, _ := strings.Cut(b.Key, "@")
		ent.Canonical = strings.ToLower(user)

	default:
		ent.Canonical = strings.ToLower(b.Key)
	}

	if domain.IsUnknown(ent.Canonical) {
		ent.Canonical = domain.Unknown
		return ent, Skipped
	}
	return ent, Resolved
}

func institutionEntity(inst domain.Institution, cat domain.Category) domain.ResolvedEntity {
	return domain.ResolvedEntity{Canonical: inst.Name, InstitutionID: inst.ID, Category: cat}
}

// markUnmapped keeps the newest sighting of key; an older sighting never
// lowers the watermark.
func (r *Resolver) markUnmapped(category string, b domain.RawBucket, kind string) {
	seen := r.unmapped[category]
	prev, ok := seen[b.Key]
	if !ok {
		fields := []slog.Field{slog.F("category", category), slog.F("key", b.Key)}
		if kind != "" {
			fields = append(fields, slog.F("kind", kind))
		}
		r.log.Info(context.Background(), "unmapped key", fields...)
	}
	if !ok || b.LastSeen.After(prev) {
		seen[b.Key] = b.LastSeen
	}
}

// Unmapped returns the unmapped keys per category, newest sighting first.
func (r *Resolver) Unmapped() map[string][]domain.UnmappedRecord {
	out := make(map[string][]domain.UnmappedRecord, len(r.unmapped))
	for category, seen := range r.unmapped {
		recs := make([]domain.UnmappedRecord, 0, len(seen))
		for key, last := range seen {
			recs = append(recs, domain.UnmappedRecord{RawKey: key, LastSeen: last})
		}
		SortUnmapped(recs)
		out[category] = recs
	}
	return out
}

// Undefined returns the undefined counters per source.
func (r *Resolver) Undefined() map[domain.Source]domain.UndefinedRecord {
	out := make(map[domain.Source]domain.UndefinedRecord, len(r.undefined))
	for src, rec := range r.undefined {
		out[src] = rec
	}
	return out
}

// SortUnmapped orders records by last sighting descending, then by key.
func SortUnmapped(recs []domain.UnmappedRecord) {
	sort.Slice(recs, func(i, j int) bool {
		if !recs[i].LastSeen.Equal(recs[j].LastSeen) {
			return recs[i].LastSeen.After(recs[j].LastSeen)
		}
		return recs[i].RawKey < recs[j].RawKey
	})
}
