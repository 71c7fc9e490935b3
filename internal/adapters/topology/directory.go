// Package topology loads the reference directory: the institution registry
// and the topology project and resource tables.
package topology

import (
	"context"
	"net/http"
	"strings"
	"time"

	"cdr.dev/slog/v3"
	"golang.org/x/xerrors"

	"ospoolreport/internal/domain"
	"ospoolreport/internal/retry"
)

// Table names, also used as snapshot names.
const (
	TableInstitutions = "institutions"
	TableProjects     = "projects"
	TableResources    = "resources"
)

type Options struct {
	InstitutionsURL string
	ProjectsURL     string
	ResourcesURL    string

	InstitutionsTTL time.Duration
	ProjectsTTL     time.Duration
	ResourcesTTL    time.Duration

	Client *http.Client
	Retry  retry.Policy
	Table  TableOptions
}

// Directory implements ports.ReferenceDirectory over three TTL tables.
type Directory struct {
	Institutions *Table[domain.Institution]
	Projects     *Table[domain.Project]
	Resources    *Table[domain.Resource]
}

func New(opts Options, log slog.Logger) *Directory {
	client := opts.Client
	if client == nil {
		client = &http.Client{Timeout: time.Minute}
	}
	f := fetcher{client: client, policy: opts.Retry}
	d := &Directory{}

	d.Institutions = NewTable(TableInstitutions, opts.InstitutionsTTL, func(ctx context.Context) (map[string]domain.Institution, error) {
		data, err := f.get(ctx, opts.InstitutionsURL)
		if err != nil {
			return nil, err
		}
		return ParseInstitutions(data)
	}, opts.Table, log)

	d.Projects = NewTable(TableProjects, opts.ProjectsTTL, func(ctx context.Context) (map[string]domain.Project, error) {
		data, err := f.get(ctx, opts.ProjectsURL)
		if err != nil {
			return nil, err
		}
		return ParseProjects(data, d.institutionName)
	}, opts.Table, log)

	d.Resources = NewTable(TableResources, opts.ResourcesTTL, func(ctx context.Context) (map[string]domain.Resource, error) {
		data, err := f.get(ctx, opts.ResourcesURL)
		if err != nil {
			return nil, err
		}
		return ParseResources(data, d.institutionName)
	}, opts.Table, log)

	return d
}

func (d *Directory) institutionName(id, fallback string) string {
	if inst, ok := d.Institutions.Get(id); ok && inst.Name != "" {
		return inst.Name
	}
	return fallback
}

// RefreshIfStale refreshes the institution registry first since the
// topology tables take institution names from it.
func (d *Directory) RefreshIfStale(ctx context.Context) error {
	if err := d.Institutions.RefreshIfStale(ctx); err != nil {
		return xerrors.Errorf("refresh institutions: %w", err)
	}
	if err := d.Projects.RefreshIfStale(ctx); err != nil {
		return xerrors.Errorf("refresh projects: %w", err)
	}
	if err := d.Resources.RefreshIfStale(ctx); err != nil {
		return xerrors.Errorf("refresh resources: %w", err)
	}
	return nil
}

func (d *Directory) InstitutionByID(id string) (domain.Institution, bool) {
	return d.Institutions.Get(id)
}

func (d *Directory) InstitutionByResource(name string) (domain.Institution, bool) {
	r, ok := d.Resources.Get(strings.ToLower(name))
	if !ok {
		return domain.Institution{}, false
	}
	return d.institution(r.InstitutionID, r.Institution), true
}

func (d *Directory) InstitutionByProject(name string) (domain.Institution, bool) {
	p, ok := d.Projects.Get(strings.ToLower(name))
	if !ok {
		return domain.Institution{}, false
	}
	return d.institution(p.InstitutionID, p.Institution), true
}

// institution returns the registry record for id, carrying name when the
// registry has none.
func (d *Directory) institution(id, name string) domain.Institution {
	if inst, ok := d.Institutions.Get(id); ok {
		if inst.Name == "" {
			inst.Name = name
		}
		return inst
	}
	return domain.Institution{ID: id, Name: name}
}
