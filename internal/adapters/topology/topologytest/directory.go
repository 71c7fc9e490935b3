// Package topologytest provides an in-memory reference directory for tests.
package topologytest

import (
	"context"
	"strings"
	"sync"

	"ospoolreport/internal/domain"
)

// Directory is a ports.ReferenceDirectory over plain maps. Resource and project
// keys are case-folded on insert and lookup.
type Directory struct {
	mu           sync.Mutex
	Institutions map[string]domain.Institution
	Resources    map[string]domain.Institution
	Projects     map[string]domain.Institution
	IDLookups    map[string]int
	RefreshErr   error
	Refreshes    int
}

func New() *Directory {
	return &Directory{
		Institutions: map[string]domain.Institution{},
		Resources:    map[string]domain.Institution{},
		Projects:     map[string]domain.Institution{},
		IDLookups:    map[string]int{},
	}
}

// AddInstitution registers inst under its ID and short ID.
func (d *Directory) AddInstitution(inst domain.Institution) *Directory {
	d.Institutions[inst.ID] = inst
	if inst.ShortID != "" {
		d.Institutions[inst.ShortID] = inst
	}
	return d
}

func (d *Directory) AddResource(name string, inst domain.Institution) *Directory {
	d.Resources[strings.ToLower(name)] = inst
	return d
}

func (d *Directory) AddProject(name string, inst domain.Institution) *Directory {
	d.Projects[strings.ToLower(name)] = inst
	return d
}

func (d *Directory) InstitutionByID(id string) (domain.Institution, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.IDLookups[id]++
	inst, ok := d.Institutions[id]
	return inst, ok
}

func (d *Directory) InstitutionByResource(name string) (domain.Institution, bool) {
	inst, ok := d.Resources[strings.ToLower(name)]
	return inst, ok
}

func (d *Directory) InstitutionByProject(name string) (domain.Institution, bool) {
	inst, ok := d.Projects[strings.ToLower(name)]
	return inst, ok
}

func (d *Directory) RefreshIfStale(context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.Refreshes++
	return d.RefreshErr
}

// Lookups returns how many times id was looked up by InstitutionByID.
func (d *Directory) Lookups(id string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.IDLookups[id]
}
