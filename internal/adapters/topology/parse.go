package topology

import (
	"bytes"
	"encoding/xml"
	"strings"

	"github.com/tidwall/gjson"
	"golang.org/x/xerrors"

	"ospoolreport/internal/domain"
)

// shortID returns the last path segment of an institution or ROR id.
func shortID(id string) string {
	return id[strings.LastIndex(id, "/")+1:]
}

// ParseInstitutions indexes the institution registry by full id, by short id
// and by short ROR id. A ROR id never shadows an institution id.
func ParseInstitutions(data []byte) (map[string]domain.Institution, error) {
	if !gjson.ValidBytes(data) {
		return nil, xerrors.New("institutions: invalid JSON")
	}
	root := gjson.ParseBytes(data)
	if !root.IsArray() {
		return nil, xerrors.New("institutions: expected a JSON array")
	}

	out := map[string]domain.Institution{}
	var rors []domain.Institution
	root.ForEach(func(_, v gjson.Result) bool {
		id := v.Get("id").String()
		if id == "" {
			return true
		}
		inst := domain.Institution{
			ID:      id,
			ShortID: shortID(id),
			RORID:   v.Get("ror_id").String(),
			Name:    v.Get("name").String(),
		}
		if md, ok := v.Get("ipeds_metadata").Value().(map[string]any); ok {
			inst.Metadata = md
		}
		out[inst.ID] = inst
		out[inst.ShortID] = inst
		if inst.RORID != "" {
			rors = append(rors, inst)
		}
		return true
	})
	for _, inst := range rors {
		ror := shortID(inst.RORID)
		if _, taken := out[ror]; ror != "" && !taken {
			out[ror] = inst
		}
	}
	return out, nil
}

// institutionName picks the registry name for id, or fallback when the
// registry does not know it.
type institutionName func(id, fallback string) string

type projectsXML struct {
	Projects []struct {
		ID             string `xml:"ID"`
		Name           string `xml:"Name"`
		Organization   string `xml:"Organization"`
		InstitutionID  string `xml:"InstitutionID"`
		FieldOfScience string `xml:"FieldOfScience"`
	} `xml:"Project"`
}

// ParseProjects indexes the topology project list by case-folded name.
func ParseProjects(data []byte, name institutionName) (map[string]domain.Project, error) {
	var doc projectsXML
	if err := xml.NewDecoder(bytes.NewReader(data)).Decode(&doc); err != nil {
		return nil, xerrors.Errorf("projects: decode XML: %w", err)
	}
	out := make(map[string]domain.Project, len(doc.Projects))
	for _, p := range doc.Projects {
		if p.Name == "" {
			continue
		}
		out[strings.ToLower(p.Name)] = domain.Project{
			Name:           p.Name,
			ID:             p.ID,
			Institution:    name(p.InstitutionID, p.Organization),
			InstitutionID:  p.InstitutionID,
			FieldOfScience: p.FieldOfScience,
		}
	}
	return out, nil
}

type resourcesXML struct {
	Groups []struct {
		GroupName string `xml:"GroupName"`
		Facility  struct {
			Name          string `xml:"Name"`
			InstitutionID string `xml:"InstitutionID"`
		} `xml:"Facility"`
		Site struct {
			Name string `xml:"Name"`
		} `xml:"Site"`
		Resources []struct {
			Name string `xml:"Name"`
		} `xml:"Resources>Resource"`
	} `xml:"ResourceGroup"`
}

// ParseResources indexes the topology resource summary by case-folded
// resource group name, site name and resource name. All three map to the
// group's facility institution.
func ParseResources(data []byte, name institutionName) (map[string]domain.Resource, error) {
	var doc resourcesXML
	if err := xml.NewDecoder(bytes.NewReader(data)).Decode(&doc); err != nil {
		return nil, xerrors.Errorf("resources: decode XML: %w", err)
	}
	out := map[string]domain.Resource{}
	add := func(key string, institution, institutionID string) {
		if key == "" {
			return
		}
		out[strings.ToLower(key)] = domain.Resource{Name: key, Institution: institution, InstitutionID: institutionID}
	}
	for _, g := range doc.Groups {
		inst := name(g.Facility.InstitutionID, g.Facility.Name)
		add(g.GroupName, inst, g.Facility.InstitutionID)
		add(g.Site.Name, inst, g.Facility.InstitutionID)
		for _, r := range g.Resources {
			add(r.Name, inst, g.Facility.InstitutionID)
		}
	}
	return out, nil
}
