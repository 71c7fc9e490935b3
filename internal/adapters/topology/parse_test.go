package topology_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ospoolreport/internal/adapters/topology"
)

const institutionsJSON = `[
  {"id": "https://osg-htc.org/iid/05ejpqr48", "name": "Univ A", "ror_id": "https://ror.org/01y2jtd41",
   "ipeds_metadata": {"carnegie_classification": "Doctoral Universities: Very High Research Activity"}},
  {"id": "https://osg-htc.org/iid/zzz", "name": "Univ B", "ror_id": "https://ror.org/05ejpqr48"},
  {"name": "No ID"}
]`

const projectsXML = `<?xml version="1.0" encoding="UTF-8"?>
<Projects>
  <Project>
    <ID>101</ID>
    <Name>ProjY</Name>
    <Organization>Topology Org</Organization>
    <InstitutionID>https://osg-htc.org/iid/05ejpqr48</InstitutionID>
    <FieldOfScience>Physics</FieldOfScience>
  </Project>
  <Project>
    <ID>102</ID>
    <Name>Orphan</Name>
    <Organization>Orphan College</Organization>
    <InstitutionID>https://osg-htc.org/iid/missing</InstitutionID>
    <FieldOfScience>Biology</FieldOfScience>
  </Project>
</Projects>`

const resourcesXML = `<?xml version="1.0" encoding="UTF-8"?>
<ResourceSummary>
  <ResourceGroup>
    <GroupName>GroupX</GroupName>
    <Facility><Name>Facility A</Name><InstitutionID>https://osg-htc.org/iid/05ejpqr48</InstitutionID></Facility>
    <Site><Name>SiteX</Name></Site>
    <Resources>
      <Resource><Name>SiteX-CE1</Name></Resource>
      <Resource><Name>SiteX-CE2</Name></Resource>
    </Resources>
  </ResourceGroup>
  <ResourceGroup>
    <GroupName>LabGroup</GroupName>
    <Facility><Name>Lab Facility</Name><InstitutionID></InstitutionID></Facility>
    <Site><Name>LabSite</Name></Site>
    <Resources></Resources>
  </ResourceGroup>
</ResourceSummary>`

func names(known map[string]string) func(id, fallback string) string {
	return func(id, fallback string) string {
		if n, ok := known[id]; ok {
			return n
		}
		return fallback
	}
}

func TestParseInstitutions(t *testing.T) {
	t.Parallel()

	got, err := topology.ParseInstitutions([]byte(institutionsJSON))
	require.NoError(t, err)

	a, ok := got["https://osg-htc.org/iid/05ejpqr48"]
	require.True(t, ok)
	assert.Equal(t, "Univ A", a.Name)
	assert.Equal(t, "05ejpqr48", a.ShortID)
	assert.Contains(t, a.Metadata, "carnegie_classification")

	assert.Equal(t, "Univ A", got["05ejpqr48"].Name, "ROR short id must not shadow an institution short id")
	assert.Equal(t, "Univ A", got["01y2jtd41"].Name)
	assert.Equal(t, "Univ B", got["zzz"].Name)
	assert.Len(t, got, 5)
}

func TestParseInstitutionsInvalid(t *testing.T) {
	t.Parallel()

	_, err := topology.ParseInstitutions([]byte(`{"id": 1`))
	require.Error(t, err)
	_, err = topology.ParseInstitutions([]byte(`{"id": "x"}`))
	require.Error(t, err)
}

func TestParseProjects(t *testing.T) {
	t.Parallel()

	got, err := topology.ParseProjects([]byte(projectsXML), names(map[string]string{
		"https://osg-htc.org/iid/05ejpqr48": "Univ A",
	}))
	require.NoError(t, err)
	require.Len(t, got, 2)

	p := got["projy"]
	assert.Equal(t, "ProjY", p.Name)
	assert.Equal(t, "Univ A", p.Institution)
	assert.Equal(t, "Physics", p.FieldOfScience)
	assert.Equal(t, "Orphan College", got["orphan"].Institution)
}

func TestParseResources(t *testing.T) {
	t.Parallel()

	got, err := topology.ParseResources([]byte(resourcesXML), names(map[string]string{
		"https://osg-htc.org/iid/05ejpqr48": "Univ A",
	}))
	require.NoError(t, err)

	for _, key := range []string{"groupx", "sitex", "sitex-ce1", "sitex-ce2"} {
		r, ok := got[key]
		require.True(t, ok, key)
		assert.Equal(t, "Univ A", r.Institution, key)
		assert.Equal(t, "https://osg-htc.org/iid/05ejpqr48", r.InstitutionID, key)
	}
	assert.Equal(t, "Lab Facility", got["labsite"].Institution)
	assert.Equal(t, "Lab Facility", got["labgroup"].Institution)
	assert.Len(t, got, 6)
}

func TestParseResourcesInvalid(t *testing.T) {
	t.Parallel()

	_, err := topology.ParseResources([]byte("<ResourceSummary><ResourceGroup>"), names(nil))
	require.Error(t, err)
}
