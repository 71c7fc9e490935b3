package elastic

import (
	"ospoolreport/internal/domain"
)

const (
	dailyTotalsQueryID = "OSG-schedd-job-history"
	dailyReportPeriod  = "daily"

	// termsSize caps each terms aggregation. It is larger than the number of
	// distinct users, projects or resources seen in a month.
	termsSize = 1024
)

// resourceNameScript prefers the glidein resource name advertised by the
// machine and falls back to the one recorded at match time.
const resourceNameScript = `
String res;
if (doc.containsKey("MachineAttrGLIDEIN_ResourceName0") && doc["MachineAttrGLIDEIN_ResourceName0.keyword"].size() > 0) {
    res = doc["MachineAttrGLIDEIN_ResourceName0.keyword"].value;
} else if (doc.containsKey("MATCH_EXP_JOBGLIDEIN_ResourceName") && doc["MATCH_EXP_JOBGLIDEIN_ResourceName.keyword"].size() > 0) {
    res = doc["MATCH_EXP_JOBGLIDEIN_ResourceName.keyword"].value;
} else {
    res = "UNKNOWN";
}
emit(res);
`

const projectNameScript = `
String res;
if (doc.containsKey("projectname") && doc["projectname.keyword"].size() > 0) {
    res = doc["projectname.keyword"].value;
} else if (doc.containsKey("ProjectName") && doc["ProjectName.keyword"].size() > 0) {
    res = doc["ProjectName.keyword"].value;
} else {
    res = "UNKNOWN";
}
emit(res);
`

func sumAgg(field string) map[string]any {
	return map[string]any{"sum": map[string]any{"field": field, "missing": 0}}
}

// SumsQuery builds the daily-totals query for w.
func SumsQuery(w domain.TimeWindow) map[string]any {
	return map[string]any{
		"size":         0,
		"track_scores": false,
		"aggs": map[string]any{
			"total_jobs":             sumAgg("num_uniq_job_ids"),
			"core_hours":             sumAgg("all_cpu_hours"),
			"files_transferred":      sumAgg("total_files_xferd"),
			"osdf_files_transferred": sumAgg("osdf_files_xferd"),
		},
		"query": map[string]any{
			"bool": map[string]any{
				"filter": []any{
					map[string]any{"range": map[string]any{
						"date": map[string]any{
							"gte": w.Start.Format(domain.DateLayout),
							"lt":  w.End.Format(domain.DateLayout),
						},
					}},
					map[string]any{"term": map[string]any{"query": map[string]any{"value": dailyTotalsQueryID}}},
					map[string]any{"term": map[string]any{"report_period": map[string]any{"value": dailyReportPeriod}}},
				},
			},
		},
	}
}

func termsAgg(field string, lastSeen bool) map[string]any {
	agg := map[string]any{
		"terms": map[string]any{
			"field":   field,
			"missing": domain.Unknown,
			"size":    termsSize,
		},
	}
	if lastSeen {
		agg["aggs"] = map[string]any{
			"last_seen": map[string]any{"max": map[string]any{"field": "RecordTime"}},
		}
	}
	return agg
}

// Pool scopes the raw query to jobs that belong to the pool.
type Pool struct {
	AccessPoints      []string
	Collectors        []string
	ExcludedResources []string
}

// BucketsQuery builds the raw job-history terms query for w. A job counts
// when it was submitted from a pool access point without flocking elsewhere
// or when it flocked in through a pool collector.
func BucketsQuery(w domain.TimeWindow, pool Pool) map[string]any {
	return map[string]any{
		"size":         0,
		"track_scores": false,
		"runtime_mappings": map[string]any{
			"ResourceName": map[string]any{
				"type":   "keyword",
				"script": map[string]any{"language": "painless", "source": resourceNameScript},
			},
			"ProjectNameFixed": map[string]any{
				"type":   "keyword",
				"script": map[string]any{"language": "painless", "source": projectNameScript},
			},
		},
		"aggs": map[string]any{
			string(domain.SourceUsers):       termsAgg("User.keyword", false),
			string(domain.SourceResources):   termsAgg("ResourceName", true),
			string(domain.SourceProjects):    termsAgg("ProjectNameFixed", true),
			string(domain.SourceResourceIDs): termsAgg("MachineAttrOSG_INSTITUTION_ID0.keyword", true),
		},
		"query": map[string]any{
			"bool": map[string]any{
				"filter": []any{
					map[string]any{"range": map[string]any{
						"RecordTime": map[string]any{
							"gte": w.Start.Unix(),
							"lt":  w.End.Unix(),
						},
					}},
					map[string]any{"term": map[string]any{"JobUniverse": 5}},
				},
				"minimum_should_match": 1,
				"should": []any{
					map[string]any{"bool": map[string]any{
						"filter": []any{
							map[string]any{"terms": map[string]any{"ScheddName.keyword": nonNil(pool.AccessPoints)}},
						},
						"must_not": []any{
							map[string]any{"exists": map[string]any{"field": "LastRemotePool"}},
						},
					}},
					map[string]any{"terms": map[string]any{"LastRemotePool.keyword": nonNil(pool.Collectors)}},
				},
				"must_not": []any{
					map[string]any{"terms": map[string]any{"ResourceName": nonNil(pool.ExcludedResources)}},
				},
			},
		},
	}
}

// nonNil keeps empty lists encoding as [] rather than null.
func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
