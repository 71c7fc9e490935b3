package elastic

import (
	"time"

	"github.com/tidwall/gjson"
	"golang.org/x/xerrors"

	"ospoolreport/internal/domain"
)

// ParseSums reads the sum aggregations. Missing values are zero.
func ParseSums(body []byte) (domain.Sums, error) {
	if !gjson.ValidBytes(body) {
		return domain.Sums{}, xerrors.New("sums response: invalid JSON")
	}
	aggs := gjson.GetBytes(body, "aggregations")
	return domain.Sums{
		TotalJobs:            aggs.Get("total_jobs.value").Float(),
		CoreHours:            aggs.Get("core_hours.value").Float(),
		FilesTransferred:     aggs.Get("files_transferred.value").Float(),
		OSDFFilesTransferred: aggs.Get("osdf_files_transferred.value").Float(),
	}, nil
}

// ParseBuckets reads the four terms aggregations. A missing aggregation is an
// empty list; a bucket without last_seen has a zero LastSeen.
func ParseBuckets(body []byte) (domain.WindowBuckets, error) {
	if !gjson.ValidBytes(body) {
		return domain.WindowBuckets{}, xerrors.New("buckets response: invalid JSON")
	}
	aggs := gjson.GetBytes(body, "aggregations")
	return domain.WindowBuckets{
		Users:       buckets(aggs.Get(string(domain.SourceUsers))),
		Projects:    buckets(aggs.Get(string(domain.SourceProjects))),
		Resources:   buckets(aggs.Get(string(domain.SourceResources))),
		ResourceIDs: buckets(aggs.Get(string(domain.SourceResourceIDs))),
	}, nil
}

func buckets(agg gjson.Result) []domain.RawBucket {
	list := agg.Get("buckets").Array()
	out := make([]domain.RawBucket, 0, len(list))
	for _, b := range list {
		rb := domain.RawBucket{
			Key:      b.Get("key").String(),
			DocCount: b.Get("doc_count").Int(),
		}
		// RecordTime is epoch seconds; max on an empty bucket is null.
		if ls := b.Get("last_seen.value"); ls.Type == gjson.Number {
			rb.LastSeen = time.Unix(int64(ls.Float()), 0).UTC()
		}
		out = append(out, rb)
	}
	return out
}
