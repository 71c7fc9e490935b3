package elastic

import (
	"slices"
	"strings"

	"github.com/tidwall/gjson"
)

// errorReason digs the most specific reason out of an Elasticsearch error
// body, following the first failed shard and the first root cause.
func errorReason(body []byte) string {
	e := gjson.GetBytes(body, "error")
	if !e.Exists() {
		return strings.TrimSpace(string(body))
	}
	if e.Type == gjson.String {
		return e.String()
	}
	parts := []string{}
	if r := e.Get("reason").String(); r != "" {
		parts = append(parts, r)
	}
	for _, path := range []string{"root_cause.0.reason", "failed_shards.0.reason.reason", "caused_by.reason"} {
		if r := e.Get(path).String(); r != "" && !slices.Contains(parts, r) {
			parts = append(parts, r)
		}
	}
	if len(parts) == 0 {
		return e.Get("type").String()
	}
	return strings.Join(parts, "; ")
}
