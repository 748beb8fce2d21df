package metrics

import (
	"sort"
	"strconv"
)

// StatusBucket is the failure count for one HTTP status code.
type StatusBucket struct {
	Code  string `json:"code" yaml:"code"`
	Count int64  `json:"count" yaml:"count"`
}

// FlattenStatusBuckets converts a status code map into rows sorted by
// descending count, then by code for stability.
func FlattenStatusBuckets(buckets map[int]int64) []StatusBucket {
	if len(buckets) == 0 {
		return nil
	}
	rows := make([]StatusBucket, 0, len(buckets))
	for code, count := range buckets {
		rows = append(rows, StatusBucket{Code: strconv.Itoa(code), Count: count})
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].Count == rows[j].Count {
			return rows[i].Code < rows[j].Code
		}
		return rows[i].Count > rows[j].Count
	})
	return rows
}
