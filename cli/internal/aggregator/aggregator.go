package aggregator

import (
	"sort"
	"strconv"
	"time"

	"github.com/hpcops/amiereport/internal/usage"
)

// Summary is usage rolled up under one key (project, user, queue, or day).
type Summary struct {
	Key       string
	Jobs      int
	NodeHours float64
	Charge    float64
	Queues    []string // queues that contributed to this summary
}

// Options for aggregation
type Options struct {
	Since time.Time
	Until time.Time
}

// FilterRecords filters records based on their end time. Records whose
// end time does not parse are kept.
func FilterRecords(records []usage.UsageRecord, opts Options) []usage.UsageRecord {
	var filtered []usage.UsageRecord
	for _, r := range records {
		ts, err := time.Parse(time.RFC3339, r.EndTime)
		if err == nil {
			if !opts.Since.IsZero() && ts.Before(opts.Since) {
				continue
			}
			if !opts.Until.IsZero() && ts.After(opts.Until) {
				continue
			}
		}
		filtered = append(filtered, r)
	}
	return filtered
}

// ByProject aggregates records by local project ID, largest charge first.
func ByProject(records []usage.UsageRecord) []Summary {
	return aggregate(records, func(r usage.UsageRecord) string {
		return r.LocalProjectID
	}, byCharge)
}

// ByUser aggregates records by username, largest charge first.
func ByUser(records []usage.UsageRecord) []Summary {
	return aggregate(records, func(r usage.UsageRecord) string {
		return r.Username
	}, byCharge)
}

// ByQueue aggregates records by queue, largest charge first.
func ByQueue(records []usage.UsageRecord) []Summary {
	return aggregate(records, func(r usage.UsageRecord) string {
		return r.Attributes.Queue
	}, byCharge)
}

// ByDay aggregates records by the day the job ended, newest first.
func ByDay(records []usage.UsageRecord) []Summary {
	return aggregate(records, func(r usage.UsageRecord) string {
		ts, err := time.Parse(time.RFC3339, r.EndTime)
		if err != nil {
			return ""
		}
		return ts.UTC().Format("2006-01-02")
	}, byKeyDesc)
}

// CalculateTotal returns the totals across all summaries.
func CalculateTotal(results []Summary) Summary {
	total := Summary{Key: "Total"}
	queues := make(map[string]bool)

	for _, r := range results {
		total.Jobs += r.Jobs
		total.NodeHours += r.NodeHours
		total.Charge += r.Charge
		for _, q := range r.Queues {
			queues[q] = true
		}
	}

	for q := range queues {
		total.Queues = append(total.Queues, q)
	}
	sort.Strings(total.Queues)

	return total
}

type lessFunc func(a, b Summary) bool

func byCharge(a, b Summary) bool {
	if a.Charge != b.Charge {
		return a.Charge > b.Charge
	}
	return a.Key < b.Key
}

// byKeyDesc sorts newest day first
func byKeyDesc(a, b Summary) bool {
	return a.Key > b.Key
}

func aggregate(records []usage.UsageRecord, key func(usage.UsageRecord) string, less lessFunc) []Summary {
	grouped := make(map[string]*Summary)
	queues := make(map[string]map[string]bool)

	for _, r := range records {
		k := key(r)
		if k == "" {
			k = "unknown"
		}

		if _, ok := grouped[k]; !ok {
			grouped[k] = &Summary{Key: k}
			queues[k] = make(map[string]bool)
		}

		agg := grouped[k]
		agg.Jobs++
		agg.NodeHours += nodeHours(r)
		if charge, err := strconv.ParseFloat(r.Charge, 64); err == nil {
			agg.Charge += charge
		}

		if r.Attributes.Queue != "" {
			queues[k][r.Attributes.Queue] = true
		}
	}

	var results []Summary
	for k, agg := range grouped {
		for q := range queues[k] {
			agg.Queues = append(agg.Queues, q)
		}
		sort.Strings(agg.Queues)
		results = append(results, *agg)
	}

	sort.Slice(results, func(i, j int) bool {
		return less(results[i], results[j])
	})

	return results
}

// nodeHours derives a record's node-hours from its node count and
// start/end times, zero if either does not parse.
func nodeHours(r usage.UsageRecord) float64 {
	nodes, err := strconv.Atoi(r.Attributes.NodeCount)
	if err != nil || nodes < 1 {
		return 0
	}
	start, err := time.Parse(time.RFC3339, r.StartTime)
	if err != nil {
		return 0
	}
	end, err := time.Parse(time.RFC3339, r.EndTime)
	if err != nil || end.Before(start) {
		return 0
	}
	return float64(nodes) * end.Sub(start).Hours()
}
