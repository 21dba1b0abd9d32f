package usage

import "sort"

// GroupBy selects the dimension aggregation buckets are keyed on.
type GroupBy string

const (
	GroupByModel     GroupBy = "model"
	GroupByProvider  GroupBy = "provider"
	GroupByOperation GroupBy = "operation"
)

// Bucket is one aggregation row, computed over the raw log on demand.
type Bucket struct {
	Key              string  `json:"key"`
	Requests         int     `json:"requests"`
	Failures         int     `json:"failures"`
	PromptTokens     int64   `json:"prompt_tokens"`
	CompletionTokens int64   `json:"completion_tokens"`
	TotalTokens      int64   `json:"total_tokens"`
	CostUSD          float64 `json:"cost_usd"`
	AvgLatencyMs     float64 `json:"avg_latency_ms"`
	CacheHitRate     float64 `json:"cache_hit_rate"`
}

// Aggregate folds records into buckets along one dimension. Buckets come
// back sorted by key for stable output.
func Aggregate(records []Record, by GroupBy) []Bucket {
	type acc struct {
		Bucket
		latencySum int64
		cacheHits  int
	}

	accs := make(map[string]*acc)
	for _, r := range records {
		var key string
		switch by {
		case GroupByProvider:
			key = r.Provider
		case GroupByOperation:
			key = string(r.Operation)
		default:
			key = r.Model
		}

		a, ok := accs[key]
		if !ok {
			a = &acc{Bucket: Bucket{Key: key}}
			accs[key] = a
		}

		a.Requests++
		if r.Error != "" {
			a.Failures++
		}
		if r.Cached {
			a.cacheHits++
		}
		a.PromptTokens += int64(r.PromptTokens)
		a.CompletionTokens += int64(r.CompletionTokens)
		a.TotalTokens += int64(r.TotalTokens())
		a.CostUSD += r.CostUSD
		a.latencySum += r.LatencyMs
	}

	out := make([]Bucket, 0, len(accs))
	for _, a := range accs {
		if a.Requests > 0 {
			a.AvgLatencyMs = float64(a.latencySum) / float64(a.Requests)
			a.CacheHitRate = float64(a.cacheHits) / float64(a.Requests)
		}
		out = append(out, a.Bucket)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}
