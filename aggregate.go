package gscluster

import "strconv"

// ClusterMetrics holds the rolled up report metrics of one cluster.
// CTR and Position are impressions-weighted means over the member rows.
type ClusterMetrics struct {
	Label       string  `json:"label"`
	Clicks      int     `json:"clicks"`
	Impressions int     `json:"impressions"`
	CTR         float64 `json:"ctr"`
	Position    float64 `json:"position"`
}

// Aggregate sums clicks and impressions over every row whose URL belongs to a
// cluster and weighs CTR and position by impressions. A cluster without
// impressions gets a CTR and position of 0. Results follow cluster order.
func Aggregate(rows []PerformanceRow, clusters []Cluster) []ClusterMetrics {
	owner := make(map[string]int)
	for i, c := range clusters {
		for _, m := range c.Members {
			if _, ok := owner[m]; !ok {
				owner[m] = i
			}
		}
	}

	type totals struct {
		clicks, impressions int
		ctrSum, positionSum float64
	}
	sums := make([]totals, len(clusters))
	for _, row := range rows {
		i, ok := owner[row.URL]
		if !ok {
			continue
		}
		sums[i].clicks += row.Clicks
		sums[i].impressions += row.Impressions
		sums[i].ctrSum += row.CTR * float64(row.Impressions)
		sums[i].positionSum += row.Position * float64(row.Impressions)
	}

	metrics := make([]ClusterMetrics, len(clusters))
	for i, c := range clusters {
		s := sums[i]
		m := ClusterMetrics{
			Label:       c.Label,
			Clicks:      s.clicks,
			Impressions: s.impressions,
		}
		if s.impressions > 0 {
			m.CTR = s.ctrSum / float64(s.impressions)
			m.Position = s.positionSum / float64(s.impressions)
		}
		metrics[i] = m
	}
	return metrics
}

// FormatCTR renders a click-through rate as a percentage with two decimals,
// e.g. 0.1234 -> "12.34%".
func FormatCTR(ctr float64) string {
	return strconv.FormatFloat(ctr*100, 'f', 2, 64) + "%"
}

// FormatPosition renders an average position with two decimals.
func FormatPosition(position float64) string {
	return strconv.FormatFloat(position, 'f', 2, 64)
}
