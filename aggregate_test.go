package gscluster

import (
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAggregate(t *testing.T) {
	rows := []PerformanceRow{
		{URL: "/a", Clicks: 10, Impressions: 100, CTR: 0.1, Position: 2},
		{URL: "/b", Clicks: 5, Impressions: 300, CTR: 5.0 / 300, Position: 8},
		{URL: "/c", Clicks: 7, Impressions: 70, CTR: 0.1, Position: 1},
		{URL: "/outside", Clicks: 1000, Impressions: 1000, CTR: 1, Position: 1},
	}
	clusters := []Cluster{
		{ID: 0, Label: "ab", Members: []string{"/a", "/b"}},
		{ID: 1, Label: "c", Members: []string{"/c"}},
	}

	metrics := Aggregate(rows, clusters)
	require.Len(t, metrics, 2)

	ab := metrics[0]
	assert.Equal(t, "ab", ab.Label)
	assert.Equal(t, 15, ab.Clicks)
	assert.Equal(t, 400, ab.Impressions)
	assert.InDelta(t, 0.0375, ab.CTR, 1e-9)
	assert.InDelta(t, 6.5, ab.Position, 1e-9)

	c := metrics[1]
	assert.Equal(t, 7, c.Clicks)
	assert.Equal(t, 70, c.Impressions)
	assert.InDelta(t, 0.1, c.CTR, 1e-9)
	assert.InDelta(t, 1.0, c.Position, 1e-9)
}

func TestAggregate_ZeroImpressions(t *testing.T) {
	rows := []PerformanceRow{{URL: "/a", Clicks: 0, Impressions: 0, CTR: 0, Position: 0}}
	metrics := Aggregate(rows, []Cluster{{Members: []string{"/a"}}})

	require.Len(t, metrics, 1)
	assert.Zero(t, metrics[0].CTR)
	assert.Zero(t, metrics[0].Position)
	assert.Equal(t, "0.00%", FormatCTR(metrics[0].CTR))
	assert.Equal(t, "0.00", FormatPosition(metrics[0].Position))
}

func TestAggregate_MemberCountedOnce(t *testing.T) {
	rows := []PerformanceRow{{URL: "/a", Clicks: 3, Impressions: 30, CTR: 0.1, Position: 5}}
	metrics := Aggregate(rows, []Cluster{{Members: []string{"/a", "/a"}}})

	require.Len(t, metrics, 1)
	assert.Equal(t, 3, metrics[0].Clicks)
	assert.Equal(t, 30, metrics[0].Impressions)
}

func TestAggregate_DuplicateRowsAreSummed(t *testing.T) {
	rows := []PerformanceRow{
		{URL: "/a", Clicks: 3, Impressions: 30, CTR: 0.1, Position: 5},
		{URL: "/a", Clicks: 1, Impressions: 10, CTR: 0.1, Position: 5},
	}
	metrics := Aggregate(rows, []Cluster{{Members: []string{"/a"}}})

	assert.Equal(t, 4, metrics[0].Clicks)
	assert.Equal(t, 40, metrics[0].Impressions)
	assert.InDelta(t, 5.0, metrics[0].Position, 1e-9)
}

func TestAggregate_CTRStaysInRange(t *testing.T) {
	rows := []PerformanceRow{
		{URL: "/a", Clicks: 9, Impressions: 9, CTR: 1, Position: 1},
		{URL: "/b", Clicks: 0, Impressions: 1000, CTR: 0, Position: 40},
		{URL: "/c", Clicks: 1, Impressions: 3, CTR: 1.0 / 3, Position: 12.5},
	}
	metrics := Aggregate(rows, []Cluster{{Members: []string{"/a", "/b", "/c"}}})

	ctr := metrics[0].CTR
	assert.GreaterOrEqual(t, ctr, 0.0)
	assert.LessOrEqual(t, ctr, 1.0)
	assert.InDelta(t, 10.0/1012, ctr, 1e-9)
}

func TestFormatCTR(t *testing.T) {
	tests := []struct {
		ctr  float64
		want string
	}{
		{0, "0.00%"},
		{0.1234, "12.34%"},
		{0.5, "50.00%"},
		{1, "100.00%"},
		{0.0375, "3.75%"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, FormatCTR(tt.ctr))
	}
}

func TestFormatCTR_RoundTrip(t *testing.T) {
	for _, ctr := range []float64{0, 0.00123, 0.0375, 0.333333, 0.98765, 1} {
		s := FormatCTR(ctr)
		pct, err := strconv.ParseFloat(strings.TrimSuffix(s, "%"), 64)
		require.NoError(t, err, s)
		assert.InDelta(t, ctr*100, pct, 0.01)
	}
}

func TestFormatPosition(t *testing.T) {
	assert.Equal(t, "6.50", FormatPosition(6.5))
	assert.Equal(t, "3.46", FormatPosition(3.4567))
	assert.Equal(t, "12.00", FormatPosition(12))

	pos, err := strconv.ParseFloat(FormatPosition(7.777), 64)
	require.NoError(t, err)
	assert.InDelta(t, 7.777, pos, 0.01)
}
