package gscluster

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// DefaultAPIBaseURL is the Search Console API endpoint.
const DefaultAPIBaseURL = "https://searchconsole.googleapis.com"

// PerformanceRow is one page of a search analytics report.
type PerformanceRow struct {
	URL         string  `json:"url"`
	Clicks      int     `json:"clicks"`
	Impressions int     `json:"impressions"`
	CTR         float64 `json:"ctr"`
	Position    float64 `json:"position"`
}

// ReportQuery selects the rows of one report fetch.
type ReportQuery struct {
	SiteURL      string
	StartDate    time.Time
	EndDate      time.Time
	PathContains string
	RowLimit     int
}

// ReportFetcher returns the performance rows matching a query.
type ReportFetcher interface {
	FetchReport(ctx context.Context, q ReportQuery) ([]PerformanceRow, error)
}

// SearchConsoleFetcher queries the searchAnalytics endpoint. Client must
// attach credentials, see NewSearchConsoleClient.
type SearchConsoleFetcher struct {
	Client  *http.Client
	BaseURL string
}

type searchAnalyticsFilter struct {
	Dimension  string `json:"dimension"`
	Operator   string `json:"operator"`
	Expression string `json:"expression"`
}

type searchAnalyticsFilterGroup struct {
	Filters []searchAnalyticsFilter `json:"filters"`
}

type searchAnalyticsRequest struct {
	StartDate             string                       `json:"startDate"`
	EndDate               string                       `json:"endDate"`
	Dimensions            []string                     `json:"dimensions"`
	DimensionFilterGroups []searchAnalyticsFilterGroup `json:"dimensionFilterGroups,omitempty"`
	RowLimit              int                          `json:"rowLimit,omitempty"`
}

type searchAnalyticsResponse struct {
	Rows []struct {
		Keys        []string `json:"keys"`
		Clicks      float64  `json:"clicks"`
		Impressions float64  `json:"impressions"`
		CTR         float64  `json:"ctr"`
		Position    float64  `json:"position"`
	} `json:"rows"`
}

// FetchReport requests clicks, impressions, ctr and position per page for the
// query's date range, restricted to pages whose URL contains q.PathContains.
func (f *SearchConsoleFetcher) FetchReport(ctx context.Context, q ReportQuery) ([]PerformanceRow, error) {
	body := searchAnalyticsRequest{
		StartDate:  q.StartDate.Format(DateLayout),
		EndDate:    q.EndDate.Format(DateLayout),
		Dimensions: []string{"page"},
		RowLimit:   q.RowLimit,
	}
	if q.PathContains != "" {
		body.DimensionFilterGroups = []searchAnalyticsFilterGroup{{
			Filters: []searchAnalyticsFilter{{
				Dimension:  "page",
				Operator:   "contains",
				Expression: q.PathContains,
			}},
		}}
	}

	jsonBody, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	baseURL := f.BaseURL
	if baseURL == "" {
		baseURL = DefaultAPIBaseURL
	}
	endpoint := fmt.Sprintf("%s/webmasters/v3/sites/%s/searchAnalytics/query",
		strings.TrimSuffix(baseURL, "/"), url.PathEscape(q.SiteURL))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(jsonBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	client := f.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, &FetchError{Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		return nil, &FetchError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(respBody))}
	}

	var result searchAnalyticsResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, &FetchError{StatusCode: resp.StatusCode, Err: fmt.Errorf("failed to decode response: %w", err)}
	}

	rows := make([]PerformanceRow, 0, len(result.Rows))
	for _, r := range result.Rows {
		if len(r.Keys) == 0 {
			continue
		}
		rows = append(rows, PerformanceRow{
			URL:         r.Keys[0],
			Clicks:      int(math.Round(r.Clicks)),
			Impressions: int(math.Round(r.Impressions)),
			CTR:         r.CTR,
			Position:    r.Position,
		})
	}

	return rows, nil
}

// FetchReportCmd prints the report rows for a date range as a table.
var FetchReportCmd = &cobra.Command{
	Use:   "fetch-report",
	Short: "Fetch search performance rows for a date range",
	RunE: func(cmd *cobra.Command, args []string) error {
		dates, err := dateRangeFromFlags(cmd)
		if err != nil {
			return err
		}

		fetcher, closeStore, err := newSearchConsoleFetcher(cmd.Context())
		if err != nil {
			return err
		}
		defer closeStore()

		rows, err := fetcher.FetchReport(cmd.Context(), reportQuery(dates))
		if err != nil {
			return err
		}
		zap.L().Info("Fetched report",
			zap.String("site", Config.SiteURL),
			zap.String("start", dates.Start.Format(DateLayout)),
			zap.String("end", dates.End.Format(DateLayout)),
			zap.Int("rows", len(rows)))

		printRows(cmd.OutOrStdout(), rows)
		return nil
	},
}

func init() {
	addDateRangeFlags(FetchReportCmd)
}

func reportQuery(dates DateRange) ReportQuery {
	return ReportQuery{
		SiteURL:      Config.SiteURL,
		StartDate:    dates.Start,
		EndDate:      dates.End,
		PathContains: Config.PathContains,
		RowLimit:     Config.RowLimit,
	}
}

func printRows(w io.Writer, rows []PerformanceRow) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{"URL", "Clicks", "Impressions", "CTR", "Position"})
	clicks, impressions := 0, 0
	for _, r := range rows {
		t.AppendRow(table.Row{r.URL, r.Clicks, r.Impressions, FormatCTR(r.CTR), FormatPosition(r.Position)})
		clicks += r.Clicks
		impressions += r.Impressions
	}
	t.AppendFooter(table.Row{fmt.Sprintf("%d rows", len(rows)), clicks, impressions, "", ""})
	t.Render()
}
