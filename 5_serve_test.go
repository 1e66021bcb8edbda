package gscluster

import (
	"bytes"
	"encoding/base64"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T, fetcher ReportFetcher) *httptest.Server {
	t.Helper()
	return newTestServerIn(t, fetcher, t.TempDir())
}

func newTestServerIn(t *testing.T, fetcher ReportFetcher, outDir string) *httptest.Server {
	t.Helper()
	s := &Server{
		Exporter:     newTestExporter(fetcher),
		SiteURL:      "https://x.co/",
		PathContains: "/blog/",
		RowLimit:     3000,
		OutDir:       outDir,
		Now:          func() time.Time { return time.Date(2023, 6, 30, 12, 0, 0, 0, time.UTC) },
	}
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)
	return srv
}

var downloadHref = regexp.MustCompile(`href="data:[^;"]+;base64,([^"]+)"`)

func downloadedWorkbook(t *testing.T, body string) []byte {
	t.Helper()
	m := downloadHref.FindStringSubmatch(body)
	require.Len(t, m, 2, "no download link in page")
	data, err := base64.StdEncoding.DecodeString(m[1])
	require.NoError(t, err)
	return data
}

func postExport(t *testing.T, srv *httptest.Server, fields map[string]string, fileName, fileContent string) (int, string) {
	t.Helper()

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	if fileName != "" {
		fw, err := mw.CreateFormFile("references", fileName)
		require.NoError(t, err)
		_, err = io.WriteString(fw, fileContent)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())

	resp, err := http.Post(srv.URL+"/export", mw.FormDataContentType(), &body)
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(data)
}

func TestServer_Form(t *testing.T) {
	srv := newTestServer(t, &fakeFetcher{})

	resp, err := http.Get(srv.URL + "/")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "text/html")
	assert.Contains(t, string(body), `value="2023-06-01"`)
	assert.Contains(t, string(body), `value="2023-06-30"`)
	assert.Contains(t, string(body), "Export Data")

	resp, err = http.Get(srv.URL + "/missing")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestServer_Export(t *testing.T) {
	fetcher := &fakeFetcher{rows: samplePerformanceRows()}
	srv := newTestServer(t, fetcher)

	status, body := postExport(t, srv,
		map[string]string{"start": "2023-06-01", "end": "2023-06-30"},
		"refs.csv", "URL,KEYWORD\n/blog/paint-tips-2024,paint\n/shop/brushes,brushes\n")

	require.Equal(t, http.StatusOK, status, body)
	require.Len(t, fetcher.queries, 1)
	assert.Equal(t, testQuery(), fetcher.queries[0])

	assert.Contains(t, body, "3 report rows from 2023-06-01 to 2023-06-30")
	assert.Contains(t, body, "<table>")
	assert.Contains(t, body, "<td>/blog/paint-tips</td>")
	assert.Contains(t, body, "10.00%")
	assert.Contains(t, body, "<li>/shop/brushes</li>")
	assert.Contains(t, body, `download="consulta-2023-06-01-to-2023-06-30.xlsx"`)
	assert.Contains(t, body, `href="data:`+xlsxMediaType+`;base64,`)
}

func TestServer_ExportsForSameDatesDownloadTheirOwnWorkbook(t *testing.T) {
	outDir := t.TempDir()
	srv := newTestServerIn(t, &fakeFetcher{rows: samplePerformanceRows()}, outDir)
	dates := map[string]string{"start": "2023-06-01", "end": "2023-06-30"}

	status, paintBody := postExport(t, srv, dates, "refs.csv", "URL\n/blog/paint-tips\n")
	require.Equal(t, http.StatusOK, status, paintBody)
	status, colorBody := postExport(t, srv, dates, "refs.csv", "URL\n/blog/color-guide\n")
	require.Equal(t, http.StatusOK, status, colorBody)

	assert.Equal(t, []string{"/blog/paint-tips"}, spreadsheetLabels(t, downloadedWorkbook(t, paintBody)))
	assert.Equal(t, []string{"/blog/color-guide"}, spreadsheetLabels(t, downloadedWorkbook(t, colorBody)))

	entries, err := os.ReadDir(outDir)
	require.NoError(t, err)
	assert.Len(t, entries, 2, "each export gets its own directory")
	for _, e := range entries {
		assert.True(t, e.IsDir())
		assert.True(t, strings.HasPrefix(e.Name(), "export-"), e.Name())
	}
}

func TestServer_ExportErrors(t *testing.T) {
	validDates := map[string]string{"start": "2023-06-01", "end": "2023-06-30"}
	validFile := "URL\n/blog/paint-tips\n"

	tests := []struct {
		name       string
		fetcher    *fakeFetcher
		fields     map[string]string
		fileName   string
		file       string
		wantStatus int
		wantBody   string
	}{
		{"no data", &fakeFetcher{}, validDates, "refs.csv", validFile, http.StatusNotFound, "no data for the selected dates"},
		{"api error", &fakeFetcher{err: &FetchError{StatusCode: 403, Body: "forbidden"}}, validDates, "refs.csv", validFile, http.StatusBadGateway, "status 403"},
		{"missing file", &fakeFetcher{}, validDates, "", "", http.StatusBadRequest, "reference file is required"},
		{"bad reference file", &fakeFetcher{}, validDates, "refs.csv", "page\n/blog/a\n", http.StatusBadRequest, "no URL column"},
		{"bad dates", &fakeFetcher{}, map[string]string{"start": "2023-07-01", "end": "2023-06-30"}, "refs.csv", validFile, http.StatusBadRequest, "after end date"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			outDir := t.TempDir()
			srv := newTestServerIn(t, tt.fetcher, outDir)
			status, body := postExport(t, srv, tt.fields, tt.fileName, tt.file)
			assert.Equal(t, tt.wantStatus, status)
			assert.Contains(t, body, tt.wantBody)
			assert.Contains(t, body, `class="error"`)

			entries, err := os.ReadDir(outDir)
			require.NoError(t, err)
			assert.Empty(t, entries)
		})
	}
}

func TestMetricsMarkdown(t *testing.T) {
	md := metricsMarkdown([]ClusterMetrics{
		{Label: " blog paint_tips", Clicks: 1, Impressions: 10, CTR: 0.1, Position: 3},
	})
	assert.Equal(t, strings.Join([]string{
		"| Cluster Label | Clicks | Impressions | CTR | Position |",
		"|---|---:|---:|---:|---:|",
		`| /blog/paint\_tips | 1 | 10 | 10.00% | 3.00 |`,
		"",
	}, "\n"), md)

	html, err := renderMarkdown(md)
	require.NoError(t, err)
	assert.Contains(t, string(html), "<td>/blog/paint_tips</td>")
	assert.Contains(t, string(html), "10.00%</td>")
}
