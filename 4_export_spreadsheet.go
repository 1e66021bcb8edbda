package gscluster

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"
)

// SpreadsheetSheet is the name of the sheet holding the cluster table.
const SpreadsheetSheet = "Sheet1"

// SpreadsheetHeader is the first row of the exported sheet.
var SpreadsheetHeader = []string{"Cluster Label", "Clicks", "Impressions", "CTR", "Position"}

// SpreadsheetName returns the file name of the export for a date range.
func SpreadsheetName(start, end time.Time) string {
	return fmt.Sprintf("consulta-%s-to-%s.xlsx", start.Format(DateLayout), end.Format(DateLayout))
}

func newSpreadsheet(metrics []ClusterMetrics) (*excelize.File, error) {
	f := excelize.NewFile()

	header := make([]interface{}, len(SpreadsheetHeader))
	for i, h := range SpreadsheetHeader {
		header[i] = h
	}
	if err := f.SetSheetRow(SpreadsheetSheet, "A1", &header); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to write header: %w", err)
	}

	for i, m := range metrics {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			f.Close()
			return nil, err
		}
		row := []interface{}{
			DisplayLabel(m.Label),
			m.Clicks,
			m.Impressions,
			FormatCTR(m.CTR),
			FormatPosition(m.Position),
		}
		if err := f.SetSheetRow(SpreadsheetSheet, cell, &row); err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to write row %d: %w", i+2, err)
		}
	}

	return f, nil
}

// WriteSpreadsheet writes the cluster table as an .xlsx document to w.
func WriteSpreadsheet(w io.Writer, metrics []ClusterMetrics) error {
	f, err := newSpreadsheet(metrics)
	if err != nil {
		return err
	}
	defer f.Close()
	return f.Write(w)
}

// writeFileAtomic writes data to a temporary file next to path and renames it
// into place, so readers never see a partly written spreadsheet.
func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".consulta-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create spreadsheet: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write spreadsheet: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write spreadsheet: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to save spreadsheet: %w", err)
	}
	return nil
}

// ExportRequest describes one export run.
type ExportRequest struct {
	Query      ReportQuery
	References []ReferenceURL
	OutDir     string
}

// ExportResult is the outcome of a successful export run. Spreadsheet holds
// the workbook of this run; the file at Path may be replaced by a later run
// for the same dates and directory.
type ExportResult struct {
	Path        string
	Rows        int
	Clusters    *ClusterResult
	Spreadsheet []byte
}

// Exporter runs the fetch, cluster and spreadsheet steps. It keeps no state
// between runs and may serve concurrent calls.
type Exporter struct {
	Fetcher   ReportFetcher
	Clusterer *Clusterer
	Logger    *zap.Logger
}

// Export fetches the report, clusters it around req.References and writes
// the spreadsheet into req.OutDir. Nothing is written when any step fails.
func (e *Exporter) Export(ctx context.Context, req ExportRequest) (*ExportResult, error) {
	logger := e.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	rows, err := e.Fetcher.FetchReport(ctx, req.Query)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch report: %w", err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("no data for %s to %s: %w",
			req.Query.StartDate.Format(DateLayout), req.Query.EndDate.Format(DateLayout), ErrEmptyCorpus)
	}
	logger.Info("Fetched report", zap.Int("rows", len(rows)))

	clusters, err := e.Clusterer.Cluster(rows, req.References)
	if err != nil {
		return nil, fmt.Errorf("failed to cluster report: %w", err)
	}

	if req.OutDir != "" {
		if err := os.MkdirAll(req.OutDir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create output directory: %w", err)
		}
	}
	var buf bytes.Buffer
	if err := WriteSpreadsheet(&buf, clusters.Metrics); err != nil {
		return nil, err
	}
	path := filepath.Join(req.OutDir, SpreadsheetName(req.Query.StartDate, req.Query.EndDate))
	if err := writeFileAtomic(path, buf.Bytes()); err != nil {
		return nil, err
	}
	logger.Info("Spreadsheet written", zap.String("path", path), zap.Int("clusters", len(clusters.Metrics)))

	return &ExportResult{Path: path, Rows: len(rows), Clusters: clusters, Spreadsheet: buf.Bytes()}, nil
}

// ExportCmd runs a full export for a date range and a reference file.
var ExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Cluster report URLs around reference URLs and export a spreadsheet",
	RunE: func(cmd *cobra.Command, args []string) error {
		dates, err := dateRangeFromFlags(cmd)
		if err != nil {
			return err
		}
		refPath, _ := cmd.Flags().GetString("references")
		outDir, _ := cmd.Flags().GetString("out")

		refs, err := LoadReferences(refPath)
		if err != nil {
			return err
		}
		zap.L().Info("Loaded reference URLs", zap.String("file", refPath), zap.Int("count", len(refs)))

		clusterer, err := clustererFromFlags(cmd)
		if err != nil {
			return err
		}
		fetcher, closeStore, err := newSearchConsoleFetcher(cmd.Context())
		if err != nil {
			return err
		}
		defer closeStore()

		exporter := &Exporter{Fetcher: fetcher, Clusterer: clusterer, Logger: zap.L()}
		result, err := exporter.Export(cmd.Context(), ExportRequest{
			Query:      reportQuery(dates),
			References: refs,
			OutDir:     outDir,
		})
		if err != nil {
			if errors.Is(err, ErrEmptyCorpus) {
				zap.L().Warn("Report returned no data", zap.String("site", Config.SiteURL))
			}
			return err
		}

		printClusters(cmd.OutOrStdout(), result.Clusters)
		fmt.Fprintf(cmd.OutOrStdout(), "Spreadsheet: %s\n", result.Path)
		return nil
	},
}

func init() {
	addDateRangeFlags(ExportCmd)
	addClusterFlags(ExportCmd)
	ExportCmd.Flags().String("references", "", "reference file (.xlsx or .csv) with URL and KEYWORD columns")
	ExportCmd.Flags().String("out", ".", "directory for the generated spreadsheet")
	_ = ExportCmd.MarkFlagRequired("references")
}

func addClusterFlags(cmd *cobra.Command) {
	cmd.Flags().String("stopwords", "", "stopword list file (default: built-in list for GSC_STOPWORDS_LANGUAGE)")
	cmd.Flags().Bool("stem", false, "stem URL tokens before comparing them")
	cmd.Flags().Bool("strict", false, "fail when a reference URL matches no report URL instead of skipping it")
}

func clustererFromFlags(cmd *cobra.Command) (*Clusterer, error) {
	stopwordsFile, _ := cmd.Flags().GetString("stopwords")
	stem, _ := cmd.Flags().GetBool("stem")
	strict, _ := cmd.Flags().GetBool("strict")
	return newClusterer(stopwordsFile, stem, strict)
}

func newClusterer(stopwordsFile string, stem, strict bool) (*Clusterer, error) {
	var stop StopwordSet
	var err error
	if stopwordsFile != "" {
		stop, err = LoadStopwords(stopwordsFile)
	} else {
		stop, err = Stopwords(Config.StopwordsLanguage)
	}
	if err != nil {
		return nil, err
	}

	c := &Clusterer{Stopwords: stop, Strict: strict, Logger: zap.L()}
	if stem {
		c.StemLanguage = Config.StopwordsLanguage
	}
	return c, nil
}

func printClusters(w io.Writer, result *ClusterResult) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{"Cluster Label", "Clicks", "Impressions", "CTR", "Position"})
	for _, m := range result.Metrics {
		t.AppendRow(table.Row{DisplayLabel(m.Label), m.Clicks, m.Impressions, FormatCTR(m.CTR), FormatPosition(m.Position)})
	}
	t.Render()

	for _, u := range result.Unmatched {
		fmt.Fprintf(w, "Skipped: %v\n", u.Err)
	}
}
