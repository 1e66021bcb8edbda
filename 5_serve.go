package gscluster

import (
	"bytes"
	"context"
	"embed"
	"encoding/base64"
	"errors"
	"fmt"
	"html/template"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"go.uber.org/zap"
)

//go:embed templates/*.html
var templateFS embed.FS

var pageTemplates = template.Must(template.ParseFS(templateFS, "templates/*.html"))

const (
	maxUploadSize = 32 << 20
	xlsxMediaType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
)

// Server serves the export form and runs one export per submission. Every
// submission writes into its own directory under OutDir and downloads the
// workbook it built itself.
type Server struct {
	Exporter     *Exporter
	SiteURL      string
	PathContains string
	RowLimit     int
	OutDir       string
	Logger       *zap.Logger

	// Now returns the current time; used for default form dates.
	Now func() time.Time
}

type formPage struct {
	SiteURL string
	Start   string
	End     string
	Error   string
}

type resultPage struct {
	SiteURL      string
	Start        string
	End          string
	Rows         int
	Table        template.HTML
	Unmatched    []string
	FileName     string
	DownloadHref template.URL
}

// Handler returns the HTTP handler of the form.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", s.handleForm)
	mux.HandleFunc("POST /export", s.handleExport)
	return mux
}

func (s *Server) logger() *zap.Logger {
	if s.Logger == nil {
		return zap.NewNop()
	}
	return s.Logger
}

func (s *Server) now() time.Time {
	if s.Now == nil {
		return time.Now()
	}
	return s.Now()
}

func (s *Server) handleForm(w http.ResponseWriter, r *http.Request) {
	end := s.now()
	start := end.AddDate(0, 0, -29)
	s.render(w, http.StatusOK, "form.html", formPage{
		SiteURL: s.SiteURL,
		Start:   start.Format(DateLayout),
		End:     end.Format(DateLayout),
	})
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	page := formPage{SiteURL: s.SiteURL}
	fail := func(status int, err error) {
		page.Error = err.Error()
		s.render(w, status, "form.html", page)
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize)
	if err := r.ParseMultipartForm(maxUploadSize); err != nil {
		fail(http.StatusBadRequest, fmt.Errorf("invalid form: %w", err))
		return
	}
	page.Start = r.FormValue("start")
	page.End = r.FormValue("end")

	dates, err := ParseDateRange(page.Start, page.End, "", s.now())
	if err != nil {
		fail(http.StatusBadRequest, err)
		return
	}

	file, header, err := r.FormFile("references")
	if err != nil {
		fail(http.StatusBadRequest, errors.New("a reference file is required"))
		return
	}
	defer file.Close()
	refs, err := ReadReferences(file, header.Filename)
	if err != nil {
		fail(http.StatusBadRequest, err)
		return
	}

	outDir, err := os.MkdirTemp(s.OutDir, "export-*")
	if err != nil {
		fail(http.StatusInternalServerError, fmt.Errorf("failed to create output directory: %w", err))
		return
	}

	result, err := s.Exporter.Export(r.Context(), ExportRequest{
		Query: ReportQuery{
			SiteURL:      s.SiteURL,
			StartDate:    dates.Start,
			EndDate:      dates.End,
			PathContains: s.PathContains,
			RowLimit:     s.RowLimit,
		},
		References: refs,
		OutDir:     outDir,
	})
	if err != nil {
		s.logger().Error("Export failed", zap.Error(err))
		// Export writes nothing on failure.
		_ = os.Remove(outDir)
		var fetchErr *FetchError
		switch {
		case errors.Is(err, ErrEmptyCorpus):
			fail(http.StatusNotFound, errors.New("no data for the selected dates"))
		case errors.As(err, &fetchErr):
			fail(http.StatusBadGateway, err)
		default:
			fail(http.StatusInternalServerError, err)
		}
		return
	}

	tableHTML, err := renderMarkdown(metricsMarkdown(result.Clusters.Metrics))
	if err != nil {
		fail(http.StatusInternalServerError, err)
		return
	}

	unmatched := make([]string, 0, len(result.Clusters.Unmatched))
	for _, u := range result.Clusters.Unmatched {
		unmatched = append(unmatched, u.Reference.URL)
	}

	s.render(w, http.StatusOK, "result.html", resultPage{
		SiteURL:      s.SiteURL,
		Start:        dates.Start.Format(DateLayout),
		End:          dates.End.Format(DateLayout),
		Rows:         result.Rows,
		Table:        tableHTML,
		Unmatched:    unmatched,
		FileName:     SpreadsheetName(dates.Start, dates.End),
		DownloadHref: template.URL("data:" + xlsxMediaType + ";base64," + base64.StdEncoding.EncodeToString(result.Spreadsheet)),
	})
}

func (s *Server) render(w http.ResponseWriter, status int, name string, data any) {
	var buf bytes.Buffer
	if err := pageTemplates.ExecuteTemplate(&buf, name, data); err != nil {
		s.logger().Error("Failed to execute template", zap.String("template", name), zap.Error(err))
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_, _ = buf.WriteTo(w)
}

// metricsMarkdown renders the cluster table as a GitHub flavored markdown table.
func metricsMarkdown(metrics []ClusterMetrics) string {
	var b strings.Builder
	b.WriteString("| Cluster Label | Clicks | Impressions | CTR | Position |\n")
	b.WriteString("|---|---:|---:|---:|---:|\n")
	for _, m := range metrics {
		fmt.Fprintf(&b, "| %s | %d | %d | %s | %s |\n",
			escapeMarkdown(DisplayLabel(m.Label)), m.Clicks, m.Impressions, FormatCTR(m.CTR), FormatPosition(m.Position))
	}
	return b.String()
}

var markdownEscaper = strings.NewReplacer(
	`\`, `\\`, "`", "\\`", `*`, `\*`, `_`, `\_`, `[`, `\[`, `]`, `\]`,
	`<`, `\<`, `>`, `\>`, `|`, `\|`, `#`, `\#`,
)

func escapeMarkdown(s string) string {
	return markdownEscaper.Replace(s)
}

var markdown = goldmark.New(goldmark.WithExtensions(extension.Table))

func renderMarkdown(md string) (template.HTML, error) {
	var buf bytes.Buffer
	if err := markdown.Convert([]byte(md), &buf); err != nil {
		return "", fmt.Errorf("failed to render table: %w", err)
	}
	return template.HTML(buf.String()), nil
}

// ServeCmd serves the export form over HTTP.
var ServeCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve a web form that runs exports",
	RunE: func(cmd *cobra.Command, args []string) error {
		addr, _ := cmd.Flags().GetString("addr")
		outDir, _ := cmd.Flags().GetString("out")

		clusterer, err := clustererFromFlags(cmd)
		if err != nil {
			return err
		}
		if err := os.MkdirAll(outDir, 0755); err != nil {
			return fmt.Errorf("failed to create output directory: %w", err)
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		fetcher, closeStore, err := newSearchConsoleFetcher(ctx)
		if err != nil {
			return err
		}
		defer closeStore()

		s := &Server{
			Exporter:     &Exporter{Fetcher: fetcher, Clusterer: clusterer, Logger: zap.L()},
			SiteURL:      Config.SiteURL,
			PathContains: Config.PathContains,
			RowLimit:     Config.RowLimit,
			OutDir:       outDir,
			Logger:       zap.L(),
		}
		srv := &http.Server{
			Addr:              addr,
			Handler:           s.Handler(),
			ReadHeaderTimeout: 10 * time.Second,
		}

		go func() {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				zap.L().Warn("Shutdown failed", zap.Error(err))
			}
		}()

		zap.L().Info("Serving export form", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	},
}

func init() {
	addClusterFlags(ServeCmd)
	ServeCmd.Flags().String("addr", ":8501", "listen address")
	ServeCmd.Flags().String("out", ".", "directory under which each export gets its own export-* directory")
}
