package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/lexpipe/lexpipe/internal/model"
)

// Report is the final-report document a pipeline run produces for one
// code, combining the architecture summary with extraction/failure
// counts.
type Report struct {
	Code             string    `json:"code"`
	GeneratedAt      time.Time `json:"generated_at"`
	TotalSections    int       `json:"total_sections"`
	HasContentCount  int       `json:"has_content_count"`
	MultiVersionCount int      `json:"multi_version_count"`
	FailureCount     int       `json:"failure_count"`
	AbandonedCount   int       `json:"abandoned_count"`
	Stage1Done       bool      `json:"stage1_done"`
	Stage2Done       bool      `json:"stage2_done"`
	Stage3Done       bool      `json:"stage3_done"`
}

// ReportWriter renders a Report to a JSON file, grounded on the
// teacher's file-backed storage writers (one object per run, indented
// for human reading rather than streamed).
type ReportWriter struct {
	outputDir string
	logger    *slog.Logger
}

// NewReportWriter creates a ReportWriter rooted at outputDir.
func NewReportWriter(outputDir string, logger *slog.Logger) (*ReportWriter, error) {
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}
	return &ReportWriter{
		outputDir: outputDir,
		logger:    logger.With("component", "report_writer"),
	}, nil
}

// BuildReport assembles a Report from a Store's current state for code.
func BuildReport(ctx context.Context, s Store, code string) (*Report, error) {
	arch, err := s.GetCodeArchitecture(ctx, code)
	if err != nil {
		return nil, err
	}
	if arch == nil {
		return nil, fmt.Errorf("no architecture found for code %q", code)
	}

	hasContent, err := s.CountHasContent(ctx, code)
	if err != nil {
		return nil, err
	}

	failures, err := s.ListFailures(ctx, code, FailureFilter{})
	if err != nil {
		return nil, err
	}
	abandoned := 0
	for _, f := range failures {
		if f.RetryStatus == model.RetryAbandoned {
			abandoned++
		}
	}

	return &Report{
		Code:              code,
		GeneratedAt:       time.Now(),
		TotalSections:     arch.Statistics.TotalSections,
		HasContentCount:   hasContent,
		MultiVersionCount: len(arch.MultiVersionIDs),
		FailureCount:      len(failures),
		AbandonedCount:    abandoned,
		Stage1Done:        arch.StageFlags.Stage1Done,
		Stage2Done:        arch.StageFlags.Stage2Done,
		Stage3Done:        arch.StageFlags.Stage3Done,
	}, nil
}

// Write renders report as indented JSON to <outputDir>/<code>-report.json.
func (w *ReportWriter) Write(report *Report) error {
	path := filepath.Join(w.outputDir, report.Code+"-report.json")
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create report file: %w", err)
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(report); err != nil {
		return fmt.Errorf("encode report: %w", err)
	}

	w.logger.Info("report written", "path", path, "code", report.Code)
	return nil
}
