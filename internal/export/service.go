package export

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"
	"golang.org/x/sync/errgroup"

	"github.com/joseph-ayodele/pdftext/internal/entity"
	"github.com/joseph-ayodele/pdftext/internal/repository"
	"github.com/joseph-ayodele/pdftext/internal/utils"
)

const (
	previewChars  = 140
	maxSheetName  = 31
	fetchParallel = 4
)

// Service produces XLSX status reports of owners' documents.
type Service struct {
	docs   repository.DocumentRepository
	logger *slog.Logger
}

func NewService(docs repository.DocumentRepository, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{docs: docs, logger: logger}
}

// Window bounds a report by upload date, inclusive on both ends.
// If only From is set -> From..today. If only To is set -> beginning..To.
type Window struct {
	From *time.Time
	To   *time.Time
}

func (w Window) normalize(now time.Time) (from, to *time.Time) {
	day := func(t time.Time) time.Time {
		t = t.UTC()
		return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	}
	if w.From != nil {
		f := day(*w.From)
		from = &f
	}
	if w.To != nil {
		t := day(*w.To)
		to = &t
	} else if from != nil {
		t := day(now)
		to = &t
	}
	return from, to
}

func (w Window) contains(now, created time.Time) bool {
	from, to := w.normalize(now)
	if from != nil && created.Before(*from) {
		return false
	}
	if to != nil && !created.Before(to.AddDate(0, 0, 1)) {
		return false
	}
	return true
}

var headers = []string{
	"Document ID",
	"Filename",
	"Status",
	"Uploaded At",
	"Extracted At",
	"Characters",
	"Text Preview",
	"Failure Reason",
}

// ExportXLSX returns a workbook with one sheet per owner. Owners are fetched
// concurrently; sheets are written in the order given.
func (s *Service) ExportXLSX(ctx context.Context, owners []string, window Window) ([]byte, error) {
	if len(owners) == 0 {
		return nil, fmt.Errorf("at least one owner is required")
	}
	start := time.Now()

	lists := make([][]*entity.Document, len(owners))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(fetchParallel)
	for i, owner := range owners {
		g.Go(func() error {
			docs, err := s.docs.ListByOwner(gctx, owner)
			if err != nil {
				return fmt.Errorf("list documents for %s: %w", owner, err)
			}
			lists[i] = docs
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	f := excelize.NewFile()
	defer f.Close()

	rows := 0
	for i, owner := range owners {
		n, err := s.writeSheet(f, sheetName(owner, i), lists[i], window, start)
		if err != nil {
			return nil, err
		}
		rows += n
	}
	// Drop the default sheet NewFile creates.
	if err := f.DeleteSheet("Sheet1"); err != nil {
		return nil, err
	}
	f.SetActiveSheet(0)

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("xlsx write: %w", err)
	}
	s.logger.Info("export.xlsx.ok",
		"owners", len(owners),
		"rows", rows,
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return buf.Bytes(), nil
}

func (s *Service) writeSheet(f *excelize.File, sheet string, docs []*entity.Document, window Window, now time.Time) (int, error) {
	if _, err := f.NewSheet(sheet); err != nil {
		return 0, err
	}
	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(sheet, cell, h)
	}

	row := 2
	for _, d := range docs {
		if !window.contains(now, d.CreatedAt) {
			continue
		}
		write := func(col int, v any) {
			cell, _ := excelize.CoordinatesToCellName(col, row)
			_ = f.SetCellValue(sheet, cell, v)
		}
		text := utils.StrOrEmpty(d.ExtractedText)

		write(1, d.ID.String())
		write(2, d.Filename)
		write(3, string(d.Status))
		write(4, d.CreatedAt.UTC().Format(time.RFC3339))
		write(5, utils.FormatTime(d.ExtractedAt))
		write(6, len([]rune(text)))
		write(7, utils.Truncate(strings.Join(strings.Fields(text), " "), previewChars))
		write(8, utils.StrOrEmpty(d.FailureReason))
		row++
	}

	_ = f.SetColWidth(sheet, "A", "A", 38) // id
	_ = f.SetColWidth(sheet, "B", "B", 28) // filename
	_ = f.SetColWidth(sheet, "C", "C", 12) // status
	_ = f.SetColWidth(sheet, "D", "E", 22) // timestamps
	_ = f.SetColWidth(sheet, "F", "F", 12) // characters
	_ = f.SetColWidth(sheet, "G", "H", 60) // preview, reason
	return row - 2, nil
}

// sheetName makes owner a valid, unique sheet name.
func sheetName(owner string, idx int) string {
	name := strings.Map(func(r rune) rune {
		if strings.ContainsRune(`[]:*?/\`, r) {
			return '_'
		}
		return r
	}, owner)
	suffix := fmt.Sprintf("-%d", idx+1)
	if name == "" {
		name = "owner"
	}
	runes := []rune(name)
	if len(runes)+len(suffix) > maxSheetName {
		runes = runes[:maxSheetName-len(suffix)]
	}
	return string(runes) + suffix
}
