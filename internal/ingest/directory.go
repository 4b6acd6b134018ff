package ingest

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/joseph-ayodele/pdftext/constants"
	"github.com/joseph-ayodele/pdftext/internal/common"
)

// UploadFile uploads one PDF from the local filesystem.
func (s *Service) UploadFile(ctx context.Context, ownerID, path string) (FileResult, error) {
	res := FileResult{Path: path}
	data, err := os.ReadFile(path)
	if err != nil {
		return res, fmt.Errorf("read %s: %w", path, err)
	}
	doc, err := s.Upload(ctx, UploadRequest{
		OwnerID:     ownerID,
		Filename:    filepath.Base(path),
		ContentType: constants.PDFContentType,
		Data:        data,
	})
	if doc != nil {
		res.DocumentID = doc.ID.String()
	}
	if err != nil {
		return res, err
	}
	res.Queued = true
	return res, nil
}

// IngestDirectory walks root, skips hidden entries if requested, and uploads
// every PDF found. A failing file is recorded and the walk continues.
func (s *Service) IngestDirectory(ctx context.Context, ownerID, root string, skipHidden bool) ([]FileResult, DirStats, error) {
	if strings.TrimSpace(root) == "" {
		return nil, DirStats{}, common.NewAppError("VALIDATION_ERROR", "root path is required", common.ErrInvalidInput)
	}

	var results []FileResult
	var stats DirStats

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		stats.Scanned++
		if walkErr != nil {
			results = append(results, FileResult{Path: path, Err: walkErr.Error()})
			stats.Failed++
			return nil
		}
		if skipHidden && path != root && IsHidden(path) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() || !AllowedExt(filepath.Ext(path)) {
			return nil
		}
		stats.Matched++

		r, err := s.UploadFile(ctx, ownerID, path)
		if err != nil {
			// A row that exists but was not queued still counts as a failure.
			r.Err = err.Error()
			results = append(results, r)
			stats.Failed++
			return nil
		}
		results = append(results, r)
		stats.Succeeded++
		return nil
	})
	if err != nil {
		return results, stats, fmt.Errorf("walk: %w", err)
	}
	s.logger.Info("directory ingest completed",
		"owner_id", ownerID, "root", root,
		"scanned", stats.Scanned, "matched", stats.Matched,
		"succeeded", stats.Succeeded, "failed", stats.Failed,
	)
	return results, stats, nil
}
