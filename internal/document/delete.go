package document

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/nikhilbhutani/ragchat/internal/apperr"
	"github.com/nikhilbhutani/ragchat/internal/ingest"
	"github.com/nikhilbhutani/ragchat/internal/models"
)

type ItemStatus string

const (
	ItemDeleted  ItemStatus = "deleted"
	ItemNotFound ItemStatus = "not_found"
	ItemError    ItemStatus = "error"
)

type ItemResult struct {
	Name           string     `json:"name"`
	Status         ItemStatus `json:"status"`
	StoredFilename string     `json:"stored_filename,omitempty"`
	DocID          string     `json:"doc_id,omitempty"`
	Error          string     `json:"error,omitempty"`
	Err            error      `json:"-"`
}

// BatchReport counts are informational: a stale alias can leave an orphan
// chunk behind a "deleted" item.
type BatchReport struct {
	Deleted  int          `json:"deleted"`
	NotFound int          `json:"not_found"`
	Errors   int          `json:"errors"`
	Results  []ItemResult `json:"results"`
}

// Delete removes each named file and its chunks. Failures are isolated per
// name.
func (s *Service) Delete(ctx context.Context, names []string) BatchReport {
	var report BatchReport
	for _, name := range names {
		res := s.deleteOne(ctx, name)
		switch res.Status {
		case ItemDeleted:
			report.Deleted++
		case ItemNotFound:
			report.NotFound++
		default:
			report.Errors++
		}
		report.Results = append(report.Results, res)
	}
	return report
}

func (s *Service) deleteOne(ctx context.Context, name string) ItemResult {
	res := ItemResult{Name: name}

	m, err := s.Resolve(ctx, name)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			res.Status = ItemNotFound
			return res
		}
		return failed(res, err)
	}
	res.StoredFilename = m.StoredFilename
	res.DocID = m.DocID

	if m.StoredFilename != "" {
		path := filepath.Join(s.dir, m.StoredFilename)
		if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return failed(res, fmt.Errorf("remove file: %w", err))
		}
	}

	if err := s.deleteChunks(ctx, m); err != nil {
		return failed(res, err)
	}
	res.Status = ItemDeleted
	return res
}

// deleteChunks deletes by doc_id when known, else by every alias field.
func (s *Service) deleteChunks(ctx context.Context, m *models.FileMetadata) error {
	if s.store == nil {
		return nil
	}
	if m.DocID != "" {
		if err := s.store.DeleteWhere(ctx, ingest.KeyDocID, m.DocID); err != nil {
			return apperr.External("delete chunks", err)
		}
		return nil
	}

	aliases := []struct{ field, value string }{
		{ingest.KeySource, m.Source},
		{KeyOriginalFilename, m.OriginalFilename},
		{KeyStoredFilename, m.StoredFilename},
	}
	var errs []error
	for _, a := range aliases {
		if a.value == "" {
			continue
		}
		if err := s.store.DeleteWhere(ctx, a.field, a.value); err != nil {
			errs = append(errs, apperr.External("delete chunks by "+a.field, err))
		}
	}
	return errors.Join(errs...)
}

func failed(res ItemResult, err error) ItemResult {
	res.Status = ItemError
	res.Err = err
	res.Error = err.Error()
	return res
}
