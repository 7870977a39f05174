package audit

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// RepositoryPort defines data access methods for the audit service.
type RepositoryPort interface {
	Insert(ctx context.Context, entry Entry) error
	Window(ctx context.Context, filters TimelineFilters, offset, limit int) ([]Entry, error)
	DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// Service coordinates recording and reading the mutation trail.
type Service struct {
	repo   RepositoryPort
	logger *slog.Logger
}

// NewService builds a Service instance.
func NewService(repo RepositoryPort, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, logger: logger}
}

// Record stores one entry. Recording is best-effort: a failed write is logged
// but never fails the mutation it describes.
func (s *Service) Record(ctx context.Context, entry Entry) {
	if s == nil || s.repo == nil {
		return
	}
	if err := s.repo.Insert(ctx, entry); err != nil {
		s.logger.Error("audit record failed",
			slog.String("action", entry.Action),
			slog.Int64("target_id", entry.TargetID),
			slog.Any("error", err))
	}
}

// Timeline returns a page of entries matching the filters.
func (s *Service) Timeline(ctx context.Context, filters TimelineFilters) (Result, error) {
	if s.repo == nil {
		return Result{}, fmt.Errorf("audit: repository not configured")
	}
	pageSize := filters.PageSize
	if pageSize <= 0 {
		pageSize = 20
	}
	if pageSize > 100 {
		pageSize = 100
	}
	page := filters.Page
	if page <= 0 {
		page = 1
	}
	offset := (page - 1) * pageSize
	rows, err := s.repo.Window(ctx, filters, offset, pageSize+1)
	if err != nil {
		return Result{}, err
	}
	hasNext := len(rows) > pageSize
	if hasNext {
		rows = rows[:pageSize]
	}
	paging := PagingInfo{Page: page, PageSize: pageSize, HasNext: hasNext}
	if page > 1 {
		paging.PrevPage = page - 1
	}
	if hasNext {
		paging.NextPage = page + 1
	}
	return Result{Rows: rows, Paging: paging}, nil
}

// Prune deletes entries older than the retention window.
func (s *Service) Prune(ctx context.Context, retention time.Duration) (int64, error) {
	if s.repo == nil {
		return 0, fmt.Errorf("audit: repository not configured")
	}
	return s.repo.DeleteBefore(ctx, time.Now().UTC().Add(-retention))
}
