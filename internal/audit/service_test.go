package audit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockAuditRepo struct {
	entries   []Entry
	insertErr error

	lastOffset int
	lastLimit  int
	deleted    int64
	cutoff     time.Time
}

func (m *mockAuditRepo) Insert(ctx context.Context, entry Entry) error {
	if m.insertErr != nil {
		return m.insertErr
	}
	m.entries = append(m.entries, entry)
	return nil
}

func (m *mockAuditRepo) Window(ctx context.Context, filters TimelineFilters, offset, limit int) ([]Entry, error) {
	m.lastOffset = offset
	m.lastLimit = limit
	if offset >= len(m.entries) {
		return nil, nil
	}
	end := offset + limit
	if end > len(m.entries) {
		end = len(m.entries)
	}
	return m.entries[offset:end], nil
}

func (m *mockAuditRepo) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	m.cutoff = cutoff
	return m.deleted, nil
}

func seedEntries(repo *mockAuditRepo, n int) {
	for i := 0; i < n; i++ {
		repo.entries = append(repo.entries, Entry{ID: int64(i + 1), Action: ActionAssignRoles})
	}
}

func TestRecordIsBestEffort(t *testing.T) {
	repo := &mockAuditRepo{insertErr: errors.New("connection refused")}
	service := NewService(repo, nil)

	// Must not panic or surface the failure.
	service.Record(context.Background(), Entry{ActorID: 1, Action: ActionAssignRoles})
	assert.Empty(t, repo.entries)

	repo.insertErr = nil
	service.Record(context.Background(), Entry{ActorID: 1, Action: ActionAssignRoles})
	assert.Len(t, repo.entries, 1)
}

func TestRecordNilService(t *testing.T) {
	var service *Service
	service.Record(context.Background(), Entry{})
}

func TestTimelineDefaultsAndClamps(t *testing.T) {
	repo := &mockAuditRepo{}
	seedEntries(repo, 5)
	service := NewService(repo, nil)

	result, err := service.Timeline(context.Background(), TimelineFilters{})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Paging.Page)
	assert.Equal(t, 20, result.Paging.PageSize)
	assert.Len(t, result.Rows, 5)
	assert.False(t, result.Paging.HasNext)

	_, err = service.Timeline(context.Background(), TimelineFilters{PageSize: 500})
	require.NoError(t, err)
	assert.Equal(t, 101, repo.lastLimit)
}

func TestTimelinePaging(t *testing.T) {
	repo := &mockAuditRepo{}
	seedEntries(repo, 25)
	service := NewService(repo, nil)

	result, err := service.Timeline(context.Background(), TimelineFilters{Page: 1, PageSize: 10})
	require.NoError(t, err)
	assert.Len(t, result.Rows, 10)
	assert.True(t, result.Paging.HasNext)
	assert.Equal(t, 2, result.Paging.NextPage)
	assert.Zero(t, result.Paging.PrevPage)

	result, err = service.Timeline(context.Background(), TimelineFilters{Page: 3, PageSize: 10})
	require.NoError(t, err)
	assert.Len(t, result.Rows, 5)
	assert.False(t, result.Paging.HasNext)
	assert.Equal(t, 2, result.Paging.PrevPage)
	assert.Equal(t, 20, repo.lastOffset)
}

func TestPrune(t *testing.T) {
	repo := &mockAuditRepo{deleted: 42}
	service := NewService(repo, nil)

	deleted, err := service.Prune(context.Background(), 90*24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(42), deleted)
	assert.WithinDuration(t, time.Now().UTC().Add(-90*24*time.Hour), repo.cutoff, time.Minute)
}
