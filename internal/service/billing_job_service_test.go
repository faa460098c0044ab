package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/lms-billing-api/internal/models"
)

type fakeJobStore struct {
	*fakeFeeStore
	listErr      error
	lastCutoff   time.Time
	expireBefore time.Time
	expired      int64
}

func (f *fakeJobStore) ListBlockCandidates(ctx context.Context, cutoff, now time.Time, limit int) ([]models.Enrollment, error) {
	f.lastCutoff = cutoff
	if f.listErr != nil {
		return nil, f.listErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Enrollment
	for _, e := range f.enrollments {
		if e.BlockedAt == nil && !e.NextDue.After(cutoff) {
			out = append(out, *e)
		}
	}
	sortEnrollments(out)
	return out, nil
}

func (f *fakeJobStore) ExpirePendingUnblocks(ctx context.Context, before, now time.Time) (int64, error) {
	f.expireBefore = before
	return f.expired, nil
}

func newTestBillingJobService(store *fakeJobStore, now time.Time, ttl time.Duration) (*BillingJobService, *fakeNotifier) {
	notifier := &fakeNotifier{}
	svc := NewBillingJobService(store, nil, nil, notifier, nil, BillingJobConfig{Policy: testFeeConfig.Policy, RequestTTL: ttl})
	svc.now = func() time.Time { return now }
	return svc, notifier
}

func TestBillingJobServiceBlockOverdue(t *testing.T) {
	override := feeDay(2025, time.March, 20)
	store := &fakeJobStore{fakeFeeStore: newFakeFeeStore(
		models.Enrollment{ID: "enr-1", CourseID: "course-1", StudentID: "stu-1", NextDue: feeDay(2025, time.January, 1)},
		models.Enrollment{ID: "enr-2", CourseID: "course-1", StudentID: "stu-2", NextDue: feeDay(2025, time.February, 25)},
		models.Enrollment{ID: "enr-3", CourseID: "course-1", StudentID: "stu-3", NextDue: feeDay(2025, time.January, 1), BlockOverrideUntil: &override},
	)}
	now := feeDay(2025, time.March, 10)
	svc, notifier := newTestBillingJobService(store, now, 0)

	blocked, err := svc.BlockOverdue(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, blocked)
	assert.Equal(t, now.Add(-30*24*time.Hour), store.lastCutoff)
	require.NotNil(t, store.enrollments["enr-1"].BlockedAt)
	assert.Nil(t, store.enrollments["enr-2"].BlockedAt)
	assert.Nil(t, store.enrollments["enr-3"].BlockedAt)
	assert.Equal(t, 1, notifier.blocked)

	again, err := svc.BlockOverdue(context.Background())
	require.NoError(t, err)
	assert.Zero(t, again)
	assert.Equal(t, 1, notifier.blocked)
}

func TestBillingJobServiceBlockOverdueListError(t *testing.T) {
	store := &fakeJobStore{fakeFeeStore: newFakeFeeStore(), listErr: errors.New("db down")}
	svc, _ := newTestBillingJobService(store, feeDay(2025, time.March, 10), 0)

	_, err := svc.BlockOverdue(context.Background())
	require.Error(t, err)
}

func TestBillingJobServiceExpireUnblockRequests(t *testing.T) {
	now := feeDay(2025, time.March, 10)

	t.Run("disabled without ttl", func(t *testing.T) {
		store := &fakeJobStore{fakeFeeStore: newFakeFeeStore(), expired: 4}
		svc, _ := newTestBillingJobService(store, now, 0)

		n, err := svc.ExpireUnblockRequests(context.Background())
		require.NoError(t, err)
		assert.Zero(t, n)
		assert.True(t, store.expireBefore.IsZero())
	})

	t.Run("expires requests older than ttl", func(t *testing.T) {
		store := &fakeJobStore{fakeFeeStore: newFakeFeeStore(), expired: 2}
		svc, _ := newTestBillingJobService(store, now, 72*time.Hour)

		n, err := svc.ExpireUnblockRequests(context.Background())
		require.NoError(t, err)
		assert.Equal(t, int64(2), n)
		assert.Equal(t, feeDay(2025, time.March, 7), store.expireBefore)
	})
}
