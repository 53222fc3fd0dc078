package imagegen

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/suPer8Hu/webchat/internal/logger"
)

type fakePublisher struct {
	mu        sync.Mutex
	published []string
	err       error
}

func (p *fakePublisher) PublishJob(ctx context.Context, jobID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.published = append(p.published, jobID)
	return nil
}

func newJobService(t *testing.T, pub JobPublisher) *JobService {
	t.Helper()
	db := openTestDB(t)
	gw := NewGateway(nil, nil, nil, newFileStore(t, db), logger.Nop())
	return NewJobService(NewJobRepo(db), gw, pub, logger.Nop())
}

func TestSubmit_IdempotencyKeyReturnsExisting(t *testing.T) {
	ctx := context.Background()
	pub := &fakePublisher{}
	svc := newJobService(t, pub)

	first, created, err := svc.Submit(ctx, 1, "a boat", Options{}, "key-1")
	require.NoError(t, err)
	assert.True(t, created)
	assert.Len(t, first.ID, 26)
	assert.Equal(t, JobQueued, first.Status)

	again, created, err := svc.Submit(ctx, 1, "a boat", Options{}, "key-1")
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, again.ID)

	// same key, different user is a different job
	other, created, err := svc.Submit(ctx, 2, "a boat", Options{}, "key-1")
	require.NoError(t, err)
	assert.True(t, created)
	assert.NotEqual(t, first.ID, other.ID)

	assert.Equal(t, []string{first.ID, other.ID}, pub.published)
}

func TestSubmit_DisabledAndInvalid(t *testing.T) {
	ctx := context.Background()

	_, _, err := newJobService(t, nil).Submit(ctx, 1, "x", Options{}, "")
	assert.ErrorIs(t, err, ErrQueueDisabled)

	svc := newJobService(t, &fakePublisher{})
	_, _, err = svc.Submit(ctx, 1, " ", Options{}, "")
	assert.ErrorIs(t, err, ErrEmptyPrompt)
	_, _, err = svc.Submit(ctx, 1, "x", Options{Style: "pixel"}, "")
	assert.ErrorIs(t, err, ErrInvalidStyle)
}

func TestSubmit_PublishFailureMarksJobFailed(t *testing.T) {
	ctx := context.Background()
	svc := newJobService(t, &fakePublisher{err: errors.New("broker down")})

	_, _, err := svc.Submit(ctx, 1, "x", Options{}, "k")
	require.Error(t, err)

	var jobs []ImageJob
	require.NoError(t, svc.repo.db.Find(&jobs).Error)
	require.Len(t, jobs, 1)
	assert.Equal(t, JobFailed, jobs[0].Status)
}

func TestRun_SucceedsOnceAndSkipsRedelivery(t *testing.T) {
	ctx := context.Background()
	svc := newJobService(t, &fakePublisher{})

	job, _, err := svc.Submit(ctx, 4, "a garden", Options{Width: 64, Height: 64, Style: StyleOrganic}, "")
	require.NoError(t, err)

	require.NoError(t, svc.Run(ctx, job.ID, false))
	got, err := svc.Get(ctx, 4, job.ID)
	require.NoError(t, err)
	assert.Equal(t, JobSucceeded, got.Status)
	require.NotNil(t, got.ResultFileID)
	assert.Equal(t, 1, got.Attempts)
	assert.Equal(t, StyleOrganic, got.Options.Data().Style)

	// a redelivered message must not generate twice
	require.NoError(t, svc.Run(ctx, job.ID, false))
	again, err := svc.Get(ctx, 4, job.ID)
	require.NoError(t, err)
	assert.Equal(t, *got.ResultFileID, *again.ResultFileID)
	assert.Equal(t, 1, again.Attempts)

	_, err = svc.Get(ctx, 5, job.ID)
	assert.ErrorIs(t, err, ErrJobNotFound)
}

func TestAbandon_MarksQueuedJobFailed(t *testing.T) {
	ctx := context.Background()
	svc := newJobService(t, &fakePublisher{})

	job, _, err := svc.Submit(ctx, 3, "a harbour", Options{}, "")
	require.NoError(t, err)

	svc.Abandon(ctx, job.ID, errors.New("channel closed"))

	got, err := svc.Get(ctx, 3, job.ID)
	require.NoError(t, err)
	assert.Equal(t, JobFailed, got.Status)
	require.NotNil(t, got.Error)
	assert.Contains(t, *got.Error, "channel closed")
}
