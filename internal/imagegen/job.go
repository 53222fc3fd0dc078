package imagegen

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/suPer8Hu/webchat/internal/common"
	"github.com/suPer8Hu/webchat/internal/logger"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type JobStatus string

const (
	JobQueued    JobStatus = "queued"
	JobRunning   JobStatus = "running"
	JobSucceeded JobStatus = "succeeded"
	JobFailed    JobStatus = "failed"
)

var (
	ErrJobNotFound   = common.ErrNotFound
	ErrQueueDisabled = errors.New("async image jobs are disabled")
)

type ImageJob struct {
	ID string `gorm:"primaryKey;size:26" json:"job_id"` // ULID length

	UserID uint64 `gorm:"not null;index;index:uniq_image_job_idempo,unique,priority:1" json:"-"`

	Prompt  string                     `gorm:"type:text;not null" json:"prompt"`
	Options datatypes.JSONType[Options] `json:"options"`

	IdempotencyKey *string `gorm:"type:varchar(128);index:uniq_image_job_idempo,unique,priority:2" json:"idempotency_key,omitempty"`

	Status JobStatus `gorm:"type:varchar(16);index;not null" json:"status"`

	// set when succeeded
	ResultFileID *string `gorm:"type:varchar(32)" json:"result_file_id,omitempty"`

	// set when failed
	Error *string `gorm:"type:text" json:"error,omitempty"`

	Attempts int `gorm:"not null;default:0" json:"attempts"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (ImageJob) TableName() string { return "image_jobs" }

type JobRepo struct {
	db *gorm.DB
}

func NewJobRepo(db *gorm.DB) *JobRepo {
	return &JobRepo{db: db}
}

func (r *JobRepo) Get(ctx context.Context, id string) (*ImageJob, error) {
	var j ImageJob
	err := r.db.WithContext(ctx).First(&j, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, err
	}
	return &j, nil
}

func (r *JobRepo) getByIdempotencyKey(ctx context.Context, userID uint64, key string) (*ImageJob, error) {
	var j ImageJob
	if err := r.db.WithContext(ctx).
		Where("user_id = ? AND idempotency_key = ?", userID, key).
		First(&j).Error; err != nil {
		return nil, err
	}
	return &j, nil
}

// CreateOrGetExisting inserts job unless (user_id, idempotency_key) already exists,
// in which case the existing job is returned with created=false.
func (r *JobRepo) CreateOrGetExisting(ctx context.Context, job *ImageJob) (*ImageJob, bool, error) {
	if job.IdempotencyKey == nil || *job.IdempotencyKey == "" {
		job.IdempotencyKey = nil
		if err := r.db.WithContext(ctx).Create(job).Error; err != nil {
			return nil, false, err
		}
		return job, true, nil
	}

	err := r.db.WithContext(ctx).Create(job).Error
	if err == nil {
		return job, true, nil
	}

	existing, getErr := r.getByIdempotencyKey(ctx, job.UserID, *job.IdempotencyKey)
	if getErr == nil {
		return existing, false, nil
	}
	if errors.Is(getErr, gorm.ErrRecordNotFound) {
		return nil, false, err
	}
	return nil, false, getErr
}

// MarkRunning moves a queued job to running and counts the attempt. It reports
// false when the job is not queued.
func (r *JobRepo) MarkRunning(ctx context.Context, id string) (bool, error) {
	res := r.db.WithContext(ctx).Model(&ImageJob{}).
		Where("id = ? AND status = ?", id, JobQueued).
		Updates(map[string]any{
			"status":   JobRunning,
			"attempts": gorm.Expr("attempts + 1"),
		})
	return res.RowsAffected > 0, res.Error
}

func (r *JobRepo) MarkSucceeded(ctx context.Context, id, fileID string) error {
	return r.db.WithContext(ctx).Model(&ImageJob{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status":         JobSucceeded,
			"result_file_id": fileID,
			"error":          nil,
		}).Error
}

func (r *JobRepo) MarkFailed(ctx context.Context, id, errMsg string) error {
	return r.db.WithContext(ctx).Model(&ImageJob{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status":         JobFailed,
			"error":          errMsg,
			"result_file_id": nil,
		}).Error
}

// Requeue returns a running job to queued for another attempt.
func (r *JobRepo) Requeue(ctx context.Context, id, errMsg string) error {
	return r.db.WithContext(ctx).Model(&ImageJob{}).
		Where("id = ? AND status = ?", id, JobRunning).
		Updates(map[string]any{
			"status": JobQueued,
			"error":  errMsg,
		}).Error
}

// JobPublisher hands job ids to the worker queue.
type JobPublisher interface {
	PublishJob(ctx context.Context, jobID string) error
}

type JobService struct {
	repo      *JobRepo
	gateway   *Gateway
	publisher JobPublisher
	log       *logger.Logger
}

// NewJobService builds the async job API. publisher may be nil, which disables Submit.
func NewJobService(repo *JobRepo, gateway *Gateway, publisher JobPublisher, log *logger.Logger) *JobService {
	if log == nil {
		log = logger.Nop()
	}
	return &JobService{repo: repo, gateway: gateway, publisher: publisher, log: log.With("component", "image_jobs")}
}

func (s *JobService) Enabled() bool { return s.publisher != nil }

// Submit records a job and queues it. A repeated idempotency key returns the
// original job with created=false and nothing is published.
func (s *JobService) Submit(ctx context.Context, userID uint64, prompt string, opts Options, idempotencyKey string) (*ImageJob, bool, error) {
	if s.publisher == nil {
		return nil, false, ErrQueueDisabled
	}
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return nil, false, ErrEmptyPrompt
	}
	opts, err := opts.Normalize()
	if err != nil {
		return nil, false, err
	}

	id, err := common.NewULID()
	if err != nil {
		return nil, false, err
	}
	job := &ImageJob{
		ID:      id,
		UserID:  userID,
		Prompt:  prompt,
		Options: datatypes.NewJSONType(opts),
		Status:  JobQueued,
	}
	if k := strings.TrimSpace(idempotencyKey); k != "" {
		job.IdempotencyKey = &k
	}

	job, created, err := s.repo.CreateOrGetExisting(ctx, job)
	if err != nil {
		return nil, false, err
	}
	if !created {
		return job, false, nil
	}

	if err := s.publisher.PublishJob(ctx, job.ID); err != nil {
		s.log.Error("publish image job failed", "job_id", job.ID, "error", err)
		_ = s.repo.MarkFailed(context.WithoutCancel(ctx), job.ID, "could not queue job")
		return nil, false, err
	}
	return job, true, nil
}

// Get returns the job if userID owns it.
func (s *JobService) Get(ctx context.Context, userID uint64, jobID string) (*ImageJob, error) {
	j, err := s.repo.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if j.UserID != userID {
		return nil, ErrJobNotFound
	}
	return j, nil
}

// Abandon marks a job failed when its queue message is gone for good.
func (s *JobService) Abandon(ctx context.Context, jobID string, cause error) {
	if err := s.repo.MarkFailed(ctx, jobID, fmt.Sprintf("could not schedule retry: %v", cause)); err != nil {
		s.log.Error("mark job failed failed", "job_id", jobID, "error", err)
	}
}

// Run executes a queued job. Jobs that are not queued are skipped, which makes
// redelivery harmless. On failure the job goes back to queued unless lastAttempt.
func (s *JobService) Run(ctx context.Context, jobID string, lastAttempt bool) error {
	ok, err := s.repo.MarkRunning(ctx, jobID)
	if err != nil {
		return err
	}
	if !ok {
		s.log.Info("skip job not in queued state", "job_id", jobID)
		return nil
	}

	j, err := s.repo.Get(ctx, jobID)
	if err != nil {
		return err
	}

	meta, genErr := s.gateway.GenerateImage(ctx, j.UserID, j.Prompt, j.Options.Data())
	if genErr != nil {
		if lastAttempt {
			if err := s.repo.MarkFailed(ctx, jobID, genErr.Error()); err != nil {
				s.log.Error("mark job failed failed", "job_id", jobID, "error", err)
			}
		} else if err := s.repo.Requeue(ctx, jobID, genErr.Error()); err != nil {
			s.log.Error("requeue job failed", "job_id", jobID, "error", err)
		}
		return genErr
	}
	return s.repo.MarkSucceeded(ctx, jobID, meta.ID)
}
