// Package blob stores uploaded and generated files per user. Bytes live in an
// ObjectStore; metadata lives in the stored_files index.
package blob

import (
	"bytes"
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/suPer8Hu/webchat/internal/common"
	"github.com/suPer8Hu/webchat/internal/logger"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Category string

const (
	CategoryImages    Category = "images"
	CategoryDocuments Category = "documents"
	CategoryArtifacts Category = "artifacts"
)

func (c Category) Valid() bool {
	switch c {
	case CategoryImages, CategoryDocuments, CategoryArtifacts:
		return true
	}
	return false
}

var (
	ErrNotFound        = common.ErrNotFound
	ErrInvalidCategory = errors.New("invalid file category")
	ErrEmptyFile       = errors.New("file is empty")
	ErrSaveFailed      = errors.New("failed to save file")
	ErrReadFailed      = errors.New("failed to read file")
	ErrDeleteFailed    = errors.New("failed to delete file")
)

type FileMetadata struct {
	ID           string            `gorm:"type:varchar(32);primaryKey" json:"id"`
	UserID       uint64            `gorm:"not null;index:idx_stored_files_user_cat,priority:1" json:"-"`
	Category     Category          `gorm:"type:varchar(16);not null;index:idx_stored_files_user_cat,priority:2" json:"category"`
	OriginalName string            `gorm:"type:varchar(255);not null" json:"original_name"`
	StoredName   string            `gorm:"type:varchar(255);not null" json:"stored_name"`
	ContentType  string            `gorm:"type:varchar(128);not null" json:"content_type"`
	Size         int64             `gorm:"not null" json:"size"`
	Checksum     string            `gorm:"type:char(64);not null" json:"checksum"`
	Tags         datatypes.JSONMap `json:"tags,omitempty"`
	CreatedAt    time.Time         `gorm:"index" json:"created_at"`
}

func (FileMetadata) TableName() string { return "stored_files" }

// Key is the object key of the file's bytes.
func (m *FileMetadata) Key() string {
	return objectKey(m.UserID, m.Category, m.StoredName)
}

func objectKey(userID uint64, category Category, storedName string) string {
	return fmt.Sprintf("%d/%s/%s", userID, category, storedName)
}

// FileID derives the stable id of a stored file from its owner and stored name.
func FileID(userID uint64, storedName string) string {
	sum := sha256.Sum256([]byte(strconv.FormatUint(userID, 10) + ":" + storedName))
	return hex.EncodeToString(sum[:])[:32]
}

type Store struct {
	db      *gorm.DB
	objects ObjectStore
	log     *logger.Logger
	now     func() time.Time
}

func NewStore(db *gorm.DB, objects ObjectStore, log *logger.Logger) *Store {
	if log == nil {
		log = logger.Nop()
	}
	return &Store{db: db, objects: objects, log: log.With("component", "blob"), now: time.Now}
}

// Save writes data under a collision resistant name and indexes it.
// An empty category is inferred from the content type.
func (s *Store) Save(ctx context.Context, userID uint64, data []byte, originalName, mimeType string, category Category, tags map[string]any) (*FileMetadata, error) {
	if len(data) == 0 {
		return nil, ErrEmptyFile
	}

	mimeType = normalizeMIME(mimeType)
	if mimeType == "" || mimeType == "application/octet-stream" {
		mimeType = mimetype.Detect(data).String()
	}
	if category == "" {
		category = CategoryDocuments
		if strings.HasPrefix(mimeType, "image/") {
			category = CategoryImages
		}
	}
	if !category.Valid() {
		return nil, ErrInvalidCategory
	}

	token, err := randomHex(8)
	if err != nil {
		s.log.Error("random name token failed", "error", err)
		return nil, ErrSaveFailed
	}

	now := s.now()
	base := strings.TrimSuffix(filepath.Base(originalName), filepath.Ext(originalName))
	storedName := fmt.Sprintf("%d_%s_%s%s", now.UnixMilli(), token, sanitizeName(base), extensionFor(originalName, mimeType, data))
	sum := sha256.Sum256(data)

	meta := &FileMetadata{
		ID:           FileID(userID, storedName),
		UserID:       userID,
		Category:     category,
		OriginalName: displayName(originalName, storedName),
		StoredName:   storedName,
		ContentType:  mimeType,
		Size:         int64(len(data)),
		Checksum:     hex.EncodeToString(sum[:]),
		Tags:         datatypes.JSONMap(tags),
		CreatedAt:    now,
	}

	if err := s.objects.Put(ctx, meta.Key(), bytes.NewReader(data), meta.Size, mimeType); err != nil {
		s.log.Error("store object failed", "key", meta.Key(), "error", err)
		return nil, ErrSaveFailed
	}
	if err := s.db.WithContext(ctx).Create(meta).Error; err != nil {
		s.log.Error("index file failed", "file_id", meta.ID, "error", err)
		if derr := s.objects.Delete(context.WithoutCancel(ctx), meta.Key()); derr != nil {
			s.log.Warn("remove orphan object failed", "key", meta.Key(), "error", derr)
		}
		return nil, ErrSaveFailed
	}
	return meta, nil
}

// List returns the user's files, newest first. An empty category lists all.
func (s *Store) List(ctx context.Context, userID uint64, category Category) ([]FileMetadata, error) {
	q := s.db.WithContext(ctx).Where("user_id = ?", userID)
	if category != "" {
		if !category.Valid() {
			return nil, ErrInvalidCategory
		}
		q = q.Where("category = ?", category)
	}
	out := []FileMetadata{}
	if err := q.Order("created_at DESC, stored_name DESC").Find(&out).Error; err != nil {
		s.log.Error("list files failed", "user_id", userID, "error", err)
		return nil, ErrReadFailed
	}
	return out, nil
}

// Get returns the index record only.
func (s *Store) Get(ctx context.Context, userID uint64, fileID string) (*FileMetadata, error) {
	var meta FileMetadata
	err := s.db.WithContext(ctx).Where("id = ? AND user_id = ?", fileID, userID).First(&meta).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		s.log.Error("lookup file failed", "file_id", fileID, "error", err)
		return nil, ErrReadFailed
	}
	return &meta, nil
}

// Read returns metadata and content. The checksum is reported, not verified.
func (s *Store) Read(ctx context.Context, userID uint64, fileID string) (*FileMetadata, []byte, error) {
	meta, err := s.Get(ctx, userID, fileID)
	if err != nil {
		return nil, nil, err
	}
	rc, err := s.objects.Get(ctx, meta.Key())
	if errors.Is(err, ErrObjectNotFound) {
		s.log.Warn("indexed file has no object", "file_id", fileID, "key", meta.Key())
		return nil, nil, ErrNotFound
	}
	if err != nil {
		s.log.Error("open object failed", "key", meta.Key(), "error", err)
		return nil, nil, ErrReadFailed
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		s.log.Error("read object failed", "key", meta.Key(), "error", err)
		return nil, nil, ErrReadFailed
	}
	return meta, data, nil
}

// Delete removes the file. It reports false when the id is unknown or owned by
// another user.
func (s *Store) Delete(ctx context.Context, userID uint64, fileID string) (bool, error) {
	meta, err := s.Get(ctx, userID, fileID)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, ErrDeleteFailed
	}

	if err := s.objects.Delete(ctx, meta.Key()); err != nil && !errors.Is(err, ErrObjectNotFound) {
		s.log.Error("delete object failed", "key", meta.Key(), "error", err)
		return false, ErrDeleteFailed
	}
	res := s.db.WithContext(ctx).Where("id = ? AND user_id = ?", fileID, userID).Delete(&FileMetadata{})
	if res.Error != nil {
		s.log.Error("delete index row failed", "file_id", fileID, "error", res.Error)
		return false, ErrDeleteFailed
	}
	return res.RowsAffected > 0, nil
}

// Reindex adds index rows for objects that have none, e.g. files written before
// the index existed. The original name is recovered from the stored name.
func (s *Store) Reindex(ctx context.Context) (int, error) {
	objs, err := s.objects.List(ctx, "")
	if err != nil {
		return 0, fmt.Errorf("list objects: %w", err)
	}

	added := 0
	for _, obj := range objs {
		userID, category, storedName, ok := parseKey(obj.Key)
		if !ok {
			s.log.Debug("skip unrecognised object", "key", obj.Key)
			continue
		}
		id := FileID(userID, storedName)

		var n int64
		if err := s.db.WithContext(ctx).Model(&FileMetadata{}).Where("id = ?", id).Count(&n).Error; err != nil {
			return added, err
		}
		if n > 0 {
			continue
		}

		rc, err := s.objects.Get(ctx, obj.Key)
		if err != nil {
			return added, fmt.Errorf("open %s: %w", obj.Key, err)
		}
		data, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			return added, fmt.Errorf("read %s: %w", obj.Key, err)
		}
		sum := sha256.Sum256(data)

		meta := &FileMetadata{
			ID:           id,
			UserID:       userID,
			Category:     category,
			OriginalName: RecoverOriginalName(storedName),
			StoredName:   storedName,
			ContentType:  mimetype.Detect(data).String(),
			Size:         int64(len(data)),
			Checksum:     hex.EncodeToString(sum[:]),
			CreatedAt:    createdAtFromName(storedName, obj.ModTime),
		}
		if err := s.db.WithContext(ctx).Create(meta).Error; err != nil {
			return added, err
		}
		added++
	}
	return added, nil
}

func parseKey(key string) (uint64, Category, string, bool) {
	parts := strings.Split(key, "/")
	if len(parts) != 3 {
		return 0, "", "", false
	}
	userID, err := strconv.ParseUint(parts[0], 10, 64)
	if err != nil {
		return 0, "", "", false
	}
	cat := Category(parts[1])
	if !cat.Valid() || parts[2] == "" {
		return 0, "", "", false
	}
	return userID, cat, parts[2], true
}

var storedNamePattern = regexp.MustCompile(`^(\d+)_[0-9a-f]{16}_(.+)$`)

// RecoverOriginalName strips the timestamp and random prefix from a stored name.
// It is lossy: an original name that already looked like a stored name loses its
// own prefix too.
func RecoverOriginalName(storedName string) string {
	if m := storedNamePattern.FindStringSubmatch(storedName); m != nil {
		return m[2]
	}
	return storedName
}

func createdAtFromName(storedName string, fallback time.Time) time.Time {
	if m := storedNamePattern.FindStringSubmatch(storedName); m != nil {
		if ms, err := strconv.ParseInt(m[1], 10, 64); err == nil {
			return time.UnixMilli(ms)
		}
	}
	return fallback
}

var unsafeChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

const maxBaseNameLen = 64

func sanitizeName(name string) string {
	s := strings.Trim(unsafeChars.ReplaceAllString(name, "_"), "._")
	if len(s) > maxBaseNameLen {
		s = s[:maxBaseNameLen]
	}
	if s == "" {
		return "file"
	}
	return s
}

var extPattern = regexp.MustCompile(`^\.[A-Za-z0-9]{1,10}$`)

func extensionFor(originalName, mimeType string, data []byte) string {
	if ext := filepath.Ext(originalName); extPattern.MatchString(ext) {
		return strings.ToLower(ext)
	}
	if m := mimetype.Lookup(mimeType); m != nil && m.Extension() != "" {
		return m.Extension()
	}
	return mimetype.Detect(data).Extension()
}

func displayName(originalName, storedName string) string {
	name := strings.TrimSpace(filepath.Base(originalName))
	if name == "" || name == "." || name == string(filepath.Separator) {
		return RecoverOriginalName(storedName)
	}
	return name
}

func normalizeMIME(m string) string {
	m = strings.ToLower(strings.TrimSpace(m))
	if i := strings.IndexByte(m, ';'); i >= 0 {
		m = strings.TrimSpace(m[:i])
	}
	return m
}

func randomHex(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
