// Package auth owns users, password checks and browser sessions.
package auth

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/suPer8Hu/webchat/internal/logger"
	"github.com/suPer8Hu/webchat/internal/models"
	"gorm.io/gorm"
)

var (
	ErrInvalidCredentials = errors.New("invalid username or password")
	ErrSessionInvalid     = errors.New("session is missing, expired or revoked")
	ErrUserExists         = errors.New("username already taken")
	ErrUserNotFound       = errors.New("user not found")
	ErrInvalidRole        = errors.New("role must be super or employer")
	ErrInvalidUsername    = errors.New("username must be 3-64 characters")
)

type Service struct {
	db     *gorm.DB
	secret string
	ttl    time.Duration
	log    *logger.Logger
	now    func() time.Time
}

func NewService(db *gorm.DB, secret string, ttl time.Duration, log *logger.Logger) *Service {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Service{db: db, secret: secret, ttl: ttl, log: log.With("component", "auth"), now: time.Now}
}

func (s *Service) TTL() time.Duration { return s.ttl }

// Client is the request snapshot stored on sessions and users.
type Client struct {
	IP        string
	UserAgent string
}

type NewUser struct {
	Username       string
	Password       string
	Role           models.Role
	JobTitle       string
	Company        string
	JobDescription string
}

func (s *Service) CreateUser(ctx context.Context, in NewUser) (*models.User, error) {
	username := strings.TrimSpace(in.Username)
	if len(username) < 3 || len(username) > 64 {
		return nil, ErrInvalidUsername
	}
	if in.Role == "" {
		in.Role = models.RoleEmployer
	}
	if !in.Role.Valid() {
		return nil, ErrInvalidRole
	}
	hash, err := HashPassword(in.Password)
	if err != nil {
		return nil, err
	}

	var cnt int64
	if err := s.db.WithContext(ctx).Model(&models.User{}).Where("username = ?", username).Count(&cnt).Error; err != nil {
		return nil, err
	}
	if cnt > 0 {
		return nil, ErrUserExists
	}

	u := &models.User{
		Username:       username,
		PasswordHash:   hash,
		Role:           in.Role,
		JobTitle:       strings.TrimSpace(in.JobTitle),
		Company:        strings.TrimSpace(in.Company),
		JobDescription: strings.TrimSpace(in.JobDescription),
	}
	if err := s.db.WithContext(ctx).Create(u).Error; err != nil {
		return nil, err
	}
	s.log.Info("user created", "user_id", u.ID, "role", u.Role)
	return u, nil
}

func (s *Service) SetRole(ctx context.Context, username string, role models.Role) error {
	if !role.Valid() {
		return ErrInvalidRole
	}
	res := s.db.WithContext(ctx).Model(&models.User{}).
		Where("username = ?", strings.TrimSpace(username)).
		Update("role", role)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrUserNotFound
	}
	return nil
}

func (s *Service) GetUser(ctx context.Context, id uint64) (*models.User, error) {
	var u models.User
	err := s.db.WithContext(ctx).First(&u, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// Login checks credentials, opens a session row and returns the signed token
// carried by the session cookie.
func (s *Service) Login(ctx context.Context, username, password string, client Client) (string, *models.User, error) {
	var u models.User
	err := s.db.WithContext(ctx).Where("username = ?", strings.TrimSpace(username)).First(&u).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", nil, ErrInvalidCredentials
	}
	if err != nil {
		return "", nil, err
	}
	if !CheckPassword(u.PasswordHash, password) {
		return "", nil, ErrInvalidCredentials
	}

	now := s.now()
	sess := &models.UserSession{
		ID:             uuid.NewString(),
		UserID:         u.ID,
		IP:             client.IP,
		UserAgent:      truncate(client.UserAgent, 512),
		LastActivityAt: now,
		ExpiresAt:      now.Add(s.ttl),
		Active:         true,
	}
	if err := s.db.WithContext(ctx).Create(sess).Error; err != nil {
		return "", nil, err
	}

	token, err := SignJWT(u.ID, sess.ID, s.secret, s.ttl)
	if err != nil {
		return "", nil, err
	}
	s.log.Info("login", "user_id", u.ID, "session_id", sess.ID)
	return token, &u, nil
}

// Authenticate resolves a session token to its user and records the request on
// both the session and the user.
func (s *Service) Authenticate(ctx context.Context, token string, client Client) (*models.User, *models.UserSession, error) {
	userID, sessionID, err := ParseJWT(token, s.secret)
	if err != nil {
		return nil, nil, ErrSessionInvalid
	}

	now := s.now()
	var sess models.UserSession
	err = s.db.WithContext(ctx).
		Where("id = ? AND user_id = ? AND active = ? AND expires_at > ?", sessionID, userID, true, now).
		First(&sess).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil, ErrSessionInvalid
	}
	if err != nil {
		return nil, nil, err
	}

	u, err := s.GetUser(ctx, userID)
	if errors.Is(err, ErrUserNotFound) {
		return nil, nil, ErrSessionInvalid
	}
	if err != nil {
		return nil, nil, err
	}

	if err := s.touch(ctx, u, &sess, client, now); err != nil {
		s.log.Warn("activity update failed", "user_id", u.ID, "error", err)
	}
	return u, &sess, nil
}

func (s *Service) touch(ctx context.Context, u *models.User, sess *models.UserSession, client Client, now time.Time) error {
	ua := truncate(client.UserAgent, 512)
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&models.UserSession{}).Where("id = ?", sess.ID).
			Update("last_activity_at", now).Error; err != nil {
			return err
		}
		if err := tx.Model(&models.User{}).Where("id = ?", u.ID).Updates(map[string]any{
			"last_ip":         client.IP,
			"last_user_agent": ua,
			"request_count":   gorm.Expr("request_count + 1"),
			"last_active_at":  now,
		}).Error; err != nil {
			return err
		}
		sess.LastActivityAt = now
		u.LastIP = client.IP
		u.LastUserAgent = ua
		u.RequestCount++
		u.LastActiveAt = &now
		return nil
	})
}

// Logout deactivates the session. Unknown ids are ignored.
func (s *Service) Logout(ctx context.Context, sessionID string) error {
	return s.db.WithContext(ctx).Model(&models.UserSession{}).
		Where("id = ?", sessionID).
		Update("active", false).Error
}

// truncate cuts s to at most n bytes without splitting a rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
