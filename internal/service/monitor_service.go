package service

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"
	"github.com/samber/lo"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"phonewatch-service/internal/domain/monitor"
	"phonewatch-service/internal/repository"
	"phonewatch-service/internal/settings"
)

var (
	ErrInvalidInput = errors.New("invalid input")
	ErrNotFound     = errors.New("not found")
	ErrUnauthorized = errors.New("unauthorized")
)

type MonitorService struct {
	repo      *repository.MonitorRepository
	store     *settings.Store
	jwtSecret []byte
	tokenTTL  time.Duration
	log       zerolog.Logger
}

func NewMonitorService(
	repo *repository.MonitorRepository,
	store *settings.Store,
	jwtSecret []byte,
	tokenTTL time.Duration,
	log zerolog.Logger,
) *MonitorService {
	if tokenTTL <= 0 {
		tokenTTL = 24 * time.Hour
	}
	return &MonitorService{
		repo:      repo,
		store:     store,
		jwtSecret: jwtSecret,
		tokenTTL:  tokenTTL,
		log:       log,
	}
}

// Login verifies credentials against the users table and issues a
// signed session token.
func (s *MonitorService) Login(ctx context.Context, username, password string) (string, error) {
	if username == "" || password == "" {
		return "", fmt.Errorf("%w: username and password are required", ErrInvalidInput)
	}

	user, err := s.repo.GetUserByUsername(ctx, username)
	if err != nil {
		return "", fmt.Errorf("failed to look up user: %w", err)
	}
	if user == nil {
		return "", ErrUnauthorized
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return "", ErrUnauthorized
	}

	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": user.Username,
		"uid": user.ID,
		"iat": now.Unix(),
		"exp": now.Add(s.tokenTTL).Unix(),
	})
	signed, err := token.SignedString(s.jwtSecret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}

	s.log.Info().Str("username", username).Msg("user logged in")
	return signed, nil
}

// VerifyToken checks a session token and returns the subject username.
func (s *MonitorService) VerifyToken(tokenString string) (string, error) {
	parsed, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
		return s.jwtSecret, nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	if err != nil || !parsed.Valid {
		return "", ErrUnauthorized
	}
	sub, err := parsed.Claims.GetSubject()
	if err != nil || sub == "" {
		return "", ErrUnauthorized
	}
	return sub, nil
}

func (s *MonitorService) ListDetections(ctx context.Context, limit, offset int) ([]DetectionInfo, int64, error) {
	if limit <= 0 {
		limit = 50
	}
	if limit > 100 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}

	rows, total, err := s.repo.FindDetections(ctx, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to find detections: %w", err)
	}

	infos := lo.Map(rows, func(row repository.Detection, _ int) DetectionInfo {
		return DetectionInfo{
			ID:         row.ID,
			Location:   row.Location,
			ZoneName:   row.ZoneName,
			Confidence: row.Confidence,
			ImageURL:   "/detections/" + filepath.Base(row.ImagePath),
			Status:     row.Status,
			CreatedAt:  row.CreatedAt,
		}
	})
	return infos, total, nil
}

// DeleteDetection removes the database record and its evidence image.
// A missing file is not an error; the record is the source of truth.
func (s *MonitorService) DeleteDetection(ctx context.Context, id int64) error {
	imagePath, err := s.repo.DeleteDetection(ctx, id)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%w: detection %d", ErrNotFound, id)
	}
	if err != nil {
		return fmt.Errorf("failed to delete detection: %w", err)
	}

	if imagePath != "" {
		if err := os.Remove(imagePath); err != nil && !os.IsNotExist(err) {
			s.log.Warn().Err(err).Str("path", imagePath).Msg("failed to remove evidence image")
		}
	}
	return nil
}

func (s *MonitorService) DashboardStats(ctx context.Context) (DashboardStats, error) {
	now := time.Now()
	startOfDay := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())

	total, err := s.repo.CountDetectionsSince(ctx, time.Time{})
	if err != nil {
		return DashboardStats{}, fmt.Errorf("failed to count detections: %w", err)
	}
	today, err := s.repo.CountDetectionsSince(ctx, startOfDay)
	if err != nil {
		return DashboardStats{}, fmt.Errorf("failed to count today's detections: %w", err)
	}
	week, err := s.repo.CountDetectionsSince(ctx, startOfDay.AddDate(0, 0, -6))
	if err != nil {
		return DashboardStats{}, fmt.Errorf("failed to count weekly detections: %w", err)
	}

	return DashboardStats{
		TotalDetections: total,
		TodayDetections: today,
		WeekDetections:  week,
	}, nil
}

func (s *MonitorService) GetSettings() monitor.Settings {
	return s.store.Snapshot()
}

// UpdateSettings validates and applies the new settings, then persists
// them so they survive a restart.
func (s *MonitorService) UpdateSettings(ctx context.Context, next monitor.Settings) error {
	if err := s.store.Replace(next); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	if err := s.repo.SaveSettings(ctx, s.store.Snapshot()); err != nil {
		return fmt.Errorf("failed to persist settings: %w", err)
	}
	s.log.Info().Msg("settings updated")
	return nil
}

func (s *MonitorService) UpdateZones(ctx context.Context, zones []monitor.Zone, legacy *monitor.Rect) error {
	next := s.store.Snapshot()
	next.Zones = zones
	next.LegacyROI = legacy
	if err := s.store.Replace(next); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	if err := s.repo.SaveSettings(ctx, s.store.Snapshot()); err != nil {
		return fmt.Errorf("failed to persist zones: %w", err)
	}
	s.log.Info().Int("zones", len(zones)).Msg("detection zones updated")
	return nil
}

type DetectionInfo struct {
	ID         int64     `json:"id"`
	Location   string    `json:"location"`
	ZoneName   *string   `json:"zone_name,omitempty"`
	Confidence float64   `json:"confidence"`
	ImageURL   string    `json:"image_url"`
	Status     string    `json:"status"`
	CreatedAt  time.Time `json:"created_at"`
}

type DashboardStats struct {
	TotalDetections int64 `json:"total_detections"`
	TodayDetections int64 `json:"today_detections"`
	WeekDetections  int64 `json:"week_detections"`
}
