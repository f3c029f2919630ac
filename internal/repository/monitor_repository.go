package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"phonewatch-service/internal/domain/monitor"
)

type MonitorRepository struct {
	db *gorm.DB
}

func NewMonitorRepository(db *gorm.DB) *MonitorRepository {
	return &MonitorRepository{db: db}
}

type User struct {
	ID           int64  `gorm:"primaryKey"`
	Username     string `gorm:"not null;uniqueIndex"`
	PasswordHash string `gorm:"not null"`
	CreatedAt    time.Time
}

type Detection struct {
	ID         int64  `gorm:"primaryKey"`
	Location   string `gorm:"not null"`
	ZoneName   *string
	Confidence float64
	ImagePath  string `gorm:"not null"`
	Status     string `gorm:"not null"`
	UserID     *int64
	CreatedAt  time.Time
}

type SettingsRow struct {
	ID        int64          `gorm:"primaryKey"`
	Schedule  datatypes.JSON `gorm:"not null"`
	ROIZones  datatypes.JSON `gorm:"not null"`
	Config    datatypes.JSON `gorm:"not null"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (SettingsRow) TableName() string { return "settings" }

func (r *MonitorRepository) SaveDetection(ctx context.Context, rec monitor.DetectionRecord) error {
	row := Detection{
		Location:   rec.Location,
		Confidence: rec.Confidence,
		ImagePath:  rec.ImagePath,
		Status:     rec.Status,
		UserID:     rec.UserID,
		CreatedAt:  rec.CreatedAt,
	}
	if row.CreatedAt.IsZero() {
		row.CreatedAt = time.Now()
	}
	if rec.ZoneName != "" {
		row.ZoneName = &rec.ZoneName
	}
	return r.db.WithContext(ctx).Create(&row).Error
}

func (r *MonitorRepository) FindDetections(ctx context.Context, limit, offset int) ([]Detection, int64, error) {
	var total int64
	if err := r.db.WithContext(ctx).Model(&Detection{}).Count(&total).Error; err != nil {
		return nil, 0, err
	}

	query := r.db.WithContext(ctx).Order("created_at DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if offset > 0 {
		query = query.Offset(offset)
	}

	var rows []Detection
	err := query.Find(&rows).Error
	return rows, total, err
}

func (r *MonitorRepository) DeleteDetection(ctx context.Context, id int64) (string, error) {
	var row Detection
	err := r.db.WithContext(ctx).First(&row, id).Error
	if err == gorm.ErrRecordNotFound {
		return "", gorm.ErrRecordNotFound
	}
	if err != nil {
		return "", err
	}
	if err := r.db.WithContext(ctx).Delete(&Detection{}, id).Error; err != nil {
		return "", err
	}
	return row.ImagePath, nil
}

func (r *MonitorRepository) CountDetectionsSince(ctx context.Context, since time.Time) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&Detection{}).
		Where("created_at >= ?", since).
		Count(&count).Error
	return count, err
}

// GetOrCreateSettings loads the single settings row, seeding defaults
// on first run.
func (r *MonitorRepository) GetOrCreateSettings(ctx context.Context) (monitor.Settings, error) {
	var row SettingsRow
	err := r.db.WithContext(ctx).First(&row).Error
	if err == gorm.ErrRecordNotFound {
		defaults := monitor.Settings{
			Schedule: monitor.DefaultSchedule(),
			Zones:    []monitor.Zone{},
			Config:   monitor.DefaultConfig(),
		}
		if err := r.SaveSettings(ctx, defaults); err != nil {
			return monitor.Settings{}, err
		}
		return defaults, nil
	}
	if err != nil {
		return monitor.Settings{}, err
	}
	return decodeSettings(row)
}

func (r *MonitorRepository) SaveSettings(ctx context.Context, s monitor.Settings) error {
	scheduleJSON, err := json.Marshal(s.Schedule)
	if err != nil {
		return fmt.Errorf("encoding schedule: %w", err)
	}
	zones := s.Zones
	if zones == nil {
		zones = []monitor.Zone{}
	}
	zonesJSON, err := json.Marshal(zones)
	if err != nil {
		return fmt.Errorf("encoding zones: %w", err)
	}
	configJSON, err := json.Marshal(s.Config)
	if err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}

	var row SettingsRow
	err = r.db.WithContext(ctx).First(&row).Error
	if err == gorm.ErrRecordNotFound {
		row = SettingsRow{
			Schedule:  scheduleJSON,
			ROIZones:  zonesJSON,
			Config:    configJSON,
			CreatedAt: time.Now(),
			UpdatedAt: time.Now(),
		}
		return r.db.WithContext(ctx).Create(&row).Error
	}
	if err != nil {
		return err
	}

	return r.db.WithContext(ctx).Model(&row).Updates(map[string]interface{}{
		"schedule":   scheduleJSON,
		"roi_zones":  zonesJSON,
		"config":     configJSON,
		"updated_at": time.Now(),
	}).Error
}

func decodeSettings(row SettingsRow) (monitor.Settings, error) {
	var s monitor.Settings
	if err := json.Unmarshal(row.Schedule, &s.Schedule); err != nil {
		return monitor.Settings{}, fmt.Errorf("decoding schedule: %w", err)
	}
	if err := json.Unmarshal(row.ROIZones, &s.Zones); err != nil {
		return monitor.Settings{}, fmt.Errorf("decoding zones: %w", err)
	}
	if err := json.Unmarshal(row.Config, &s.Config); err != nil {
		return monitor.Settings{}, fmt.Errorf("decoding config: %w", err)
	}
	return s, nil
}

func (r *MonitorRepository) GetUserByUsername(ctx context.Context, username string) (*User, error) {
	var user User
	err := r.db.WithContext(ctx).Where("username = ?", username).First(&user).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// EnsureUser creates the account if it is missing; existing accounts
// keep their current password.
func (r *MonitorRepository) EnsureUser(ctx context.Context, username, passwordHash string) error {
	existing, err := r.GetUserByUsername(ctx, username)
	if err != nil {
		return err
	}
	if existing != nil {
		return nil
	}
	return r.db.WithContext(ctx).Create(&User{
		Username:     username,
		PasswordHash: passwordHash,
		CreatedAt:    time.Now(),
	}).Error
}
