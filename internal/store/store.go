package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"bracket-engine/internal/db"
	"bracket-engine/internal/models"
	"bracket-engine/internal/tournament"
)

var (
	ErrSettingsNotFound = errors.New("settings document not found")
	ErrOperatorNotFound = errors.New("operator not found")
)

// DefaultConfigName is the settings document every guild implicitly has.
const DefaultConfigName = "default"

// Store persists tournament snapshots, settings documents and operator
// accounts through gorm. It implements tournament.Store.
type Store struct {
	db *db.DB
}

func New(database *db.DB) *Store {
	return &Store{db: database}
}

// SaveState upserts the guild's snapshot row.
func (s *Store) SaveState(guildID string, phase tournament.Phase, configName string, data []byte) error {
	row := models.TournamentState{
		GuildID:    guildID,
		ConfigName: configName,
		Phase:      string(phase),
		Data:       string(data),
		UpdatedAt:  time.Now().UTC(),
	}
	err := s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "guild_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"config_name", "phase", "data", "updated_at"}),
	}).Create(&row).Error
	if err != nil {
		return fmt.Errorf("save state for guild %s: %w", guildID, err)
	}
	return nil
}

// LoadStates returns every saved snapshot.
func (s *Store) LoadStates() ([]tournament.SavedRecord, error) {
	var rows []models.TournamentState
	if err := s.db.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("load states: %w", err)
	}
	out := make([]tournament.SavedRecord, 0, len(rows))
	for _, r := range rows {
		out = append(out, tournament.SavedRecord{
			GuildID:    r.GuildID,
			ConfigName: r.ConfigName,
			Phase:      tournament.Phase(r.Phase),
			Data:       []byte(r.Data),
		})
	}
	return out, nil
}

// DeleteState drops the guild's snapshot row.
func (s *Store) DeleteState(guildID string) error {
	if err := s.db.Where("guild_id = ?", guildID).Delete(&models.TournamentState{}).Error; err != nil {
		return fmt.Errorf("delete state for guild %s: %w", guildID, err)
	}
	return nil
}

// LoadSettings fetches a named settings document. Every guild implicitly
// owns a "default" document with the engine defaults.
func (s *Store) LoadSettings(guildID, name string) (tournament.Settings, error) {
	if name == "" {
		name = DefaultConfigName
	}
	var row models.GuildSettings
	err := s.db.Where("guild_id = ? AND name = ?", guildID, name).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		if name == DefaultConfigName {
			return tournament.DefaultSettings(), nil
		}
		return tournament.Settings{}, fmt.Errorf("%s/%s: %w", guildID, name, ErrSettingsNotFound)
	}
	if err != nil {
		return tournament.Settings{}, fmt.Errorf("load settings %s/%s: %w", guildID, name, err)
	}

	var cfg tournament.Settings
	if err := json.Unmarshal([]byte(row.Document), &cfg); err != nil {
		return tournament.Settings{}, fmt.Errorf("decode settings %s/%s: %w", guildID, name, err)
	}
	return cfg, nil
}

// SaveSettings validates and upserts a named settings document. The
// document is normalized through the engine's Settings type so a restore
// reads back exactly what the engine understands.
func (s *Store) SaveSettings(guildID, name string, document []byte) error {
	var cfg tournament.Settings
	if err := json.Unmarshal(document, &cfg); err != nil {
		return fmt.Errorf("invalid settings document: %w", err)
	}
	normalized, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encode settings document: %w", err)
	}

	row := models.GuildSettings{
		GuildID:   guildID,
		Name:      name,
		Document:  string(normalized),
		UpdatedAt: time.Now().UTC(),
	}
	err = s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "guild_id"}, {Name: "name"}},
		DoUpdates: clause.AssignmentColumns([]string{"document", "updated_at"}),
	}).Create(&row).Error
	if err != nil {
		return fmt.Errorf("save settings %s/%s: %w", guildID, name, err)
	}
	return nil
}

// ListSettings names every settings document a guild owns.
func (s *Store) ListSettings(guildID string) ([]string, error) {
	var names []string
	err := s.db.Model(&models.GuildSettings{}).
		Where("guild_id = ?", guildID).
		Order("name").
		Pluck("name", &names).Error
	if err != nil {
		return nil, fmt.Errorf("list settings for guild %s: %w", guildID, err)
	}
	return names, nil
}

// DeleteSettings drops a named settings document.
func (s *Store) DeleteSettings(guildID, name string) error {
	res := s.db.Where("guild_id = ? AND name = ?", guildID, name).Delete(&models.GuildSettings{})
	if res.Error != nil {
		return fmt.Errorf("delete settings %s/%s: %w", guildID, name, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%s/%s: %w", guildID, name, ErrSettingsNotFound)
	}
	return nil
}

// CreateOperator inserts a new operator account.
func (s *Store) CreateOperator(op *models.Operator) error {
	if err := s.db.Create(op).Error; err != nil {
		return fmt.Errorf("create operator %s: %w", op.Username, err)
	}
	return nil
}

// OperatorByUsername looks an operator up for login.
func (s *Store) OperatorByUsername(username string) (*models.Operator, error) {
	var op models.Operator
	err := s.db.Where("username = ?", username).First(&op).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrOperatorNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load operator %s: %w", username, err)
	}
	return &op, nil
}
