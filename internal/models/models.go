package models

import (
	"encoding/json"
	"time"
)

// Operator represents a staff account. Role "to" drives tournaments over
// the HTTP API, role "bridge" is the chat bridge's service account.
type Operator struct {
	ID           string    `gorm:"column:id;type:varchar(36);primaryKey" json:"id"`
	Username     string    `gorm:"column:username;type:varchar(50);uniqueIndex;not null" json:"username"`
	PasswordHash string    `gorm:"column:password_hash;type:varchar(255);not null" json:"-"`
	Role         string    `gorm:"column:role;type:varchar(16);not null;default:to" json:"role"`
	GuildID      string    `gorm:"column:guild_id;type:varchar(36);not null;index:idx_guild" json:"guild_id"`
	CreatedAt    time.Time `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	UpdatedAt    time.Time `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
}

// TableName specifies the table name for Operator model
func (Operator) TableName() string {
	return "operators"
}

// TournamentState holds one guild's serialized tournament snapshot. The
// engine rewrites the row after every mutation and tick.
type TournamentState struct {
	GuildID    string    `gorm:"column:guild_id;type:varchar(36);primaryKey" json:"guild_id"`
	ConfigName string    `gorm:"column:config_name;type:varchar(50);not null;default:default" json:"config_name"`
	Phase      string    `gorm:"column:phase;type:varchar(16);not null;index:idx_phase" json:"phase"`
	Data       string    `gorm:"column:data;type:json" json:"data"`
	UpdatedAt  time.Time `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
}

// TableName specifies the table name for TournamentState model
func (TournamentState) TableName() string {
	return "tournament_states"
}

// GuildSettings is one named settings document for a guild, stored as the
// JSON the engine's Settings type serializes to.
type GuildSettings struct {
	ID        int64     `gorm:"column:id;primaryKey;autoIncrement" json:"id"`
	GuildID   string    `gorm:"column:guild_id;type:varchar(36);not null;uniqueIndex:unique_guild_config" json:"guild_id"`
	Name      string    `gorm:"column:name;type:varchar(50);not null;uniqueIndex:unique_guild_config" json:"name"`
	Document  string    `gorm:"column:document;type:json" json:"document"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
}

// TableName specifies the table name for GuildSettings model
func (GuildSettings) TableName() string {
	return "guild_settings"
}

// TournamentEvent is one audit trail row: a notification the engine emitted,
// with a per-tournament sequence number so the trail replays in order.
type TournamentEvent struct {
	ID             int64     `gorm:"column:id;primaryKey;autoIncrement" json:"id"`
	GuildID        string    `gorm:"column:guild_id;type:varchar(36);not null;index:idx_event_guild" json:"guild_id"`
	TournamentID   int64     `gorm:"column:tournament_id;not null;index:idx_event_tournament" json:"tournament_id"`
	EventType      string    `gorm:"column:event_type;type:varchar(32);not null" json:"event_type"`
	Target         string    `gorm:"column:target;type:varchar(16);not null" json:"target"`
	UserID         string    `gorm:"column:user_id;type:varchar(36)" json:"user_id"`
	Detail         string    `gorm:"column:detail;type:json" json:"detail"`
	SequenceNumber int       `gorm:"column:sequence_number;not null" json:"sequence_number"`
	CreatedAt      time.Time `gorm:"column:created_at;autoCreateTime" json:"created_at"`
}

// TableName specifies the table name for TournamentEvent model
func (TournamentEvent) TableName() string {
	return "tournament_events"
}

type RegisterOperatorRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required,min=8"`
	Role     string `json:"role"`
	GuildID  string `json:"guild_id" binding:"required"`
}

type LoginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type AuthResponse struct {
	Token    string   `json:"token"`
	Operator Operator `json:"operator"`
}

// SetupRequest creates a tournament from a provider reference (the remote
// bracket's url slug or numeric id).
type SetupRequest struct {
	Ref             string `json:"ref" binding:"required"`
	Config          string `json:"config"`
	AcceptConflicts bool   `json:"accept_conflicts"`
}

type ResumeRequest struct {
	Ref    string `json:"ref" binding:"required"`
	Config string `json:"config"`
}

// ParticipantRequest carries the chat identity of the affected player.
type ParticipantRequest struct {
	UserID string `json:"user_id" binding:"required"`
	Name   string `json:"name"`
	Notify bool   `json:"notify"`
}

type ReportScoreRequest struct {
	Set    int `json:"set" binding:"required"`
	Score1 int `json:"score1"`
	Score2 int `json:"score2"`
}

type DisqualifyRequest struct {
	Reason string `json:"reason"`
}

type CallCheckinRequest struct {
	DM bool `json:"dm"`
}

type UploadRequest struct {
	Force bool `json:"force"`
}

type AddStreamerRequest struct {
	UserID       string `json:"user_id" binding:"required"`
	Name         string `json:"name"`
	Channel      string `json:"channel"`
	RoomID       string `json:"room_id"`
	RoomCode     string `json:"room_code"`
	RespectOrder bool   `json:"respect_order"`
}

type StreamRoomRequest struct {
	RoomID   string `json:"room_id"`
	RoomCode string `json:"room_code"`
}

type QueueSetsRequest struct {
	Sets []int `json:"sets" binding:"required"`
}

type SwapSetsRequest struct {
	A int `json:"a" binding:"required"`
	B int `json:"b" binding:"required"`
}

type InsertSetRequest struct {
	Set    int `json:"set" binding:"required"`
	Before int `json:"before" binding:"required"`
}

// SettingsRequest stores a named settings document. The document is kept
// opaque here; the engine validates it when a tournament loads it.
type SettingsRequest struct {
	Name     string          `json:"name" binding:"required"`
	Document json.RawMessage `json:"document" binding:"required"`
}
