package chat

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrNoBridge is returned when no chat bridge session is connected for the
// guild. Callers treat channel provisioning as optional and degrade.
var ErrNoBridge = errors.New("no chat bridge connected")

// UserRef identifies a chat user. ID is the stable chat platform id, Name
// is the display name used to match bracket participants.
type UserRef struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Kind classifies a notification so the bridge can pick wording and routing.
type Kind string

const (
	KindRegistrationOpen   Kind = "registration_open"
	KindRegistrationClosed Kind = "registration_closed"
	KindCheckinOpen        Kind = "checkin_open"
	KindCheckinReminder    Kind = "checkin_reminder"
	KindCheckinClosed      Kind = "checkin_closed"
	KindTournamentStart    Kind = "tournament_start"
	KindTournamentEnd      Kind = "tournament_end"
	KindBracketChanged     Kind = "bracket_changed"
	KindMatchStart         Kind = "match_start"
	KindMatchResult        Kind = "match_result"
	KindMatchPaused        Kind = "match_paused"
	KindStreamLive         Kind = "stream_live"
	KindOvertimeWarning    Kind = "overtime_warning"
	KindStaffAlert         Kind = "staff_alert"
	KindDisqualified       Kind = "disqualified"
	KindParticipantDropped Kind = "participant_dropped"
	KindRegistered         Kind = "registered"
)

// Notification is one outbound message for the chat bridge.
type Notification struct {
	ID        string                 `json:"id"`
	Kind      Kind                   `json:"kind"`
	Payload   map[string]interface{} `json:"payload"`
	CreatedAt time.Time              `json:"created_at"`
}

// NewNotification builds a notification with a fresh id.
func NewNotification(kind Kind, payload map[string]interface{}) Notification {
	if payload == nil {
		payload = map[string]interface{}{}
	}
	return Notification{
		ID:        uuid.New().String(),
		Kind:      kind,
		Payload:   payload,
		CreatedAt: time.Now(),
	}
}

// Notifier is the engine's outbound surface to one guild's chat platform.
// Channel and category handles are opaque strings owned by the bridge.
type Notifier interface {
	// Announce posts to the guild's announcement channel and returns a
	// message handle that can later be edited or deleted.
	Announce(ctx context.Context, n Notification) (string, error)
	EditAnnouncement(ctx context.Context, messageID string, n Notification) error
	DeleteAnnouncement(ctx context.Context, messageID string) error

	// NotifyStaff posts to the tournament staff channel.
	NotifyStaff(ctx context.Context, n Notification) error
	// NotifyChannel posts into a match channel.
	NotifyChannel(ctx context.Context, channel string, n Notification) error
	// NotifyUser sends a direct message. Best effort, failures are logged
	// by implementations and never propagated.
	NotifyUser(ctx context.Context, user UserRef, n Notification)

	// CreateCategory creates a channel category and returns its handle.
	CreateCategory(ctx context.Context, name string) (string, error)
	// CreateMatchChannel creates a text channel under category restricted
	// to the given users plus staff. It returns the channel handle and the
	// handle of the intro message posted into it.
	CreateMatchChannel(ctx context.Context, category, name string, users []UserRef, n Notification) (string, string, error)
	DeleteChannel(ctx context.Context, channel string) error
	// SetChannelUsers replaces the set of users allowed in a channel.
	SetChannelUsers(ctx context.Context, channel string, users []UserRef) error

	// ResolveUser finds a guild member by display name.
	ResolveUser(ctx context.Context, name string) (UserRef, bool)
	// ResolveUserByID finds a guild member by stable id. Used on restore
	// to detect participants who left the guild.
	ResolveUserByID(ctx context.Context, id string) (UserRef, bool)
}
