package chat

import (
	"context"
	"fmt"
	"sync"
)

// RecordedCall is one Notifier invocation captured by a Recorder.
type RecordedCall struct {
	Op      string
	Target  string
	Kind    Kind
	Payload map[string]interface{}
	Users   []UserRef
}

// Recorder is an in-memory Notifier used by tests and by guilds that run
// without a bridge attached. Channel creation fails when Offline is set,
// which mirrors a missing bridge session.
type Recorder struct {
	mu      sync.Mutex
	calls   []RecordedCall
	users   map[string]UserRef
	nextID  int
	Offline bool
}

// NewRecorder creates an empty recorder.
func NewRecorder() *Recorder {
	return &Recorder{users: map[string]UserRef{}}
}

// AddUser seeds the resolvable user directory.
func (r *Recorder) AddUser(u UserRef) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.users[u.Name] = u
}

// RemoveUser drops a user from the directory, simulating a guild leave.
func (r *Recorder) RemoveUser(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.users, name)
}

// Calls returns a copy of everything recorded so far.
func (r *Recorder) Calls() []RecordedCall {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]RecordedCall, len(r.calls))
	copy(out, r.calls)
	return out
}

// CallsOf filters recorded calls by op name.
func (r *Recorder) CallsOf(op string) []RecordedCall {
	var out []RecordedCall
	for _, c := range r.Calls() {
		if c.Op == op {
			out = append(out, c)
		}
	}
	return out
}

// Reset clears the recorded calls but keeps the user directory.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = nil
}

func (r *Recorder) record(c RecordedCall) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, c)
}

func (r *Recorder) handle(prefix string) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	return fmt.Sprintf("%s-%d", prefix, r.nextID)
}

func (r *Recorder) Announce(ctx context.Context, n Notification) (string, error) {
	r.record(RecordedCall{Op: "announce", Kind: n.Kind, Payload: n.Payload})
	return r.handle("msg"), nil
}

func (r *Recorder) EditAnnouncement(ctx context.Context, messageID string, n Notification) error {
	r.record(RecordedCall{Op: "edit", Target: messageID, Kind: n.Kind, Payload: n.Payload})
	return nil
}

func (r *Recorder) DeleteAnnouncement(ctx context.Context, messageID string) error {
	r.record(RecordedCall{Op: "delete_announcement", Target: messageID})
	return nil
}

func (r *Recorder) NotifyStaff(ctx context.Context, n Notification) error {
	r.record(RecordedCall{Op: "staff", Kind: n.Kind, Payload: n.Payload})
	return nil
}

func (r *Recorder) NotifyChannel(ctx context.Context, channel string, n Notification) error {
	r.record(RecordedCall{Op: "channel", Target: channel, Kind: n.Kind, Payload: n.Payload})
	return nil
}

func (r *Recorder) NotifyUser(ctx context.Context, user UserRef, n Notification) {
	r.record(RecordedCall{Op: "user", Target: user.ID, Kind: n.Kind, Payload: n.Payload})
}

func (r *Recorder) CreateCategory(ctx context.Context, name string) (string, error) {
	if r.Offline {
		return "", ErrNoBridge
	}
	r.record(RecordedCall{Op: "create_category", Target: name})
	return r.handle("cat"), nil
}

func (r *Recorder) CreateMatchChannel(ctx context.Context, category, name string, users []UserRef, n Notification) (string, string, error) {
	if r.Offline {
		return "", "", ErrNoBridge
	}
	r.record(RecordedCall{Op: "create_channel", Target: category + "/" + name, Kind: n.Kind, Payload: n.Payload, Users: users})
	return r.handle("chan"), r.handle("msg"), nil
}

func (r *Recorder) DeleteChannel(ctx context.Context, channel string) error {
	r.record(RecordedCall{Op: "delete_channel", Target: channel})
	return nil
}

func (r *Recorder) SetChannelUsers(ctx context.Context, channel string, users []UserRef) error {
	r.record(RecordedCall{Op: "set_users", Target: channel, Users: users})
	return nil
}

func (r *Recorder) ResolveUser(ctx context.Context, name string) (UserRef, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[name]
	return u, ok
}

func (r *Recorder) ResolveUserByID(ctx context.Context, id string) (UserRef, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.users {
		if u.ID == id {
			return u, true
		}
	}
	return UserRef{}, false
}
