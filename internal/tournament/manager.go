package tournament

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strconv"
	"sync"

	"bracket-engine/internal/bracket"
	"bracket-engine/internal/chat"
)

// SavedRecord is one persisted tournament row.
type SavedRecord struct {
	GuildID    string
	ConfigName string
	Phase      Phase
	Data       []byte
}

// Store is the persistence surface the manager runs against.
type Store interface {
	StateSaver
	LoadStates() ([]SavedRecord, error)
	DeleteState(guildID string) error
	LoadSettings(guildID, name string) (Settings, error)
}

// ProviderFactory builds a bracket client bound to one tournament ref.
type ProviderFactory func(ref string) bracket.Client

// NotifierFactory builds the chat bridge for one guild.
type NotifierFactory func(guildID string) chat.Notifier

// RankingFactory builds a ranking source from the league settings.
type RankingFactory func(cfg RankingSettings) RankingSource

// Manager owns the running tournaments, one per guild, and their loops.
type Manager struct {
	mu          sync.Mutex
	tournaments map[string]*Tournament

	tasks     *taskRegistry
	store     Store
	providers ProviderFactory
	notifiers NotifierFactory
	rankings  RankingFactory
	journal   EventJournal
}

func NewManager(store Store, providers ProviderFactory, notifiers NotifierFactory, rankings RankingFactory) *Manager {
	return &Manager{
		tournaments: map[string]*Tournament{},
		tasks:       newTaskRegistry(),
		store:       store,
		providers:   providers,
		notifiers:   notifiers,
		rankings:    rankings,
	}
}

// SetJournal attaches an audit trail sink. Call before any tournament is
// set up or restored; later tournaments pick it up through deps.
func (m *Manager) SetJournal(j EventJournal) {
	m.journal = j
}

// deps assembles the collaborators for one tournament. Provider calls get
// the transient-error retry wrapper here so the engine never sees a bare
// gateway hiccup.
func (m *Manager) deps(guildID, ref string, settings Settings) Deps {
	d := Deps{
		Provider: bracket.WithRetry(m.providers(ref)),
		Notifier: m.notifiers(guildID),
		Saver:    m.store,
		Journal:  m.journal,
	}
	if m.rankings != nil && settings.Ranking.LeagueName != "" {
		d.Ranking = m.rankings(settings.Ranking)
	}
	return d
}

func loopName(guildID string, id int64) string {
	return fmt.Sprintf("loop-%s-%d", guildID, id)
}

// Setup creates a tournament for a guild and starts its loop so the
// scheduler can drive the registration and check-in windows.
func (m *Manager) Setup(ctx context.Context, guildID, ref, configName string, opts SetupOptions) (*Tournament, error) {
	m.mu.Lock()
	if _, ok := m.tournaments[guildID]; ok {
		m.mu.Unlock()
		return nil, ErrTournamentExists
	}
	m.mu.Unlock()

	settings, err := m.store.LoadSettings(guildID, configName)
	if err != nil {
		return nil, fmt.Errorf("load settings %q: %w", configName, err)
	}
	t, err := Setup(ctx, guildID, m.deps(guildID, ref, settings), settings, configName, opts)
	if err != nil {
		return nil, err
	}
	if err := m.adopt(guildID, t); err != nil {
		return nil, err
	}
	if err := t.SaveNow(); err != nil {
		log.Printf("[MANAGER] Failed to save fresh state for guild %s: %v", guildID, err)
	}
	m.tasks.start(loopName(guildID, t.ID), t, TickInterval)
	return t, nil
}

// Resume adopts an already-underway bracket (the recovery path offered when
// Setup fails with ErrAlreadyStarted).
func (m *Manager) Resume(ctx context.Context, guildID, ref, configName string) (*Tournament, error) {
	m.mu.Lock()
	if _, ok := m.tournaments[guildID]; ok {
		m.mu.Unlock()
		return nil, ErrTournamentExists
	}
	m.mu.Unlock()

	settings, err := m.store.LoadSettings(guildID, configName)
	if err != nil {
		return nil, fmt.Errorf("load settings %q: %w", configName, err)
	}
	t, err := Resume(ctx, guildID, m.deps(guildID, ref, settings), settings, configName)
	if err != nil {
		return nil, err
	}
	if err := m.adopt(guildID, t); err != nil {
		return nil, err
	}
	m.tasks.start(loopName(guildID, t.ID), t, TickInterval)
	return t, nil
}

func (m *Manager) adopt(guildID string, t *Tournament) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.tournaments[guildID]; ok {
		return ErrTournamentExists
	}
	m.tournaments[guildID] = t
	return nil
}

// RestoreAll brings every saved, unfinished tournament back after a restart.
func (m *Manager) RestoreAll(ctx context.Context) error {
	records, err := m.store.LoadStates()
	if err != nil {
		return fmt.Errorf("load saved states: %w", err)
	}
	restored := 0
	for _, rec := range records {
		if rec.Phase == PhaseDone {
			continue
		}
		if err := m.restoreOne(ctx, rec); err != nil {
			log.Printf("[MANAGER] Failed to restore tournament for guild %s: %v", rec.GuildID, err)
			continue
		}
		restored++
	}
	if restored > 0 {
		log.Printf("[MANAGER] Restored %d tournament(s)", restored)
	}
	return nil
}

func (m *Manager) restoreOne(ctx context.Context, rec SavedRecord) error {
	m.mu.Lock()
	if _, ok := m.tournaments[rec.GuildID]; ok {
		m.mu.Unlock()
		return ErrTournamentExists
	}
	m.mu.Unlock()

	settings, err := m.store.LoadSettings(rec.GuildID, rec.ConfigName)
	if err != nil {
		return fmt.Errorf("load settings %q: %w", rec.ConfigName, err)
	}

	// The provider ref is the remote id carried inside the state blob.
	var peek struct {
		ID int64 `json:"id"`
	}
	if err := json.Unmarshal(rec.Data, &peek); err != nil {
		return fmt.Errorf("peek state: %w", err)
	}

	deps := m.deps(rec.GuildID, strconv.FormatInt(peek.ID, 10), settings)
	t, err := Restore(ctx, rec.GuildID, deps, settings, rec.Data)
	if err != nil {
		return err
	}
	if err := m.adopt(rec.GuildID, t); err != nil {
		return err
	}
	m.tasks.start(loopName(rec.GuildID, t.ID), t, TickInterval)
	return nil
}

// Get returns the guild's running tournament.
func (m *Manager) Get(guildID string) (*Tournament, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tournaments[guildID]
	return t, ok
}

// Start flips the tournament live and (re)starts its loop.
func (m *Manager) Start(ctx context.Context, guildID string) error {
	t, ok := m.Get(guildID)
	if !ok {
		return ErrNoTournament
	}
	if err := t.Start(ctx); err != nil {
		return err
	}
	m.tasks.start(loopName(guildID, t.ID), t, TickInterval)
	return nil
}

// End finalizes the tournament and stops its loop. The record stays
// registered so its final status remains queryable until Drop.
func (m *Manager) End(ctx context.Context, guildID string) error {
	t, ok := m.Get(guildID)
	if !ok {
		return ErrNoTournament
	}
	if err := t.End(ctx); err != nil {
		return err
	}
	m.tasks.stop(loopName(guildID, t.ID))
	return nil
}

// ResumeLoop restarts a loop the error budget suspended.
func (m *Manager) ResumeLoop(guildID string) error {
	t, ok := m.Get(guildID)
	if !ok {
		return ErrNoTournament
	}
	t.tickClean()
	m.tasks.start(loopName(guildID, t.ID), t, TickInterval)
	return nil
}

// StopLoop pauses a tournament's loop without touching its state.
func (m *Manager) StopLoop(guildID string) error {
	t, ok := m.Get(guildID)
	if !ok {
		return ErrNoTournament
	}
	m.tasks.stop(loopName(guildID, t.ID))
	return nil
}

// Forget releases a tournament from this instance without touching its
// saved state, for when another instance turns out to own the guild.
func (m *Manager) Forget(guildID string) {
	m.mu.Lock()
	t, ok := m.tournaments[guildID]
	if ok {
		delete(m.tournaments, guildID)
	}
	m.mu.Unlock()
	if ok {
		m.tasks.stop(loopName(guildID, t.ID))
		if m.journal != nil {
			m.journal.CleanupSequence(t.ID)
		}
	}
}

// Drop forgets a tournament entirely: loop stopped, saved state deleted.
func (m *Manager) Drop(ctx context.Context, guildID string) error {
	m.mu.Lock()
	t, ok := m.tournaments[guildID]
	if ok {
		delete(m.tournaments, guildID)
	}
	m.mu.Unlock()
	if !ok {
		return ErrNoTournament
	}
	m.tasks.stop(loopName(guildID, t.ID))
	if m.journal != nil {
		m.journal.CleanupSequence(t.ID)
	}
	if err := m.store.DeleteState(guildID); err != nil {
		return fmt.Errorf("delete saved state: %w", err)
	}
	log.Printf("[MANAGER] Dropped tournament %s for guild %s", t.Name, guildID)
	return nil
}

// List snapshots every registered tournament.
func (m *Manager) List() []StatusView {
	m.mu.Lock()
	ts := make([]*Tournament, 0, len(m.tournaments))
	for _, t := range m.tournaments {
		ts = append(ts, t)
	}
	m.mu.Unlock()

	out := make([]StatusView, 0, len(ts))
	for _, t := range ts {
		out = append(out, t.Status())
	}
	return out
}

// Shutdown stops every loop. In-flight channel work is abandoned; the next
// restore reconciles whatever was half done.
func (m *Manager) Shutdown() {
	m.tasks.stopAll()
	log.Printf("[MANAGER] All tournament loops stopped")
}
