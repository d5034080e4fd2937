package tournament

import "time"

// RegistrationSettings schedules the registration window relative to the
// tournament start. All values are seconds before start, 0 means the event
// is manual and never fires on its own.
type RegistrationSettings struct {
	Opening       int  `json:"opening"`
	SecondOpening int  `json:"second_opening"`
	Closing       int  `json:"closing"`
	Autostop      bool `json:"autostop"`
}

// CheckinSettings schedules the check-in window, same convention.
type CheckinSettings struct {
	Opening int `json:"opening"`
	Closing int `json:"closing"`
}

// WarnPair holds the two overtime thresholds for one match format, in
// seconds of match duration. First triggers the player-visible warning,
// Second the staff alert measured from the first warning. 0 disables.
type WarnPair struct {
	First  int `json:"first"`
	Second int `json:"second"`
}

// WarnSettings groups overtime thresholds per format.
type WarnSettings struct {
	BO3 WarnPair `json:"bo3"`
	BO5 WarnPair `json:"bo5"`
}

// RankingSettings points at the external ranking used for seeding. An empty
// league name disables seeding.
type RankingSettings struct {
	LeagueName string `json:"league_name"`
	LeagueID   string `json:"league_id"`
}

// Settings is the per-tournament configuration snapshot. A named settings
// document is stored per guild and referenced from the saved tournament
// state by name.
type Settings struct {
	Registration  RegistrationSettings `json:"registration"`
	Checkin       CheckinSettings      `json:"checkin"`
	StartBO5      int                  `json:"start_bo5"`
	Delay         int                  `json:"delay"` // AFK threshold in seconds, 0 disables
	TimeUntilWarn WarnSettings         `json:"time_until_warn"`
	Ranking       RankingSettings      `json:"ranking"`
	Baninfo       string               `json:"baninfo"`
	Stages        []string             `json:"stages"`
	Counterpicks  []string             `json:"counterpicks"`
}

// DefaultSettings mirrors a typical weekly setup: registration opens two
// hours before start, check-in for the last hour, 10 minute AFK window.
func DefaultSettings() Settings {
	return Settings{
		Registration: RegistrationSettings{
			Opening: 2 * 60 * 60,
			Closing: 10 * 60,
		},
		Checkin: CheckinSettings{
			Opening: 60 * 60,
			Closing: 15 * 60,
		},
		Delay: 10 * 60,
		TimeUntilWarn: WarnSettings{
			BO3: WarnPair{First: 30 * 60, Second: 10 * 60},
			BO5: WarnPair{First: 45 * 60, Second: 10 * 60},
		},
	}
}

func (s Settings) delayDuration() time.Duration {
	return time.Duration(s.Delay) * time.Second
}

func (s Settings) warnFor(bo5 bool) (time.Duration, time.Duration) {
	pair := s.TimeUntilWarn.BO3
	if bo5 {
		pair = s.TimeUntilWarn.BO5
	}
	return time.Duration(pair.First) * time.Second, time.Duration(pair.Second) * time.Second
}
