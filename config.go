package rush

import "time"

// Config holds the dispatch engine's timing and sizing parameters.
type Config struct {
	// MaxWaves is the highest wave number a job may reach before failing.
	MaxWaves int

	// WaveSize is the number of candidates offered per wave.
	WaveSize int

	// WaveDelay is how long to wait between waves for an acceptance.
	WaveDelay time.Duration

	// LockTTL is how long an accepted candidate's exclusive claim lasts
	// while waiting for employer confirmation.
	LockTTL time.Duration

	// OfferTTL is the countdown shown to a candidate in an offer ping.
	OfferTTL time.Duration

	// CooldownPeriod is the minimum time a candidate must wait between
	// successive offers, independent of wave number.
	CooldownPeriod time.Duration

	// FreshnessWindow is how recently a candidate must have been seen to
	// count as online when the explicit online flag is not set.
	FreshnessWindow time.Duration

	// LockGrace is how far past its own deadline a locked job is allowed
	// to live before the job sweep force-expires it.
	LockGrace time.Duration

	// LockSweepInterval is how often the reaper clears expired locks.
	LockSweepInterval time.Duration

	// JobSweepInterval is how often the reaper expires stale jobs.
	JobSweepInterval time.Duration

	// AvailabilitySweepInterval is how often the reaper clears lapsed
	// candidate availability windows.
	AvailabilitySweepInterval time.Duration
}

// DefaultConfig returns a Config with the standard dispatch parameters.
func DefaultConfig() Config {
	return Config{
		MaxWaves:                  3,
		WaveSize:                  5,
		WaveDelay:                 15 * time.Second,
		LockTTL:                   60 * time.Second,
		OfferTTL:                  10 * time.Second,
		CooldownPeriod:            30 * time.Second,
		FreshnessWindow:           5 * time.Minute,
		LockGrace:                 60 * time.Second,
		LockSweepInterval:         30 * time.Second,
		JobSweepInterval:          60 * time.Second,
		AvailabilitySweepInterval: time.Hour,
	}
}
