package battle

import "time"

// TiePolicy decides a time-out with equal weighted crowns after overtime.
type TiePolicy string

const (
	TieDraw   TiePolicy = "draw"
	TieHealth TiePolicy = "health" // more remaining tower health wins
)

// Config holds per-session timing and economy settings.
type Config struct {
	Duration       time.Duration
	Overtime       time.Duration // 0 disables overtime
	TickInterval   time.Duration
	RegenInterval  time.Duration
	OvertimeRegen  float64 // elixir per regen tick during overtime
	StartElixir    int
	MaxElixir      int
	Grace          time.Duration
	JoinTimeout    time.Duration
	ReadyTimeout   time.Duration
	TiePolicy      TiePolicy
	MailboxSize    int
	CommandTimeout time.Duration
}

// DefaultConfig returns the standard ladder settings.
func DefaultConfig() Config {
	return Config{
		Duration:       180 * time.Second,
		Overtime:       60 * time.Second,
		TickInterval:   100 * time.Millisecond,
		RegenInterval:  time.Second,
		OvertimeRegen:  2,
		StartElixir:    5,
		MaxElixir:      10,
		Grace:          10 * time.Second,
		JoinTimeout:    30 * time.Second,
		ReadyTimeout:   20 * time.Second,
		TiePolicy:      TieDraw,
		MailboxSize:    64,
		CommandTimeout: 2 * time.Second,
	}
}

func (c Config) normalize() Config {
	d := DefaultConfig()
	if c.Duration <= 0 {
		c.Duration = d.Duration
	}
	if c.Overtime < 0 {
		c.Overtime = 0
	}
	if c.TickInterval <= 0 {
		c.TickInterval = d.TickInterval
	}
	if c.RegenInterval <= 0 {
		c.RegenInterval = d.RegenInterval
	}
	if c.OvertimeRegen <= 0 {
		c.OvertimeRegen = 1
	}
	if c.MaxElixir <= 0 {
		c.MaxElixir = d.MaxElixir
	}
	c.StartElixir = min(max(c.StartElixir, 0), c.MaxElixir)
	if c.Grace <= 0 {
		c.Grace = d.Grace
	}
	if c.JoinTimeout <= 0 {
		c.JoinTimeout = d.JoinTimeout
	}
	if c.ReadyTimeout <= 0 {
		c.ReadyTimeout = d.ReadyTimeout
	}
	if c.TiePolicy != TieHealth {
		c.TiePolicy = TieDraw
	}
	if c.MailboxSize <= 0 {
		c.MailboxSize = d.MailboxSize
	}
	if c.CommandTimeout <= 0 {
		c.CommandTimeout = d.CommandTimeout
	}
	return c
}
