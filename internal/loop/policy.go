package loop

import (
	"context"
	"time"

	"github.com/haricheung/swordbot/internal/reconcile"
)

// Game is the narrow capability the loop drives: one chat window with the
// game bot on the other side. Implementations: tools.Desktop and sim.Game.
type Game interface {
	// SendCommand submits a literal command. Fire-and-forget: the reply is
	// observed through readings, never through the return value.
	SendCommand(ctx context.Context, cmd string) error
	// TakeReading returns the visible response text at a vertical offset.
	// Empty text is a valid reading.
	TakeReading(ctx context.Context, offset int) (string, error)
}

// Commands are the literal chat commands.
type Commands struct {
	Enhance string `yaml:"enhance" json:"enhance"`
	Sell    string `yaml:"sell" json:"sell"`
	Profile string `yaml:"profile" json:"profile"`
}

func DefaultCommands() Commands {
	return Commands{Enhance: "/ㄱ", Sell: "/판", Profile: "/프로필"}
}

// Policy is everything about the loop that can change while it runs.
// The worker reads it once per iteration.
type Policy struct {
	Commands             Commands               `yaml:"commands" json:"commands"`
	Timing               reconcile.Timing       `yaml:"timing" json:"timing"`
	Ladder               reconcile.LadderPolicy `yaml:"ladder" json:"ladder"`
	ActionDelay          time.Duration          `yaml:"action_delay" json:"action_delay"`
	ProfileDelay         time.Duration          `yaml:"profile_delay" json:"profile_delay"`
	MaxConsecutiveErrors int                    `yaml:"max_consecutive_errors" json:"max_consecutive_errors"`
	MinGold              int64                  `yaml:"min_gold" json:"min_gold"` // 0 disables the floor
}

func DefaultPolicy() Policy {
	return Policy{
		Commands:             DefaultCommands(),
		Timing:               reconcile.DefaultTiming(),
		Ladder:               reconcile.DefaultLadderPolicy(),
		ActionDelay:          700 * time.Millisecond,
		ProfileDelay:         1200 * time.Millisecond,
		MaxConsecutiveErrors: 5,
		MinGold:              1000,
	}
}

// normalized fills the fields a running loop cannot do without.
func (p Policy) normalized() Policy {
	d := DefaultCommands()
	if p.Commands.Enhance == "" {
		p.Commands.Enhance = d.Enhance
	}
	if p.Commands.Sell == "" {
		p.Commands.Sell = d.Sell
	}
	if p.Commands.Profile == "" {
		p.Commands.Profile = d.Profile
	}
	if p.MaxConsecutiveErrors < 1 {
		p.MaxConsecutiveErrors = 5
	}
	if p.Ladder.MaxAttempts < 1 {
		p.Ladder.MaxAttempts = reconcile.DefaultMaxAttempts
	}
	return p
}

// errorBackoff is the pause after an I/O failure before the next iteration.
func (p Policy) errorBackoff() time.Duration {
	return 2 * p.ActionDelay
}
