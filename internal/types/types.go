package types

import "time"

// Role identifiers
type Role string

const (
	RoleUser     Role = "user"
	RoleLoop     Role = "loop"
	RoleObserver Role = "observer" // any bus subscriber: display, status API, stats
	RoleAuditor  Role = "auditor"
)

// MessageType identifies the payload type of a bus message
type MessageType string

const (
	MsgStateChanged MessageType = "StateChanged" // payload: GameState
	MsgOutcome      MessageType = "Outcome"      // payload: OutcomeEvent
	MsgLoopStatus   MessageType = "LoopStatus"   // payload: StatusEvent
	MsgError        MessageType = "Error"        // payload: ErrorEvent
)

// Message is the envelope for every notification on the bus
type Message struct {
	ID        string      `json:"id"`
	Timestamp time.Time   `json:"timestamp"`
	From      Role        `json:"from"`
	To        Role        `json:"to"`
	Type      MessageType `json:"type"`
	Payload   any         `json:"payload"`
}

// OutcomeKind is the classified result of one game response.
type OutcomeKind string

const (
	KindUnknown  OutcomeKind = "unknown"
	KindSuccess  OutcomeKind = "success"
	KindMaintain OutcomeKind = "maintain"
	KindDestroy  OutcomeKind = "destroy"
	KindSell     OutcomeKind = "sell" // never one of success/maintain/destroy
)

// Terminal reports whether k is one of the three enhance results.
func (k OutcomeKind) Terminal() bool {
	return k == KindSuccess || k == KindMaintain || k == KindDestroy
}

// Outcome is what the classifier extracted from one reading.
// Every field is optional and independent of the others.
type Outcome struct {
	Kind       OutcomeKind `json:"kind"`
	PrevLevel  *int        `json:"prev_level,omitempty"` // success only: "+A → +B" A
	Level      *int        `json:"level,omitempty"`
	Gold       *int64      `json:"gold,omitempty"` // gold remaining after the action
	GoldSpent  *int64      `json:"gold_spent,omitempty"`
	GoldEarned *int64      `json:"gold_earned,omitempty"`
	ItemName   string      `json:"item_name,omitempty"`
}

// Action is a strategy decision.
type Action string

const (
	ActionEnhance Action = "enhance"
	ActionSell    Action = "sell"
	ActionWait    Action = "wait"
	ActionStop    Action = "stop"
)

// LoopStatus is the control loop lifecycle state.
type LoopStatus string

const (
	StatusIdle    LoopStatus = "idle"
	StatusRunning LoopStatus = "running"
	StatusPaused  LoopStatus = "paused"
	StatusStopped LoopStatus = "stopped"
	StatusError   LoopStatus = "error"
)

// GameState is the authoritative record of the player's item and wallet.
// Values handed to observers are copies.
type GameState struct {
	Level               int         `json:"level"`
	Gold                int64       `json:"gold"`
	ConsecutiveFailures int         `json:"consecutive_failures"`
	LastOutcome         OutcomeKind `json:"last_outcome"`
	LastItemName        string      `json:"last_item_name,omitempty"`
	GoldSpent           int64       `json:"gold_spent"`  // last action
	GoldEarned          int64       `json:"gold_earned"` // last action
	LastUpdate          time.Time   `json:"last_update"`
}

// ProfileSnapshot is the parsed response to the profile command.
type ProfileSnapshot struct {
	Name     string `json:"name,omitempty"`
	Level    *int   `json:"level,omitempty"`
	Gold     *int64 `json:"gold,omitempty"`
	ItemName string `json:"item_name,omitempty"`
}

// Reading is one capture of the chat output region.
type Reading struct {
	Text   string    `json:"text"`
	Offset int       `json:"offset"`
	At     time.Time `json:"at"`
}

// OutcomeEvent is published after every committed cycle.
type OutcomeEvent struct {
	Cycle    int       `json:"cycle"`
	Action   Action    `json:"action"`
	Outcome  Outcome   `json:"outcome"`
	PreLevel int       `json:"pre_level"`
	Attempts int       `json:"attempts"`
	Offset   int       `json:"offset"`
	Source   string    `json:"source"`           // "reading" | "profile"
	Repair   string    `json:"repair,omitempty"` // e.g. "maintain→success"
	State    GameState `json:"state"`
}

// StatusEvent is published on every loop status transition.
type StatusEvent struct {
	From   LoopStatus `json:"from"`
	To     LoopStatus `json:"to"`
	Reason string     `json:"reason,omitempty"`
}

// ErrorKind classifies errors surfaced to observers.
type ErrorKind string

const (
	ErrKindIO        ErrorKind = "io_failure"
	ErrKindExhausted ErrorKind = "exhausted"
	ErrKindFatal     ErrorKind = "fatal"
	ErrKindPanic     ErrorKind = "panic"
)

// ErrorEvent is published for soft and fatal loop errors.
type ErrorEvent struct {
	Cycle       int       `json:"cycle"`
	Kind        ErrorKind `json:"kind"`
	Message     string    `json:"message"`
	Consecutive int       `json:"consecutive"` // consecutive I/O failures so far
}

// AuditEvent is one JSONL line written by the auditor.
type AuditEvent struct {
	EventID     string  `json:"event_id"`
	Timestamp   string  `json:"timestamp"`
	FromRole    Role    `json:"from_role"`
	ToRole      Role    `json:"to_role"`
	MessageType string  `json:"message_type"`
	Anomaly     string  `json:"anomaly"` // "none" | "boundary_violation" | "repair" | "resync" | "exhausted" | "drift" | "fatal"
	Detail      *string `json:"detail"`
}

// IntPtr returns a pointer to v.
func IntPtr(v int) *int { return &v }

// Int64Ptr returns a pointer to v.
func Int64Ptr(v int64) *int64 { return &v }
