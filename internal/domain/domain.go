package domain

import "time"

// Collection names in the document store.
const (
	TradesCollection        = "trades"
	TemplatesCollection     = "challengeTemplates"
	ChallengesCollection    = "challenges"
	NotificationsCollection = "notifications"
	EventsCollection        = "events"
)

type TradeStatus string

const (
	TradeOpen                TradeStatus = "open"
	TradeInProgress          TradeStatus = "in_progress"
	TradePendingConfirmation TradeStatus = "pending_confirmation"
	TradeCompleted           TradeStatus = "completed"
	TradeCancelled           TradeStatus = "cancelled"
)

// Trade is an exchange between a creator and a participant.
type Trade struct {
	ID                    string      `json:"id" yaml:"id"`
	Title                 string      `json:"title,omitempty" yaml:"title"`
	Status                TradeStatus `json:"status" yaml:"status" enum:"open,in_progress,pending_confirmation,completed,cancelled"`
	CreatorID             string      `json:"creatorId" yaml:"creatorId"`
	ParticipantID         string      `json:"participantId,omitempty" yaml:"participantId"`
	CompletionRequestedAt *time.Time  `json:"completionRequestedAt,omitempty" yaml:"completionRequestedAt"`
	CompletionRequestedBy string      `json:"completionRequestedBy,omitempty" yaml:"completionRequestedBy"`
	CompletionConfirmedAt *time.Time  `json:"completionConfirmedAt,omitempty" yaml:"completionConfirmedAt"`
	RemindersSent         int         `json:"remindersSent" yaml:"remindersSent"`
	LastReminderAt        *time.Time  `json:"lastReminderAt,omitempty" yaml:"lastReminderAt"`
	AutoCompleted         bool        `json:"autoCompleted" yaml:"autoCompleted"`
	AutoCompletedReason   string      `json:"autoCompletedReason,omitempty" yaml:"autoCompletedReason"`
	ExpiresAt             *time.Time  `json:"expiresAt,omitempty" yaml:"expiresAt"`
	AutoCancelled         bool        `json:"autoCancelled,omitempty" yaml:"autoCancelled"`
	CreatedAt             *time.Time  `json:"createdAt,omitempty" yaml:"createdAt"`
	LastUpdatedAt         *time.Time  `json:"lastUpdatedAt,omitempty" yaml:"lastUpdatedAt"`
}

// Counterparty returns the party that did not request completion, or "" when
// it cannot be resolved.
func (t Trade) Counterparty() string {
	switch t.CompletionRequestedBy {
	case "":
		return ""
	case t.CreatorID:
		return t.ParticipantID
	case t.ParticipantID:
		return t.CreatorID
	default:
		return ""
	}
}

// Parties lists both non-empty parties of the trade.
func (t Trade) Parties() []string {
	var out []string
	for _, id := range []string{t.CreatorID, t.ParticipantID} {
		if id != "" {
			out = append(out, id)
		}
	}
	return out
}

type Recurrence string

const (
	RecurrenceDaily  Recurrence = "daily"
	RecurrenceWeekly Recurrence = "weekly"
)

// SupportedRecurrences are the cadences the generator materializes.
var SupportedRecurrences = []Recurrence{RecurrenceDaily, RecurrenceWeekly}

type Rewards struct {
	Points int    `json:"points" yaml:"points"`
	Badge  string `json:"badge,omitempty" yaml:"badge"`
}

// ChallengeTemplate is the static definition new challenges are generated from.
type ChallengeTemplate struct {
	ID          string     `json:"id" yaml:"id"`
	Recurrence  Recurrence `json:"recurrence" yaml:"recurrence" enum:"daily,weekly"`
	Title       string     `json:"title" yaml:"title"`
	Description string     `json:"description,omitempty" yaml:"description"`
	Category    string     `json:"category,omitempty" yaml:"category"`
	Difficulty  string     `json:"difficulty,omitempty" yaml:"difficulty"`
	Rewards     Rewards    `json:"rewards" yaml:"rewards"`
}

type ChallengeStatus string

const (
	ChallengeUpcoming  ChallengeStatus = "upcoming"
	ChallengeActive    ChallengeStatus = "active"
	ChallengeCompleted ChallengeStatus = "completed"
)

type Challenge struct {
	ID            string          `json:"id" yaml:"id"`
	TemplateID    string          `json:"templateId,omitempty" yaml:"templateId"`
	Status        ChallengeStatus `json:"status" yaml:"status" enum:"upcoming,active,completed"`
	Title         string          `json:"title" yaml:"title"`
	Description   string          `json:"description,omitempty" yaml:"description"`
	Category      string          `json:"category,omitempty" yaml:"category"`
	Difficulty    string          `json:"difficulty,omitempty" yaml:"difficulty"`
	Rewards       Rewards         `json:"rewards" yaml:"rewards"`
	StartDate     time.Time       `json:"startDate" yaml:"startDate"`
	EndDate       time.Time       `json:"endDate" yaml:"endDate"`
	CreatedBy     string          `json:"createdBy,omitempty" yaml:"createdBy"`
	PeriodKey     string          `json:"periodKey,omitempty" yaml:"periodKey"`
	CreatedAt     *time.Time      `json:"createdAt,omitempty" yaml:"createdAt"`
	LastUpdatedAt *time.Time      `json:"lastUpdatedAt,omitempty" yaml:"lastUpdatedAt"`
}

type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
)

// Notification types emitted by the engine.
const (
	NotifyTradeReminder      = "trade_confirmation_reminder"
	NotifyTradeAutoCompleted = "trade_auto_completed"
)

type Notification struct {
	ID        string    `json:"id"`
	UserID    string    `json:"userId"`
	Type      string    `json:"type"`
	Title     string    `json:"title"`
	Content   string    `json:"content"`
	RelatedID string    `json:"relatedId,omitempty"`
	Priority  Priority  `json:"priority" enum:"low,normal,high"`
	CreatedAt time.Time `json:"createdAt" format:"date-time"`
	Read      bool      `json:"read"`
}

// Event is an audit record written alongside the state change it describes.
type Event struct {
	ID         string         `json:"id"`
	TS         time.Time      `json:"ts" format:"date-time"`
	Type       string         `json:"type"`
	EntityKind string         `json:"entityKind"`
	EntityID   string         `json:"entityId,omitempty"`
	ActorID    string         `json:"actorId"`
	Payload    map[string]any `json:"payload,omitempty"`
}
