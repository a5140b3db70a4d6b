package docs

import (
	"time"

	"paperkeep/api/internal/dates"
)

// Record is a tracked document. It is persisted as JSON in the per-user
// collection; derived fields (days remaining, due soon, overdue) are never
// stored — see Projection.
type Record struct {
	ID                 string     `json:"id"`
	Title              string     `json:"title"`
	Type               string     `json:"type"`
	Description        string     `json:"description,omitempty"`
	DueDate            string     `json:"dueDate"`
	Status             Status     `json:"status"`
	Importance         Importance `json:"importance"`
	CustomReminderDays *int       `json:"customReminderDays,omitempty"`
	Category           string     `json:"category,omitempty"`
	Tags               []string   `json:"tags,omitempty"`
	Notes              string     `json:"notes,omitempty"`
	AttachmentKey      string     `json:"attachmentKey,omitempty"`
	UserID             string     `json:"userId"`
	CreatedAt          time.Time  `json:"createdAt"`
}

// EffectiveThreshold returns the per-document override when present, else
// the supplied user default.
func (r Record) EffectiveThreshold(defaultDays int) int {
	if r.CustomReminderDays != nil {
		return *r.CustomReminderDays
	}
	return defaultDays
}

// Projection is the read-time view of a record's scheduling state. A nil
// DaysRemaining means the due date failed normalization ("no due date");
// such records stay visible but are excluded from scheduling.
type Projection struct {
	DaysRemaining *int `json:"daysRemaining"`
	DueSoon       bool `json:"dueSoon"`
	Overdue       bool `json:"overdue"`
}

// Project derives the scheduling view of a record at the given instant.
// This is the single calculation path for days remaining and the due-soon /
// overdue display states.
func Project(r Record, thresholdDays int, now time.Time) Projection {
	due, err := dates.Parse(r.DueDate)
	if err != nil {
		return Projection{}
	}
	days := dates.DaysUntil(due, now)
	return Projection{
		DaysRemaining: &days,
		DueSoon:       days >= 0 && days <= thresholdDays && r.Status != StatusCompleted && r.Status != StatusExpired,
		Overdue:       days < 0 && r.Status != StatusCompleted,
	}
}
