// Package notify routes reminder alerts through the delivery channels a user
// has enabled. Channels are independent: a failure on one never prevents
// delivery on another, and repeated dispatches with the same input are safe
// at the delivery-request level. Duplicate-suppression for humans is the
// scheduler's throttle, not the dispatcher's job.
package notify

import (
	"context"
	"fmt"
	"log"
	"strings"

	"paperkeep/api/internal/docs"
	"paperkeep/api/internal/prefs"
)

// Recipient identifies the user a dispatch is for.
type Recipient struct {
	ID          string
	Email       string
	DisplayName string
}

// ReminderItem is one eligible document in templated channel content.
type ReminderItem struct {
	Title         string
	Type          string
	DueDate       string
	DaysRemaining int
}

// Result records what each channel did for one dispatch.
type Result struct {
	InApp        bool
	PushSent     bool
	PushDeclined bool
	SpokenOK     bool
	SpeechTried  bool
	EmailSent    bool
}

// PreferenceSaver persists a preference change made by the dispatcher, such
// as disabling push after the platform declined permission.
type PreferenceSaver interface {
	Save(ctx context.Context, userID string, p prefs.Preferences) error
}

// Dispatcher fans an eligible set out to the enabled channels.
type Dispatcher struct {
	alerts  *AlertStore
	pusher  Pusher
	speaker Speaker
	emailer Emailer
	prefs   PreferenceSaver
}

// NewDispatcher wires the channel collaborators. Any of pusher, speaker or
// emailer may be nil when the capability is absent from the deployment.
func NewDispatcher(alerts *AlertStore, pusher Pusher, speaker Speaker, emailer Emailer, prefStore PreferenceSaver) *Dispatcher {
	return &Dispatcher{
		alerts:  alerts,
		pusher:  pusher,
		speaker: speaker,
		emailer: emailer,
		prefs:   prefStore,
	}
}

// Dispatch delivers one reminder for the eligible set on every enabled
// channel. The in-app aggregate alert is always emitted; push, speech and
// email each gate on their preference toggle.
func (d *Dispatcher) Dispatch(ctx context.Context, user Recipient, eligible []docs.Record, items []ReminderItem, p prefs.Preferences) Result {
	var result Result
	if len(eligible) == 0 {
		return result
	}

	summary := summaryLine(len(eligible))

	if _, err := d.alerts.Append(ctx, user.ID, KindReminder, summary); err != nil {
		log.Printf("notify: in-app alert for user %s: %v", user.ID, err)
	} else {
		result.InApp = true
	}

	if p.PushNotifications {
		d.dispatchPush(ctx, user, summary, p, &result)
	}

	if p.VoiceReminders {
		result.SpeechTried = true
		result.SpokenOK = d.dispatchSpeech(ctx, user, eligible, p)
		if !result.SpokenOK {
			if _, err := d.alerts.Append(ctx, user.ID, KindNotice, "Voice reminders are not available right now."); err != nil {
				log.Printf("notify: speech notice for user %s: %v", user.ID, err)
			}
		}
	}

	if p.EmailNotifications {
		result.EmailSent = d.dispatchEmail(user, items)
	}

	return result
}

func (d *Dispatcher) dispatchPush(ctx context.Context, user Recipient, summary string, p prefs.Preferences, result *Result) {
	if d.pusher == nil {
		return
	}

	granted, err := d.pusher.EnsurePermission(ctx)
	if err != nil {
		log.Printf("notify: push permission for user %s: %v", user.ID, err)
		return
	}
	if !granted {
		// The platform refused; the stored preference must not keep
		// claiming the channel is on.
		result.PushDeclined = true
		p.PushNotifications = false
		if err := d.prefs.Save(ctx, user.ID, p); err != nil {
			log.Printf("notify: disable push preference for user %s: %v", user.ID, err)
		}
		if _, err := d.alerts.Append(ctx, user.ID, KindNotice, "Push notifications were turned off because permission was denied."); err != nil {
			log.Printf("notify: push notice for user %s: %v", user.ID, err)
		}
		return
	}

	if err := d.pusher.Show(ctx, "Documents expiring soon", summary); err != nil {
		log.Printf("notify: push delivery for user %s: %v", user.ID, err)
		return
	}
	result.PushSent = true
}

func (d *Dispatcher) dispatchSpeech(ctx context.Context, user Recipient, eligible []docs.Record, p prefs.Preferences) bool {
	if d.speaker == nil {
		return false
	}
	return d.speaker.Speak(ctx, speechText(eligible), OptionsFromPrefs(p))
}

func (d *Dispatcher) dispatchEmail(user Recipient, items []ReminderItem) bool {
	if d.emailer == nil || !d.emailer.IsConfigured() || user.Email == "" {
		return false
	}
	if err := d.emailer.SendReminderEmail(user.Email, user.DisplayName, items); err != nil {
		log.Printf("notify: reminder email for user %s: %v", user.ID, err)
		return false
	}
	return true
}

func summaryLine(n int) string {
	if n == 1 {
		return "1 document expiring soon"
	}
	return fmt.Sprintf("%d documents expiring soon", n)
}

func speechText(eligible []docs.Record) string {
	titles := make([]string, 0, len(eligible))
	for _, r := range eligible {
		titles = append(titles, r.Title)
	}
	return summaryLine(len(eligible)) + ": " + strings.Join(titles, ", ")
}
