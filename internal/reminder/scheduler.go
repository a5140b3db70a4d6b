// Package reminder owns the periodic re-evaluation of document collections.
// Scheduling is centralized in one process-wide service: UI surfaces trigger
// or observe sweeps over the API instead of running their own timers, and
// the shared throttle timestamp keeps independent triggers from producing
// duplicate notifications.
package reminder

import (
	"context"
	"log"
	"sync"
	"time"

	"paperkeep/api/internal/dates"
	"paperkeep/api/internal/docs"
	"paperkeep/api/internal/notify"
	"paperkeep/api/internal/prefs"
	"paperkeep/api/internal/store"
)

type recordStore interface {
	List(ctx context.Context, userID string) ([]docs.Record, error)
	SetStatus(ctx context.Context, userID, id string, to docs.Status, auto bool) (docs.Record, bool, error)
}

type prefsLoader interface {
	Load(ctx context.Context, userID string) (prefs.Preferences, error)
}

type dispatcher interface {
	Dispatch(ctx context.Context, user notify.Recipient, eligible []docs.Record, items []notify.ReminderItem, p prefs.Preferences) notify.Result
}

type directory interface {
	ListActiveUsers(ctx context.Context) ([]store.User, error)
}

type throttle interface {
	LastSweptAt(ctx context.Context, userID string) (time.Time, bool, error)
	SetLastSweptAt(ctx context.Context, userID string, t time.Time) error
}

// SweepResult describes one scheduling opportunity for one user.
type SweepResult struct {
	Skipped  bool
	Eligible []docs.Record
	Expired  []string
	Delivery notify.Result
	SweptAt  time.Time
}

// Scheduler periodically sweeps every user's document collection, at most
// once per throttle window per user, and hands newly eligible documents to
// the dispatcher.
type Scheduler struct {
	records    recordStore
	prefs      prefsLoader
	dispatcher dispatcher
	users      directory
	throttle   throttle

	window     time.Duration
	graceDelay time.Duration
	interval   time.Duration
	now        func() time.Time

	mu          sync.Mutex
	subscribers []chan SweepResult
}

// Options configure sweep cadence.
type Options struct {
	ThrottleWindow time.Duration
	GraceDelay     time.Duration
	Interval       time.Duration
}

// NewScheduler wires the sweep dependencies.
func NewScheduler(records recordStore, prefsStore prefsLoader, d dispatcher, users directory, t throttle, opts Options) *Scheduler {
	if opts.ThrottleWindow <= 0 {
		opts.ThrottleWindow = time.Hour
	}
	if opts.Interval <= 0 {
		opts.Interval = 15 * time.Minute
	}
	return &Scheduler{
		records:    records,
		prefs:      prefsStore,
		dispatcher: d,
		users:      users,
		throttle:   t,
		window:     opts.ThrottleWindow,
		graceDelay: opts.GraceDelay,
		interval:   opts.Interval,
		now:        time.Now,
	}
}

// Run starts the recurring sweep loop: a short grace delay after startup,
// then a fixed interval. Cancel the context to stop; there are no orphaned
// timers once Run returns.
func (s *Scheduler) Run(ctx context.Context) {
	select {
	case <-ctx.Done():
		return
	case <-time.After(s.graceDelay):
	}
	s.SweepAll(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.SweepAll(ctx)
		}
	}
}

// SweepAll runs one scheduling opportunity for every known user. A failure
// for one user never aborts the others.
func (s *Scheduler) SweepAll(ctx context.Context) {
	users, err := s.users.ListActiveUsers(ctx)
	if err != nil {
		log.Printf("reminder: list users: %v", err)
		return
	}
	for _, u := range users {
		if _, err := s.Sweep(ctx, u); err != nil {
			log.Printf("reminder: sweep user %s: %v", u.ID, err)
		}
	}
}

// Sweep evaluates one user's collection. If less than the throttle window
// has elapsed since the last sweep the call is a no-op and the last-swept
// timestamp is not touched. Otherwise every document is evaluated:
// unparseable due dates and absorbing statuses are skipped, overdue active
// or pending documents are auto-expired, and documents within the effective
// threshold form the eligible set handed to the dispatcher.
func (s *Scheduler) Sweep(ctx context.Context, user store.User) (SweepResult, error) {
	now := s.now()

	last, ok, err := s.throttle.LastSweptAt(ctx, user.ID)
	if err != nil {
		return SweepResult{}, err
	}
	if ok && now.Sub(last) < s.window {
		return SweepResult{Skipped: true}, nil
	}

	// A broken preferences read must not abort the sweep; defaults apply.
	p, err := s.prefs.Load(ctx, user.ID)
	if err != nil {
		log.Printf("reminder: preferences for user %s, using defaults: %v", user.ID, err)
		p = prefs.Defaults()
	}

	records, err := s.records.List(ctx, user.ID)
	if err != nil {
		return SweepResult{}, err
	}

	result := SweepResult{SweptAt: now}
	var items []notify.ReminderItem
	for _, r := range records {
		if r.Status.Absorbing() {
			continue
		}
		due, err := dates.Parse(r.DueDate)
		if err != nil {
			continue
		}
		days := dates.DaysUntil(due, now)

		if days < 0 {
			if docs.CanAutoExpire(r.Status) {
				if _, changed, err := s.records.SetStatus(ctx, user.ID, r.ID, docs.StatusExpired, true); err != nil {
					log.Printf("reminder: expire document %s: %v", r.ID, err)
				} else if changed {
					result.Expired = append(result.Expired, r.ID)
				}
			}
			continue
		}

		if days <= r.EffectiveThreshold(p.ReminderDays) {
			result.Eligible = append(result.Eligible, r)
			items = append(items, notify.ReminderItem{
				Title:         r.Title,
				Type:          r.Type,
				DueDate:       due.ISO(),
				DaysRemaining: days,
			})
		}
	}

	if err := s.throttle.SetLastSweptAt(ctx, user.ID, now); err != nil {
		return SweepResult{}, err
	}

	if len(result.Eligible) > 0 && s.dispatcher != nil {
		recipient := notify.Recipient{ID: user.ID, Email: user.Email, DisplayName: user.DisplayName}
		result.Delivery = s.dispatcher.Dispatch(ctx, recipient, result.Eligible, items, p)
	}

	s.publish(result)
	return result, nil
}

// Preview returns the documents that would be eligible right now without
// consuming the throttle, mutating statuses or notifying anyone.
func (s *Scheduler) Preview(ctx context.Context, userID string) ([]docs.Record, error) {
	p, err := s.prefs.Load(ctx, userID)
	if err != nil {
		p = prefs.Defaults()
	}

	records, err := s.records.List(ctx, userID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	var eligible []docs.Record
	for _, r := range records {
		if r.Status.Absorbing() {
			continue
		}
		due, err := dates.Parse(r.DueDate)
		if err != nil {
			continue
		}
		days := dates.DaysUntil(due, now)
		if days >= 0 && days <= r.EffectiveThreshold(p.ReminderDays) {
			eligible = append(eligible, r)
		}
	}
	return eligible, nil
}

// Subscribe registers an observer of sweep results. The returned cancel
// function must be called when the observer goes away. Slow observers miss
// events instead of blocking the sweep.
func (s *Scheduler) Subscribe() (<-chan SweepResult, func()) {
	ch := make(chan SweepResult, 8)

	s.mu.Lock()
	s.subscribers = append(s.subscribers, ch)
	s.mu.Unlock()

	cancel := func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		for i, sub := range s.subscribers {
			if sub == ch {
				s.subscribers = append(s.subscribers[:i], s.subscribers[i+1:]...)
				close(ch)
				return
			}
		}
	}
	return ch, cancel
}

func (s *Scheduler) publish(result SweepResult) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ch := range s.subscribers {
		select {
		case ch <- result:
		default:
		}
	}
}
