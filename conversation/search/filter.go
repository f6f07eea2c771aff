// Package search implements live, debounced filtering of a conversation timeline.
package search

import (
	"regexp"
	"sync"
	"time"

	"mobile-chat/backend/conversation/models"
	apperrors "mobile-chat/backend/pkg/errors"
)

// DefaultQuiescenceWindow matches the original three second typing pause
const DefaultQuiescenceWindow = 3 * time.Second

// Config configures a Filter
type Config struct {
	// QuiescenceWindow is how long input must stay unchanged before it takes effect
	QuiescenceWindow time.Duration
}

// DefaultConfig returns the default filter configuration
func DefaultConfig() Config {
	return Config{QuiescenceWindow: DefaultQuiescenceWindow}
}

// Timer is the subset of *time.Timer the filter relies on
type Timer interface {
	Stop() bool
}

// AfterFunc schedules f to run once after d
type AfterFunc func(d time.Duration, f func()) Timer

func realAfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// Filter tracks raw search input and the debounced effective query
type Filter struct {
	window    time.Duration
	afterFunc AfterFunc

	mu        sync.Mutex
	raw       string
	effective string
	pending   Timer
	rev       uint64
	stopped   bool
	listeners []func(query string)
}

// Option configures a Filter
type Option func(*Filter)

// WithAfterFunc replaces the timer implementation
func WithAfterFunc(fn AfterFunc) Option {
	return func(f *Filter) {
		if fn != nil {
			f.afterFunc = fn
		}
	}
}

// New creates a Filter with an empty query
func New(cfg Config, opts ...Option) *Filter {
	if cfg.QuiescenceWindow <= 0 {
		cfg.QuiescenceWindow = DefaultQuiescenceWindow
	}
	f := &Filter{
		window:    cfg.QuiescenceWindow,
		afterFunc: realAfterFunc,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// OnQueryChanged registers a callback run whenever the effective query changes.
// Callbacks run on the timer goroutine.
func (f *Filter) OnQueryChanged(fn func(query string)) {
	if fn == nil {
		return
	}
	f.mu.Lock()
	f.listeners = append(f.listeners, fn)
	f.mu.Unlock()
}

// OnInputChanged records raw input and restarts the quiescence window.
// Only the last input of a burst becomes effective.
func (f *Filter) OnInputChanged(raw string) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.stopped {
		return
	}
	f.raw = raw
	f.rev++
	if f.pending != nil {
		f.pending.Stop()
	}
	rev := f.rev
	f.pending = f.afterFunc(f.window, func() { f.commit(rev) })
}

func (f *Filter) commit(rev uint64) {
	f.mu.Lock()
	// A superseded or discarded timer may still fire if Stop lost the race.
	if f.stopped || rev != f.rev {
		f.mu.Unlock()
		return
	}
	f.pending = nil
	changed := f.effective != f.raw
	f.effective = f.raw
	query := f.effective
	listeners := make([]func(string), len(f.listeners))
	copy(listeners, f.listeners)
	f.mu.Unlock()

	if !changed {
		return
	}
	for _, fn := range listeners {
		fn(query)
	}
}

// RawInput returns the latest keystroke-level text
func (f *Filter) RawInput() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.raw
}

// EffectiveQuery returns the debounced query currently used for filtering
func (f *Filter) EffectiveQuery() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.effective
}

// Stop discards any pending update without applying it. Further input is ignored.
func (f *Filter) Stop() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped = true
	f.rev++
	if f.pending != nil {
		f.pending.Stop()
		f.pending = nil
	}
}

// Apply filters messages with the current effective query
func (f *Filter) Apply(messages []models.MessageRecord) ([]models.MessageRecord, error) {
	return Match(messages, f.EffectiveQuery())
}

// Match returns the messages whose ID, sender, text or timestamp match query,
// as a case-insensitive regular expression, in their original order.
// An empty query applies no filter.
func Match(messages []models.MessageRecord, query string) ([]models.MessageRecord, error) {
	if query == "" {
		out := make([]models.MessageRecord, len(messages))
		copy(out, messages)
		return out, nil
	}

	re, err := regexp.Compile("(?i)" + query)
	if err != nil {
		return nil, apperrors.NewInvalidQueryError(query, err)
	}

	out := make([]models.MessageRecord, 0, len(messages))
	for _, m := range messages {
		if matches(re, m) {
			out = append(out, m)
		}
	}
	return out, nil
}

func matches(re *regexp.Regexp, m models.MessageRecord) bool {
	if m.Text != "" && re.MatchString(m.Text) {
		return true
	}
	return re.MatchString(m.SenderID) ||
		re.MatchString(m.ID) ||
		re.MatchString(m.CreatedAt.Format(time.RFC3339))
}
