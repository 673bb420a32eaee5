package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

const (
	defaultTick     = 30 * time.Second
	maxCatchUpSteps = 10000
)

var parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Rule binds a cron expression (or descriptor such as "@every 1m") to a task.
type Rule struct {
	Name string
	Spec string
	Task Task

	schedule cron.Schedule
}

// Compile parses every rule's Spec. Names must be unique.
func Compile(rules []Rule) ([]Rule, error) {
	seen := make(map[string]struct{}, len(rules))
	out := make([]Rule, len(rules))
	for i, r := range rules {
		if r.Name == "" {
			return nil, fmt.Errorf("rule %d: name is required", i)
		}
		if _, dup := seen[r.Name]; dup {
			return nil, fmt.Errorf("rule %s: duplicate name", r.Name)
		}
		seen[r.Name] = struct{}{}
		if r.Task == "" {
			return nil, fmt.Errorf("rule %s: task is required", r.Name)
		}
		sched, err := parser.Parse(r.Spec)
		if err != nil {
			return nil, fmt.Errorf("rule %s: parse %q: %w", r.Name, r.Spec, err)
		}
		r.schedule = sched
		out[i] = r
	}
	return out, nil
}

// ValidateSpec reports whether spec is an accepted schedule expression.
func ValidateSpec(spec string) error {
	_, err := parser.Parse(spec)
	return err
}

// ParseOffset turns "+03:00", "-0530" or "UTC" into a fixed zone.
func ParseOffset(raw string) (*time.Location, error) {
	if raw == "" || raw == "UTC" || raw == "Z" {
		return time.UTC, nil
	}
	for _, layout := range []string{"-07:00", "-0700", "-07"} {
		if t, err := time.Parse(layout, raw); err == nil {
			_, offset := t.Zone()
			return time.FixedZone(raw, offset), nil
		}
	}
	return nil, fmt.Errorf("invalid utc offset %q", raw)
}

// DueTasks returns the tasks whose rule has an occurrence in (lastRun, now].
// Rules without a lastRun entry are not due. Several missed occurrences of
// one rule collapse into a single task.
func DueTasks(rules []Rule, now time.Time, lastRun map[string]time.Time) []Task {
	var due []Task
	for _, r := range rules {
		if _, ok := occurrence(r, now, lastRun[r.Name]); ok {
			due = append(due, r.Task)
		}
	}
	return due
}

// occurrence returns the latest scheduled time in (last, now].
func occurrence(r Rule, now, last time.Time) (time.Time, bool) {
	if r.schedule == nil || last.IsZero() {
		return time.Time{}, false
	}
	loc := now.Location()
	next := r.schedule.Next(last.In(loc))
	if next.IsZero() || next.After(now) {
		return time.Time{}, false
	}
	at := next
	for i := 0; i < maxCatchUpSteps; i++ {
		n := r.schedule.Next(at)
		if n.IsZero() || n.After(now) {
			return at, true
		}
		at = n
	}
	return now, true
}

// Options tune scheduler behaviour.
type Options struct {
	Tick     time.Duration
	Location *time.Location
}

// Scheduler evaluates rules on a fixed tick and enqueues due tasks.
type Scheduler struct {
	rules  []Rule
	tick   time.Duration
	loc    *time.Location
	now    func() time.Time
	logger zerolog.Logger
}

// New compiles rules and constructs a Scheduler.
func New(rules []Rule, opts Options, logger zerolog.Logger) (*Scheduler, error) {
	compiled, err := Compile(rules)
	if err != nil {
		return nil, err
	}
	if len(compiled) == 0 {
		return nil, errors.New("scheduler has no rules")
	}
	if opts.Tick <= 0 {
		opts.Tick = defaultTick
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	return &Scheduler{
		rules:  compiled,
		tick:   opts.Tick,
		loc:    opts.Location,
		now:    time.Now,
		logger: logger.With().Str("component", "scheduler").Logger(),
	}, nil
}

// Rules returns the compiled rules.
func (s *Scheduler) Rules() []Rule {
	out := make([]Rule, len(s.rules))
	copy(out, s.rules)
	return out
}

// Next returns the upcoming occurrence of every rule after from.
func (s *Scheduler) Next(from time.Time) map[string]time.Time {
	out := make(map[string]time.Time, len(s.rules))
	for _, r := range s.rules {
		out[r.Name] = r.schedule.Next(from.In(s.loc))
	}
	return out
}

// Run blocks, enqueueing due tasks on every tick until ctx is cancelled.
// A full queue blocks the scheduler; missed occurrences coalesce.
func (s *Scheduler) Run(ctx context.Context, queue chan<- Task) error {
	start := s.now().In(s.loc)
	lastRun := make(map[string]time.Time, len(s.rules))
	for _, r := range s.rules {
		lastRun[r.Name] = start
	}
	for name, at := range s.Next(start) {
		s.logger.Debug().Str("rule", name).Time("next", at).Msg("rule armed")
	}

	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
		if err := s.evaluate(ctx, queue, lastRun); err != nil {
			return err
		}
	}
}

func (s *Scheduler) evaluate(ctx context.Context, queue chan<- Task, lastRun map[string]time.Time) error {
	now := s.now().In(s.loc)
	for _, r := range s.rules {
		at, ok := occurrence(r, now, lastRun[r.Name])
		if !ok {
			continue
		}
		lastRun[r.Name] = at
		select {
		case queue <- r.Task:
			s.logger.Debug().Str("rule", r.Name).Str("task", string(r.Task)).Time("scheduled", at).Msg("task enqueued")
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}
