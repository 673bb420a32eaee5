package scheduler

import (
	"fmt"
	"strings"
)

// Task identifies which recurring job fired. It only lives on the queue.
type Task string

const (
	TaskWednesday Task = "wednesday"
	TaskCrypto    Task = "crypto"
	TaskHeartbeat Task = "heartbeat"

	trendPrefix = "trend:"
)

// TrendTask returns the token for one tracked asset.
func TrendTask(symbol string) Task {
	return Task(trendPrefix + strings.ToUpper(strings.TrimSpace(symbol)))
}

// Asset returns the symbol of a trend token.
func (t Task) Asset() (string, bool) {
	s, ok := strings.CutPrefix(string(t), trendPrefix)
	if !ok || s == "" {
		return "", false
	}
	return s, true
}

// ParseTask validates a token typed by an operator.
func ParseTask(raw string) (Task, error) {
	raw = strings.TrimSpace(raw)
	switch t := Task(strings.ToLower(raw)); t {
	case TaskWednesday, TaskCrypto, TaskHeartbeat:
		return t, nil
	}
	if len(raw) > len(trendPrefix) && strings.EqualFold(raw[:len(trendPrefix)], trendPrefix) {
		return TrendTask(raw[len(trendPrefix):]), nil
	}
	return "", fmt.Errorf("unknown task %q", raw)
}
