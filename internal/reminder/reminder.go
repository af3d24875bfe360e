// Package reminder schedules one-shot and recurring reminders from free-text
// requests and delivers them back over the originating messaging channel.
package reminder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/wayneworks/alfred/internal/scheduler"
)

// ErrUnparsable indicates the request text did not match any supported
// reminder format. Callers should re-prompt the user rather than log it as
// a failure.
var ErrUnparsable = errors.New("reminder request not understood")

// Notifier delivers a reminder message to a channel when it fires.
type Notifier interface {
	SendMessage(ctx context.Context, to string, body string) error
}

var (
	// "in 20 minutes take the roast out", "remind me in 2 hours ..."
	oneShotRegex = regexp.MustCompile(`(?i)\bin\s+(\d+)\s*(minutes?|mins?|hours?|hrs?|days?)\b`)
	// "every day at 07:30 morning briefing"
	recurringRegex = regexp.MustCompile(`(?i)\bevery\s+day\s+at\s+(\d{1,2}):(\d{2})\b`)
	reminderVerbs  = regexp.MustCompile(`(?i)^(please\s+)?remind\s+me\s*(to|about|that)?\s*`)
)

const defaultNote = "the matter you asked me to keep in mind"

// Scheduler parses reminder requests and schedules delivery.
type Scheduler struct {
	notifier Notifier
	timer    *Timer
	cron     *scheduler.Scheduler
}

// NewScheduler creates the scheduler and starts its cron runner.
func NewScheduler(notifier Notifier) *Scheduler {
	return &Scheduler{
		notifier: notifier,
		timer:    NewTimer(),
		cron:     scheduler.NewScheduler(),
	}
}

// Set parses a free-text reminder request, schedules it, and returns the
// confirmation to relay to the user. Unrecognized formats return an error
// wrapping ErrUnparsable.
func (s *Scheduler) Set(ctx context.Context, channelID, request string) (string, error) {
	if m := recurringRegex.FindStringSubmatchIndex(request); m != nil {
		return s.setRecurring(channelID, request, m)
	}
	if m := oneShotRegex.FindStringSubmatchIndex(request); m != nil {
		return s.setOneShot(channelID, request, m)
	}
	slog.Debug("Scheduler.Set: unparsable request", "channelID", channelID)
	return "", fmt.Errorf("parse reminder %q: %w", request, ErrUnparsable)
}

// Unparsable reports whether err came from request text the parser could not
// understand, as opposed to a scheduling failure.
func (s *Scheduler) Unparsable(err error) bool {
	return errors.Is(err, ErrUnparsable)
}

// Stop cancels pending one-shot timers and stops the cron runner.
func (s *Scheduler) Stop() {
	s.timer.Stop()
	s.cron.Stop()
}

func (s *Scheduler) setOneShot(channelID, request string, match []int) (string, error) {
	amount, err := strconv.Atoi(request[match[2]:match[3]])
	if err != nil || amount <= 0 {
		return "", fmt.Errorf("parse reminder amount: %w", ErrUnparsable)
	}

	var unit time.Duration
	var unitName string
	switch u := strings.ToLower(request[match[4]:match[5]]); {
	case strings.HasPrefix(u, "min"):
		unit, unitName = time.Minute, "minute"
	case strings.HasPrefix(u, "hour"), strings.HasPrefix(u, "hr"):
		unit, unitName = time.Hour, "hour"
	default:
		unit, unitName = 24*time.Hour, "day"
	}
	if amount != 1 {
		unitName += "s"
	}

	note := extractNote(request, match[0], match[1])
	delay := time.Duration(amount) * unit
	id := s.timer.ScheduleAfter(delay, s.deliver(channelID, note))

	slog.Info("Scheduler.setOneShot: reminder scheduled", "id", id, "channelID", channelID, "delay", delay)
	return fmt.Sprintf("Very well. I shall remind you in %d %s. ⏳", amount, unitName), nil
}

func (s *Scheduler) setRecurring(channelID, request string, match []int) (string, error) {
	hour, err := strconv.Atoi(request[match[2]:match[3]])
	if err != nil || hour > 23 {
		return "", fmt.Errorf("parse reminder hour: %w", ErrUnparsable)
	}
	minute, err := strconv.Atoi(request[match[4]:match[5]])
	if err != nil || minute > 59 {
		return "", fmt.Errorf("parse reminder minute: %w", ErrUnparsable)
	}

	note := extractNote(request, match[0], match[1])
	expr := fmt.Sprintf("%d %d * * *", minute, hour)
	if err := s.cron.AddJob(expr, s.deliver(channelID, note)); err != nil {
		return "", fmt.Errorf("schedule recurring reminder: %w", err)
	}

	slog.Info("Scheduler.setRecurring: reminder scheduled", "channelID", channelID, "cron", expr)
	return fmt.Sprintf("Very well. I shall remind you every day at %02d:%02d. ⏳", hour, minute), nil
}

// deliver builds the callback that sends the reminder text when it fires.
func (s *Scheduler) deliver(channelID, note string) func() {
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		body := fmt.Sprintf("🔔 A gentle reminder, Master: %s", note)
		if err := s.notifier.SendMessage(ctx, channelID, body); err != nil {
			slog.Error("Scheduler.deliver: reminder delivery failed", "error", err, "channelID", channelID)
		}
	}
}

// extractNote removes the time phrase and leading reminder verbs from the
// request, leaving the thing to be reminded about.
func extractNote(request string, start, end int) string {
	note := strings.TrimSpace(request[:start] + " " + request[end:])
	note = reminderVerbs.ReplaceAllString(note, "")
	note = strings.Trim(note, " ,.")
	if note == "" {
		return defaultNote
	}
	return note
}
