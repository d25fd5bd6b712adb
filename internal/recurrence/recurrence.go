package recurrence

import (
	"errors"
	"fmt"
	"strings"
	"time"

	cronlib "github.com/robfig/cron/v3"
	"github.com/teambition/rrule-go"
)

// ErrInvalidRule is returned for empty or unparseable recurrence rules.
// Callers must reject such rules before any side effect happens.
var ErrInvalidRule = errors.New("invalid recurrence rule")

// cronParser accepts 6-field specs (with seconds) plus descriptors like
// "@daily". 5-field specs are normalized by Normalize before parsing.
var cronParser = cronlib.NewParser(
	cronlib.Second | cronlib.Minute | cronlib.Hour | cronlib.Dom | cronlib.Month | cronlib.Dow | cronlib.Descriptor,
)

// IsRRule reports whether the rule string is an RFC 5545 RRULE rather than
// a cron expression.
func IsRRule(rule string) bool {
	up := strings.ToUpper(strings.TrimSpace(rule))
	return strings.HasPrefix(up, "RRULE:") || strings.Contains(up, "FREQ=")
}

// Normalize prepares a cron rule for parsing: trims whitespace, maps the
// Quartz-style "?" to "*", and prefixes a zero seconds field to 5-field
// expressions so a single 6-field parser handles both forms.
func Normalize(rule string) string {
	rule = strings.TrimSpace(rule)
	if strings.HasPrefix(rule, "@") {
		return rule
	}
	rule = strings.ReplaceAll(rule, "?", "*")
	if len(strings.Fields(rule)) == 5 {
		rule = "0 " + rule
	}
	return rule
}

// Validate parses the rule and reports whether it is usable. The empty rule
// is invalid: a template with no recurrence cannot be expanded.
func Validate(rule string) error {
	if strings.TrimSpace(rule) == "" {
		return fmt.Errorf("%w: empty rule", ErrInvalidRule)
	}
	if IsRRule(rule) {
		_, err := parseRRule(rule, time.Now())
		if err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidRule, err)
		}
		return nil
	}
	if _, err := cronParser.Parse(Normalize(rule)); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRule, err)
	}
	return nil
}

// Between expands the rule into the ordered sequence of fire times strictly
// after `after` and at-or-before `until`. All arithmetic happens in loc, the
// deployment's home zone, so DST shifts cannot duplicate or drop fires.
// limit > 0 caps the number of results; limit <= 0 means unbounded.
func Between(rule string, after, until time.Time, limit int, loc *time.Location) ([]time.Time, error) {
	if strings.TrimSpace(rule) == "" {
		return nil, fmt.Errorf("%w: empty rule", ErrInvalidRule)
	}
	if !until.After(after) {
		return nil, nil
	}
	if loc == nil {
		loc = time.Local
	}
	if IsRRule(rule) {
		return rruleBetween(rule, after, until, limit, loc)
	}
	return cronBetween(rule, after, until, limit, loc)
}

func cronBetween(rule string, after, until time.Time, limit int, loc *time.Location) ([]time.Time, error) {
	sched, err := cronParser.Parse(Normalize(rule))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRule, err)
	}

	var out []time.Time
	t := after.In(loc)
	for {
		t = sched.Next(t)
		if t.IsZero() || t.After(until) {
			break
		}
		out = append(out, t)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func rruleBetween(rule string, after, until time.Time, limit int, loc *time.Location) ([]time.Time, error) {
	r, err := parseRRule(rule, after.In(loc))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRule, err)
	}

	var out []time.Time
	for _, t := range r.Between(after, until, true) {
		if !t.After(after) {
			continue
		}
		out = append(out, t.In(loc))
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func parseRRule(rule string, dtstart time.Time) (*rrule.RRule, error) {
	opt, err := rrule.StrToROption(strings.TrimPrefix(strings.TrimSpace(rule), "RRULE:"))
	if err != nil {
		return nil, err
	}
	if opt.Dtstart.IsZero() {
		opt.Dtstart = dtstart
	}
	return rrule.NewRRule(*opt)
}

// NextAfter returns the first fire time strictly after t, or the zero time
// when the rule has no further occurrences within horizon.
func NextAfter(rule string, t time.Time, horizon time.Duration, loc *time.Location) (time.Time, error) {
	times, err := Between(rule, t, t.Add(horizon), 1, loc)
	if err != nil {
		return time.Time{}, err
	}
	if len(times) == 0 {
		return time.Time{}, nil
	}
	return times[0], nil
}
