package aws

import (
	"fmt"
	"strings"
	"time"
)

// scheduleExpression converts a timer trigger's CronExpression into an
// EventBridge schedule. Accepted forms are "@every <duration>" and six-field
// cron with a leading seconds field.
func scheduleExpression(expr string) (string, error) {
	expr = strings.TrimSpace(expr)

	if rest, ok := strings.CutPrefix(expr, "@every "); ok {
		d, err := time.ParseDuration(strings.TrimSpace(rest))
		if err != nil {
			return "", fmt.Errorf("invalid interval %q: %w", rest, err)
		}
		return rateExpression(d)
	}

	fields := strings.Fields(expr)
	if len(fields) != 6 {
		return "", fmt.Errorf("cron expression %q must have 6 fields", expr)
	}
	if fields[0] != "0" && fields[0] != "*" {
		return "", fmt.Errorf("cron expression %q: schedules have minute resolution", expr)
	}

	minute, hour, dom, month, dow := fields[1], fields[2], fields[3], fields[4], fields[5]
	// Exactly one of day-of-month and day-of-week must be "?".
	switch {
	case dom == "?" || dow == "?":
	case dow == "*":
		dow = "?"
	case dom == "*":
		dom = "?"
	default:
		return "", fmt.Errorf("cron expression %q sets both day-of-month and day-of-week", expr)
	}
	return fmt.Sprintf("cron(%s %s %s %s %s *)", minute, hour, dom, month, dow), nil
}

func rateExpression(d time.Duration) (string, error) {
	if d < time.Minute || d%time.Minute != 0 {
		return "", fmt.Errorf("interval %s must be a whole number of minutes", d)
	}
	switch {
	case d%(24*time.Hour) == 0:
		return unitRate(int(d/(24*time.Hour)), "day"), nil
	case d%time.Hour == 0:
		return unitRate(int(d/time.Hour), "hour"), nil
	default:
		return unitRate(int(d/time.Minute), "minute"), nil
	}
}

func unitRate(n int, unit string) string {
	if n != 1 {
		unit += "s"
	}
	return fmt.Sprintf("rate(%d %s)", n, unit)
}
