package schedule

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/robfig/cron/v3"

	"regionwatch/internal/types"
)

var (
	rateExpr = regexp.MustCompile(`^rate\(\s*(\d+)\s+([a-z]+)\s*\)$`)
	cronExpr = regexp.MustCompile(`^cron\((.+)\)$`)
	atExpr   = regexp.MustCompile(`^at\((\d{4}-\d{2}-\d{2}T\d{2}:\d{2}:\d{2})\)$`)
	dowField = regexp.MustCompile(`^[0-9A-Za-z,\-*?/#]+$`)
)

var rateUnits = map[string]bool{
	"minute": true, "minutes": true,
	"hour": true, "hours": true,
	"day": true, "days": true,
	"week": true, "weeks": true,
	"month": true, "months": true,
}

// cronFields checks minutes, hours, day-of-month and month of a six-field
// trigger cron expression (minutes hours day-of-month month day-of-week year).
var cronFields = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// ValidateExpression checks the syntax of a schedule expression and timezone
// before the trigger service is called. It accepts rate(<n> <unit>),
// cron(<min> <hour> <dom> <month> <dow> <year>) and at(<yyyy-mm-ddThh:mm:ss>).
// Cron tokens the local parser cannot interpret (L, W, #) are left for the
// trigger service to judge.
func ValidateExpression(expr, timezone string) error {
	if timezone != "" {
		if _, err := time.LoadLocation(timezone); err != nil {
			return types.NewAppError(types.ErrCodeInvalidScheduleExpression,
				fmt.Sprintf("unknown timezone %q", timezone), err)
		}
	}

	expr = strings.TrimSpace(expr)
	switch {
	case expr == "":
		return invalid(expr, "expression is empty", nil)
	case strings.HasPrefix(expr, "rate("):
		return validateRate(expr)
	case strings.HasPrefix(expr, "cron("):
		return validateCron(expr)
	case strings.HasPrefix(expr, "at("):
		m := atExpr.FindStringSubmatch(expr)
		if m == nil {
			return invalid(expr, "at() requires yyyy-mm-ddThh:mm:ss", nil)
		}
		if _, err := time.Parse("2006-01-02T15:04:05", m[1]); err != nil {
			return invalid(expr, "at() timestamp is not a valid date", err)
		}
		return nil
	default:
		return invalid(expr, "expression must be rate(...), cron(...) or at(...)", nil)
	}
}

func validateRate(expr string) error {
	m := rateExpr.FindStringSubmatch(expr)
	if m == nil {
		return invalid(expr, "rate() requires a value and a unit", nil)
	}
	n, err := strconv.Atoi(m[1])
	if err != nil || n < 1 {
		return invalid(expr, "rate value must be a positive integer", err)
	}
	unit := m[2]
	if !rateUnits[unit] {
		return invalid(expr, fmt.Sprintf("unknown rate unit %q", unit), nil)
	}
	singular := !strings.HasSuffix(unit, "s")
	if (n == 1) != singular {
		return invalid(expr, "rate unit must be singular for 1 and plural otherwise", nil)
	}
	return nil
}

func validateCron(expr string) error {
	m := cronExpr.FindStringSubmatch(expr)
	if m == nil {
		return invalid(expr, "malformed cron()", nil)
	}
	fields := strings.Fields(m[1])
	if len(fields) != 6 {
		return invalid(expr, fmt.Sprintf("cron() requires 6 fields, got %d", len(fields)), nil)
	}

	dom, dow := fields[2], fields[4]
	if (dom == "?") == (dow == "?") {
		return invalid(expr, "exactly one of day-of-month and day-of-week must be ?", nil)
	}

	// Day-of-week numbering is 1-7 for the trigger service and 0-6 for the
	// local parser, so only its character set is checked here.
	if !dowField.MatchString(dow) {
		return invalid(expr, "malformed day-of-week field", nil)
	}
	head := strings.Join(fields[:4], " ")
	if strings.ContainsAny(head, "LW#") {
		return nil
	}
	if _, err := cronFields.Parse(head + " *"); err != nil {
		return invalid(expr, "cron() fields do not parse", err)
	}
	return nil
}

func invalid(expr, msg string, err error) error {
	return types.NewAppErrorWithDetails(types.ErrCodeInvalidScheduleExpression, msg, err,
		map[string]any{"expression": expr})
}
