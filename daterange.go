package gscluster

import (
	"errors"
	"fmt"
	"time"

	"github.com/sosodev/duration"
	"github.com/spf13/cobra"
)

// DateLayout is the ISO date format used by the API and in file names.
const DateLayout = "2006-01-02"

// DateRange is an inclusive range of calendar days.
type DateRange struct {
	Start time.Time
	End   time.Time
}

// ParseDateRange builds a range from ISO dates or an ISO-8601 duration.
// end defaults to the day of now. When last is set (e.g. "P28D") the range
// covers that many calendar days ending at end, inclusive; it cannot be
// combined with start.
func ParseDateRange(start, end, last string, now time.Time) (DateRange, error) {
	var r DateRange

	if end != "" {
		t, err := time.Parse(DateLayout, end)
		if err != nil {
			return r, fmt.Errorf("invalid end date %q: %w", end, err)
		}
		r.End = t
	} else {
		y, m, d := now.Date()
		r.End = time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	}

	switch {
	case last != "" && start != "":
		return r, errors.New("start date and duration are mutually exclusive")
	case last != "":
		d, err := duration.Parse(last)
		if err != nil {
			return r, fmt.Errorf("invalid duration %q: %w", last, err)
		}
		if d.Negative || d.Hours != 0 || d.Minutes != 0 || d.Seconds != 0 {
			return r, fmt.Errorf("duration %q must be a positive number of days, weeks, months or years", last)
		}
		days := int(d.Weeks)*7 + int(d.Days)
		r.Start = r.End.AddDate(-int(d.Years), -int(d.Months), -days).AddDate(0, 0, 1)
	case start != "":
		t, err := time.Parse(DateLayout, start)
		if err != nil {
			return r, fmt.Errorf("invalid start date %q: %w", start, err)
		}
		r.Start = t
	default:
		return r, errors.New("a start date or a duration is required")
	}

	if r.Start.After(r.End) {
		return r, fmt.Errorf("start date %s is after end date %s", r.Start.Format(DateLayout), r.End.Format(DateLayout))
	}
	return r, nil
}

func addDateRangeFlags(cmd *cobra.Command) {
	cmd.Flags().String("start", "", "first day of the report (YYYY-MM-DD)")
	cmd.Flags().String("end", "", "last day of the report (YYYY-MM-DD, default today)")
	cmd.Flags().String("last", "", "ISO-8601 duration ending at --end, e.g. P28D (instead of --start)")
}

func dateRangeFromFlags(cmd *cobra.Command) (DateRange, error) {
	start, _ := cmd.Flags().GetString("start")
	end, _ := cmd.Flags().GetString("end")
	last, _ := cmd.Flags().GetString("last")
	return ParseDateRange(start, end, last, time.Now())
}
