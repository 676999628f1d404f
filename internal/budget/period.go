package budget

import "time"

// Period is a budget accounting window length.
type Period string

const (
	PeriodDaily   Period = "daily"
	PeriodWeekly  Period = "weekly"
	PeriodMonthly Period = "monthly"
	PeriodYearly  Period = "yearly"
)

// Window returns the [start, end) bounds of the period containing ref,
// aligned to the wall clock in loc: daily = calendar day, weekly = Monday,
// monthly = first of month, yearly = January 1st.
func (p Period) Window(ref time.Time, loc *time.Location) (start, end time.Time) {
	ref = ref.In(loc)
	switch p {
	case PeriodDaily:
		start = time.Date(ref.Year(), ref.Month(), ref.Day(), 0, 0, 0, 0, loc)
		end = start.AddDate(0, 0, 1)
	case PeriodWeekly:
		day := time.Date(ref.Year(), ref.Month(), ref.Day(), 0, 0, 0, 0, loc)
		// time.Weekday puts Sunday at 0; shift so Monday starts the week.
		offset := (int(day.Weekday()) + 6) % 7
		start = day.AddDate(0, 0, -offset)
		end = start.AddDate(0, 0, 7)
	case PeriodMonthly:
		start = time.Date(ref.Year(), ref.Month(), 1, 0, 0, 0, 0, loc)
		end = start.AddDate(0, 1, 0)
	case PeriodYearly:
		start = time.Date(ref.Year(), 1, 1, 0, 0, 0, 0, loc)
		end = start.AddDate(1, 0, 0)
	default:
		// Unknown periods account monthly rather than failing admission.
		return PeriodMonthly.Window(ref, loc)
	}
	return start, end
}
