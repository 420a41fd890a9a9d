package summary

import (
	"time"

	"practice-insights/internal/greyfinch"
)

// DayCount is one bar of the weekly chart.
type DayCount struct {
	Name  string `json:"name"`
	Value int    `json:"value"`
}

// ChartDays are the practice's open days, in chart order.
var ChartDays = []time.Weekday{
	time.Monday, time.Tuesday, time.Wednesday, time.Thursday, time.Friday, time.Saturday,
}

// Weekly counts bookings per open weekday. Sundays and unparseable dates
// are skipped.
func Weekly(bookings []greyfinch.AppointmentBooking) []DayCount {
	counts := map[time.Weekday]int{}
	for _, b := range bookings {
		d, err := time.Parse("2006-01-02", b.LocalStartDate)
		if err != nil {
			continue
		}
		counts[d.Weekday()]++
	}

	out := make([]DayCount, 0, len(ChartDays))
	for _, day := range ChartDays {
		out = append(out, DayCount{Name: day.String()[:3], Value: counts[day]})
	}
	return out
}
