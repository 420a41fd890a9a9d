// Package summary condenses appointment bookings into the practice overview
// that grounds model prompts and dashboard charts.
package summary

import (
	"sort"
	"strings"

	"practice-insights/internal/greyfinch"
)

// Count is a labelled tally.
type Count struct {
	Label string `json:"label"`
	Count int    `json:"count"`
}

// Visit is one recent appointment line.
type Visit struct {
	Date    string `json:"date"`
	Time    string `json:"time,omitempty"`
	Patient string `json:"patient"`
	Type    string `json:"type,omitempty"`
}

// Practice is the deterministic overview of a set of bookings.
type Practice struct {
	UniquePatients    int     `json:"uniquePatients"`
	TotalAppointments int     `json:"totalAppointments"`
	ReturningPatients int     `json:"returningPatients"`
	AverageDaily      int     `json:"averageDaily"`
	PeakHour          string  `json:"peakHour"`
	BusiestDay        string  `json:"busiestDay"`
	BusiestHours      []Count `json:"busiestHours"`
	BusiestDates      []Count `json:"busiestDates"`
	FrequentPatients  []Count `json:"frequentPatients"`
	AppointmentTypes  []Count `json:"appointmentTypes"`
	Locations         []Count `json:"locations"`
	Years             []Count `json:"years"`
	Recent            []Visit `json:"recent"`
}

const (
	topHours    = 5
	topDates    = 3
	topPatients = 5
	recentCount = 5
	unavailable = "N/A"
)

// Summarize builds the overview. Bookings without a patient still count as
// appointments but not as patients.
func Summarize(bookings []greyfinch.AppointmentBooking) Practice {
	var (
		patients = map[string]int{}
		hours    = map[string]int{}
		dates    = map[string]int{}
		types    = map[string]int{}
		places   = map[string]int{}
		years    = map[string]int{}
	)

	for _, b := range bookings {
		if name := b.PatientName(); name != "" {
			patients[name]++
		}
		if h := hourOf(b.LocalStartTime); h != "" {
			hours[h]++
		}
		if b.LocalStartDate != "" {
			dates[b.LocalStartDate]++
			if len(b.LocalStartDate) >= 4 {
				years[b.LocalStartDate[:4]]++
			}
		}
		if t := b.TypeName(); t != "" {
			types[t]++
		}
		if l := b.LocationName(); l != "" {
			places[l]++
		}
	}

	p := Practice{
		UniquePatients:    len(patients),
		TotalAppointments: len(bookings),
		BusiestHours:      top(hours, topHours, 1),
		BusiestDates:      top(dates, topDates, 1),
		FrequentPatients:  top(patients, topPatients, 2),
		AppointmentTypes:  top(types, 0, 1),
		Locations:         top(places, 0, 1),
		Years:             chronological(years),
		Recent:            recent(bookings, recentCount),
		PeakHour:          unavailable,
		BusiestDay:        unavailable,
	}
	for _, n := range patients {
		if n > 1 {
			p.ReturningPatients++
		}
	}
	if len(p.BusiestHours) > 0 {
		p.PeakHour = p.BusiestHours[0].Label
	}
	if len(p.BusiestDates) > 0 {
		p.BusiestDay = p.BusiestDates[0].Label
	}
	if len(dates) > 0 {
		p.AverageDaily = (len(bookings) + len(dates)/2) / len(dates)
	}
	return p
}

// LoyaltyRate is the rounded share of patients with more than one visit.
func (p Practice) LoyaltyRate() int {
	if p.UniquePatients == 0 {
		return 0
	}
	return (p.ReturningPatients*100 + p.UniquePatients/2) / p.UniquePatients
}

// hourOf returns "HH" from "HH:MM[:SS]".
func hourOf(clock string) string {
	h, _, ok := strings.Cut(clock, ":")
	if !ok || len(h) == 0 || len(h) > 2 {
		return ""
	}
	if len(h) == 1 {
		h = "0" + h
	}
	return h
}

// top sorts by count desc then label asc, keeps counts >= min, and truncates
// to n when n > 0.
func top(tally map[string]int, n, min int) []Count {
	out := make([]Count, 0, len(tally))
	for label, c := range tally {
		if c >= min {
			out = append(out, Count{Label: label, Count: c})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Label < out[j].Label
	})
	if n > 0 && len(out) > n {
		out = out[:n]
	}
	return out
}

func chronological(tally map[string]int) []Count {
	out := make([]Count, 0, len(tally))
	for label, c := range tally {
		out = append(out, Count{Label: label, Count: c})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Label < out[j].Label })
	return out
}

// recent returns the n latest bookings, newest first.
func recent(bookings []greyfinch.AppointmentBooking, n int) []Visit {
	sorted := make([]greyfinch.AppointmentBooking, 0, len(bookings))
	for _, b := range bookings {
		if b.LocalStartDate != "" {
			sorted = append(sorted, b)
		}
	}
	sort.SliceStable(sorted, func(i, j int) bool {
		ki := sorted[i].LocalStartDate + " " + sorted[i].LocalStartTime
		kj := sorted[j].LocalStartDate + " " + sorted[j].LocalStartTime
		return ki > kj
	})
	if len(sorted) > n {
		sorted = sorted[:n]
	}

	out := make([]Visit, 0, len(sorted))
	for _, b := range sorted {
		out = append(out, Visit{
			Date:    b.LocalStartDate,
			Time:    b.LocalStartTime,
			Patient: b.PatientName(),
			Type:    b.TypeName(),
		})
	}
	return out
}
