package greyfinch

import (
	"strings"
	"time"
)

// Credential is a short-lived API token. It is obtained per request or per
// export run and passed explicitly to every query.
type Credential struct {
	AccessToken string    `json:"-"`
	ExpiresAt   time.Time `json:"expiresAt"`
}

// ExpirySkew is subtracted from ExpiresAt so a token is never used in its
// final seconds.
const ExpirySkew = 30 * time.Second

// Valid reports whether the credential can still be used at now.
func (c Credential) Valid(now time.Time) bool {
	return c.AccessToken != "" && now.Add(ExpirySkew).Before(c.ExpiresAt)
}

type Person struct {
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
}

func (p Person) FullName() string {
	return strings.TrimSpace(p.FirstName + " " + p.LastName)
}

type Patient struct {
	ID        string `json:"id"`
	CreatedAt string `json:"createdAt,omitempty"`
	Person    Person `json:"person"`
}

type Provider struct {
	ID     string `json:"id"`
	Person Person `json:"person"`
}

type AppointmentType struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type Address struct {
	City  string `json:"city"`
	State string `json:"state"`
}

type Location struct {
	ID      string  `json:"id"`
	Name    string  `json:"name"`
	Address Address `json:"address"`
}

type Appointment struct {
	ID              string           `json:"id"`
	Status          string           `json:"status"`
	Rescheduled     bool             `json:"rescheduled"`
	AppointmentType *AppointmentType `json:"appointmentType"`
	Location        *Location        `json:"location"`
	Provider        *Provider        `json:"provider"`
	Patient         *Patient         `json:"patient"`
}

// AppointmentBooking is one row of appointmentBookings.
type AppointmentBooking struct {
	ID             string       `json:"id"`
	LocalStartDate string       `json:"localStartDate"`
	LocalStartTime string       `json:"localStartTime"`
	Appointment    *Appointment `json:"appointment"`
}

func (b AppointmentBooking) PatientID() string {
	if b.Appointment == nil || b.Appointment.Patient == nil {
		return ""
	}
	return b.Appointment.Patient.ID
}

func (b AppointmentBooking) PatientName() string {
	if b.Appointment == nil || b.Appointment.Patient == nil {
		return ""
	}
	return b.Appointment.Patient.Person.FullName()
}

func (b AppointmentBooking) ProviderName() string {
	if b.Appointment == nil || b.Appointment.Provider == nil {
		return ""
	}
	return b.Appointment.Provider.Person.FullName()
}

func (b AppointmentBooking) TypeName() string {
	if b.Appointment == nil || b.Appointment.AppointmentType == nil {
		return ""
	}
	return b.Appointment.AppointmentType.Name
}

func (b AppointmentBooking) LocationName() string {
	if b.Appointment == nil || b.Appointment.Location == nil {
		return ""
	}
	return b.Appointment.Location.Name
}

func (b AppointmentBooking) Status() string {
	if b.Appointment == nil {
		return ""
	}
	return b.Appointment.Status
}

func (b AppointmentBooking) Rescheduled() bool {
	return b.Appointment != nil && b.Appointment.Rescheduled
}

// StartTime parses the local start date and time. The zero time is returned
// when the date is malformed; a missing time means midnight.
func (b AppointmentBooking) StartTime() time.Time {
	if b.LocalStartTime != "" {
		if t, err := time.Parse("2006-01-02 15:04:05", b.LocalStartDate+" "+b.LocalStartTime); err == nil {
			return t
		}
		if t, err := time.Parse("2006-01-02 15:04", b.LocalStartDate+" "+b.LocalStartTime); err == nil {
			return t
		}
	}
	t, err := time.Parse("2006-01-02", b.LocalStartDate)
	if err != nil {
		return time.Time{}
	}
	return t
}

// Row flattens the booking for tabular output and CSV export.
func (b AppointmentBooking) Row() map[string]interface{} {
	return map[string]interface{}{
		"id":              b.ID,
		"date":            b.LocalStartDate,
		"time":            b.LocalStartTime,
		"patientId":       b.PatientID(),
		"patientName":     b.PatientName(),
		"providerName":    b.ProviderName(),
		"appointmentType": b.TypeName(),
		"location":        b.LocationName(),
		"status":          b.Status(),
	}
}

// AppointmentFilter narrows appointmentBookings. Dates are YYYY-MM-DD and
// inclusive; empty fields are ignored.
type AppointmentFilter struct {
	From        string
	To          string
	LocationID  string
	PatientName string
}

func (f AppointmentFilter) where() map[string]interface{} {
	where := map[string]interface{}{}

	dates := map[string]interface{}{}
	if f.From != "" {
		dates["_gte"] = f.From
	}
	if f.To != "" {
		dates["_lte"] = f.To
	}
	if len(dates) > 0 {
		where["localStartDate"] = dates
	}

	appointment := map[string]interface{}{}
	if f.LocationID != "" {
		appointment["locationId"] = map[string]interface{}{"_eq": f.LocationID}
	}
	if f.PatientName != "" {
		appointment["patient"] = personMatch(f.PatientName)
	}
	if len(appointment) > 0 {
		where["appointment"] = appointment
	}

	return where
}

// PatientFilter narrows patients. CreatedSince is YYYY-MM-DD.
type PatientFilter struct {
	CreatedSince string
	Name         string
}

func (f PatientFilter) where() map[string]interface{} {
	where := map[string]interface{}{}
	if f.CreatedSince != "" {
		where["createdAt"] = map[string]interface{}{"_gte": f.CreatedSince}
	}
	if f.Name != "" {
		for k, v := range personMatch(f.Name) {
			where[k] = v
		}
	}
	return where
}

// personMatch matches every word of name against first or last name.
func personMatch(name string) map[string]interface{} {
	var clauses []interface{}
	for _, word := range strings.Fields(name) {
		pattern := "%" + word + "%"
		clauses = append(clauses, map[string]interface{}{
			"_or": []interface{}{
				map[string]interface{}{"person": map[string]interface{}{"firstName": map[string]interface{}{"_ilike": pattern}}},
				map[string]interface{}{"person": map[string]interface{}{"lastName": map[string]interface{}{"_ilike": pattern}}},
			},
		})
	}
	return map[string]interface{}{"_and": clauses}
}
