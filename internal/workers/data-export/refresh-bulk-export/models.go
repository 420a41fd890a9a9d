// internal/workers/data-export/refresh-bulk-export/models.go
package refreshbulkexport

type Input struct {
	// From and To bound the export by local start date. Both optional.
	From string `json:"from,omitempty"`
	To   string `json:"to,omitempty"`
	// RunID lets a caller retry a run idempotently. Generated when empty.
	RunID string `json:"runId,omitempty"`
}

type Output struct {
	RunID            string         `json:"runId"`
	Appointments     int            `json:"appointments"`
	Pages            int            `json:"pages"`
	Stored           int            `json:"stored"`
	Indexed          int            `json:"indexed"`
	AppointmentTypes int            `json:"appointmentTypes"`
	Locations        int            `json:"locations"`
	DateDistribution map[string]int `json:"dateDistribution"`
	CacheEvicted     int            `json:"cacheEvicted"`
	NotificationID   string         `json:"notificationId,omitempty"`
	CompletedAt      string         `json:"completedAt"`
}
