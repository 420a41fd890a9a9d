// internal/workers/data-export/refresh-bulk-export/config.go
package refreshbulkexport

import "time"

type Config struct {
	Timeout  time.Duration
	PageSize int
	// MaxAppointments stops the export once this many bookings are held.
	MaxAppointments int
}

func LoadConfig() *Config {
	return &Config{
		Timeout:         10 * time.Minute,
		PageSize:        100,
		MaxAppointments: 50000,
	}
}
