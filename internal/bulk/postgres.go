package bulk

import (
	"context"
	"database/sql"
	"fmt"
	"time"
	"unicode/utf8"

	"practice-insights/internal/greyfinch"
	"practice-insights/internal/planner"

	"github.com/lib/pq"
)

// latestRun limits every aggregate to the newest export snapshot.
const latestRun = `WITH latest AS (
	SELECT run_id FROM appointment_exports ORDER BY exported_at DESC LIMIT 1
)`

// QueryFunc runs one aggregate against the snapshot tables.
type QueryFunc func(ctx context.Context, db *sql.DB, plan planner.DataPlan, now time.Time) ([]Row, error)

// Registry maps each bulk intent to its aggregate.
var Registry = map[planner.Intent]QueryFunc{
	planner.IntentServiceStatsMonthly: ServiceStatsMonthly,
	planner.IntentNoShowRecent:        NoShowRecent,
	planner.IntentProviderLoadWeek:    ProviderLoadWeek,
	planner.IntentRescheduleStreaks:   RescheduleStreaks,
	planner.IntentPDFAnalyze:          PDFDocuments,
}

// PostgresStore holds appointment snapshots and uploaded documents.
type PostgresStore struct {
	db  *sql.DB
	now func() time.Time
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db, now: time.Now}
}

// Read runs the registered aggregate for intent.
func (s *PostgresStore) Read(ctx context.Context, intent planner.Intent, plan planner.DataPlan) ([]Row, error) {
	fn, exists := Registry[intent]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedIntent, intent)
	}
	return fn(ctx, s.db, plan, s.now())
}

// SaveSnapshot writes bookings under runID in one transaction and returns the
// number of rows inserted. Re-running the same runID is a no-op per booking.
func (s *PostgresStore) SaveSnapshot(ctx context.Context, runID string, bookings []greyfinch.AppointmentBooking) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin snapshot: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO appointment_exports
			(run_id, appointment_id, patient_id, patient_name, provider_name,
			 appointment_type, location_name, status, rescheduled, start_time)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (run_id, appointment_id) DO NOTHING`)
	if err != nil {
		return 0, fmt.Errorf("prepare snapshot insert: %w", err)
	}
	defer stmt.Close()

	inserted := 0
	for _, b := range bookings {
		var start interface{}
		if t := b.StartTime(); !t.IsZero() {
			start = t
		}
		res, err := stmt.ExecContext(ctx,
			runID, b.ID, b.PatientID(), b.PatientName(), b.ProviderName(),
			b.TypeName(), b.LocationName(), b.Status(), b.Rescheduled(), start,
		)
		if err != nil {
			return 0, fmt.Errorf("insert booking %s: %w", b.ID, err)
		}
		if n, err := res.RowsAffected(); err == nil {
			inserted += int(n)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit snapshot: %w", err)
	}
	return inserted, nil
}

func ServiceStatsMonthly(ctx context.Context, db *sql.DB, plan planner.DataPlan, now time.Time) ([]Row, error) {
	from, err := since(plan, now, ServiceStatsWindow)
	if err != nil {
		return nil, err
	}

	rows, err := db.QueryContext(ctx, latestRun+`
		SELECT appointment_type, COUNT(*) AS total
		FROM appointment_exports
		WHERE run_id = (SELECT run_id FROM latest) AND start_time >= $1
		GROUP BY appointment_type
		ORDER BY total DESC, appointment_type
		LIMIT $2`, from, limit(plan))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []Row
	for rows.Next() {
		var name sql.NullString
		var total int
		if err := rows.Scan(&name, &total); err != nil {
			return nil, err
		}
		results = append(results, Row{"appointmentType": name.String, "count": total})
	}
	return results, rows.Err()
}

func NoShowRecent(ctx context.Context, db *sql.DB, plan planner.DataPlan, now time.Time) ([]Row, error) {
	from, err := since(plan, now, NoShowWindow)
	if err != nil {
		return nil, err
	}

	rows, err := db.QueryContext(ctx, latestRun+`
		SELECT patient_name, status, start_time
		FROM appointment_exports
		WHERE run_id = (SELECT run_id FROM latest)
		  AND start_time >= $1
		  AND status = ANY($2)
		ORDER BY start_time DESC
		LIMIT $3`, from, pq.Array(NoShowStatuses), limit(plan))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []Row
	for rows.Next() {
		var patient, status sql.NullString
		var start time.Time
		if err := rows.Scan(&patient, &status, &start); err != nil {
			return nil, err
		}
		results = append(results, Row{
			"patientName": patient.String,
			"status":      status.String,
			"date":        start.Format("2006-01-02"),
		})
	}
	return results, rows.Err()
}

func ProviderLoadWeek(ctx context.Context, db *sql.DB, plan planner.DataPlan, now time.Time) ([]Row, error) {
	from, err := since(plan, now, ProviderLoadWindow)
	if err != nil {
		return nil, err
	}

	rows, err := db.QueryContext(ctx, latestRun+`
		SELECT provider_name, COUNT(*) AS total
		FROM appointment_exports
		WHERE run_id = (SELECT run_id FROM latest) AND start_time >= $1
		GROUP BY provider_name
		ORDER BY total DESC, provider_name`, from)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []Row
	for rows.Next() {
		var provider sql.NullString
		var total int
		if err := rows.Scan(&provider, &total); err != nil {
			return nil, err
		}
		results = append(results, Row{"providerName": provider.String, "appointments": total})
	}
	return results, rows.Err()
}

func RescheduleStreaks(ctx context.Context, db *sql.DB, plan planner.DataPlan, _ time.Time) ([]Row, error) {
	rows, err := db.QueryContext(ctx, latestRun+`
		SELECT patient_name, COUNT(*) FILTER (WHERE rescheduled) AS reschedules
		FROM appointment_exports
		WHERE run_id = (SELECT run_id FROM latest)
		GROUP BY patient_name
		HAVING COUNT(*) FILTER (WHERE rescheduled) >= $1
		ORDER BY reschedules DESC, patient_name
		LIMIT $2`, streakLength(plan), limit(plan))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []Row
	for rows.Next() {
		var patient sql.NullString
		var count int
		if err := rows.Scan(&patient, &count); err != nil {
			return nil, err
		}
		results = append(results, Row{"patientName": patient.String, "reschedules": count})
	}
	return results, rows.Err()
}

// maxExcerpt bounds document text forwarded to the model.
const maxExcerpt = 4000

// PDFDocuments returns uploaded documents named in filters["fileIds"], or the
// five most recent uploads when none are named.
func PDFDocuments(ctx context.Context, db *sql.DB, plan planner.DataPlan, _ time.Time) ([]Row, error) {
	var (
		rows *sql.Rows
		err  error
	)
	if ids := fileIDs(plan); len(ids) > 0 {
		rows, err = db.QueryContext(ctx, `
			SELECT id, filename, content
			FROM uploaded_documents
			WHERE id = ANY($1)
			ORDER BY uploaded_at DESC`, pq.Array(ids))
	} else {
		rows, err = db.QueryContext(ctx, `
			SELECT id, filename, content
			FROM uploaded_documents
			ORDER BY uploaded_at DESC
			LIMIT 5`)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []Row
	for rows.Next() {
		var id, filename, content string
		if err := rows.Scan(&id, &filename, &content); err != nil {
			return nil, err
		}
		results = append(results, Row{"id": id, "filename": filename, "excerpt": excerpt(content)})
	}
	return results, rows.Err()
}

func excerpt(content string) string {
	if len(content) <= maxExcerpt {
		return content
	}
	cut := maxExcerpt
	for cut > 0 && !utf8.RuneStart(content[cut]) {
		cut--
	}
	return content[:cut]
}
