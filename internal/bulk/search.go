package bulk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"practice-insights/internal/greyfinch"
	"practice-insights/internal/planner"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"
)

// appointmentDoc is the indexed form of a booking. Documents are keyed by
// booking id so each refresh overwrites the previous copy.
type appointmentDoc struct {
	AppointmentID   string     `json:"appointment_id"`
	RunID           string     `json:"run_id"`
	PatientID       string     `json:"patient_id"`
	PatientName     string     `json:"patient_name"`
	ProviderName    string     `json:"provider_name"`
	AppointmentType string     `json:"appointment_type"`
	LocationName    string     `json:"location_name"`
	Status          string     `json:"status"`
	Rescheduled     bool       `json:"rescheduled"`
	StartTime       *time.Time `json:"start_time,omitempty"`
}

// SearchStore serves bulk aggregates from Elasticsearch.
type SearchStore struct {
	client *elasticsearch.Client
	index  string
	now    func() time.Time
}

func NewSearchStore(client *elasticsearch.Client, index string) *SearchStore {
	return &SearchStore{client: client, index: index, now: time.Now}
}

// IndexAppointments bulk-indexes bookings and returns the number indexed.
func (s *SearchStore) IndexAppointments(ctx context.Context, runID string, bookings []greyfinch.AppointmentBooking) (int, error) {
	if len(bookings) == 0 {
		return 0, nil
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, b := range bookings {
		meta := map[string]interface{}{"index": map[string]interface{}{"_id": b.ID}}
		doc := appointmentDoc{
			AppointmentID:   b.ID,
			RunID:           runID,
			PatientID:       b.PatientID(),
			PatientName:     b.PatientName(),
			ProviderName:    b.ProviderName(),
			AppointmentType: b.TypeName(),
			LocationName:    b.LocationName(),
			Status:          b.Status(),
			Rescheduled:     b.Rescheduled(),
		}
		if t := b.StartTime(); !t.IsZero() {
			doc.StartTime = &t
		}
		if err := enc.Encode(meta); err != nil {
			return 0, err
		}
		if err := enc.Encode(doc); err != nil {
			return 0, err
		}
	}

	req := esapi.BulkRequest{
		Index:   s.index,
		Body:    &buf,
		Refresh: "true",
	}
	res, err := req.Do(ctx, s.client)
	if err != nil {
		return 0, fmt.Errorf("bulk index: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		body, _ := io.ReadAll(res.Body)
		return 0, fmt.Errorf("bulk index: %s: %s", res.Status(), string(body))
	}

	var parsed struct {
		Errors bool `json:"errors"`
		Items  []map[string]struct {
			Status int `json:"status"`
			Error  *struct {
				Reason string `json:"reason"`
			} `json:"error"`
		} `json:"items"`
	}
	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		return 0, fmt.Errorf("decode bulk response: %w", err)
	}

	indexed := 0
	var failures []string
	for _, item := range parsed.Items {
		for _, result := range item {
			if result.Error != nil {
				failures = append(failures, result.Error.Reason)
				continue
			}
			indexed++
		}
	}
	if parsed.Errors && len(failures) > 0 {
		return indexed, fmt.Errorf("bulk index: %d documents failed: %s", len(failures), failures[0])
	}
	return indexed, nil
}

// Read runs the terms aggregation for intent. Documents are not searchable
// here, so pdf_analyze is unsupported.
func (s *SearchStore) Read(ctx context.Context, intent planner.Intent, plan planner.DataPlan) ([]Row, error) {
	query, aggField, keyName, countName, minDocCount, err := s.buildAggregation(intent, plan)
	if err != nil {
		return nil, err
	}

	terms := map[string]interface{}{
		"field": aggField,
		"size":  limit(plan),
	}
	if minDocCount > 1 {
		terms["min_doc_count"] = minDocCount
	}
	body, err := json.Marshal(map[string]interface{}{
		"size":  0,
		"query": query,
		"aggs": map[string]interface{}{
			"buckets": map[string]interface{}{"terms": terms},
		},
	})
	if err != nil {
		return nil, err
	}

	req := esapi.SearchRequest{
		Index: []string{s.index},
		Body:  strings.NewReader(string(body)),
	}
	res, err := req.Do(ctx, s.client)
	if err != nil {
		return nil, fmt.Errorf("search %s: %w", intent, err)
	}
	defer res.Body.Close()

	if res.IsError() {
		raw, _ := io.ReadAll(res.Body)
		return nil, fmt.Errorf("search %s: %s: %s", intent, res.Status(), string(raw))
	}

	var parsed struct {
		Aggregations struct {
			Buckets struct {
				Buckets []struct {
					Key      interface{} `json:"key"`
					DocCount int         `json:"doc_count"`
				} `json:"buckets"`
			} `json:"buckets"`
		} `json:"aggregations"`
	}
	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode search response: %w", err)
	}

	rows := make([]Row, 0, len(parsed.Aggregations.Buckets.Buckets))
	for _, b := range parsed.Aggregations.Buckets.Buckets {
		rows = append(rows, Row{keyName: fmt.Sprint(b.Key), countName: b.DocCount})
	}
	return rows, nil
}

func (s *SearchStore) buildAggregation(intent planner.Intent, plan planner.DataPlan) (query map[string]interface{}, field, keyName, countName string, minDocCount int, err error) {
	now := s.now()
	rangeSince := func(window time.Duration) (map[string]interface{}, error) {
		from, err := since(plan, now, window)
		if err != nil {
			return nil, err
		}
		return map[string]interface{}{
			"range": map[string]interface{}{"start_time": map[string]interface{}{"gte": from.UTC().Format(time.RFC3339)}},
		}, nil
	}

	switch intent {
	case planner.IntentServiceStatsMonthly:
		r, err := rangeSince(ServiceStatsWindow)
		if err != nil {
			return nil, "", "", "", 0, err
		}
		return boolFilter(r), "appointment_type", "appointmentType", "count", 0, nil

	case planner.IntentProviderLoadWeek:
		r, err := rangeSince(ProviderLoadWindow)
		if err != nil {
			return nil, "", "", "", 0, err
		}
		return boolFilter(r), "provider_name", "providerName", "appointments", 0, nil

	case planner.IntentNoShowRecent:
		r, err := rangeSince(NoShowWindow)
		if err != nil {
			return nil, "", "", "", 0, err
		}
		statuses := map[string]interface{}{"terms": map[string]interface{}{"status": NoShowStatuses}}
		return boolFilter(r, statuses), "status", "status", "count", 0, nil

	case planner.IntentRescheduleStreaks:
		rescheduled := map[string]interface{}{"term": map[string]interface{}{"rescheduled": true}}
		return boolFilter(rescheduled), "patient_name", "patientName", "reschedules", streakLength(plan), nil

	default:
		return nil, "", "", "", 0, fmt.Errorf("%w: %s", ErrUnsupportedIntent, intent)
	}
}

func boolFilter(clauses ...map[string]interface{}) map[string]interface{} {
	filter := make([]interface{}, 0, len(clauses))
	for _, c := range clauses {
		filter = append(filter, c)
	}
	return map[string]interface{}{"bool": map[string]interface{}{"filter": filter}}
}
