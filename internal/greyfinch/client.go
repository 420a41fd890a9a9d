// Package greyfinch is a client for the practice-management GraphQL API.
package greyfinch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"practice-insights/internal/backoff"
	"practice-insights/internal/common/config"
	commonhttp "practice-insights/internal/common/http"
)

var (
	ErrNotConfigured     = errors.New("PRACTICE_API_NOT_CONFIGURED")
	ErrAuthFailed        = errors.New("PRACTICE_AUTH_FAILED")
	ErrCredentialExpired = errors.New("PRACTICE_CREDENTIAL_EXPIRED")
	ErrGraphQL           = errors.New("PRACTICE_API_FAILED")
)

// DefaultTokenTTL applies when login does not report an expiry.
const DefaultTokenTTL = 15 * time.Minute

const loginMutation = `
mutation login($key: String!, $secret: String!) {
  apiLogin(key: $key, secret: $secret) {
    accessToken
    accessTokenExpiresIn
    status
  }
}`

const appointmentBookingsQuery = `
query appointmentBookings($limit: Int!, $offset: Int!, $where: AppointmentBookingsBoolExp) {
  appointmentBookings(limit: $limit, offset: $offset, where: $where, orderBy: {localStartDate: ASC}) {
    id
    localStartDate
    localStartTime
    appointment {
      id
      status
      rescheduled
      appointmentType { id name }
      location { id name }
      provider { id person { firstName lastName } }
      patient { id person { firstName lastName } }
    }
  }
}`

const patientsQuery = `
query patients($limit: Int!, $offset: Int!, $where: PatientsBoolExp) {
  patients(limit: $limit, offset: $offset, where: $where, orderBy: {createdAt: DESC}) {
    id
    createdAt
    person { firstName lastName }
  }
}`

const locationsQuery = `
query locations {
  locations {
    id
    name
    address { city state }
  }
}`

const appointmentTypesQuery = `
query allAppointmentTypes {
  appointmentTypes {
    id
    name
  }
}`

type Logger interface {
	Warn(msg string, fields map[string]interface{})
}

// Client talks to one practice API endpoint. It holds no token; callers pass
// a Credential from Login to each query.
type Client struct {
	http   *commonhttp.Client
	url    string
	key    string
	secret string
	logger Logger
	now    func() time.Time
	retry  []backoff.Option
}

// NewClient builds a client from configuration.
func NewClient(cfg config.GreyfinchConfig, logger Logger) *Client {
	return NewClientWith(commonhttp.NewClient(config.GetDuration(cfg.Timeout)), cfg, logger)
}

// NewClientWith builds a client over an existing HTTP client.
func NewClientWith(hc *commonhttp.Client, cfg config.GreyfinchConfig, logger Logger) *Client {
	return &Client{
		http:   hc,
		url:    cfg.BaseURL,
		key:    cfg.APIKey,
		secret: cfg.APISecret,
		logger: logger,
		now:    time.Now,
	}
}

type graphQLRequest struct {
	Query     string                 `json:"query"`
	Variables map[string]interface{} `json:"variables,omitempty"`
}

type graphQLError struct {
	Message string `json:"message"`
}

type graphQLResponse[T any] struct {
	Data   T              `json:"data"`
	Errors []graphQLError `json:"errors"`
}

func joinMessages(errs []graphQLError) string {
	msgs := make([]string, 0, len(errs))
	for _, e := range errs {
		msgs = append(msgs, e.Message)
	}
	return strings.Join(msgs, "; ")
}

// Login exchanges the API key and secret for a Credential.
func (c *Client) Login(ctx context.Context) (Credential, error) {
	if c.url == "" || c.key == "" || c.secret == "" {
		return Credential{}, ErrNotConfigured
	}

	var resp graphQLResponse[struct {
		APILogin struct {
			AccessToken          string `json:"accessToken"`
			AccessTokenExpiresIn int    `json:"accessTokenExpiresIn"`
			Status               string `json:"status"`
		} `json:"apiLogin"`
	}]

	req := graphQLRequest{
		Query:     loginMutation,
		Variables: map[string]interface{}{"key": c.key, "secret": c.secret},
	}
	if err := c.http.PostJSON(ctx, c.url, nil, req, &resp); err != nil {
		return Credential{}, fmt.Errorf("%w: %w", ErrAuthFailed, err)
	}
	if len(resp.Errors) > 0 {
		return Credential{}, fmt.Errorf("%w: %s", ErrAuthFailed, joinMessages(resp.Errors))
	}
	if resp.Data.APILogin.AccessToken == "" {
		return Credential{}, fmt.Errorf("%w: empty access token (status %q)", ErrAuthFailed, resp.Data.APILogin.Status)
	}

	ttl := time.Duration(resp.Data.APILogin.AccessTokenExpiresIn) * time.Second
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}

	return Credential{
		AccessToken: resp.Data.APILogin.AccessToken,
		ExpiresAt:   c.now().Add(ttl),
	}, nil
}

// Query runs a GraphQL document with cred and decodes data into out.
// Non-2xx responses surface as *commonhttp.StatusError.
func (c *Client) Query(ctx context.Context, cred Credential, query string, vars map[string]interface{}, out interface{}) error {
	if !cred.Valid(c.now()) {
		return ErrCredentialExpired
	}

	var resp graphQLResponse[json.RawMessage]
	headers := map[string]string{"Authorization": "Bearer " + cred.AccessToken}
	if err := c.http.PostJSON(ctx, c.url, headers, graphQLRequest{Query: query, Variables: vars}, &resp); err != nil {
		return err
	}
	if len(resp.Errors) > 0 {
		return fmt.Errorf("%w: %s", ErrGraphQL, joinMessages(resp.Errors))
	}
	if out == nil || len(resp.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(resp.Data, out); err != nil {
		return fmt.Errorf("decode data: %w", err)
	}
	return nil
}

// AppointmentsPage fetches one 1-based page of bookings.
func (c *Client) AppointmentsPage(ctx context.Context, cred Credential, filter AppointmentFilter, page, pageSize int) ([]AppointmentBooking, error) {
	var data struct {
		AppointmentBookings []AppointmentBooking `json:"appointmentBookings"`
	}
	vars := map[string]interface{}{
		"limit":  pageSize,
		"offset": (page - 1) * pageSize,
		"where":  filter.where(),
	}
	if err := c.Query(ctx, cred, appointmentBookingsQuery, vars, &data); err != nil {
		return nil, err
	}
	return data.AppointmentBookings, nil
}

// PatientsPage fetches one 1-based page of patients, newest first.
func (c *Client) PatientsPage(ctx context.Context, cred Credential, filter PatientFilter, page, pageSize int) ([]Patient, error) {
	var data struct {
		Patients []Patient `json:"patients"`
	}
	vars := map[string]interface{}{
		"limit":  pageSize,
		"offset": (page - 1) * pageSize,
		"where":  filter.where(),
	}
	if err := c.Query(ctx, cred, patientsQuery, vars, &data); err != nil {
		return nil, err
	}
	return data.Patients, nil
}

func (c *Client) Locations(ctx context.Context, cred Credential) ([]Location, error) {
	var data struct {
		Locations []Location `json:"locations"`
	}
	if err := c.Query(ctx, cred, locationsQuery, nil, &data); err != nil {
		return nil, err
	}
	return data.Locations, nil
}

func (c *Client) AppointmentTypes(ctx context.Context, cred Credential) ([]AppointmentType, error) {
	var data struct {
		AppointmentTypes []AppointmentType `json:"appointmentTypes"`
	}
	if err := c.Query(ctx, cred, appointmentTypesQuery, nil, &data); err != nil {
		return nil, err
	}
	return data.AppointmentTypes, nil
}

// SetRetryOptions appends options used by Retry, such as a test sleeper.
func (c *Client) SetRetryOptions(opts ...backoff.Option) {
	c.retry = append(c.retry, opts...)
}

// Retry wraps fn in the rate-limit backoff, labelled with operation.
func Retry[T any](ctx context.Context, c *Client, operation string, fn func(ctx context.Context) (T, error)) (T, error) {
	opts := []backoff.Option{backoff.WithOperation("greyfinch." + operation)}
	if c.logger != nil {
		opts = append(opts, backoff.WithLogger(c.logger))
	}
	opts = append(opts, c.retry...)
	return backoff.Do(ctx, fn, opts...)
}
