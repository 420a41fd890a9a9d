// internal/common/database/elasticsearch.go
package database

import (
	"context"
	"fmt"
	"strings"

	"practice-insights/internal/common/config"

	"github.com/elastic/go-elasticsearch/v8"
)

const appointmentMapping = `{
  "mappings": {
    "properties": {
      "appointment_id":   {"type": "keyword"},
      "run_id":           {"type": "keyword"},
      "patient_id":       {"type": "keyword"},
      "patient_name":     {"type": "keyword"},
      "provider_name":    {"type": "keyword"},
      "appointment_type": {"type": "keyword"},
      "location_name":    {"type": "keyword"},
      "status":           {"type": "keyword"},
      "rescheduled":      {"type": "boolean"},
      "start_time":       {"type": "date"}
    }
  }
}`

// ElasticsearchClient wraps the Elasticsearch client
type ElasticsearchClient struct {
	Client *elasticsearch.Client
	Index  string
}

// NewElasticsearch creates a new Elasticsearch client
func NewElasticsearch(cfg config.ElasticsearchConfig) (*ElasticsearchClient, error) {
	addresses := cfg.Addresses
	if len(addresses) == 0 && cfg.URL != "" {
		addresses = []string{cfg.URL}
	}

	esCfg := elasticsearch.Config{
		Addresses: addresses,
	}
	if cfg.Username != "" {
		esCfg.Username = cfg.Username
		esCfg.Password = cfg.Password
	}

	es, err := elasticsearch.NewClient(esCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create elasticsearch client: %w", err)
	}

	return &ElasticsearchClient{Client: es, Index: cfg.Index}, nil
}

// Ping tests the Elasticsearch connection
func (c *ElasticsearchClient) Ping(ctx context.Context) error {
	res, err := c.Client.Ping(c.Client.Ping.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("elasticsearch ping failed: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return fmt.Errorf("elasticsearch ping error: %s", res.Status())
	}
	return nil
}

// EnsureIndex creates the appointment index with keyword mappings when missing.
func (c *ElasticsearchClient) EnsureIndex(ctx context.Context) error {
	res, err := c.Client.Indices.Exists([]string{c.Index}, c.Client.Indices.Exists.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("check index %s: %w", c.Index, err)
	}
	res.Body.Close()
	if res.StatusCode == 200 {
		return nil
	}

	res, err = c.Client.Indices.Create(
		c.Index,
		c.Client.Indices.Create.WithContext(ctx),
		c.Client.Indices.Create.WithBody(strings.NewReader(appointmentMapping)),
	)
	if err != nil {
		return fmt.Errorf("create index %s: %w", c.Index, err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return fmt.Errorf("create index %s: %s", c.Index, res.Status())
	}
	return nil
}
