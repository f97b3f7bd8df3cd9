// Package graph stores declared identity attributes in Neo4j so that accounts
// sharing a phone, address or bank account can be found with one lookup.
package graph

import (
	"context"
	"errors"

	"github.com/davidleathers/betting-risk-engine/internal/infrastructure/config"
)

// ErrMissingURI is returned when no Bolt URI is configured.
var ErrMissingURI = errors.New("graph: uri is required")

// Record is one row of a Cypher result keyed by column name.
type Record map[string]any

// Result holds the records returned by a query.
type Result struct {
	Records []Record
}

// Client runs Cypher statements against the graph store.
type Client interface {
	ExecuteWrite(ctx context.Context, cypher string, params map[string]any) (Result, error)
	ExecuteRead(ctx context.Context, cypher string, params map[string]any) (Result, error)
	VerifyConnectivity(ctx context.Context) error
	Close(ctx context.Context) error
}

// Options configures the Bolt driver.
type Options struct {
	URI            string
	Database       string
	Username       string
	Password       string
	MaxConnections int
}

// OptionsFromConfig maps the service configuration onto driver options.
func OptionsFromConfig(cfg *config.GraphConfig) Options {
	return Options{
		URI:            cfg.URI,
		Database:       cfg.Database,
		Username:       cfg.Username,
		Password:       cfg.Password,
		MaxConnections: cfg.MaxConnections,
	}
}
