package memory

import (
	"context"
	"fmt"
	"strings"
)

// Config selects the store backend.
type Config struct {
	Backend        string // auto|memory|postgres|dynamodb
	DatabaseURL    string
	DynamoTable    string
	DynamoEndpoint string
	AWSRegion      string
}

// NewStore creates the configured backend. In auto mode a postgres store is
// used when DATABASE_URL is set, otherwise in-memory.
func NewStore(ctx context.Context, cfg Config) (Store, string, error) {
	backend := strings.ToLower(strings.TrimSpace(cfg.Backend))
	if backend == "" || backend == "auto" {
		backend = "memory"
		if strings.TrimSpace(cfg.DatabaseURL) != "" {
			backend = "postgres"
		}
	}

	switch backend {
	case "memory":
		return NewInMemoryStore(), backend, nil
	case "postgres":
		s, err := NewPostgresStore(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, "", err
		}
		return s, backend, nil
	case "dynamodb":
		s, err := NewDynamoStore(ctx, DynamoConfig{
			Table:    cfg.DynamoTable,
			Region:   cfg.AWSRegion,
			Endpoint: cfg.DynamoEndpoint,
		})
		if err != nil {
			return nil, "", err
		}
		return s, backend, nil
	default:
		return nil, "", fmt.Errorf("unsupported store backend %q", cfg.Backend)
	}
}
