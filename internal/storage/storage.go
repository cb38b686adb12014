// Package storage provides the durable backends behind the history store.
//
// Every backend persists the whole rolling history as one JSON document under
// a versioned key, so a schema change only needs a version bump. Backends
// report stored data that fails to decode as ErrCorrupt; the history store
// treats that as "start empty" rather than a fatal error.
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/rewired-gh/crowdpulse/internal/models"
)

// DefaultKey is the storage key of the current document version.
const DefaultKey = "crowdpulse:history:v3"

// ErrCorrupt is returned when stored history cannot be decoded or has the
// wrong shape.
var ErrCorrupt = errors.New("stored history is corrupt")

// Config selects and configures a backend.
type Config struct {
	Backend  string // sqlite | postgres | file | redis | memory
	DSN      string
	FilePath string
	RedisURL string
	Key      string
}

// Store is a history persister that may own external resources.
type Store interface {
	Load(ctx context.Context) (models.HistoryDocument, error)
	Save(ctx context.Context, doc models.HistoryDocument) error
	Close() error
}

// Open creates the backend named in cfg.
func Open(ctx context.Context, cfg Config) (Store, error) {
	key := cfg.Key
	if key == "" {
		key = DefaultKey
	}

	switch strings.ToLower(cfg.Backend) {
	case "", "sqlite":
		dsn := cfg.DSN
		if dsn == "" {
			dsn = "./data/crowdpulse.db"
		}
		return NewSQLStore(ctx, "sqlite", dsn, key)
	case "postgres":
		if cfg.DSN == "" {
			return nil, errors.New("postgres backend requires a dsn")
		}
		return NewSQLStore(ctx, "postgres", cfg.DSN, key)
	case "file":
		return NewFileStore(cfg.FilePath), nil
	case "redis":
		return NewRedisStore(ctx, cfg.RedisURL, key)
	case "memory":
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
}

// Encode marshals a document for storage.
func Encode(doc models.HistoryDocument) ([]byte, error) {
	if doc.City == nil {
		doc.City = []models.CityHistoryPoint{}
	}
	if doc.Businesses == nil {
		doc.Businesses = map[string][]models.EntityHistoryPoint{}
	}
	if doc.Version == 0 {
		doc.Version = models.HistoryDocumentVersion
	}
	data, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal history: %w", err)
	}
	return data, nil
}

// Decode unmarshals a stored document, rejecting anything that is not a
// current-version history document.
func Decode(data []byte) (models.HistoryDocument, error) {
	if len(strings.TrimSpace(string(data))) == 0 {
		return models.NewHistoryDocument(), nil
	}
	var doc models.HistoryDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return models.HistoryDocument{}, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if err := doc.Validate(); err != nil {
		return models.HistoryDocument{}, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	return doc, nil
}
