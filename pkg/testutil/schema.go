package testutil

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// TestSchema is an isolated PostgreSQL schema owned by one test
type TestSchema struct {
	Name string
}

// SchemaManager creates and drops test schemas
type SchemaManager struct {
	db      *sqlx.DB
	schemas []TestSchema
	mu      sync.Mutex
}

// NewSchemaManager creates a new schema manager for tests
func NewSchemaManager(db *sqlx.DB) *SchemaManager {
	return &SchemaManager{
		db:      db,
		schemas: make([]TestSchema, 0),
	}
}

var unsafeIdent = regexp.MustCompile(`[^a-z0-9_]+`)

// CreateSchema creates a uniquely named schema derived from name.
//
// Usage:
//
//	sm := testutil.NewSchemaManager(db)
//	schema, err := sm.CreateSchema(ctx, "engine concurrency")
//	// connect with container.SchemaDSN(schema.Name)
func (sm *SchemaManager) CreateSchema(ctx context.Context, name string) (*TestSchema, error) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	slug := unsafeIdent.ReplaceAllString(strings.ToLower(name), "_")
	if len(slug) > 40 {
		slug = slug[:40]
	}
	schemaName := fmt.Sprintf("test_%s_%s", strings.Trim(slug, "_"), uuid.New().String()[:8])

	if _, err := sm.db.ExecContext(ctx, fmt.Sprintf("CREATE SCHEMA %s", schemaName)); err != nil {
		return nil, fmt.Errorf("failed to create test schema: %w", err)
	}

	s := TestSchema{Name: schemaName}
	sm.schemas = append(sm.schemas, s)
	return &s, nil
}

// DropSchema removes a schema and everything in it
func (sm *SchemaManager) DropSchema(ctx context.Context, s *TestSchema) error {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if _, err := sm.db.ExecContext(ctx, fmt.Sprintf("DROP SCHEMA IF EXISTS %s CASCADE", s.Name)); err != nil {
		return fmt.Errorf("failed to drop test schema: %w", err)
	}

	for i, tracked := range sm.schemas {
		if tracked.Name == s.Name {
			sm.schemas = append(sm.schemas[:i], sm.schemas[i+1:]...)
			break
		}
	}
	return nil
}

// Cleanup drops all schemas created by this manager
func (sm *SchemaManager) Cleanup(ctx context.Context) error {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	var lastErr error
	for _, s := range sm.schemas {
		if _, err := sm.db.ExecContext(ctx, fmt.Sprintf("DROP SCHEMA IF EXISTS %s CASCADE", s.Name)); err != nil {
			lastErr = err
		}
	}

	sm.schemas = make([]TestSchema, 0)
	return lastErr
}
