package portal

import (
	"context"
	"fmt"
	"net/url"

	surrealdb "github.com/surrealdb/surrealdb.go"
	"github.com/surrealdb/surrealdb.go/pkg/connection"
	"github.com/surrealdb/surrealdb.go/pkg/connection/gorillaws"
	"github.com/surrealdb/surrealdb.go/surrealcbor"

	"github.com/roach88/membersync/internal/ir"
	"github.com/roach88/membersync/internal/store"
)

// SurrealConfig locates the SurrealDB instance backing the Portal.
type SurrealConfig struct {
	URL       string
	Namespace string
	Database  string
	Username  string
	Password  string
	Table     string
}

// SurrealStore is a DocumentStore over SurrealDB. Each member document is
// the record <table>:<entity_key>.
type SurrealStore struct {
	db    *surrealdb.DB
	table string
}

// OpenSurreal connects, signs in when credentials are set, and selects the
// namespace and database.
func OpenSurreal(ctx context.Context, cfg SurrealConfig) (*SurrealStore, error) {
	u, err := url.Parse(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse surrealdb url: %w", err)
	}

	conf := connection.NewConfig(u)
	codec := surrealcbor.New()
	conf.Marshaler = codec
	conf.Unmarshaler = codec

	db, err := surrealdb.FromConnection(ctx, gorillaws.New(conf))
	if err != nil {
		return nil, fmt.Errorf("connect surrealdb: %w", err)
	}
	if cfg.Username != "" {
		if _, err := db.SignIn(ctx, surrealdb.Auth{Username: cfg.Username, Password: cfg.Password}); err != nil {
			db.Close(ctx)
			return nil, fmt.Errorf("surrealdb sign in: %w", err)
		}
	}
	if err := db.Use(ctx, cfg.Namespace, cfg.Database); err != nil {
		db.Close(ctx)
		return nil, fmt.Errorf("surrealdb use %s/%s: %w", cfg.Namespace, cfg.Database, err)
	}

	table := cfg.Table
	if table == "" {
		table = "member"
	}
	return &SurrealStore{db: db, table: table}, nil
}

func (s *SurrealStore) Get(ctx context.Context, key string) (ir.Object, error) {
	rows, err := s.query(ctx, `SELECT * OMIT id FROM type::thing($tb, $key)`, map[string]any{"key": key})
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, store.ErrNotFound
	}
	return decodeDocument(rows[0])
}

func (s *SurrealStore) Put(ctx context.Context, key string, doc ir.Object) error {
	_, err := s.query(ctx, `UPSERT type::thing($tb, $key) CONTENT $doc RETURN NONE`, map[string]any{
		"key": key,
		"doc": ir.ToAny(doc),
	})
	return err
}

func (s *SurrealStore) Merge(ctx context.Context, key string, fragment ir.Object) error {
	// UPDATE on a missing record id returns no rows instead of creating it.
	rows, err := s.query(ctx, `UPDATE type::thing($tb, $key) MERGE $fragment RETURN AFTER`, map[string]any{
		"key":      key,
		"fragment": ir.ToAny(fragment),
	})
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *SurrealStore) Delete(ctx context.Context, key string) error {
	rows, err := s.query(ctx, `DELETE type::thing($tb, $key) RETURN BEFORE`, map[string]any{"key": key})
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *SurrealStore) Count(ctx context.Context) (int, error) {
	rows, err := s.query(ctx, `SELECT count() AS n FROM type::table($tb) GROUP ALL`, nil)
	if err != nil {
		return 0, err
	}
	if len(rows) == 0 {
		return 0, nil
	}
	v, err := ir.FromAny(rows[0]["n"])
	if err != nil {
		return 0, fmt.Errorf("count documents: %w", err)
	}
	n, _ := v.(ir.Int)
	return int(n), nil
}

func (s *SurrealStore) Close() error {
	return s.db.Close(context.Background())
}

func (s *SurrealStore) query(ctx context.Context, sql string, vars map[string]any) ([]map[string]any, error) {
	if vars == nil {
		vars = map[string]any{}
	}
	vars["tb"] = s.table

	res, err := surrealdb.Query[[]map[string]any](ctx, s.db, sql, vars)
	if err != nil {
		return nil, fmt.Errorf("surrealdb query: %w", err)
	}
	if res == nil || len(*res) == 0 {
		return nil, nil
	}
	first := (*res)[0]
	if first.Status != "OK" {
		return nil, fmt.Errorf("surrealdb query: status %s", first.Status)
	}
	return first.Result, nil
}

// decodeDocument converts a decoded row into a document. Record ids never
// reach it: every SELECT omits id.
func decodeDocument(row map[string]any) (ir.Object, error) {
	delete(row, "id")
	v, err := ir.FromAny(row)
	if err != nil {
		return nil, fmt.Errorf("decode document: %w", err)
	}
	doc, ok := v.(ir.Object)
	if !ok {
		return nil, fmt.Errorf("decode document: got %s", ir.Kind(v))
	}
	return doc, nil
}
