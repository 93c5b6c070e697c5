// Package pgx persists the textbook graph in PostgreSQL. Nodes and edges
// live in two tables and vector search runs on pgvector HNSW indexes.
package pgx

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/OFFIS-RIT/kiwi-textbook/backend/pkg/logger"
	"github.com/OFFIS-RIT/kiwi-textbook/backend/pkg/store"

	pgxv5 "github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
	pgxvec "github.com/pgvector/pgvector-go/pgx"
)

type pgxIConn interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, optionsAndArgs ...any) (pgxv5.Rows, error)
	QueryRow(ctx context.Context, sql string, optionsAndArgs ...any) pgxv5.Row
	Begin(ctx context.Context) (pgxv5.Tx, error)
}

var identifier = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// GraphDBStorage implements store.GraphStorage on PostgreSQL with pgvector.
type GraphDBStorage struct {
	conn  pgxIConn
	close func()
}

// NewPool opens a connection pool with the pgvector types registered on
// every connection. The vector extension must exist, so run Migrate first.
func NewPool(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database url: %w", err)
	}
	cfg.AfterConnect = func(ctx context.Context, conn *pgxv5.Conn) error {
		return pgxvec.RegisterTypes(ctx, conn)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return pool, nil
}

// NewGraphDBStorage wraps a pool. Close closes the pool.
func NewGraphDBStorage(pool *pgxpool.Pool) *GraphDBStorage {
	return &GraphDBStorage{conn: pool, close: pool.Close}
}

// NewGraphDBStorageWithConnection uses an existing connection or
// transaction. Close leaves it open.
func NewGraphDBStorageWithConnection(conn pgxIConn) *GraphDBStorage {
	return &GraphDBStorage{conn: conn}
}

func (s *GraphDBStorage) UpsertNode(ctx context.Context, labels []string, props map[string]any) error {
	id := store.PropString(props, "id")
	if id == "" {
		return fmt.Errorf("node without id")
	}
	labels = store.DedupeStrings(labels)
	if len(labels) == 0 {
		return fmt.Errorf("node %s needs at least one label", id)
	}
	rest, vec, err := store.SplitEmbedding(props)
	if err != nil {
		return err
	}

	var embedding any
	if vec != nil {
		embedding = pgvector.NewVector(vec)
	}

	_, err = s.conn.Exec(ctx, `
INSERT INTO kg_nodes (id, labels, props, embedding)
VALUES ($1, $2, $3, $4)
ON CONFLICT (id) DO UPDATE SET
	labels = kg_nodes.labels || ARRAY(
		SELECT l FROM unnest(EXCLUDED.labels) AS l WHERE NOT l = ANY(kg_nodes.labels)
	),
	props = kg_nodes.props || EXCLUDED.props,
	embedding = COALESCE(EXCLUDED.embedding, kg_nodes.embedding)
`, SanitizePostgresText(id), labels, sanitizeProps(rest), embedding)
	if err != nil {
		return fmt.Errorf("failed to upsert node %s: %w", id, err)
	}
	return nil
}

// UpsertRelationship inserts the edge only when both endpoints exist.
func (s *GraphDBStorage) UpsertRelationship(ctx context.Context, fromID string, toID string, relType string) error {
	_, err := s.conn.Exec(ctx, `
INSERT INTO kg_edges (from_id, to_id, rel_type)
SELECT a.id, b.id, $3
FROM kg_nodes a, kg_nodes b
WHERE a.id = $1 AND b.id = $2
ON CONFLICT DO NOTHING
`, fromID, toID, relType)
	if err != nil {
		return fmt.Errorf("failed to upsert %s %s->%s: %w", relType, fromID, toID, err)
	}
	return nil
}

func (s *GraphDBStorage) RebuildVectorIndex(ctx context.Context, cfg store.IndexConfig) error {
	if cfg.Property != "" && cfg.Property != store.EmbeddingProperty {
		return fmt.Errorf("postgres indexes only cover the %s column, got %q", store.EmbeddingProperty, cfg.Property)
	}
	metric := cfg.Metric
	if metric == "" {
		metric = store.MetricCosine
	}
	ddl, err := indexDDL(cfg.Name, cfg.Label, cfg.Dimension, metric)
	if err != nil {
		return err
	}

	tx, err := s.conn.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, fmt.Sprintf("DROP INDEX IF EXISTS %s", cfg.Name)); err != nil {
		return fmt.Errorf("failed to drop index %s: %w", cfg.Name, err)
	}

	var wrong int
	err = tx.QueryRow(ctx, `
SELECT count(*) FROM kg_nodes
WHERE $1 = ANY(labels) AND embedding IS NOT NULL AND vector_dims(embedding) <> $2
`, cfg.Label, cfg.Dimension).Scan(&wrong)
	if err != nil {
		return fmt.Errorf("failed to check embedding dimensions: %w", err)
	}
	if wrong > 0 {
		return fmt.Errorf("%w: %d %s nodes do not have %d dimensions", store.ErrDimensionMismatch, wrong, cfg.Label, cfg.Dimension)
	}

	if _, err := tx.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("failed to create index %s: %w", cfg.Name, err)
	}
	_, err = tx.Exec(ctx, `
INSERT INTO kg_vector_indexes (name, label, dimension, metric)
VALUES ($1, $2, $3, $4)
ON CONFLICT (name) DO UPDATE SET label = EXCLUDED.label, dimension = EXCLUDED.dimension, metric = EXCLUDED.metric
`, cfg.Name, cfg.Label, cfg.Dimension, string(metric))
	if err != nil {
		return fmt.Errorf("failed to register index %s: %w", cfg.Name, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return err
	}

	logger.Debug("[Postgres] Rebuilt vector index", "name", cfg.Name, "label", cfg.Label, "dimension", cfg.Dimension, "metric", metric)
	return nil
}

func (s *GraphDBStorage) DropVectorIndex(ctx context.Context, name string) error {
	if !identifier.MatchString(name) {
		return fmt.Errorf("invalid index name %q", name)
	}

	tx, err := s.conn.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, fmt.Sprintf("DROP INDEX IF EXISTS %s", name)); err != nil {
		return fmt.Errorf("failed to drop index %s: %w", name, err)
	}
	if _, err := tx.Exec(ctx, "DELETE FROM kg_vector_indexes WHERE name = $1", name); err != nil {
		return fmt.Errorf("failed to unregister index %s: %w", name, err)
	}

	return tx.Commit(ctx)
}

func (s *GraphDBStorage) QueryVectorIndex(ctx context.Context, name string, k int, vector []float32) ([]store.ScoredNode, error) {
	if k <= 0 {
		return []store.ScoredNode{}, nil
	}

	var (
		label     string
		dimension int
		metric    string
	)
	err := s.conn.QueryRow(ctx, "SELECT label, dimension, metric FROM kg_vector_indexes WHERE name = $1", name).
		Scan(&label, &dimension, &metric)
	if errors.Is(err, pgxv5.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", store.ErrIndexNotFound, name)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load index %s: %w", name, err)
	}
	if len(vector) != dimension {
		return nil, fmt.Errorf("%w: query has %d, index %s wants %d", store.ErrDimensionMismatch, len(vector), name, dimension)
	}

	sql, err := searchSQL(label, dimension, store.Metric(metric))
	if err != nil {
		return nil, err
	}
	rows, err := s.conn.Query(ctx, sql, pgvector.NewVector(vector), k)
	if err != nil {
		return nil, fmt.Errorf("failed to query index %s: %w", name, err)
	}
	defer rows.Close()

	out := make([]store.ScoredNode, 0, k)
	for rows.Next() {
		var (
			n     store.StoredNode
			score float64
		)
		if err := rows.Scan(&n.ID, &n.Labels, &n.Props, &score); err != nil {
			return nil, err
		}
		out = append(out, store.ScoredNode{StoredNode: n, Score: score})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return out, nil
}

func (s *GraphDBStorage) FindNodes(ctx context.Context, label string, property string, values []any) ([]store.StoredNode, error) {
	if len(values) == 0 {
		return []store.StoredNode{}, nil
	}

	rows, err := s.conn.Query(ctx, `
SELECT id, labels, props FROM kg_nodes
WHERE $1 = ANY(labels) AND props->>$2 = ANY($3::text[])
ORDER BY id
`, label, property, textValues(values))
	if err != nil {
		return nil, fmt.Errorf("failed to find %s nodes: %w", label, err)
	}
	return collectNodes(rows)
}

func (s *GraphDBStorage) FindParents(ctx context.Context, childID string, relTypes []string, parentLabel string) ([]store.StoredNode, error) {
	rows, err := s.conn.Query(ctx, `
SELECT DISTINCT p.id, p.labels, p.props
FROM kg_edges e
JOIN kg_nodes p ON p.id = e.from_id
WHERE e.to_id = $1 AND e.rel_type = ANY($2) AND $3 = ANY(p.labels)
ORDER BY p.id
`, childID, relTypes, parentLabel)
	if err != nil {
		return nil, fmt.Errorf("failed to find parents of %s: %w", childID, err)
	}
	return collectNodes(rows)
}

func (s *GraphDBStorage) Close(ctx context.Context) error {
	if s.close != nil {
		s.close()
	}
	return nil
}

func collectNodes(rows pgxv5.Rows) ([]store.StoredNode, error) {
	defer rows.Close()

	out := []store.StoredNode{}
	for rows.Next() {
		var n store.StoredNode
		if err := rows.Scan(&n.ID, &n.Labels, &n.Props); err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

type metricSQL struct {
	opclass  string
	operator string
	// score turns the distance d into a similarity, higher is better.
	score string
}

func metricFor(m store.Metric) (metricSQL, error) {
	switch m {
	case "", store.MetricCosine:
		return metricSQL{opclass: "vector_cosine_ops", operator: "<=>", score: "1 - (%s)"}, nil
	case store.MetricEuclidean:
		return metricSQL{opclass: "vector_l2_ops", operator: "<->", score: "1 / (1 + (%s))"}, nil
	case store.MetricDot:
		// <#> is the negative inner product
		return metricSQL{opclass: "vector_ip_ops", operator: "<#>", score: "-(%s)"}, nil
	default:
		return metricSQL{}, fmt.Errorf("%w: %s", store.ErrUnsupportedMetric, m)
	}
}

// indexDDL builds a partial HNSW index over the embeddings of one label.
// pgvector needs a fixed dimension, so the column is cast to it.
func indexDDL(name string, label string, dimension int, m store.Metric) (string, error) {
	if !identifier.MatchString(name) || !identifier.MatchString(label) {
		return "", fmt.Errorf("invalid index name %q or label %q", name, label)
	}
	if dimension <= 0 {
		return "", fmt.Errorf("%w: index %s needs a positive dimension", store.ErrDimensionMismatch, name)
	}
	ms, err := metricFor(m)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf(
		"CREATE INDEX %s ON kg_nodes USING hnsw ((embedding::vector(%d)) %s) WHERE labels @> ARRAY['%s']::text[] AND embedding IS NOT NULL",
		name, dimension, ms.opclass, label,
	), nil
}

// searchSQL repeats the index expression and predicate so the planner can
// use the partial index.
func searchSQL(label string, dimension int, m store.Metric) (string, error) {
	if !identifier.MatchString(label) {
		return "", fmt.Errorf("invalid label %q", label)
	}
	ms, err := metricFor(m)
	if err != nil {
		return "", err
	}
	distance := fmt.Sprintf("embedding::vector(%d) %s $1", dimension, ms.operator)
	return fmt.Sprintf(`
SELECT id, labels, props, %s AS score
FROM kg_nodes
WHERE labels @> ARRAY['%s']::text[] AND embedding IS NOT NULL
ORDER BY %s
LIMIT $2
`, fmt.Sprintf(ms.score, distance), label, distance), nil
}

// textValues renders lookup values the way props->> renders JSON scalars.
func textValues(values []any) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		switch t := v.(type) {
		case string:
			out = append(out, t)
		case bool:
			out = append(out, strconv.FormatBool(t))
		default:
			if f, ok := store.ToFloat64(v); ok {
				out = append(out, strconv.FormatFloat(f, 'f', -1, 64))
				continue
			}
			out = append(out, fmt.Sprint(v))
		}
	}
	return out
}

// SanitizePostgresText drops NUL bytes, which text and jsonb columns reject.
func SanitizePostgresText(s string) string {
	if !strings.ContainsRune(s, 0) {
		return s
	}
	return strings.ReplaceAll(s, "\x00", "")
}

func sanitizeProps(props map[string]any) map[string]any {
	out := make(map[string]any, len(props))
	for k, v := range props {
		switch t := v.(type) {
		case string:
			out[k] = SanitizePostgresText(t)
		case *string:
			if t == nil {
				out[k] = nil
			} else {
				out[k] = SanitizePostgresText(*t)
			}
		default:
			out[k] = v
		}
	}
	return out
}
