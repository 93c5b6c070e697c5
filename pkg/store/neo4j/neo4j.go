// Package neo4j persists the textbook graph in Neo4j and serves vector
// search through a native vector index.
package neo4j

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/OFFIS-RIT/kiwi-textbook/backend/pkg/logger"
	"github.com/OFFIS-RIT/kiwi-textbook/backend/pkg/store"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

// identifiers are interpolated into Cypher, so they are checked first
var identifier = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

type Storage struct {
	driver   neo4j.DriverWithContext
	database string
	// indexWait bounds how long a rebuild waits for the new index to come online.
	indexWait time.Duration
}

type NewStorageParams struct {
	URI       string
	User      string
	Password  string
	Database  string
	Timeout   time.Duration
	MaxPool   int
	IndexWait time.Duration
}

func New(ctx context.Context, params NewStorageParams) (*Storage, error) {
	if params.URI == "" {
		return nil, fmt.Errorf("neo4j: uri required")
	}
	user := params.User
	if user == "" {
		user = "neo4j"
	}
	timeout := params.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	maxPool := params.MaxPool
	if maxPool <= 0 {
		maxPool = 50
	}
	indexWait := params.IndexWait
	if indexWait <= 0 {
		indexWait = 5 * time.Minute
	}

	driver, err := neo4j.NewDriverWithContext(params.URI, neo4j.BasicAuth(user, params.Password, ""), func(cfg *neo4j.Config) {
		cfg.MaxConnectionPoolSize = maxPool
		cfg.SocketConnectTimeout = timeout
	})
	if err != nil {
		return nil, fmt.Errorf("neo4j: init driver: %w", err)
	}

	vctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := driver.VerifyConnectivity(vctx); err != nil {
		_ = driver.Close(ctx)
		return nil, fmt.Errorf("neo4j: verify connectivity: %w", err)
	}

	logger.Info("[Neo4j] Connected", "uri", params.URI, "database", params.Database)

	return &Storage{driver: driver, database: params.Database, indexWait: indexWait}, nil
}

func (s *Storage) session(ctx context.Context, mode neo4j.AccessMode) neo4j.SessionWithContext {
	return s.driver.NewSession(ctx, neo4j.SessionConfig{
		AccessMode:   mode,
		DatabaseName: s.database,
	})
}

// run executes a single auto-commit statement. Schema commands such as
// CREATE VECTOR INDEX cannot share a transaction with data writes.
func (s *Storage) run(ctx context.Context, cypher string, params map[string]any) ([]*neo4j.Record, error) {
	session := s.session(ctx, neo4j.AccessModeWrite)
	defer session.Close(ctx)

	res, err := session.Run(ctx, cypher, params)
	if err != nil {
		return nil, err
	}
	return res.Collect(ctx)
}

func (s *Storage) read(ctx context.Context, cypher string, params map[string]any) ([]*neo4j.Record, error) {
	session := s.session(ctx, neo4j.AccessModeRead)
	defer session.Close(ctx)

	out, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, cypher, params)
		if err != nil {
			return nil, err
		}
		return res.Collect(ctx)
	})
	if err != nil {
		return nil, err
	}
	return out.([]*neo4j.Record), nil
}

func (s *Storage) write(ctx context.Context, cypher string, params map[string]any) error {
	session := s.session(ctx, neo4j.AccessModeWrite)
	defer session.Close(ctx)

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, cypher, params)
		if err != nil {
			return nil, err
		}
		return res.Consume(ctx)
	})
	return err
}

func (s *Storage) UpsertNode(ctx context.Context, labels []string, props map[string]any) error {
	id := store.PropString(props, "id")
	if id == "" {
		return fmt.Errorf("neo4j: node without id")
	}
	labelExpr, err := labelExpression(labels)
	if err != nil {
		return err
	}
	rest, vec, err := store.SplitEmbedding(props)
	if err != nil {
		return err
	}

	cypher := fmt.Sprintf("MERGE (n%s {id: $id}) SET n += $props", labelExpr)
	params := map[string]any{"id": id, "props": rest}
	if vec != nil {
		cypher += " SET n.embedding = $embedding"
		params["embedding"] = store.ToFloat64s(vec)
	}

	if err := s.write(ctx, cypher, params); err != nil {
		return fmt.Errorf("neo4j: upsert node %s: %w", id, err)
	}
	return nil
}

func (s *Storage) UpsertRelationship(ctx context.Context, fromID string, toID string, relType string) error {
	if !identifier.MatchString(relType) {
		return fmt.Errorf("neo4j: invalid relationship type %q", relType)
	}

	cypher := fmt.Sprintf("MATCH (a {id: $from_id}), (b {id: $to_id}) MERGE (a)-[:%s]->(b)", relType)
	if err := s.write(ctx, cypher, map[string]any{"from_id": fromID, "to_id": toID}); err != nil {
		return fmt.Errorf("neo4j: upsert %s %s->%s: %w", relType, fromID, toID, err)
	}
	return nil
}

func (s *Storage) RebuildVectorIndex(ctx context.Context, cfg store.IndexConfig) error {
	if !identifier.MatchString(cfg.Name) || !identifier.MatchString(cfg.Label) {
		return fmt.Errorf("neo4j: invalid index name %q or label %q", cfg.Name, cfg.Label)
	}
	property := cfg.Property
	if property == "" {
		property = store.EmbeddingProperty
	}
	if !identifier.MatchString(property) {
		return fmt.Errorf("neo4j: invalid index property %q", property)
	}
	fn, err := similarityFunction(cfg.Metric)
	if err != nil {
		return err
	}
	if cfg.Dimension <= 0 {
		return fmt.Errorf("%w: index %s needs a positive dimension", store.ErrDimensionMismatch, cfg.Name)
	}

	if err := s.DropVectorIndex(ctx, cfg.Name); err != nil {
		return err
	}

	create := fmt.Sprintf(
		"CREATE VECTOR INDEX %s FOR (n:%s) ON (n.%s) OPTIONS {indexConfig: {`vector.dimensions`: %d, `vector.similarity_function`: '%s'}}",
		cfg.Name, cfg.Label, property, cfg.Dimension, fn,
	)
	if _, err := s.run(ctx, create, nil); err != nil {
		return fmt.Errorf("neo4j: create vector index %s: %w", cfg.Name, err)
	}

	if _, err := s.run(ctx, "CALL db.awaitIndex($name, $timeout)", map[string]any{
		"name":    cfg.Name,
		"timeout": int64(s.indexWait.Seconds()),
	}); err != nil {
		return fmt.Errorf("neo4j: wait for vector index %s: %w", cfg.Name, err)
	}

	return nil
}

func (s *Storage) DropVectorIndex(ctx context.Context, name string) error {
	if !identifier.MatchString(name) {
		return fmt.Errorf("neo4j: invalid index name %q", name)
	}
	if _, err := s.run(ctx, fmt.Sprintf("DROP INDEX %s IF EXISTS", name), nil); err != nil {
		return fmt.Errorf("neo4j: drop index %s: %w", name, err)
	}
	return nil
}

// indexDimension returns the configured dimension of a vector index.
func (s *Storage) indexDimension(ctx context.Context, name string) (int, error) {
	records, err := s.run(ctx, "SHOW VECTOR INDEXES YIELD name, options WHERE name = $name RETURN options", map[string]any{"name": name})
	if err != nil {
		return 0, fmt.Errorf("neo4j: show index %s: %w", name, err)
	}
	if len(records) == 0 {
		return 0, fmt.Errorf("%w: %s", store.ErrIndexNotFound, name)
	}
	options, _ := records[0].Get("options")
	return vectorDimension(options), nil
}

func (s *Storage) QueryVectorIndex(ctx context.Context, name string, k int, vector []float32) ([]store.ScoredNode, error) {
	if k <= 0 {
		return []store.ScoredNode{}, nil
	}

	dim, err := s.indexDimension(ctx, name)
	if err != nil {
		return nil, err
	}
	if dim > 0 && dim != len(vector) {
		return nil, fmt.Errorf("%w: query has %d, index %s wants %d", store.ErrDimensionMismatch, len(vector), name, dim)
	}

	records, err := s.read(ctx, `
CALL db.index.vector.queryNodes($name, $k, $embedding) YIELD node, score
RETURN node, score
ORDER BY score DESC
`, map[string]any{"name": name, "k": k, "embedding": store.ToFloat64s(vector)})
	if err != nil {
		if isMissingIndex(err) {
			return nil, fmt.Errorf("%w: %s", store.ErrIndexNotFound, name)
		}
		return nil, fmt.Errorf("neo4j: query index %s: %w", name, err)
	}

	out := make([]store.ScoredNode, 0, len(records))
	for _, rec := range records {
		raw, _ := rec.Get("node")
		node, ok := raw.(neo4j.Node)
		if !ok {
			continue
		}
		score, _ := rec.Get("score")
		f, _ := store.ToFloat64(score)
		out = append(out, store.ScoredNode{StoredNode: toStored(node), Score: f})
	}

	return out, nil
}

func (s *Storage) FindNodes(ctx context.Context, label string, property string, values []any) ([]store.StoredNode, error) {
	if !identifier.MatchString(label) {
		return nil, fmt.Errorf("neo4j: invalid label %q", label)
	}
	if len(values) == 0 {
		return []store.StoredNode{}, nil
	}

	cypher := fmt.Sprintf("MATCH (n:%s) WHERE n[$property] IN $values RETURN n ORDER BY n.id", label)
	records, err := s.read(ctx, cypher, map[string]any{"property": property, "values": values})
	if err != nil {
		return nil, fmt.Errorf("neo4j: find %s nodes: %w", label, err)
	}
	return collectNodes(records, "n"), nil
}

func (s *Storage) FindParents(ctx context.Context, childID string, relTypes []string, parentLabel string) ([]store.StoredNode, error) {
	if !identifier.MatchString(parentLabel) {
		return nil, fmt.Errorf("neo4j: invalid label %q", parentLabel)
	}

	cypher := fmt.Sprintf(`
MATCH (p:%s)-[r]->(c {id: $id})
WHERE type(r) IN $types
RETURN DISTINCT p
ORDER BY p.id
`, parentLabel)
	records, err := s.read(ctx, cypher, map[string]any{"id": childID, "types": relTypes})
	if err != nil {
		return nil, fmt.Errorf("neo4j: find parents of %s: %w", childID, err)
	}
	return collectNodes(records, "p"), nil
}

func (s *Storage) Close(ctx context.Context) error {
	if s == nil || s.driver == nil {
		return nil
	}
	return s.driver.Close(ctx)
}

func collectNodes(records []*neo4j.Record, key string) []store.StoredNode {
	out := make([]store.StoredNode, 0, len(records))
	for _, rec := range records {
		raw, _ := rec.Get(key)
		if node, ok := raw.(neo4j.Node); ok {
			out = append(out, toStored(node))
		}
	}
	return out
}

func toStored(n neo4j.Node) store.StoredNode {
	props := make(map[string]any, len(n.Props))
	for k, v := range n.Props {
		if k == store.EmbeddingProperty {
			if vec := store.ToFloat32sOrNil(v); vec != nil {
				props[k] = vec
			}
			continue
		}
		props[k] = v
	}
	return store.StoredNode{
		ID:     store.PropString(props, "id"),
		Labels: append([]string(nil), n.Labels...),
		Props:  props,
	}
}

func labelExpression(labels []string) (string, error) {
	if len(labels) == 0 {
		return "", fmt.Errorf("neo4j: node needs at least one label")
	}
	var b strings.Builder
	for _, l := range store.DedupeStrings(labels) {
		if !identifier.MatchString(l) {
			return "", fmt.Errorf("neo4j: invalid label %q", l)
		}
		b.WriteString(":")
		b.WriteString(l)
	}
	return b.String(), nil
}

func similarityFunction(m store.Metric) (string, error) {
	switch m {
	case "", store.MetricCosine:
		return "cosine", nil
	case store.MetricEuclidean:
		return "euclidean", nil
	default:
		return "", fmt.Errorf("%w: neo4j vector indexes support cosine and euclidean, got %s", store.ErrUnsupportedMetric, m)
	}
}

// vectorDimension digs vector.dimensions out of the options map returned
// by SHOW INDEXES. It returns 0 when the value is missing.
func vectorDimension(options any) int {
	opts, ok := options.(map[string]any)
	if !ok {
		return 0
	}
	cfg, ok := opts["indexConfig"].(map[string]any)
	if !ok {
		return 0
	}
	f, ok := store.ToFloat64(cfg["vector.dimensions"])
	if !ok {
		return 0
	}
	return int(f)
}

func isMissingIndex(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "no such vector schema index") || strings.Contains(msg, "there is no such index")
}
