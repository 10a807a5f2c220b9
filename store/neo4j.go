package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j/dbtype"
	"go.uber.org/zap"
)

// Neo4jConfig 配置 Neo4j GraphStore 实现。
type Neo4jConfig struct {
	URI      string `json:"uri" yaml:"uri"`
	Username string `json:"username" yaml:"username"`
	Password string `json:"password" yaml:"password"`
	Database string `json:"database" yaml:"database"`
	// MaxPoolSize 驱动连接池上限。
	MaxPoolSize int `json:"max_pool_size" yaml:"max_pool_size"`
}

// Neo4jStore 基于 neo4j-go-driver 的 GraphStore 实现。
// 驱动自带会话池与事务管理，可安全并发使用。
type Neo4jStore struct {
	cfg    Neo4jConfig
	driver neo4j.DriverWithContext
	logger *zap.Logger
}

// NewNeo4jStore 创建并验证到 Neo4j 的连接。
func NewNeo4jStore(ctx context.Context, cfg Neo4jConfig, logger *zap.Logger) (*Neo4jStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.URI == "" {
		return nil, fmt.Errorf("neo4j uri is required")
	}

	driver, err := neo4j.NewDriverWithContext(
		cfg.URI,
		neo4j.BasicAuth(cfg.Username, cfg.Password, ""),
		func(c *neo4j.Config) {
			if cfg.MaxPoolSize > 0 {
				c.MaxConnectionPoolSize = cfg.MaxPoolSize
			}
		},
	)
	if err != nil {
		return nil, fmt.Errorf("create neo4j driver: %w", err)
	}
	if err := driver.VerifyConnectivity(ctx); err != nil {
		return nil, fmt.Errorf("verify neo4j connectivity: %w", err)
	}

	return &Neo4jStore{
		cfg:    cfg,
		driver: driver,
		logger: logger.With(zap.String("component", "neo4j_store")),
	}, nil
}

// Close 释放驱动资源。
func (s *Neo4jStore) Close(ctx context.Context) error {
	if s.driver == nil {
		return nil
	}
	return s.driver.Close(ctx)
}

// FindNodes 实现 GraphStore.FindNodes：名称精确、别名、子串三级匹配。
func (s *Neo4jStore) FindNodes(ctx context.Context, name string, limit int) ([]GraphNode, error) {
	cypher := `
		MATCH (n:Entity)
		WHERE toLower(n.name) = toLower($name)
		   OR any(a IN coalesce(n.aliases, []) WHERE toLower(a) = toLower($name))
		   OR toLower(n.name) CONTAINS toLower($name)
		RETURN n
		LIMIT $limit`

	rows, err := s.Query(ctx, cypher, map[string]any{"name": name, "limit": limit})
	if err != nil {
		return nil, err
	}

	nodes := make([]GraphNode, 0, len(rows))
	for _, row := range rows {
		node, ok := row["n"].(dbtype.Node)
		if !ok {
			continue
		}
		nodes = append(nodes, nodeFromDB(node))
	}
	return nodes, nil
}

// Neighbors 实现 GraphStore.Neighbors：一跳邻域的关系描述。
func (s *Neo4jStore) Neighbors(ctx context.Context, nodeID string, limit int) ([]GraphHit, error) {
	cypher := `
		MATCH (n:Entity {id: $id})-[r]-(m:Entity)
		RETURN n.name AS source, type(r) AS rel, m,
		       coalesce(r.weight, 0.5) AS score
		ORDER BY score DESC
		LIMIT $limit`

	rows, err := s.Query(ctx, cypher, map[string]any{"id": nodeID, "limit": limit})
	if err != nil {
		return nil, err
	}

	hits := make([]GraphHit, 0, len(rows))
	for _, row := range rows {
		m, ok := row["m"].(dbtype.Node)
		if !ok {
			continue
		}
		node := nodeFromDB(m)
		source, _ := row["source"].(string)
		rel, _ := row["rel"].(string)
		hit := graphHitFromNode(node)
		hit.HopCount = 1
		hit.RelationPath = fmt.Sprintf("%s-[%s]->%s", source, rel, node.Name)
		if score, ok := row["score"].(float64); ok {
			hit.Score = score
		}
		hits = append(hits, hit)
	}
	return hits, nil
}

// Paths 实现 GraphStore.Paths。
// Cypher 的变长模式边界不接受参数，只能把跳数钳制后拼入查询文本；
// 钳制上限 3 跳，保证存储侧不会执行无界遍历。
func (s *Neo4jStore) Paths(ctx context.Context, nodeID string, maxHops, limit int) ([]GraphHit, error) {
	if maxHops < 1 {
		maxHops = 1
	}
	if maxHops > 3 {
		maxHops = 3
	}

	cypher := fmt.Sprintf(`
		MATCH p = (n:Entity {id: $id})-[*1..%d]-(m:Entity)
		WHERE m.id <> $id
		RETURN [x IN nodes(p) | x.name] AS names,
		       [r IN relationships(p) | type(r)] AS rels,
		       length(p) AS hops, m
		ORDER BY hops ASC
		LIMIT $limit`, maxHops)

	rows, err := s.Query(ctx, cypher, map[string]any{"id": nodeID, "limit": limit})
	if err != nil {
		return nil, err
	}

	hits := make([]GraphHit, 0, len(rows))
	for _, row := range rows {
		m, ok := row["m"].(dbtype.Node)
		if !ok {
			continue
		}
		node := nodeFromDB(m)
		hit := graphHitFromNode(node)
		if hops, ok := row["hops"].(int64); ok {
			hit.HopCount = int(hops)
		}
		hit.RelationPath = renderPath(row["names"], row["rels"])
		// 路径越短相关性越强；原生分数退为次级信号。
		hit.Score = 1.0 / float64(hit.HopCount+1)
		hits = append(hits, hit)
	}
	return hits, nil
}

// CrossSourceCounts 实现 GraphStore.CrossSourceCounts。
func (s *Neo4jStore) CrossSourceCounts(ctx context.Context, limit int) ([]GraphHit, error) {
	cypher := `
		MATCH (d:Document)-[:MENTIONS]->(n:Entity)
		WITH n, count(DISTINCT d) AS sources
		ORDER BY sources DESC
		LIMIT $limit
		RETURN n, sources`

	rows, err := s.Query(ctx, cypher, map[string]any{"limit": limit})
	if err != nil {
		return nil, err
	}

	hits := make([]GraphHit, 0, len(rows))
	for _, row := range rows {
		m, ok := row["n"].(dbtype.Node)
		if !ok {
			continue
		}
		node := nodeFromDB(m)
		hit := graphHitFromNode(node)
		if sources, ok := row["sources"].(int64); ok {
			hit.SourceCount = int(sources)
			hit.Score = float64(sources)
		}
		hits = append(hits, hit)
	}
	return hits, nil
}

// Query 实现 GraphStore.Query：只读事务内执行参数化查询。
func (s *Neo4jStore) Query(ctx context.Context, pattern string, params map[string]any) ([]map[string]any, error) {
	session := s.driver.NewSession(ctx, neo4j.SessionConfig{
		DatabaseName: s.cfg.Database,
		AccessMode:   neo4j.AccessModeRead,
	})
	defer session.Close(ctx)

	result, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, pattern, params)
		if err != nil {
			return nil, err
		}
		records, err := res.Collect(ctx)
		if err != nil {
			return nil, err
		}
		rows := make([]map[string]any, 0, len(records))
		for _, record := range records {
			row := make(map[string]any, len(record.Keys))
			for _, key := range record.Keys {
				value, _ := record.Get(key)
				row[key] = value
			}
			rows = append(rows, row)
		}
		return rows, nil
	})
	if err != nil {
		return nil, fmt.Errorf("neo4j query: %w", err)
	}

	rows := result.([]map[string]any)
	s.logger.Debug("graph query completed", zap.Int("rows", len(rows)))
	return rows, nil
}

func nodeFromDB(n dbtype.Node) GraphNode {
	node := GraphNode{
		Labels:     n.Labels,
		Properties: n.Props,
	}
	if id, ok := n.Props["id"].(string); ok {
		node.ID = id
	}
	if name, ok := n.Props["name"].(string); ok {
		node.Name = name
	}
	if aliases, ok := n.Props["aliases"].([]any); ok {
		for _, a := range aliases {
			if s, ok := a.(string); ok {
				node.Aliases = append(node.Aliases, s)
			}
		}
	}
	return node
}

// graphHitFromNode 把节点属性映射为证据命中（描述 + 出处）。
func graphHitFromNode(node GraphNode) GraphHit {
	hit := GraphHit{NodeID: node.ID, Score: 0.5}
	if summary, ok := node.Properties["summary"].(string); ok && summary != "" {
		hit.Description = summary
	} else {
		hit.Description = node.Name
	}
	if docID, ok := node.Properties["document_id"].(string); ok {
		hit.DocumentID = docID
	}
	if locator, ok := node.Properties["locator"].(string); ok {
		hit.Locator = locator
	}
	if speaker, ok := node.Properties["speaker"].(string); ok {
		hit.Speaker = speaker
	}
	return hit
}

func renderPath(names, rels any) string {
	nameList, _ := names.([]any)
	relList, _ := rels.([]any)

	var sb strings.Builder
	for i, n := range nameList {
		if s, ok := n.(string); ok {
			sb.WriteString(s)
		}
		if i < len(relList) {
			if r, ok := relList[i].(string); ok {
				sb.WriteString(fmt.Sprintf("-[%s]->", r))
			}
		}
	}
	return sb.String()
}

var _ GraphStore = (*Neo4jStore)(nil)
