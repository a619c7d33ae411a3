package graph

import (
	"context"
	"fmt"

	"github.com/Gobusters/ectologger"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/Ramsey-B/juniper/pkg/tracing"
)

// QueryService reads the identity graph
type QueryService struct {
	client *Client
	logger ectologger.Logger
}

// NewQueryService creates a new query service
func NewQueryService(client *Client, logger ectologger.Logger) *QueryService {
	return &QueryService{
		client: client,
		logger: logger,
	}
}

// ClusterGraph is the co-appearance neighborhood of one cluster
type ClusterGraph struct {
	ClusterID string      `json:"cluster_id"`
	Nodes     []GraphNode `json:"nodes"`
	Edges     []GraphEdge `json:"edges"`
}

// GraphNode is a person or case node in a neighborhood response
type GraphNode struct {
	ID         string         `json:"id"`
	Label      string         `json:"label"`
	Properties map[string]any `json:"properties"`
}

// GraphEdge is an APPEARS_IN edge in a neighborhood response
type GraphEdge struct {
	From string `json:"from"`
	To   string `json:"to"`
	Type string `json:"type"`
}

// ClusterNeighborhood returns the person node for a cluster, the cases it
// appears in, and the other persons appearing in those same cases. Returns
// nil when the cluster has no node in the graph.
func (s *QueryService) ClusterNeighborhood(ctx context.Context, clusterID string) (*ClusterGraph, error) {
	ctx, span := tracing.StartSpan(ctx, "graph.QueryService.ClusterNeighborhood")
	defer span.End()

	cypher := `
		MATCH (p:Person {cluster_id: $cluster_id})
		OPTIONAL MATCH (p)-[:APPEARS_IN]->(c:Case)
		OPTIONAL MATCH (c)<-[:APPEARS_IN]-(other:Person)
		WHERE other.cluster_id <> p.cluster_id
		RETURN p, c, other
	`

	result, err := s.client.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, cypher, map[string]any{"cluster_id": clusterID})
		if err != nil {
			return nil, err
		}

		var graph *ClusterGraph
		seenNodes := make(map[string]bool)
		seenEdges := make(map[string]bool)

		for res.Next(ctx) {
			record := res.Record()
			if graph == nil {
				graph = &ClusterGraph{
					ClusterID: clusterID,
					Nodes:     make([]GraphNode, 0),
					Edges:     make([]GraphEdge, 0),
				}
			}

			person := nodeFromRecord(record, "p")
			if person != nil {
				graph.addPerson(person, seenNodes)
			}

			caseNode := nodeFromRecord(record, "c")
			if caseNode == nil {
				continue
			}
			caseID := graph.addCase(caseNode, seenNodes)
			if person != nil {
				graph.addEdge(nodeID(person), caseID, seenEdges)
			}

			if other := nodeFromRecord(record, "other"); other != nil {
				graph.addPerson(other, seenNodes)
				graph.addEdge(nodeID(other), caseID, seenEdges)
			}
		}

		return graph, res.Err()
	})
	if err != nil {
		s.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"cluster_id": clusterID,
		}).Error("Failed to query cluster neighborhood")
		return nil, fmt.Errorf("failed to query cluster neighborhood: %w", err)
	}

	if result == nil {
		return nil, nil
	}
	graph, _ := result.(*ClusterGraph)
	return graph, nil
}

func (g *ClusterGraph) addPerson(node *neo4j.Node, seen map[string]bool) {
	id := nodeID(node)
	if id == "" || seen[id] {
		return
	}
	seen[id] = true
	g.Nodes = append(g.Nodes, GraphNode{ID: id, Label: "Person", Properties: node.Props})
}

func (g *ClusterGraph) addCase(node *neo4j.Node, seen map[string]bool) string {
	id, _ := node.Props["case_id"].(string)
	if id == "" || seen[id] {
		return id
	}
	seen[id] = true
	g.Nodes = append(g.Nodes, GraphNode{ID: id, Label: "Case", Properties: node.Props})
	return id
}

func (g *ClusterGraph) addEdge(from, to string, seen map[string]bool) {
	if from == "" || to == "" {
		return
	}
	key := from + "->" + to
	if seen[key] {
		return
	}
	seen[key] = true
	g.Edges = append(g.Edges, GraphEdge{From: from, To: to, Type: "APPEARS_IN"})
}

func nodeFromRecord(record *neo4j.Record, key string) *neo4j.Node {
	val, ok := record.Get(key)
	if !ok || val == nil {
		return nil
	}
	node, ok := val.(neo4j.Node)
	if !ok {
		return nil
	}
	return &node
}

func nodeID(node *neo4j.Node) string {
	id, _ := node.Props["cluster_id"].(string)
	return id
}
