package repository

import (
	"context"
	"fmt"

	"github.com/ManaviP/ai-credit-network/internal/domain"
	"github.com/ManaviP/ai-credit-network/internal/graph"
)

// Traversal depth bounds for trust-graph views. Out-of-range requests clamp
// silently to the nearest bound.
const (
	MinTraversalDepth = 1
	MaxTraversalDepth = 3
)

// Repository encapsulates trust-graph persistence operations. Every write is
// an idempotent merge; the ledger remains the durable source of truth and the
// graph self-heals on the next mirror write.
type Repository struct {
	client graph.Client
}

// New instantiates a Repository backed by the supplied graph client.
func New(client graph.Client) *Repository {
	return &Repository{client: client}
}

// UpsertUserNode ensures a user node exists carrying the latest mirrored score.
func (r *Repository) UpsertUserNode(ctx context.Context, userID int64, name string, score float64) error {
	if userID <= 0 {
		return fmt.Errorf("%w: user id is required", domain.ErrValidation)
	}

	params := map[string]any{
		"userId": userID,
		"name":   name,
		"score":  score,
	}
	if _, err := r.client.ExecuteWrite(ctx, upsertUserNodeCypher, params); err != nil {
		return fmt.Errorf("upsert user node %d: %w", userID, err)
	}
	return nil
}

// UpsertVouchEdge merges the VOUCHES_FOR edge between two users. Repeating the
// call refreshes weight and updated_at; created_at and the outcome counters
// are left untouched so counters stay monotonically non-decreasing.
func (r *Repository) UpsertVouchEdge(ctx context.Context, voucherID, voucheeID int64, weight float64) error {
	if voucherID <= 0 || voucheeID <= 0 {
		return fmt.Errorf("%w: voucher and vouchee ids are required", domain.ErrValidation)
	}
	if voucherID == voucheeID {
		return fmt.Errorf("%w: self-vouching is forbidden", domain.ErrValidation)
	}
	if weight <= 0 || weight > 100 {
		return fmt.Errorf("%w: vouch weight %.2f out of (0,100]", domain.ErrValidation, weight)
	}

	params := map[string]any{
		"voucherId": voucherID,
		"voucheeId": voucheeID,
		"weight":    weight,
	}
	if _, err := r.client.ExecuteWrite(ctx, upsertVouchEdgeCypher, params); err != nil {
		return fmt.Errorf("upsert vouch edge %d->%d: %w", voucherID, voucheeID, err)
	}
	return nil
}

// IncrementVouchCounter bumps the repayment or default counter on an existing
// vouch edge by exactly one. This is deliberately separate from the weight
// upsert: counter updates must accumulate and never be reset by a re-vouch.
func (r *Repository) IncrementVouchCounter(ctx context.Context, voucherID, voucheeID int64, kind domain.VouchOutcome) error {
	if voucherID <= 0 || voucheeID <= 0 {
		return fmt.Errorf("%w: voucher and vouchee ids are required", domain.ErrValidation)
	}

	var cypher string
	switch kind {
	case domain.OutcomeRepayment:
		cypher = incrementRepaymentCounterCypher
	case domain.OutcomeDefault:
		cypher = incrementDefaultCounterCypher
	default:
		return fmt.Errorf("%w: unknown vouch outcome %q", domain.ErrValidation, kind)
	}

	params := map[string]any{
		"voucherId": voucherID,
		"voucheeId": voucheeID,
	}
	if _, err := r.client.ExecuteWrite(ctx, cypher, params); err != nil {
		return fmt.Errorf("increment %s counter %d->%d: %w", kind, voucherID, voucheeID, err)
	}
	return nil
}

// UpsertMembershipEdge merges the MEMBER_OF edge between a user and a
// community. joined_at is set only on first creation.
func (r *Repository) UpsertMembershipEdge(ctx context.Context, userID, communityID int64, role domain.MemberRole) error {
	if userID <= 0 || communityID <= 0 {
		return fmt.Errorf("%w: user and community ids are required", domain.ErrValidation)
	}

	params := map[string]any{
		"userId":      userID,
		"communityId": communityID,
		"role":        string(role),
	}
	if _, err := r.client.ExecuteWrite(ctx, upsertMembershipEdgeCypher, params); err != nil {
		return fmt.Errorf("upsert membership edge %d->%d: %w", userID, communityID, err)
	}
	return nil
}

// CountIncomingActiveVouches returns the number of distinct active vouch edges
// pointing at the user.
func (r *Repository) CountIncomingActiveVouches(ctx context.Context, userID int64) (int, error) {
	res, err := r.client.ExecuteRead(ctx, countVouchesCypher, map[string]any{"userId": userID})
	if err != nil {
		return 0, fmt.Errorf("count vouches for user %d: %w", userID, err)
	}
	if len(res.Records) == 0 {
		return 0, nil
	}
	return int(toInt64(res.Records[0]["vouchCount"])), nil
}

// AvgScoreOfVouchers returns the average mirrored score of users with an
// active vouch edge into the given user, or 0 when nobody vouches.
func (r *Repository) AvgScoreOfVouchers(ctx context.Context, userID int64) (float64, error) {
	res, err := r.client.ExecuteRead(ctx, avgVoucherScoreCypher, map[string]any{"userId": userID})
	if err != nil {
		return 0, fmt.Errorf("avg voucher score for user %d: %w", userID, err)
	}
	if len(res.Records) == 0 {
		return 0, nil
	}
	return toFloat64(res.Records[0]["avgScore"]), nil
}

// TraverseTrustGraph returns the bounded-depth vouch neighborhood around a
// user for visualization. Depth is clamped to [MinTraversalDepth,
// MaxTraversalDepth] rather than rejected.
func (r *Repository) TraverseTrustGraph(ctx context.Context, userID int64, depth int) (domain.TrustGraph, error) {
	depth = ClampDepth(depth)

	query := fmt.Sprintf(trustGraphCypherTemplate, depth)
	res, err := r.client.ExecuteRead(ctx, query, map[string]any{"userId": userID})
	if err != nil {
		return domain.TrustGraph{}, fmt.Errorf("traverse trust graph for user %d: %w", userID, err)
	}

	out := domain.TrustGraph{
		Nodes: []domain.GraphNode{},
		Edges: []domain.GraphEdge{},
	}
	if len(res.Records) == 0 {
		return out, nil
	}

	record := res.Records[0]
	if nodesRaw, ok := record["nodes"].([]any); ok {
		for _, n := range nodesRaw {
			nodeMap, ok := n.(map[string]any)
			if !ok {
				continue
			}
			out.Nodes = append(out.Nodes, domain.GraphNode{
				ID:    toInt64(nodeMap["id"]),
				Name:  toString(nodeMap["name"]),
				Score: toFloat64(nodeMap["score"]),
			})
		}
	}
	if edgesRaw, ok := record["edges"].([]any); ok {
		for _, e := range edgesRaw {
			edgeMap, ok := e.(map[string]any)
			if !ok {
				continue
			}
			out.Edges = append(out.Edges, domain.GraphEdge{
				Source: toInt64(edgeMap["source"]),
				Target: toInt64(edgeMap["target"]),
				Weight: toFloat64(edgeMap["weight"]),
			})
		}
	}

	return out, nil
}

// MembersOf lists the user ids attached to a community via active MEMBER_OF
// edges. The graph view may lag the ledger; health aggregation reads the
// ledger membership table instead.
func (r *Repository) MembersOf(ctx context.Context, communityID int64) ([]int64, error) {
	res, err := r.client.ExecuteRead(ctx, communityMembersCypher, map[string]any{"communityId": communityID})
	if err != nil {
		return nil, fmt.Errorf("members of community %d: %w", communityID, err)
	}
	if len(res.Records) == 0 {
		return nil, nil
	}

	raw, ok := res.Records[0]["memberIds"].([]any)
	if !ok {
		return nil, nil
	}
	members := make([]int64, 0, len(raw))
	for _, v := range raw {
		if id := toInt64(v); id > 0 {
			members = append(members, id)
		}
	}
	return members, nil
}

// ClampDepth coerces a traversal depth into the supported range.
func ClampDepth(depth int) int {
	if depth < MinTraversalDepth {
		return MinTraversalDepth
	}
	if depth > MaxTraversalDepth {
		return MaxTraversalDepth
	}
	return depth
}

func toString(val any) string {
	switch v := val.(type) {
	case string:
		return v
	case fmt.Stringer:
		return v.String()
	case []byte:
		return string(v)
	default:
		return ""
	}
}

func toFloat64(val any) float64 {
	switch v := val.(type) {
	case float64:
		return v
	case float32:
		return float64(v)
	case int64:
		return float64(v)
	case int:
		return float64(v)
	default:
		return 0
	}
}

func toInt64(val any) int64 {
	switch v := val.(type) {
	case int64:
		return v
	case int:
		return int64(v)
	case float64:
		return int64(v)
	default:
		return 0
	}
}

const upsertUserNodeCypher = `
MERGE (u:User {userId: $userId})
SET u.name = $name,
    u.trustScore = $score,
    u.updatedAt = datetime()
RETURN u.userId AS userId
`

const upsertVouchEdgeCypher = `
MATCH (voucher:User {userId: $voucherId})
MATCH (vouchee:User {userId: $voucheeId})
MERGE (voucher)-[v:VOUCHES_FOR]->(vouchee)
SET v.weight = $weight,
    v.active = true,
    v.createdAt = CASE WHEN v.createdAt IS NULL THEN datetime() ELSE v.createdAt END,
    v.updatedAt = datetime(),
    v.repaymentCount = coalesce(v.repaymentCount, 0),
    v.defaultCount = coalesce(v.defaultCount, 0)
RETURN v.weight AS weight
`

const incrementRepaymentCounterCypher = `
MATCH (voucher:User {userId: $voucherId})-[v:VOUCHES_FOR]->(vouchee:User {userId: $voucheeId})
SET v.repaymentCount = coalesce(v.repaymentCount, 0) + 1
RETURN v.repaymentCount AS repaymentCount
`

const incrementDefaultCounterCypher = `
MATCH (voucher:User {userId: $voucherId})-[v:VOUCHES_FOR]->(vouchee:User {userId: $voucheeId})
SET v.defaultCount = coalesce(v.defaultCount, 0) + 1
RETURN v.defaultCount AS defaultCount
`

const upsertMembershipEdgeCypher = `
MATCH (u:User {userId: $userId})
MERGE (c:Community {communityId: $communityId})
MERGE (u)-[m:MEMBER_OF]->(c)
SET m.role = $role,
    m.active = true,
    m.joinedAt = CASE WHEN m.joinedAt IS NULL THEN datetime() ELSE m.joinedAt END
RETURN m.role AS role
`

const countVouchesCypher = `
MATCH (:User)-[v:VOUCHES_FOR]->(u:User {userId: $userId})
WHERE coalesce(v.active, true)
RETURN count(v) AS vouchCount
`

const avgVoucherScoreCypher = `
MATCH (voucher:User)-[v:VOUCHES_FOR]->(u:User {userId: $userId})
WHERE coalesce(v.active, true)
RETURN coalesce(avg(voucher.trustScore), 0.0) AS avgScore
`

const trustGraphCypherTemplate = `
MATCH (u:User {userId: $userId})
OPTIONAL MATCH path = (u)-[:VOUCHES_FOR*1..%d]-(:User)
WITH u,
     reduce(ns = [u], p IN collect(path) | ns + nodes(p)) AS allNodes,
     reduce(rs = [], p IN collect(path) | rs + relationships(p)) AS allRels
UNWIND allNodes AS n
WITH u, allRels, collect(DISTINCT n) AS ns
UNWIND (CASE WHEN size(allRels) = 0 THEN [null] ELSE allRels END) AS rel
WITH ns, [r IN collect(DISTINCT rel) WHERE r IS NOT NULL AND coalesce(r.active, true)] AS rs
RETURN [n IN ns | {
  id: n.userId,
  name: coalesce(n.name, ""),
  score: coalesce(n.trustScore, 0.0)
}] AS nodes,
[r IN rs | {
  source: startNode(r).userId,
  target: endNode(r).userId,
  weight: coalesce(r.weight, 1.0)
}] AS edges
`

const communityMembersCypher = `
MATCH (u:User)-[m:MEMBER_OF]->(c:Community {communityId: $communityId})
WHERE coalesce(m.active, true)
RETURN collect(u.userId) AS memberIds
`
