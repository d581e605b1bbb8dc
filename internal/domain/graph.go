package domain

// GraphNode is a user node in a trust-graph view, shaped for visualization.
type GraphNode struct {
	ID    int64   `json:"id"`
	Name  string  `json:"name"`
	Score float64 `json:"score"`
}

// GraphEdge is a directed vouch edge between two users.
type GraphEdge struct {
	Source int64   `json:"source"`
	Target int64   `json:"target"`
	Weight float64 `json:"weight"`
}

// TrustGraph is the bounded-depth neighborhood around a user.
type TrustGraph struct {
	Nodes []GraphNode `json:"nodes"`
	Edges []GraphEdge `json:"edges"`
}
