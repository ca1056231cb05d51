package database

// Graph parameters of the in-memory embedding index.
const (
	// HNSWMaxNeighbors is M, the edge budget of each node.
	HNSWMaxNeighbors = 16

	// HNSWEfSearch is the candidate list size explored per query.
	HNSWEfSearch = 100

	// HNSWSearchMultiplier over-fetches from the graph so that deactivated
	// or deleted nodes filtered afterwards still leave k results.
	HNSWSearchMultiplier = 3

	// HNSWMinSearch is the smallest candidate pool requested from the graph.
	HNSWMinSearch = 50
)
