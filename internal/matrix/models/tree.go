package models

// TreeNode is a materialized subtree. Children are ordered by slot index.
type TreeNode struct {
	Position *Position   `json:"position"`
	Children []*TreeNode `json:"children,omitempty"`
	// Truncated is set when the node has children that were cut by the depth limit.
	Truncated bool `json:"truncated,omitempty"`
}

// Walk visits the tree in pre-order. Returning false from fn stops the walk.
func (n *TreeNode) Walk(fn func(*TreeNode) bool) bool {
	if n == nil {
		return true
	}
	if !fn(n) {
		return false
	}
	for _, child := range n.Children {
		if !child.Walk(fn) {
			return false
		}
	}
	return true
}

// Size counts the nodes in the materialized tree including n.
func (n *TreeNode) Size() int {
	size := 0
	n.Walk(func(*TreeNode) bool {
		size++
		return true
	})
	return size
}

// Height is the number of edges on the longest downward path in the materialized tree.
func (n *TreeNode) Height() int {
	if n == nil {
		return 0
	}
	h := 0
	for _, child := range n.Children {
		if ch := child.Height() + 1; ch > h {
			h = ch
		}
	}
	return h
}

// Summary aggregates the team statistics of one position.
type Summary struct {
	Position        *Position `json:"position"`
	ReadablePath    string    `json:"readable_path"`
	UplineLength    int       `json:"upline_length"`
	DescendantCount int       `json:"descendant_count"`
	FillRatio       float64   `json:"fill_ratio"`
	LevelCounts     []int     `json:"level_counts"`
	SubtreeDepth    int       `json:"subtree_depth"`
}
