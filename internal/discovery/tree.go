package discovery

import (
	"github.com/lexpipe/lexpipe/internal/model"
)

// nodeRank totally orders NodeType by specificity so the tree builder
// knows when a newly seen heading closes out the current branch instead
// of nesting under it.
var nodeRank = map[model.NodeType]int{
	model.NodeCode:     0,
	model.NodeDivision: 1,
	model.NodePart:     2,
	model.NodeTitle:    3,
	model.NodeChapter:  4,
	model.NodeArticle:  5,
	model.NodeSection:  6,
}

// Heading is one structural heading or leaf encountered while walking a
// text page's anchors, in document order.
type Heading struct {
	Type   model.NodeType
	Number string
	Title  string
	URL    string // non-empty only for NodeSection leaves
}

// TreeBuilder incrementally assembles a CodeArchitecture's hierarchy tree
// from a stream of Headings observed across however many text pages a
// code's tree discovery walk visits. It tracks the currently open
// ancestor chain so a later, less-specific heading correctly closes out
// deeper branches rather than nesting under them.
type TreeBuilder struct {
	root     *model.TreeNode
	stack    []*model.TreeNode
	manifest []model.ManifestEntry
}

// NewTreeBuilder creates a TreeBuilder rooted at a synthetic CODE node.
func NewTreeBuilder(code string) *TreeBuilder {
	root := &model.TreeNode{Type: model.NodeCode, Number: code, Title: code}
	return &TreeBuilder{
		root:  root,
		stack: []*model.TreeNode{root},
	}
}

// Add incorporates one heading into the tree. Leaves (NodeSection) are
// attached to the current top-of-stack ancestor and recorded in the
// manifest with their enclosing hierarchy chain; structural headings
// become the new top of stack.
func (b *TreeBuilder) Add(h Heading) {
	rank := nodeRank[h.Type]
	for len(b.stack) > 1 && nodeRank[b.stack[len(b.stack)-1].Type] >= rank {
		b.stack = b.stack[:len(b.stack)-1]
	}
	parent := b.stack[len(b.stack)-1]

	node := &model.TreeNode{Type: h.Type, Number: h.Number, Title: h.Title}
	parent.Children = append(parent.Children, node)

	if h.Type == model.NodeSection {
		b.manifest = append(b.manifest, model.ManifestEntry{
			SectionID: h.Number,
			URL:       h.URL,
			Division:  b.ancestorNumber(model.NodeDivision),
			Part:      b.ancestorNumber(model.NodePart),
			Title:     b.ancestorNumber(model.NodeTitle),
			Chapter:   b.ancestorNumber(model.NodeChapter),
			Article:   b.ancestorNumber(model.NodeArticle),
		})
		return
	}

	b.stack = append(b.stack, node)
}

func (b *TreeBuilder) ancestorNumber(t model.NodeType) string {
	for _, n := range b.stack {
		if n.Type == t {
			return n.Number
		}
	}
	return ""
}

// Manifest returns the leaf manifest accumulated so far, in discovery
// order.
func (b *TreeBuilder) Manifest() []model.ManifestEntry {
	return b.manifest
}

// Build finalizes the tree and computes its Statistics.
func (b *TreeBuilder) Build() (*model.TreeNode, model.Statistics) {
	stats := model.Statistics{
		TotalNodes:    countNodes(b.root),
		MaxDepth:      b.root.MaxDepth(),
		TotalSections: len(b.manifest),
	}
	return b.root, stats
}

func countNodes(n *model.TreeNode) int {
	if n == nil {
		return 0
	}
	total := 1
	for _, c := range n.Children {
		total += countNodes(c)
	}
	return total
}
