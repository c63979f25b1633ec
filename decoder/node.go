// Package decoder consumes the row stream and exposes a lazily resolving
// value graph. Rows may arrive in any order relative to logical tree
// structure; the graph is consumable while incomplete, with placeholders
// resolving in place as their chunks arrive.
package decoder

// NodeKind classifies a decoded graph node.
type NodeKind int

const (
	// NodeScalar holds a primitive value in Scalar.
	NodeScalar NodeKind = iota
	// NodeSequence holds ordered children in Items.
	NodeSequence
	// NodeMapping holds keyed children in Fields.
	NodeMapping
	// NodeReference holds a sink-supplied implementation in Impl.
	NodeReference
	// NodeProvider is a context scope: Key bound to Bound over Body.
	NodeProvider
	// NodePlaceholder stands in for chunk Chunk until it resolves. The
	// node is overwritten in place on resolution.
	NodePlaceholder
	// NodeFailed carries the sanitized failure of its chunk in Err.
	NodeFailed
)

func (k NodeKind) String() string {
	switch k {
	case NodeScalar:
		return "Scalar"
	case NodeSequence:
		return "Sequence"
	case NodeMapping:
		return "Mapping"
	case NodeReference:
		return "Reference"
	case NodeProvider:
		return "Provider"
	case NodePlaceholder:
		return "Placeholder"
	default:
		return "Failed"
	}
}

// Node is one position of the decoded graph. Placeholder nodes hold only a
// chunk id, never a back-reference into the table, so the graph stays
// cycle-free; subscribe through Table.Subscribe to observe resolution.
//
// Multiple graph positions referencing the same chunk share its resolved
// children.
type Node struct {
	Kind NodeKind

	Scalar any
	Items  []*Node
	Fields map[string]*Node

	Impl any

	Key   string
	Bound *Node
	Body  *Node

	Chunk ChunkRef

	Err error
}

// ChunkRef is the arena index a placeholder node holds.
type ChunkRef int64

// Interface converts the resolved portion of the graph to plain Go values:
// scalars, []any, and map[string]any. Provider scopes yield their body,
// references yield their implementation, failed nodes yield their error,
// and unresolved placeholders yield nil.
func (n *Node) Interface() any {
	switch n.Kind {
	case NodeScalar:
		return n.Scalar
	case NodeSequence:
		out := make([]any, len(n.Items))
		for i, item := range n.Items {
			out[i] = item.Interface()
		}
		return out
	case NodeMapping:
		out := make(map[string]any, len(n.Fields))
		for k, f := range n.Fields {
			out[k] = f.Interface()
		}
		return out
	case NodeReference:
		return n.Impl
	case NodeProvider:
		return n.Body.Interface()
	case NodeFailed:
		return n.Err
	default:
		return nil
	}
}
