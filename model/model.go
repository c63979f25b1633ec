// Package model defines the producer-side value tree and its closed
// classification. Every value the encoder visits is classified exactly once,
// before any encoding decision, into one of the kinds below; there is no ad
// hoc type probing anywhere else in the walk.
package model

// Kind is the closed classification of a model value.
type Kind int

const (
	// KindScalar covers nil, bool, string, and numeric values.
	KindScalar Kind = iota
	// KindSequence is an ordered []any.
	KindSequence
	// KindMapping is a string-keyed map[string]any.
	KindMapping
	// KindRenderable is a node whose body is produced by a renderer.
	KindRenderable
	// KindReference marks a value whose implementation lives on the sink.
	KindReference
	// KindProvider binds a context key to a value for a subtree.
	KindProvider
	// KindReader reads the current binding of a context key.
	KindReader
	// KindPending is a value whose computation has not finished yet.
	KindPending
	// KindUnsupported is anything else: functions, channels, resource
	// handles, arbitrary struct instances. Encoding such a value fails
	// with a serialization error scoped to its subtree.
	KindUnsupported
)

func (k Kind) String() string {
	switch k {
	case KindScalar:
		return "Scalar"
	case KindSequence:
		return "Sequence"
	case KindMapping:
		return "Mapping"
	case KindRenderable:
		return "Renderable"
	case KindReference:
		return "Reference"
	case KindProvider:
		return "Provider"
	case KindReader:
		return "Reader"
	case KindPending:
		return "Pending"
	default:
		return "Unsupported"
	}
}

// Renderable is a node with an identity and named inputs. Its body is not
// part of the model; the encode session obtains it from the renderer
// capability, which may resolve, suspend, or fail.
type Renderable struct {
	// Name identifies the node kind to the renderer.
	Name string
	// Props are the node's named inputs. Values are model values.
	Props map[string]any
}

// Reference marks a value whose real implementation exists only on the sink
// side. The reference table dedups references by pointer identity: encoding
// the same *Reference twice in one session yields the same token, while two
// structurally equal references at different addresses yield distinct tokens.
type Reference struct {
	// Module is the sink-side module locator.
	Module string
	// Export names the implementation within the module.
	Export string
}

// Provider binds Key to Value for every descendant under Body. The binding
// is visible only within Body; siblings of the provider never see it.
type Provider struct {
	Key   string
	Value any
	Body  any
}

// Reader reads the nearest enclosing binding for Key, falling back to the
// key's registered default. The encoder inlines the read result; readers
// never appear on the wire.
type Reader struct {
	Key string
}

// Pending is a value that is not yet computed. Subscribe must invoke notify
// exactly once when the value becomes available; Value may only be called
// after that notification.
type Pending struct {
	Subscribe func(notify func())
	Value     func() (any, error)
}

// Classify maps a value to its kind. It is a pure function: the encoder
// calls it once per visited value and dispatches on the result.
func Classify(v any) Kind {
	switch v.(type) {
	case nil, bool, string, int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, float32, float64:
		return KindScalar
	case []any:
		return KindSequence
	case map[string]any:
		return KindMapping
	case *Renderable:
		return KindRenderable
	case *Reference:
		return KindReference
	case *Provider:
		return KindProvider
	case *Reader:
		return KindReader
	case *Pending:
		return KindPending
	default:
		return KindUnsupported
	}
}
