package wire

import (
	"encoding/json"
	"math"
)

// Marker keys. A payload map carrying one of these keys is an instruction,
// not an ordinary mapping; ordinary mappings never contain "$"-prefixed keys.
const (
	refKey         = "$ref"
	tokenKey       = "$token"
	locatorKey     = "locator"
	moduleKey      = "module"
	exportKey      = "export"
	providerKey    = "$provider"
	providerEndKey = "$provider-end"
	valueKey       = "value"
	messageKey     = "message"
	digestKey      = "digest"
)

// Ref builds a forward-reference marker pointing at another chunk id.
func Ref(id ChunkID) map[string]any {
	return map[string]any{refKey: int64(id)}
}

// AsRef recognizes a forward-reference marker.
func AsRef(v any) (ChunkID, bool) {
	m, ok := v.(map[string]any)
	if !ok {
		return 0, false
	}
	raw, ok := m[refKey]
	if !ok {
		return 0, false
	}
	id, ok := AsInt(raw)
	return ChunkID(id), ok
}

// Token builds a reference-token marker for a token already introduced.
func Token(tok int64) map[string]any {
	return map[string]any{tokenKey: tok}
}

// TokenWithLocator builds the first-use form of a token marker, carrying
// the locator metadata alongside the token.
func TokenWithLocator(tok int64, module, export string) map[string]any {
	return map[string]any{
		tokenKey:   tok,
		locatorKey: map[string]any{moduleKey: module, exportKey: export},
	}
}

// AsToken recognizes a reference-token marker.
func AsToken(v any) (int64, bool) {
	m, ok := v.(map[string]any)
	if !ok {
		return 0, false
	}
	raw, ok := m[tokenKey]
	if !ok {
		return 0, false
	}
	return AsInt(raw)
}

// TokenLocator extracts the locator metadata from a first-use token marker.
func TokenLocator(v any) (module, export string, ok bool) {
	m, mok := v.(map[string]any)
	if !mok {
		return "", "", false
	}
	loc, lok := m[locatorKey].(map[string]any)
	if !lok {
		return "", "", false
	}
	module, mok = loc[moduleKey].(string)
	export, lok = loc[exportKey].(string)
	return module, export, mok && lok
}

// ProviderEnter builds the instruction opening a provider scope for key.
// value is the encoded form of the bound value.
func ProviderEnter(key string, value any) map[string]any {
	return map[string]any{providerKey: key, valueKey: value}
}

// ProviderExit builds the instruction closing the provider scope for key.
func ProviderExit(key string) map[string]any {
	return map[string]any{providerEndKey: key}
}

// AsProviderEnter recognizes a provider-enter instruction.
func AsProviderEnter(v any) (key string, value any, ok bool) {
	m, mok := v.(map[string]any)
	if !mok {
		return "", nil, false
	}
	key, ok = m[providerKey].(string)
	return key, m[valueKey], ok
}

// AsProviderExit recognizes a provider-exit instruction.
func AsProviderExit(v any) (key string, ok bool) {
	m, mok := v.(map[string]any)
	if !mok {
		return "", false
	}
	key, ok = m[providerEndKey].(string)
	return key, ok
}

// ProviderRegion recognizes the [enter, body, exit] sequence a provider
// subtree is encoded as, and returns its parts.
func ProviderRegion(items []any) (key string, bound any, body any, ok bool) {
	if len(items) != 3 {
		return "", nil, nil, false
	}
	key, bound, ok = AsProviderEnter(items[0])
	if !ok {
		return "", nil, nil, false
	}
	endKey, endOK := AsProviderExit(items[2])
	if !endOK || endKey != key {
		return "", nil, nil, false
	}
	return key, bound, items[1], true
}

// ErrorPayload builds the payload of an error row. message may be empty in
// non-debug delivery; digest is always present.
func ErrorPayload(message, digest string) map[string]any {
	p := map[string]any{digestKey: digest}
	if message != "" {
		p[messageKey] = message
	}
	return p
}

// AsErrorPayload extracts the parts of an error row payload.
func AsErrorPayload(v any) (message, digest string, ok bool) {
	m, mok := v.(map[string]any)
	if !mok {
		return "", "", false
	}
	digest, ok = m[digestKey].(string)
	message, _ = m[messageKey].(string)
	return message, digest, ok
}

// AsInt normalizes the integer encodings the codecs produce. JSON decoding
// yields json.Number, CBOR yields int64/uint64, and structpb yields float64;
// all are accepted as long as the value is integral.
func AsInt(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int64:
		return n, true
	case uint64:
		if n > math.MaxInt64 {
			return 0, false
		}
		return int64(n), true
	case float64:
		i := int64(n)
		if float64(i) != n {
			return 0, false
		}
		return i, true
	case json.Number:
		i, err := n.Int64()
		return i, err == nil
	default:
		return 0, false
	}
}
