// Package rpctypes defines the wire-level JSON-RPC types and the network
// configuration model shared by the cache, dispatcher and core packages.
package rpctypes

import (
	"bytes"
	"encoding/json"
	"time"
)

// ParamKind tags the shape of a single JSON-RPC parameter, replacing the
// dynamic typing the original system relies on with an explicit variant.
type ParamKind int

const (
	KindNull ParamKind = iota
	KindBool
	KindNumber
	KindString
	KindArray
	KindObject
)

// Param is a normalized JSON-RPC parameter value. Raw holds the original
// json.RawMessage as received; the fingerprint's canonical JSON falls back to
// it only when re-serialising the decoded value fails.
type Param struct {
	Kind   ParamKind
	Bool   bool
	Number json.Number
	String string
	Array  []Param
	Object map[string]Param
	Raw    json.RawMessage
}

// ParamFromRaw decodes a single json.RawMessage into a normalized Param.
func ParamFromRaw(raw json.RawMessage) Param {
	p := Param{Raw: raw}
	trimmed := raw
	if len(trimmed) == 0 {
		p.Kind = KindNull
		return p
	}
	switch trimmed[0] {
	case '"':
		var s string
		if json.Unmarshal(raw, &s) == nil {
			p.Kind = KindString
			p.String = s
		}
	case 't', 'f':
		var b bool
		if json.Unmarshal(raw, &b) == nil {
			p.Kind = KindBool
			p.Bool = b
		}
	case 'n':
		p.Kind = KindNull
	case '[':
		var arr []json.RawMessage
		if json.Unmarshal(raw, &arr) == nil {
			p.Kind = KindArray
			p.Array = make([]Param, len(arr))
			for i, r := range arr {
				p.Array[i] = ParamFromRaw(r)
			}
		}
	case '{':
		var obj map[string]json.RawMessage
		if json.Unmarshal(raw, &obj) == nil {
			p.Kind = KindObject
			p.Object = make(map[string]Param, len(obj))
			for k, r := range obj {
				p.Object[k] = ParamFromRaw(r)
			}
		}
	default:
		var n json.Number
		dec := json.NewDecoder(bytes.NewReader(raw))
		dec.UseNumber()
		if dec.Decode(&n) == nil {
			p.Kind = KindNumber
			p.Number = n
		}
	}
	return p
}

// IsString reports whether the param is a string.
func (p Param) IsString() bool { return p.Kind == KindString }

// AsString returns the string value and whether the param is a string.
func (p Param) AsString() (string, bool) {
	if p.Kind != KindString {
		return "", false
	}
	return p.String, true
}

// RpcID is the JSON-RPC id field: string, number or null.
type RpcID struct {
	Raw json.RawMessage
}

func (id RpcID) MarshalJSON() ([]byte, error) {
	if id.Raw == nil {
		return []byte("null"), nil
	}
	return id.Raw, nil
}

func (id *RpcID) UnmarshalJSON(data []byte) error {
	id.Raw = append([]byte(nil), data...)
	return nil
}

// RpcRequest is a single JSON-RPC 2.0 call as received from a client.
type RpcRequest struct {
	JSONRPC string            `json:"jsonrpc"`
	Method  string            `json:"method"`
	Params  []json.RawMessage `json:"params,omitempty"`
	ID      RpcID             `json:"id"`
}

// NormalizedParams decodes Params into the tagged Param variant form used by
// the fingerprint and cacheability logic.
func (r *RpcRequest) NormalizedParams() []Param {
	out := make([]Param, len(r.Params))
	for i, raw := range r.Params {
		out[i] = ParamFromRaw(raw)
	}
	return out
}

// RpcError is a JSON-RPC 2.0 error object.
type RpcError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (e *RpcError) Error() string { return e.Message }

// RpcResponse is a single JSON-RPC 2.0 response envelope.
type RpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      RpcID           `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RpcError       `json:"error,omitempty"`
}

// WithID returns a shallow copy of the response with its id replaced, used
// when serving a cached or coalesced envelope to a caller whose request id
// differs from the one stored.
func (r *RpcResponse) WithID(id RpcID) *RpcResponse {
	cp := *r
	cp.ID = id
	return &cp
}

// IsSuccess reports a well-formed success response (no error object).
func (r *RpcResponse) IsSuccess() bool { return r.Error == nil }

// UpstreamSpec is a single upstream JSON-RPC endpoint.
type UpstreamSpec struct {
	URL     string            `json:"url"`
	Headers map[string]string `json:"headers,omitempty"`
}

// NetworkSpec configures one logical network: a mandatory primary upstream,
// an optional fallback, and the per-network dispatch tunables.
type NetworkSpec struct {
	Key                string        `json:"key"`
	Primary            UpstreamSpec  `json:"primary"`
	Fallback           *UpstreamSpec `json:"fallback,omitempty"`
	RequestTimeout     time.Duration `default:"5s" json:"requestTimeout"`
	MaxFallbackRetries int           `default:"2" json:"maxFallbackRetries"`
	InitialBackoff     time.Duration `default:"200ms" json:"initialBackoff"`
	QueueConcurrency   int           `default:"20" json:"queueConcurrency"`
	RateLimitQPS       float64       `default:"0" json:"rateLimitQps"` // 0 means unlimited
}

// HasFallback reports whether a fallback upstream is configured.
func (n *NetworkSpec) HasFallback() bool { return n.Fallback != nil }

// CacheEntry is the value stored in both cache tiers, keyed by fingerprint.
type CacheEntry struct {
	Payload        json.RawMessage // either a full RpcResponse envelope or a bare result
	InsertedAt     time.Time
	ReadCount      int64
	WriteCount     int64
	Compressed     bool
	OriginalSize   int
	CompressedSize int
}

// IsEnvelope reports whether Payload looks like a full RpcResponse envelope
// (has "jsonrpc" and one of "result"/"error") rather than a bare result.
func (e *CacheEntry) IsEnvelope() bool {
	var probe struct {
		JSONRPC string          `json:"jsonrpc"`
		Result  json.RawMessage `json:"result"`
		Error   json.RawMessage `json:"error"`
	}
	if json.Unmarshal(e.Payload, &probe) != nil {
		return false
	}
	return probe.JSONRPC != "" && (len(probe.Result) > 0 || len(probe.Error) > 0)
}

// ToResponse materializes the stored payload as a response envelope for the
// given request id, wrapping bare-result legacy entries as needed.
func (e *CacheEntry) ToResponse(id RpcID) (*RpcResponse, error) {
	if e.IsEnvelope() {
		var resp RpcResponse
		if err := json.Unmarshal(e.Payload, &resp); err != nil {
			return nil, err
		}
		return resp.WithID(id), nil
	}
	return &RpcResponse{JSONRPC: "2.0", ID: id, Result: e.Payload}, nil
}
