// Copyright 2025 James Ross
package codec

import "encoding/json"

// Payload is the opaque unit a job's data field carries: a function name to
// call, an optional bound instance reference, positional args, and keyword
// args. The protocol never interprets this; only the façade/execution layer
// constructs and consumes it.
type Payload struct {
	FuncName string                 `json:"func_name"`
	Instance string                 `json:"instance,omitempty"`
	Args     []interface{}          `json:"args,omitempty"`
	Kwargs   map[string]interface{} `json:"kwargs,omitempty"`
}

// Codec encodes and decodes job payloads. The protocol treats its output as
// opaque bytes; swap it out for a different wire format without touching
// any queue/worker transition.
type Codec interface {
	Encode(p Payload) ([]byte, error)
	Decode(b []byte) (Payload, error)
}

// JSONCodec is the default Codec.
type JSONCodec struct{}

func (JSONCodec) Encode(p Payload) ([]byte, error) {
	return json.Marshal(p)
}

func (JSONCodec) Decode(b []byte) (Payload, error) {
	var p Payload
	err := json.Unmarshal(b, &p)
	return p, err
}
