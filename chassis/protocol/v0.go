package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// Version - JSON-RPC version stamped on every packet
const Version = "2.0"

// Request - JSON-RPC request packet
type Request struct {
	Protocol string            `json:"jsonrpc"`
	ID       string            `json:"id,omitempty"`
	Method   string            `json:"method"`
	Params   map[string]string `json:"params"`
}

// NewRequest builds a request with a fresh id.
func NewRequest(method string, params map[string]string) *Request {
	return &Request{
		Protocol: Version,
		ID:       uuid.NewString(),
		Method:   method,
		Params:   params,
	}
}

// JSON - convert struct to json
func (r *Request) JSON() ([]byte, error) {
	r.Protocol = Version
	return json.Marshal(r)
}

// FromJSON - convert json to struct
func (r *Request) FromJSON(raw []byte) error {
	if err := json.Unmarshal(raw, r); err != nil {
		return err
	}
	if r.Method == "" {
		return fmt.Errorf("request %q has no method", r.ID)
	}
	return nil
}

// String representation
func (r *Request) String() string {
	return fmt.Sprintf("id=%s method=%s params=%s", r.ID, r.Method, r.Params)
}

// Response - JSON-RPC response packet
type Response struct {
	Protocol string            `json:"jsonrpc"`
	ID       string            `json:"id"`
	Result   map[string]string `json:"result,omitempty"`
	Error    map[string]string `json:"error,omitempty"`
}

// NewResponse answers request id.
func NewResponse(id string) *Response {
	return &Response{Protocol: Version, ID: id}
}

// JSON - convert struct to json
func (r *Response) JSON() ([]byte, error) {
	r.Protocol = Version
	return json.Marshal(r)
}

// FromJSON - convert json to struct
func (r *Response) FromJSON(raw []byte) error {
	return json.Unmarshal(raw, r)
}

// String representation
func (r *Response) String() string {
	return fmt.Sprintf("id=%s result=%s error=%s", r.ID, r.Result, r.Error)
}
