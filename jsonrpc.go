package natsapi

import (
	"encoding/json"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"
)

// Request is the inbound JSON-RPC 2.0 envelope described in §3. Timeout is
// seconds; a value of -1 marks a fire-and-forget publish made by the client
// helper in bus.go.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      uuid.UUID       `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params"`
	Timeout float64         `json:"timeout,omitempty"`
}

// Reply is the outbound JSON-RPC 2.0 envelope. Exactly one of Result or
// Error is populated (§3 invariant: envelope exclusivity).
type Reply struct {
	JSONRPC string     `json:"jsonrpc"`
	ID      uuid.UUID  `json:"id"`
	Result  any        `json:"result,omitempty"`
	Error   *ErrorBody `json:"error,omitempty"`
}

// ErrorBody is the wire shape of reply.error.
type ErrorBody struct {
	Code      int        `json:"code"`
	Message   string     `json:"message"`
	Timestamp int64      `json:"timestamp"`
	Data      *ErrorData `json:"data,omitempty"`
}

// ErrorData is the wire shape of reply.error.data (§3).
type ErrorData struct {
	Type   string            `json:"type"`
	Errors []ErrorDataEntry  `json:"errors"`
}

// ErrorDataEntry is one entry of error.data.errors.
type ErrorDataEntry struct {
	Type    string `json:"type"`
	Target  string `json:"target,omitempty"`
	Message string `json:"message"`
}

func newReplyResult(id uuid.UUID, result any) *Reply {
	return &Reply{JSONRPC: "2.0", ID: id, Result: result}
}

func newReplyError(id uuid.UUID, body *ErrorBody) *Reply {
	return &Reply{JSONRPC: "2.0", ID: id, Error: body}
}

// decodeRequest parses raw bytes as a JSON-RPC request. A cheap gjson
// validity check runs first, so a non-JSON payload never reaches the full
// encoding/json unmarshal. Per §4.4 step 3, a parse failure still yields a
// usable (empty) request so the error path has a context to report
// against.
func decodeRequest(raw []byte) (*Request, bool) {
	if !gjson.ValidBytes(raw) {
		return &Request{JSONRPC: "2.0", Params: json.RawMessage(`{}`), Timeout: 60}, false
	}

	var req Request
	if err := json.Unmarshal(raw, &req); err != nil {
		return &Request{JSONRPC: "2.0", Params: json.RawMessage(`{}`), Timeout: 60}, false
	}
	if req.Params == nil {
		req.Params = json.RawMessage(`{}`)
	}
	return &req, true
}
