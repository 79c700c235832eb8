package client

// StartRequest describes a bidder launch.
type StartRequest struct {
	Name       string
	Executable string
	Params     map[string]string
	Config     []byte // JSON document; empty sends no body
}

// Result is the gateway's reply to start, stop and status calls.
type Result struct {
	ResultCode        int    `json:"resultCode"`
	ResultDescription string `json:"resultDescription"`
	ExternalReference string `json:"externalReference,omitempty"`
	State             string `json:"state,omitempty"`
}

// OK reports a zero result code.
func (r Result) OK() bool { return r.ResultCode == 0 }

// ErrorResponse represents an API error response
type ErrorResponse struct {
	Error string `json:"error"`
}
