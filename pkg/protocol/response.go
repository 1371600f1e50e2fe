package protocol

import "encoding/json"

// Response is the uniform reply shape used for intra-extension requests
// and for results posted back into the widget frame. Exactly one of Data
// or Error is meaningful, selected by Success.
type Response struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// OK builds a success response. data may be nil.
func OK(data any) Response {
	if data == nil {
		return Response{Success: true}
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return Fail(err)
	}
	return Response{Success: true, Data: raw}
}

// Fail builds a failure response from err.
func Fail(err error) Response {
	return Response{Success: false, Error: err.Error()}
}

// Failf builds a failure response from a plain message.
func Failf(msg string) Response {
	return Response{Success: false, Error: msg}
}

// Err returns the response error as an error value, or nil on success.
func (r Response) Err() error {
	if r.Success {
		return nil
	}
	msg := r.Error
	if msg == "" {
		msg = "request failed"
	}
	return &ResponseError{Message: msg}
}

// ResponseError carries a failure message from a responder.
type ResponseError struct {
	Message string
}

func (e *ResponseError) Error() string { return e.Message }
