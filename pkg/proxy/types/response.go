package types

import (
	"encoding/json"
	"net/http"
)

// Response is a buffered upstream response (or a gateway-generated
// error) ready to emit to the client.
type Response struct {
	// StatusCode is the HTTP status to emit.
	StatusCode int

	// Header holds response headers with hop-by-hop fields already
	// stripped. ContentType is carried separately.
	Header http.Header

	// ContentType is the response Content-Type.
	ContentType string

	// Body is the full response body.
	Body []byte
}

// ErrorBody is the JSON shape of every gateway-generated failure body.
type ErrorBody struct {
	Error string `json:"error"`
}

// NewErrorResponse builds a Response carrying a small JSON error body.
func NewErrorResponse(statusCode int, reason string) Response {
	body, _ := json.Marshal(ErrorBody{Error: reason})
	return Response{
		StatusCode:  statusCode,
		Header:      make(http.Header),
		ContentType: "application/json",
		Body:        body,
	}
}
