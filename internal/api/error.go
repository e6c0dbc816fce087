package api

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// Error is the normalized form of every non-2xx response from the
// analysis service. All error payloads collapse to {detail, status_code}
// before anything upstream sees them.
type Error struct {
	StatusCode int    `json:"status_code"`
	Detail     string `json:"detail"`
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	detail := strings.TrimSpace(e.Detail)
	if detail == "" {
		detail = http.StatusText(e.StatusCode)
	}
	return fmt.Sprintf("analysis service error: status=%d: %s", e.StatusCode, detail)
}

// HTTPStatus returns the response status code.
func (e *Error) HTTPStatus() int {
	if e == nil {
		return 0
	}
	return e.StatusCode
}

// maxErrorBody caps how much of an error response body we read.
const maxErrorBody = 64 * 1024

// errorFromResponse normalizes a non-2xx response into an *Error.
// Bodies that are not the expected JSON shape degrade to the raw text.
func errorFromResponse(resp *http.Response) *Error {
	apiErr := &Error{StatusCode: resp.StatusCode}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	if err != nil || len(body) == 0 {
		return apiErr
	}

	var wire struct {
		Detail     string `json:"detail"`
		StatusCode int    `json:"status_code"`
	}
	if jsonErr := json.Unmarshal(body, &wire); jsonErr == nil && wire.Detail != "" {
		apiErr.Detail = wire.Detail
		if wire.StatusCode != 0 {
			apiErr.StatusCode = wire.StatusCode
		}
		return apiErr
	}

	apiErr.Detail = strings.TrimSpace(string(body))
	return apiErr
}
