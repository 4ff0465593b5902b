package types

import "strconv"

// ErrorResponse is the body of every non-2xx REST reply.
//
//	{"error": {"code": "MACHINE_503", "message": "...", "details": ...}}
//
// Codes are an upper-case area followed by the HTTP status, so clients can
// branch on the area without parsing the message.
type ErrorResponse struct {
	Error ErrorBody `json:"error"`
}

type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

func NewErrorResponse(code, message string, details any) ErrorResponse {
	return ErrorResponse{Error: ErrorBody{Code: code, Message: message, Details: details}}
}

// NewStatusError builds a reply whose code is derived from area and status.
func NewStatusError(area string, status int, message string, details any) ErrorResponse {
	return NewErrorResponse(ErrorCode(area, status), message, details)
}

// ErrorCode joins area and status, e.g. ErrorCode("PROFILE", 404) is
// "PROFILE_404". Statuses outside 4xx and 5xx map to 500.
func ErrorCode(area string, status int) string {
	if status < 400 || status > 599 {
		status = 500
	}
	return area + "_" + strconv.Itoa(status)
}
