// Package response writes the JSON envelope shared by every endpoint.
package response

import (
	"encoding/json"
	"net/http"

	chimw "github.com/go-chi/chi/v5/middleware"
)

// Error codes returned in the envelope.
const (
	CodeHeaderInvalid = "40001"
	CodeParamInvalid  = "40002"

	CodeAuthorizationEmpty         = "40101"
	CodeAuthorizationFormatInvalid = "40102"
	CodeTokenInvalid               = "40103"
	CodeTokenExpired               = "40104"
	CodeNotTokenOwner              = "40105"
	CodeAccountNotFound            = "40106"
	CodeAccountNotVerified         = "40107"
	CodeNotFound                   = "40401"

	CodeAPIKeyEmpty                = "49101"
	CodeAPIKeyInvalid              = "49102"
	CodeAPIKeyNotFound             = "49103"
	CodeAPIKeyPlatformInvalid      = "49104"
	CodeAPIKeyAppIdentifierInvalid = "49105"
	CodeAPIKeyExpired              = "49106"
	CodeAPIKeyDisabled             = "49107"

	CodeAPIKeyValidationFailed = "50001"

	CodeOther = "99999"
)

// StatusAPIKeyInvalid is the HTTP status used for API-Key failures.
const StatusAPIKeyInvalid = 491

// Envelope is the body of every response
type Envelope struct {
	Status int    `json:"status"`
	ReqID  string `json:"reqID"`
	Error  Error  `json:"error"`
	Data   any    `json:"data"`
}

// Error is the error part of the envelope; an empty Code means success.
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Field   string `json:"field"`
}

type empty struct{}

func write(w http.ResponseWriter, r *http.Request, status int, e Error, data any) {
	if data == nil {
		data = empty{}
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(Envelope{
		Status: status,
		ReqID:  chimw.GetReqID(r.Context()),
		Error:  e,
		Data:   data,
	})
}

// JSON writes a 200 response carrying data.
func JSON(w http.ResponseWriter, r *http.Request, data any) {
	write(w, r, http.StatusOK, Error{}, data)
}

// Fail writes an error response.
func Fail(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	write(w, r, status, Error{Code: code, Message: message}, nil)
}

// FailField writes an error response pointing at a request field.
func FailField(w http.ResponseWriter, r *http.Request, status int, code, message, field string) {
	write(w, r, status, Error{Code: code, Message: message, Field: field}, nil)
}

// InternalError writes the generic 500 response.
func InternalError(w http.ResponseWriter, r *http.Request) {
	Fail(w, r, http.StatusInternalServerError, CodeOther, "An internal error occurred, please try again later")
}
