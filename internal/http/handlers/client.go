package handlers

import (
	"net/http"
	"time"

	"github.com/basego/server/internal/account"
	"github.com/basego/server/internal/auth"
	"github.com/basego/server/internal/http/response"
)

// ClientHandler serves the /v1/client endpoints, which need an API key but no
// signed-in account.
type ClientHandler struct {
	accounts *account.Service
	now      func() time.Time
}

// NewClientHandler creates a new client handler
func NewClientHandler(accounts *account.Service) *ClientHandler {
	return &ClientHandler{accounts: accounts, now: time.Now}
}

type timestamp struct {
	Seconds      int64 `json:"seconds"`
	Milliseconds int64 `json:"milliseconds"`
	Nanoseconds  int64 `json:"nanoseconds"`
}

// ServerTime handles POST /v1/client/server_time
func (h *ClientHandler) ServerTime(w http.ResponseWriter, r *http.Request) {
	now := h.now()
	response.JSON(w, r, map[string]timestamp{
		"timestamp": {Seconds: now.Unix(), Milliseconds: now.UnixMilli(), Nanoseconds: now.UnixNano()},
	})
}

type challengeResponse struct {
	Success    bool   `json:"success"`
	Message    string `json:"message"`
	OTPID      int64  `json:"otpID,omitempty"`
	OTPKey     string `json:"otpKey,omitempty"`
	CodeLength int    `json:"codeLength,omitempty"`
}

func newChallengeResponse(res account.ChallengeResult) challengeResponse {
	return challengeResponse{
		Success:    res.Success,
		Message:    res.Message,
		OTPID:      res.Challenge.ID,
		OTPKey:     res.Challenge.Key,
		CodeLength: res.Challenge.CodeLength,
	}
}

type resultResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

type registerRequest struct {
	FullName      string `json:"fullName" validate:"required,max=100"`
	Email         string `json:"email" validate:"required,email,max=100"`
	Password      string `json:"password" validate:"required,password"`
	IsTOSAccepted bool   `json:"isTOSAccepted"`
}

// Register handles POST /v1/client/register
func (h *ClientHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if !decode(w, r, &req, messages{
		"fullName.required": "Full name is required",
		"email.required":    "Email address is required",
		"password.required": "Password is required",
	}) {
		return
	}

	res, err := h.accounts.Register(r.Context(), account.RegisterInput{
		FullName:      req.FullName,
		Email:         req.Email,
		Password:      req.Password,
		IsTOSAccepted: req.IsTOSAccepted,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	response.JSON(w, r, newChallengeResponse(res))
}

type otpRequest struct {
	Email   string `json:"email" validate:"required,email"`
	OTPID   int64  `json:"otpID" validate:"required"`
	OTPKey  string `json:"otpKey" validate:"required"`
	OTPCode string `json:"otpCode" validate:"required"`
}

func (req otpRequest) answer() auth.Answer {
	return auth.Answer{ID: req.OTPID, Key: req.OTPKey, Code: req.OTPCode}
}

// SubmitVerification handles POST /v1/client/account_verification/submit
func (h *ClientHandler) SubmitVerification(w http.ResponseWriter, r *http.Request) {
	var req otpRequest
	if !decode(w, r, &req, messages{
		"email.required":   "Email address is required",
		"otpID.required":   "Verification ID is required",
		"otpKey.required":  "Verification key is required",
		"otpCode.required": "Verification code is required",
	}) {
		return
	}

	res, err := h.accounts.SubmitVerification(r.Context(), req.Email, req.answer())
	if err != nil {
		writeError(w, r, err)
		return
	}
	response.JSON(w, r, resultResponse(res))
}

type emailRequest struct {
	Email string `json:"email" validate:"required,email"`
}

var emailMessages = messages{"email.required": "Email address is required"}

// ResendVerification handles POST /v1/client/account_verification/resend_email
func (h *ClientHandler) ResendVerification(w http.ResponseWriter, r *http.Request) {
	var req emailRequest
	if !decode(w, r, &req, emailMessages) {
		return
	}

	res, err := h.accounts.ResendVerification(r.Context(), req.Email)
	if err != nil {
		writeError(w, r, err)
		return
	}
	response.JSON(w, r, newChallengeResponse(res))
}

// RequestPasswordReset handles POST /v1/client/reset_password/request_token
func (h *ClientHandler) RequestPasswordReset(w http.ResponseWriter, r *http.Request) {
	var req emailRequest
	if !decode(w, r, &req, emailMessages) {
		return
	}

	res, err := h.accounts.RequestPasswordReset(r.Context(), req.Email)
	if err != nil {
		writeError(w, r, err)
		return
	}
	response.JSON(w, r, newChallengeResponse(res))
}

var resetMessages = messages{
	"email.required":   "Email address is required",
	"otpID.required":   "Token is required",
	"otpKey.required":  "Token is required",
	"otpCode.required": "Token is required",
}

// VerifyPasswordReset handles POST /v1/client/reset_password/verify_token
func (h *ClientHandler) VerifyPasswordReset(w http.ResponseWriter, r *http.Request) {
	var req otpRequest
	if !decode(w, r, &req, resetMessages) {
		return
	}

	res, err := h.accounts.VerifyPasswordReset(r.Context(), req.Email, req.answer())
	if err != nil {
		writeError(w, r, err)
		return
	}
	response.JSON(w, r, struct {
		IsValid bool   `json:"isValid"`
		Message string `json:"message"`
	}{res.Success, res.Message})
}

type setPasswordRequest struct {
	otpRequest
	Password string `json:"password" validate:"required,password"`
}

// SetPassword handles POST /v1/client/reset_password/set_password
func (h *ClientHandler) SetPassword(w http.ResponseWriter, r *http.Request) {
	var req setPasswordRequest
	msgs := messages{"password.required": "Password is required"}
	for k, v := range resetMessages {
		msgs[k] = v
	}
	if !decode(w, r, &req, msgs) {
		return
	}

	res, err := h.accounts.SetPassword(r.Context(), req.Email, req.answer(), req.Password)
	if err != nil {
		writeError(w, r, err)
		return
	}
	response.JSON(w, r, resultResponse(res))
}
