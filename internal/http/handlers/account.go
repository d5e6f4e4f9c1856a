package handlers

import (
	"net/http"

	"github.com/basego/server/internal/account"
	"github.com/basego/server/internal/http/response"
	"github.com/basego/server/internal/middleware"
	"github.com/basego/server/internal/model"
)

type imageURL struct {
	Thumbnail string `json:"thumbnail"`
	Fullsize  string `json:"fullsize"`
}

// accountResponse is the account object in API responses. Times are in
// milliseconds since the epoch, 0 when unset.
type accountResponse struct {
	ID                    int64    `json:"id"`
	FullName              string   `json:"fullName"`
	Email                 string   `json:"email"`
	IsEmailVerified       bool     `json:"isEmailVerified"`
	CountryID             int64    `json:"countryID"`
	CountryCallingCode    string   `json:"countryCallingCode"`
	Phone                 string   `json:"phone"`
	PhoneWithCode         string   `json:"phoneWithCode"`
	IsPhoneVerified       bool     `json:"isPhoneVerified"`
	ImageURL              imageURL `json:"imageURL"`
	LastLoginTime         int64    `json:"lastLoginTime"`
	LastActivityTime      int64    `json:"lastActivityTime"`
	RequireChangePassword bool     `json:"requireChangePassword"`
	CreatedTime           int64    `json:"createdTime"`
	UpdatedTime           int64    `json:"updatedTime"`
	DeletedTime           int64    `json:"deletedTime"`
}

func newAccountResponse(a model.Account) accountResponse {
	res := accountResponse{
		ID:                    a.ID,
		FullName:              a.FullName,
		Email:                 a.Email,
		IsEmailVerified:       a.IsEmailVerified,
		CountryID:             a.CountryID,
		CountryCallingCode:    a.CountryCallingCode,
		Phone:                 a.Phone,
		PhoneWithCode:         a.PhoneWithCode(),
		IsPhoneVerified:       a.IsPhoneVerified,
		ImageURL:              imageURL{Thumbnail: a.ImageThumbnail, Fullsize: a.ImageFullsize},
		RequireChangePassword: a.RequireChangePassword,
		CreatedTime:           a.CreatedAt.UnixMilli(),
		UpdatedTime:           a.UpdatedAt.UnixMilli(),
	}
	if a.LastLoginAt != nil {
		res.LastLoginTime = a.LastLoginAt.UnixMilli()
	}
	if a.LastActivityAt != nil {
		res.LastActivityTime = a.LastActivityAt.UnixMilli()
	}
	if a.DeletedAt != nil {
		res.DeletedTime = a.DeletedAt.UnixMilli()
	}
	return res
}

// AccountHandler serves the /v1/account endpoints. Every route runs behind
// middleware.Authenticate.
type AccountHandler struct {
	accounts *account.Service
	sessions SessionManager
}

// NewAccountHandler creates a new account handler
func NewAccountHandler(accounts *account.Service, sessions SessionManager) *AccountHandler {
	return &AccountHandler{accounts: accounts, sessions: sessions}
}

func currentAccount(w http.ResponseWriter, r *http.Request) (model.Account, bool) {
	a, ok := middleware.GetAccount(r.Context())
	if !ok {
		response.InternalError(w, r)
	}
	return a, ok
}

// Profile handles POST /v1/account/profile/get
func (h *AccountHandler) Profile(w http.ResponseWriter, r *http.Request) {
	a, ok := currentAccount(w, r)
	if !ok {
		return
	}
	p, err := h.accounts.Profile(r.Context(), a)
	if err != nil {
		writeError(w, r, err)
		return
	}

	type tos struct {
		IsAccepted   bool  `json:"isAccepted"`
		AcceptedTime int64 `json:"acceptedTime"`
	}
	var t tos
	if p.TOS != nil {
		t = tos{IsAccepted: true, AcceptedTime: p.TOS.AcceptedAt.UnixMilli()}
	}
	response.JSON(w, r, struct {
		Account accountResponse `json:"account"`
		TOS     tos             `json:"tos"`
	}{newAccountResponse(p.Account), t})
}

type acceptTOSRequest struct {
	CreatedTime int64 `json:"createdTime"`
}

// AcceptTOS handles POST /v1/account/profile/accept_tos
func (h *AccountHandler) AcceptTOS(w http.ResponseWriter, r *http.Request) {
	a, ok := currentAccount(w, r)
	if !ok {
		return
	}
	var req acceptTOSRequest
	if !decode(w, r, &req, nil) {
		return
	}

	res, err := h.accounts.AcceptTOS(r.Context(), a, req.CreatedTime)
	if err != nil {
		writeError(w, r, err)
		return
	}
	response.JSON(w, r, resultResponse(res))
}

type changePasswordRequest struct {
	Password    string `json:"password" validate:"required"`
	NewPassword string `json:"newPassword" validate:"required,password"`
}

// ChangePassword handles POST /v1/account/security/change_password
func (h *AccountHandler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	a, ok := currentAccount(w, r)
	if !ok {
		return
	}
	var req changePasswordRequest
	if !decode(w, r, &req, messages{
		"password.required":    "Current password is required",
		"newPassword.required": "New password is required",
	}) {
		return
	}

	res, err := h.accounts.ChangePassword(r.Context(), a, req.Password, req.NewPassword)
	if err != nil {
		writeError(w, r, err)
		return
	}
	response.JSON(w, r, resultResponse(res))
}

// Logout handles POST /v1/account/logout
func (h *AccountHandler) Logout(w http.ResponseWriter, r *http.Request) {
	session, ok := middleware.GetSession(r.Context())
	if !ok {
		response.InternalError(w, r)
		return
	}
	if err := h.sessions.Logout(r.Context(), session.ID); err != nil {
		middleware.WriteAuthError(w, r, err)
		return
	}
	response.JSON(w, r, resultResponse{Success: true, Message: "You have logged out"})
}

type countryResponse struct {
	ID           int64  `json:"id"`
	CommonName   string `json:"commonName"`
	OfficialName string `json:"officialName"`
	ISO2Code     string `json:"iso2Code"`
	ISO3Code     string `json:"iso3Code"`
	CallingCode  string `json:"callingCode"`
	CurrencyCode string `json:"currencyCode"`
	IsEnabled    bool   `json:"isEnabled"`
	IsHidden     bool   `json:"isHidden"`
}

// Countries handles POST /v1/account/countries
func (h *AccountHandler) Countries(w http.ResponseWriter, r *http.Request) {
	countries, err := h.accounts.Countries(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	list := make([]countryResponse, 0, len(countries))
	for _, c := range countries {
		list = append(list, countryResponse(c))
	}
	response.JSON(w, r, map[string][]countryResponse{"countries": list})
}

type timeZoneResponse struct {
	Name      string `json:"name"`
	Abbrev    string `json:"abbrev"`
	UTCOffset string `json:"utcOffset"`
	IsDST     bool   `json:"isDST"`
}

// TimeZones handles POST /v1/account/time_zones
func (h *AccountHandler) TimeZones(w http.ResponseWriter, r *http.Request) {
	zones, err := h.accounts.TimeZones(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	list := make([]timeZoneResponse, 0, len(zones))
	for _, z := range zones {
		list = append(list, timeZoneResponse(z))
	}
	response.JSON(w, r, map[string][]timeZoneResponse{"timeZones": list})
}
