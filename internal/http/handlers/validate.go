package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/basego/server/internal/account"
	"github.com/basego/server/internal/auth"
	"github.com/basego/server/internal/http/response"
	"github.com/basego/server/internal/middleware"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	_ = v.RegisterValidation("password", func(fl validator.FieldLevel) bool {
		return auth.ValidatePasswordFormat(fl.Field().String()) == nil
	})
	return v
}

// messages maps "field.tag" to the message returned when that rule fails.
type messages map[string]string

// decode reads the JSON body into dst and validates it. On failure it writes
// the 40002 response and returns false.
func decode(w http.ResponseWriter, r *http.Request, dst any, msgs messages) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		middleware.Log(r.Context()).Debug("request body decode failed", zap.Error(err))
		response.Fail(w, r, http.StatusBadRequest, response.CodeParamInvalid, "Request body format is invalid")
		return false
	}

	err := validate.Struct(dst)
	if err == nil {
		return true
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		middleware.Log(r.Context()).Error("validation failed", zap.Error(err))
		response.InternalError(w, r)
		return false
	}

	fe := verrs[0]
	response.FailField(w, r, http.StatusBadRequest, response.CodeParamInvalid, message(fe, msgs), fe.Field())
	return false
}

func message(fe validator.FieldError, msgs messages) string {
	if m, ok := msgs[fe.Field()+"."+fe.Tag()]; ok {
		return m
	}
	switch fe.Tag() {
	case "required":
		return fe.Field() + " is required"
	case "email":
		return "Email address format is invalid"
	case "password":
		if err := auth.ValidatePasswordFormat(fe.Value().(string)); err != nil {
			return err.Error()
		}
	case "max":
		return fe.Field() + " must be at most " + fe.Param() + " characters"
	}
	return fe.Field() + " is invalid"
}

// writeError maps service failures to the response envelope.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	var pe *account.ParamError
	switch {
	case errors.As(err, &pe):
		response.FailField(w, r, http.StatusBadRequest, response.CodeParamInvalid, pe.Message, pe.Field)
	case errors.Is(err, auth.ErrTooManyRequests):
		response.Fail(w, r, http.StatusTooManyRequests, response.CodeOther, "Too many requests, please try again later")
	default:
		middleware.Log(r.Context()).Error("request failed", zap.Error(err))
		response.InternalError(w, r)
	}
}
