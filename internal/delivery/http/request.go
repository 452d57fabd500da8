package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strings"

	"medichat/pkg/apperror"

	"github.com/go-playground/validator/v10"
)

const maxBodyBytes = 1 << 20

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

type createDirectChatRequest struct {
	UserId string `json:"userId" validate:"required"`
}

type createGroupRequest struct {
	Title          string   `json:"title" validate:"required,max=120"`
	ParticipantIds []string `json:"participantIds" validate:"dive,required"`
}

type sendMessageRequest struct {
	Text string `json:"text" validate:"required"`
}

type renameGroupRequest struct {
	Title string `json:"title" validate:"required,max=120"`
}

type addMemberRequest struct {
	UserId string `json:"userId" validate:"required"`
}

type resolveJoinRequest struct {
	Approve *bool `json:"approve" validate:"required"`
}

type notificationsRequest struct {
	Enabled *bool `json:"enabled" validate:"required"`
}

// decode reads a JSON body into dst and validates it. Errors are
// VALIDATION apperrors.
func decode(r *http.Request, dst any) error {
	body := http.MaxBytesReader(nil, r.Body, maxBodyBytes)
	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return apperror.Validation("invalid request body")
	}
	if err := validate.Struct(dst); err != nil {
		var vErrs validator.ValidationErrors
		if errors.As(err, &vErrs) {
			first := vErrs[0]
			return apperror.Validation(fmt.Sprintf("field %s failed rule %s", first.Field(), first.Tag()))
		}
		return apperror.Validation(err.Error())
	}
	return nil
}
