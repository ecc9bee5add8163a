// Package server provides the session, WebSocket and command handling
// behind the operator panel.
package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/oszuidwest/zwfm-camswitch/internal/types"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	// Report JSON names, the panel sends and displays those.
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name, _, _ := strings.Cut(fld.Tag.Get("json"), ",")
		if name == "-" || name == "" {
			return fld.Name
		}
		return name
	})
	return v
}

// DecodeAndValidate decodes cmd.Data into data and validates it. On
// failure the error result is sent and false is returned.
func DecodeAndValidate[T any](cmd WSCommand, send chan<- any, data *T) bool {
	if err := json.Unmarshal(cmd.Data, data); err != nil {
		SendError(send, cmd.Type, fmt.Errorf("invalid JSON: %w", err))
		return false
	}
	if err := validate.Struct(data); err != nil {
		SendError(send, cmd.Type, err)
		return false
	}
	return true
}

// HandleCommand decodes and validates a request, runs process on it and
// replies with the outcome.
func HandleCommand[T any](cmd WSCommand, send chan<- any, process func(*T) error) {
	var req T
	if !DecodeAndValidate(cmd, send, &req) {
		return
	}
	reply(send, cmd.Type, nil, process(&req))
}

// HandleActionAsync runs action on its own goroutine and replies with its
// result. A panic in action is reported as an internal error.
func HandleActionAsync(cmd WSCommand, send chan<- any, action func() (any, error)) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				slog.Error("panic in async handler", "command", cmd.Type, "panic", r)
				SendError(send, cmd.Type, errors.New("internal error"))
			}
		}()
		data, err := action()
		reply(send, cmd.Type, data, err)
	}()
}

// SendSuccess replies to a command with optional data.
func SendSuccess(send chan<- any, cmdType string, data any) {
	reply(send, cmdType, data, nil)
}

// SendError replies to a command with err. Validation failures are sent
// per field.
func SendError(send chan<- any, cmdType string, err error) {
	reply(send, cmdType, nil, err)
}

func reply(send chan<- any, cmdType string, data any, err error) {
	res := types.WSCommandResult{Type: cmdType + "_result", Success: err == nil}
	if err != nil {
		res.Error = errorPayload(err)
	} else {
		res.Data = data
	}
	trySend(send, cmdType, res)
}

func errorPayload(err error) any {
	var verr *types.ValidationError
	if errors.As(err, &verr) {
		return verr
	}
	var fieldErrs validator.ValidationErrors
	if errors.As(err, &fieldErrs) {
		return ValidationDetails(err)
	}
	return err.Error()
}

// ValidateStruct validates v with the shared request validator.
func ValidateStruct(v any) error {
	return validate.Struct(v)
}

// ValidationDetails converts a validator error into a ValidationError
// keyed by JSON field names.
func ValidationDetails(err error) *types.ValidationError {
	verr := types.NewValidationError()
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		verr.Add("", err.Error(), nil)
		return verr
	}
	for _, e := range fieldErrs {
		verr.Add(e.Field(), validationMessage(e), e.Value())
	}
	return verr
}

// trySend queues msg without blocking; a full queue drops it.
func trySend(send chan<- any, cmdType string, msg any) {
	select {
	case send <- msg:
	default:
		slog.Warn("dropped command reply, client queue full", "type", cmdType)
	}
}

var validationMessages = map[string]string{
	"required": "is required",
	"min":      "must be at least %s",
	"max":      "must be at most %s",
	"gte":      "must be greater than or equal to %s",
	"lte":      "must be less than or equal to %s",
	"url":      "must be a valid URL",
	"email":    "must be a valid email address",
	"oneof":    "must be one of: %s",
	"hostname": "must be a valid hostname",
	"ipv4":     "must be an IPv4 address",
}

func validationMessage(e validator.FieldError) string {
	format, ok := validationMessages[e.Tag()]
	if !ok {
		return fmt.Sprintf("failed validation '%s'", e.Tag())
	}
	if strings.Contains(format, "%s") {
		return fmt.Sprintf(format, e.Param())
	}
	return format
}
