package chat

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

// MaxMessageBytes bounds a single inbound chat message.
const MaxMessageBytes = 32 * 1024

var requestValidate *validator.Validate

func init() {
	requestValidate = validator.New()
	_ = requestValidate.RegisterValidation("maxbytes", func(fl validator.FieldLevel) bool {
		return len(fl.Field().String()) <= MaxMessageBytes
	})
	_ = requestValidate.RegisterValidation("notblank", func(fl validator.FieldLevel) bool {
		return strings.TrimSpace(fl.Field().String()) != ""
	})
	requestValidate.RegisterTagNameFunc(func(field reflect.StructField) string {
		return jsonName(field.Tag.Get("json"))
	})
}

// TurnRequest is one inbound chat turn from the embedded widget.
type TurnRequest struct {
	SessionID           string   `json:"sessionId" validate:"required,notblank,max=256"`
	ClientUserID        string   `json:"clientUserId,omitempty" validate:"max=256"`
	Message             *string  `json:"message" validate:"required,maxbytes"`
	PromptOverride      *string  `json:"promptOverride,omitempty" validate:"omitempty,maxbytes"`
	ModelOverride       *string  `json:"modelOverride,omitempty" validate:"omitempty,max=128"`
	TemperatureOverride *float64 `json:"temperatureOverride,omitempty" validate:"omitempty,gte=0,lte=2"`
	Username            *string  `json:"username,omitempty" validate:"omitempty,max=256"`
}

// Text returns the trimmed message text. It may be empty.
func (r TurnRequest) Text() string {
	if r.Message == nil {
		return ""
	}
	return strings.TrimSpace(*r.Message)
}

// FieldError describes one schema violation.
type FieldError struct {
	Field   string `json:"field"`
	Tag     string `json:"tag"`
	Message string `json:"message"`
}

// DecodeError reports a body that is not a JSON object (or a JSON string
// holding one).
type DecodeError struct {
	Err error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("invalid JSON in request body: %v", e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// ValidationError reports a well-formed body that does not match the schema.
type ValidationError struct {
	Fields []FieldError
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, f.Field+": "+f.Message)
	}
	return "request validation failed: " + strings.Join(parts, "; ")
}

// ParseTurnRequest decodes and validates a raw request body. The widget may
// send the object either natively or as a JSON-encoded string, so a string
// payload is unwrapped once before decoding.
func ParseTurnRequest(raw []byte) (TurnRequest, error) {
	body := bytes.TrimSpace(raw)
	if len(body) > 0 && body[0] == '"' {
		var inner string
		if err := json.Unmarshal(body, &inner); err != nil {
			return TurnRequest{}, &DecodeError{Err: err}
		}
		body = bytes.TrimSpace([]byte(inner))
	}
	if len(body) == 0 || body[0] != '{' {
		return TurnRequest{}, &DecodeError{Err: errors.New("expected a JSON object")}
	}

	var req TurnRequest
	if err := json.Unmarshal(body, &req); err != nil {
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) {
			return TurnRequest{}, &ValidationError{Fields: []FieldError{{
				Field:   typeErr.Field,
				Tag:     "type",
				Message: fmt.Sprintf("expected %s, got %s", typeErr.Type.String(), typeErr.Value),
			}}}
		}
		return TurnRequest{}, &DecodeError{Err: err}
	}

	if err := req.Validate(); err != nil {
		return TurnRequest{}, err
	}
	return req, nil
}

// Validate checks the request against its schema tags.
func (r TurnRequest) Validate() error {
	err := requestValidate.Struct(r)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return &ValidationError{Fields: []FieldError{{Field: "", Tag: "invalid", Message: err.Error()}}}
	}

	fields := make([]FieldError, 0, len(verrs))
	for _, fe := range verrs {
		fields = append(fields, FieldError{
			Field:   fe.Field(),
			Tag:     fe.Tag(),
			Message: describeTag(fe),
		})
	}
	return &ValidationError{Fields: fields}
}

func describeTag(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "field required"
	case "notblank":
		return "must not be blank"
	case "maxbytes":
		return fmt.Sprintf("must be at most %d bytes", MaxMessageBytes)
	case "max":
		return "must be at most " + fe.Param() + " characters"
	case "gte":
		return "must be greater than or equal to " + fe.Param()
	case "lte":
		return "must be less than or equal to " + fe.Param()
	default:
		return "failed " + fe.Tag() + " validation"
	}
}

func jsonName(tag string) string {
	name, _, _ := strings.Cut(tag, ",")
	if name == "-" {
		return ""
	}
	return name
}
