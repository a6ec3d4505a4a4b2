package parking

import (
	"errors"
	"fmt"
	"strings"
	"time"

	berr "github.com/next-trace/scg-parking-bus/contract/errors"

	"github.com/go-playground/validator/v10"
)

// StartRequest is the body of a parking-start request. Only the space id may be set;
// every other field belongs to the system and must be absent.
type StartRequest struct {
	ID              *int64     `json:"id,omitempty"`
	SpaceID         int64      `json:"parkingSpaceId" validate:"required,gt=0"`
	StartTime       *time.Time `json:"startTime,omitempty"`
	EndTime         *time.Time `json:"endTime,omitempty"`
	DurationSeconds *int64     `json:"durationSeconds,omitempty"`
	Billing         *Billing   `json:"billing,omitempty"`
}

type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (v ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", v.Field, v.Message)
}

type ValidationErrors []ValidationError

func (v ValidationErrors) Error() string {
	if len(v) == 0 {
		return ""
	}

	messages := make([]string, 0, len(v))
	for _, err := range v {
		messages = append(messages, err.Error())
	}

	return fmt.Sprintf("validation failed: %d error(s): [%s]", len(v), strings.Join(messages, "; "))
}

// Unwrap lets errors.Is(err, ErrMalformedRequest) match every validation failure.
func (v ValidationErrors) Unwrap() error { return berr.ErrMalformedRequest }

const absentTag = "absent"

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterStructValidation(startRequestLevel, StartRequest{})

	return v
}

func startRequestLevel(sl validator.StructLevel) {
	r, _ := sl.Current().Interface().(StartRequest)

	if r.ID != nil {
		sl.ReportError(r.ID, "ID", "ID", absentTag, "")
	}

	if r.StartTime != nil {
		sl.ReportError(r.StartTime, "StartTime", "StartTime", absentTag, "")
	}

	if r.EndTime != nil {
		sl.ReportError(r.EndTime, "EndTime", "EndTime", absentTag, "")
	}

	if r.DurationSeconds != nil {
		sl.ReportError(r.DurationSeconds, "DurationSeconds", "DurationSeconds", absentTag, "")
	}

	if r.Billing != nil {
		sl.ReportError(r.Billing, "Billing", "Billing", absentTag, "")
	}
}

// Validate rejects start requests that carry system-owned fields or no space id.
func (r StartRequest) Validate() error { return check(r) }

// Validate rejects queries with an unknown type or status.
func (q SpaceQuery) Validate() error { return check(q) }

func check(v any) error {
	if err := validate.Struct(v); err != nil {
		var validationErrs validator.ValidationErrors
		if errors.As(err, &validationErrs) {
			return translateValidationErrors(validationErrs)
		}

		return errors.Join(berr.ErrMalformedRequest, err)
	}

	return nil
}

func translateValidationErrors(errs validator.ValidationErrors) ValidationErrors {
	validationErrors := make(ValidationErrors, 0, len(errs))

	for _, err := range errs {
		message := err.Error()

		switch err.Tag() {
		case "required":
			message = fmt.Sprintf("%s is required", err.Field())
		case "gt":
			message = fmt.Sprintf("%s must be greater than %s", err.Field(), err.Param())
		case "oneof":
			message = fmt.Sprintf("%s must be one of [%s]", err.Field(), err.Param())
		case absentTag:
			message = fmt.Sprintf("%s is set by the system and must be absent", err.Field())
		}

		validationErrors = append(validationErrors, ValidationError{
			Field:   err.Field(),
			Message: message,
		})
	}

	return validationErrors
}
