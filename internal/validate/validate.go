// Package validate checks profiles and locations handed to the emergency
// flow.
package validate

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"

	"prativedak/internal/model"
)

var (
	phoneChars  = regexp.MustCompile(`^\+?[0-9 ()\-]+$`)
	phoneDigits = regexp.MustCompile(`\D`)
)

type ValidationService struct {
	validator *validator.Validate
}

type ValidationError struct {
	Field   string `json:"field"`
	Tag     string `json:"tag"`
	Value   string `json:"value"`
	Message string `json:"message"`
}

func (e ValidationError) Error() string {
	return e.Field + ": " + e.Message
}

// Errors joins a list of failures into a single error, nil when empty.
type Errors []ValidationError

func (e Errors) Error() string {
	parts := make([]string, len(e))
	for i, ve := range e {
		parts[i] = ve.Error()
	}
	return strings.Join(parts, "; ")
}

func (e Errors) Err() error {
	if len(e) == 0 {
		return nil
	}
	return e
}

func NewValidationService() *ValidationService {
	v := validator.New()
	_ = v.RegisterValidation("phone", validatePhone)
	return &ValidationService{validator: v}
}

func (vs *ValidationService) ValidateStruct(s interface{}) Errors {
	var out Errors
	err := vs.validator.Struct(s)
	if err == nil {
		return nil
	}
	fieldErrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return Errors{{Field: "", Tag: "invalid", Message: err.Error()}}
	}
	for _, fe := range fieldErrs {
		out = append(out, ValidationError{
			Field:   fe.Namespace(),
			Tag:     fe.Tag(),
			Value:   fmt.Sprintf("%v", fe.Value()),
			Message: errorMessage(fe),
		})
	}
	return out
}

// User checks a profile before a sequence is started for it. A profile
// without contacts is valid: dispatch then calls the emergency number.
func (vs *ValidationService) User(u *model.User) Errors {
	if u == nil {
		return Errors{{Field: "User", Tag: "required", Message: "User is required"}}
	}
	return vs.ValidateStruct(u)
}

// Location accepts nil, which stands for an unavailable fix.
func (vs *ValidationService) Location(loc *model.Location) Errors {
	if loc == nil {
		return nil
	}
	return vs.ValidateStruct(loc)
}

func errorMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", fe.Field())
	case "phone":
		return "Invalid phone number format"
	case "gte":
		return fmt.Sprintf("%s must be greater than or equal to %s", fe.Field(), fe.Param())
	case "latitude":
		return "Latitude must be between -90 and 90"
	case "longitude":
		return "Longitude must be between -180 and 180"
	default:
		return fmt.Sprintf("%s is invalid", fe.Field())
	}
}

// validatePhone accepts local numbers and short emergency codes as well as
// E.164.
func validatePhone(fl validator.FieldLevel) bool {
	phone := strings.TrimSpace(fl.Field().String())
	if !phoneChars.MatchString(phone) {
		return false
	}
	digits := phoneDigits.ReplaceAllString(phone, "")
	return len(digits) >= 3 && len(digits) <= 15
}
