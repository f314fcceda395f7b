package apiutil

import (
	stderrors "errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/Aidin1998/optigate/common/errors"
)

// Validator checks request structs and reports failures by JSON field name.
type Validator struct {
	validator *validator.Validate
}

func NewValidator() *Validator {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return &Validator{v}
}

// Validate returns nil or the failing fields.
func (v *Validator) Validate(i interface{}) []errors.ValidationError {
	err := v.validator.Struct(i)
	if err == nil {
		return nil
	}
	var fieldsError validator.ValidationErrors
	if !stderrors.As(err, &fieldsError) {
		return []errors.ValidationError{{Field: "", Message: err.Error(), Code: "invalid"}}
	}
	out := make([]errors.ValidationError, 0, len(fieldsError))
	for _, fe := range fieldsError {
		out = append(out, errors.ValidationError{
			Field:   fe.Field(),
			Message: fieldMessage(fe),
			Code:    fe.Tag(),
		})
	}
	return out
}

func fieldMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", fe.Field())
	case "max":
		return fmt.Sprintf("%s must be at most %s characters", fe.Field(), fe.Param())
	default:
		return fmt.Sprintf("%s failed the %q check", fe.Field(), fe.Tag())
	}
}
