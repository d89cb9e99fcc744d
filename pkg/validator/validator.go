// ==============================================================================
// VALIDATOR PACKAGE - pkg/validator/validator.go
// ==============================================================================
package validator

import (
	"fmt"
	"reflect"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

var (
	classicAddress = regexp.MustCompile(`^r[1-9A-HJ-NP-Za-km-z]{24,34}$`)
	isoCurrency    = regexp.MustCompile(`^[A-Za-z0-9?!@#$%^&*<>(){}\[\]|]{3}$`)
	hexCurrency    = regexp.MustCompile(`^[0-9A-Fa-f]{40}$`)
)

type Validator struct {
	validate *validator.Validate
}

func New() *Validator {
	v := &Validator{
		validate: validator.New(),
	}
	v.registerCustomValidations()
	return v
}

func (v *Validator) Validate(i interface{}) error {
	if err := v.validate.Struct(i); err != nil {
		// Format validation errors
		if validationErrors, ok := err.(validator.ValidationErrors); ok {
			var errMessages []string
			for _, e := range validationErrors {
				errMessages = append(errMessages, fmt.Sprintf(
					"Field '%s' failed validation '%s'",
					e.Field(),
					e.Tag(),
				))
			}
			return fmt.Errorf("validation failed: %v", errMessages)
		}
		return err
	}
	return nil
}

// ValidateStructured returns a map of field -> error message for frontend usage
func (v *Validator) ValidateStructured(i interface{}) map[string]string {
	errs := make(map[string]string)
	if err := v.validate.Struct(i); err != nil {
		if validationErrors, ok := err.(validator.ValidationErrors); ok {
			for _, e := range validationErrors {
				msg := fmt.Sprintf("failed validation on '%s'", e.Tag())
				switch e.Tag() {
				case "required":
					msg = "This field is required"
				case "oneof":
					msg = fmt.Sprintf("Must be one of: %s", e.Param())
				case "gt", "gte":
					msg = fmt.Sprintf("Must be greater than %s", e.Param())
				case "xrpl_address":
					msg = "Invalid classic XRPL address"
				case "currency_code":
					msg = "Invalid currency code (3 characters or 40 hex digits, not XRP)"
				}
				errs[e.Field()] = msg
			}
		} else {
			errs["_global"] = err.Error()
		}
	}
	if len(errs) == 0 {
		return nil
	}
	return errs
}

// IsClassicAddress reports whether s looks like an XRPL classic address.
func IsClassicAddress(s string) bool {
	return classicAddress.MatchString(s)
}

func (v *Validator) registerCustomValidations() {
	// Register decimal.Decimal to be validated as float64 for gt/lt checks
	v.validate.RegisterCustomTypeFunc(func(field reflect.Value) interface{} {
		if val, ok := field.Interface().(decimal.Decimal); ok {
			f, _ := val.Float64()
			return f
		}
		return nil
	}, decimal.Decimal{})

	_ = v.validate.RegisterValidation("xrpl_address", func(fl validator.FieldLevel) bool {
		return IsClassicAddress(strings.TrimSpace(fl.Field().String()))
	})

	_ = v.validate.RegisterValidation("currency_code", func(fl validator.FieldLevel) bool {
		code := strings.TrimSpace(fl.Field().String())
		if strings.EqualFold(code, "XRP") {
			return false
		}
		return isoCurrency.MatchString(code) || hexCurrency.MatchString(code)
	})
}
