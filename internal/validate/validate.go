// Package validate checks typed request schemas in a single pass and reports
// every violation at once.
package validate

import (
	"errors"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"reelforge/internal/app/model"
	"reelforge/internal/apperr"
)

type Validator struct {
	v *validator.Validate
}

func New() *Validator {
	v := validator.New(validator.WithRequiredStructEnabled())

	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		if name == "" {
			return f.Name
		}
		return name
	})

	_ = v.RegisterValidation("platform", func(fl validator.FieldLevel) bool {
		return model.Platform(fl.Field().String()).Valid()
	})
	_ = v.RegisterValidation("jobkind", func(fl validator.FieldLevel) bool {
		return model.JobKind(fl.Field().String()).Valid()
	})

	return &Validator{v: v}
}

// RegisterStructRule adds cross-field rules for the given request types.
func (v *Validator) RegisterStructRule(fn validator.StructLevelFunc, types ...any) {
	v.v.RegisterStructValidation(fn, types...)
}

// Struct validates s and returns an *apperr.Error of kind validation listing
// every failed rule, or nil.
func (v *Validator) Struct(s any) error {
	err := v.v.Struct(s)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return apperr.Validation("invalid request: " + err.Error())
	}

	violations := make([]apperr.Violation, 0, len(verrs))
	for _, fe := range verrs {
		rule := fe.Tag()
		if fe.Param() != "" {
			rule += "=" + fe.Param()
		}
		violations = append(violations, apperr.Violation{Field: fieldPath(fe.Namespace()), Rule: rule})
	}
	return apperr.Validation("invalid request", violations...)
}

// fieldPath drops the root struct name from a validator namespace.
func fieldPath(ns string) string {
	if i := strings.IndexByte(ns, '.'); i >= 0 {
		return ns[i+1:]
	}
	return ns
}
