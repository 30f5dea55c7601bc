package validation

import (
	"errors"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
)

var emojiPattern = regexp.MustCompile(`^[a-z0-9_+\-]+$`)

// Validator wraps go-playground/validator with the chat-specific rules.
type Validator struct {
	cli *validator.Validate
}

// ValidationError represents an error encountered during validation of a struct field.
type ValidationError struct {
	Field string
	Tag   string
}

func (v *Validator) formatError(err error) []ValidationError {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return []ValidationError{{Field: "", Tag: err.Error()}}
	}
	out := make([]ValidationError, 0, len(verrs))
	for _, e := range verrs {
		out = append(out, ValidationError{Field: e.StructField(), Tag: e.Tag()})
	}
	return out
}

// ValidateStruct validates s and returns the failing fields.
func (v *Validator) ValidateStruct(s interface{}) []ValidationError {
	if err := v.cli.Struct(s); err != nil {
		return v.formatError(err)
	}
	return nil
}

// Validate checks value against tag.
func (v *Validator) Validate(value interface{}, tag string) []ValidationError {
	if err := v.cli.Var(value, tag); err != nil {
		return v.formatError(err)
	}
	return nil
}

// New returns a Validator with the chat_emoji rule registered.
func New() *Validator {
	cli := validator.New(validator.WithRequiredStructEnabled())
	_ = cli.RegisterValidation("chat_emoji", func(fl validator.FieldLevel) bool {
		return emojiPattern.MatchString(fl.Field().String())
	})
	return &Validator{cli: cli}
}

// Summary joins validation errors into one message.
func Summary(errs []ValidationError) string {
	parts := make([]string, 0, len(errs))
	for _, e := range errs {
		if e.Field == "" {
			parts = append(parts, e.Tag)
			continue
		}
		parts = append(parts, strings.ToLower(e.Field)+" failed "+e.Tag)
	}
	return strings.Join(parts, "; ")
}
