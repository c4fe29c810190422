package apperrors

import (
	"errors"
	"strings"

	"github.com/go-playground/validator/v10"
)

// FromValidator converts the first failed validator rule into a
// ValidationError naming the offending field.
func FromValidator(err error) *AppError {
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
		fe := fieldErrs[0]
		reason := fe.Tag()
		switch fe.Tag() {
		case "required":
			reason = "is required"
		case "oneof":
			reason = "must be one of: " + fe.Param()
		}
		return NewValidationError(toSnake(fe.Field()), reason)
	}
	return Wrap(err, ErrCodeValidation, "invalid input")
}

func toSnake(s string) string {
	var b strings.Builder
	for i, r := range s {
		if isUpper(r) {
			prevLower := i > 0 && !isUpper(rune(s[i-1]))
			nextLower := i > 0 && i+1 < len(s) && !isUpper(rune(s[i+1]))
			if prevLower || nextLower {
				b.WriteByte('_')
			}
			r += 'a' - 'A'
		}
		b.WriteRune(r)
	}
	return b.String()
}

func isUpper(r rune) bool { return r >= 'A' && r <= 'Z' }
