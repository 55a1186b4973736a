package types

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

// DefaultMaxContentLength bounds message content, counted in runes.
const DefaultMaxContentLength = 2000

// validatorInstance caches struct metadata across calls.
var validatorInstance = validator.New()

// ValidateStruct checks the validate tags on v and folds any failure into
// ErrValidation.
func ValidateStruct(v interface{}) error {
	if err := validatorInstance.Struct(v); err != nil {
		return validationError(err)
	}
	return nil
}

// NormalizeContent trims surrounding whitespace and enforces 1..maxLen runes.
// A non-positive maxLen falls back to DefaultMaxContentLength.
func NormalizeContent(content string, maxLen int) (string, error) {
	if maxLen <= 0 {
		maxLen = DefaultMaxContentLength
	}
	trimmed := strings.TrimSpace(content)
	if err := validatorInstance.Var(trimmed, fmt.Sprintf("required,max=%d", maxLen)); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 && verrs[0].Tag() == "max" {
			return "", fmt.Errorf("%w: content exceeds %d characters", ErrValidation, maxLen)
		}
		return "", fmt.Errorf("%w: content is required", ErrValidation)
	}
	return trimmed, nil
}

// Validate checks chat id presence and normalizes content in place.
func (p *SendMessagePayload) Validate(maxLen int) error {
	if strings.TrimSpace(p.ChatID) == "" {
		return fmt.Errorf("%w: chatId is required", ErrValidation)
	}
	content, err := NormalizeContent(p.Content, maxLen)
	if err != nil {
		return err
	}
	p.Content = content
	return nil
}

func validationError(err error) error {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		return fmt.Errorf("%w: %s failed on %s", ErrValidation, lowerFirst(fe.Field()), fe.Tag())
	}
	return fmt.Errorf("%w: %v", ErrValidation, err)
}

func lowerFirst(s string) string {
	if s == "" {
		return s
	}
	return strings.ToLower(s[:1]) + s[1:]
}
