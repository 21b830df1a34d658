package server

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

const (
	maxNameLength  = 20
	maxEmojiRunes  = 8
	joinCodeLength = 6
)

var validatorOnce sync.Once

func registerValidators() {
	validatorOnce.Do(func() {
		engine, ok := binding.Validator.Engine().(*validator.Validate)
		if !ok {
			return
		}
		_ = engine.RegisterValidation("name", func(fl validator.FieldLevel) bool {
			_, err := validateName(fl.Field().String())
			return err == nil
		})
		_ = engine.RegisterValidation("emoji", func(fl validator.FieldLevel) bool {
			return utf8.RuneCountInString(strings.TrimSpace(fl.Field().String())) <= maxEmojiRunes
		})
		_ = engine.RegisterValidation("joincode", func(fl validator.FieldLevel) bool {
			return validJoinCode(fl.Field().String())
		})
	})
}

func validateName(name string) (string, error) {
	return validateText("name", name, maxNameLength)
}

// validSessionID accepts the UUIDs clients generate for themselves.
func validSessionID(id string) bool {
	_, err := uuid.Parse(strings.TrimSpace(id))
	return err == nil
}

func validJoinCode(code string) bool {
	code = strings.ToUpper(strings.TrimSpace(code))
	if len(code) != joinCodeLength {
		return false
	}
	for _, r := range code {
		if (r < 'A' || r > 'Z') && (r < '0' || r > '9') {
			return false
		}
	}
	return true
}

func validateText(label, text string, maxLen int) (string, error) {
	trimmed := normalizeText(text)
	if trimmed == "" {
		return "", fmt.Errorf("%s is required", label)
	}
	if len(trimmed) > maxLen {
		return "", fmt.Errorf("%s must be %d characters or fewer", label, maxLen)
	}
	if !isSafeText(trimmed) {
		return "", errors.New(label + " contains unsupported characters")
	}
	return trimmed, nil
}

func normalizeText(text string) string {
	fields := strings.Fields(strings.TrimSpace(text))
	return strings.Join(fields, " ")
}

func isSafeText(text string) bool {
	for _, r := range text {
		if r > 127 {
			return false
		}
		if r >= 'a' && r <= 'z' {
			continue
		}
		if r >= 'A' && r <= 'Z' {
			continue
		}
		if r >= '0' && r <= '9' {
			continue
		}
		switch r {
		case ' ', '-', '_', '\'', '.', '!', '?', '&':
			continue
		default:
			return false
		}
	}
	return true
}
