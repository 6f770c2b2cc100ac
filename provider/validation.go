package provider

import (
	"fmt"
	"regexp"
	"strings"
)

var environments = []string{"sandbox", "test", "production"}

// ValidateConfigFields checks a tenant config map against a provider's field
// definitions. Only fields marked Required are validated; optional fields may
// be absent or carry any value.
func ValidateConfigFields(providerName string, config map[string]string, requiredFields []ConfigField) error {
	for _, field := range requiredFields {
		if !field.Required {
			continue
		}

		value, exists := config[field.Key]
		if !exists {
			return fmt.Errorf("%s: required field '%s' is missing", providerName, field.Key)
		}
		if strings.TrimSpace(value) == "" {
			return fmt.Errorf("%s: required field '%s' cannot be empty", providerName, field.Key)
		}

		if field.Type == "boolean" && value != "true" && value != "false" {
			return fmt.Errorf("%s: field '%s' must be 'true' or 'false'", providerName, field.Key)
		}

		if err := checkPattern(providerName, field, value); err != nil {
			return err
		}

		if field.MinLength > 0 && len(value) < field.MinLength {
			return fmt.Errorf("%s: field '%s' must be at least %d characters", providerName, field.Key, field.MinLength)
		}
		if field.MaxLength > 0 && len(value) > field.MaxLength {
			return fmt.Errorf("%s: field '%s' must not exceed %d characters", providerName, field.Key, field.MaxLength)
		}
	}

	return nil
}

func checkPattern(providerName string, field ConfigField, value string) error {
	if field.Pattern == "" {
		return nil
	}

	// The environment field gets a fixed value set rather than a free pattern.
	if field.Key == "environment" {
		for _, env := range environments {
			if value == env {
				return nil
			}
		}
		return fmt.Errorf("%s: environment must be one of: %s", providerName, strings.Join(environments, ", "))
	}

	matched, err := regexp.MatchString(field.Pattern, value)
	if err != nil {
		return fmt.Errorf("%s: invalid pattern for field '%s': %v", providerName, field.Key, err)
	}
	if !matched {
		return fmt.Errorf("%s: field '%s' does not match required pattern", providerName, field.Key)
	}

	return nil
}
