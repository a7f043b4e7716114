package config

import "fmt"

// ConfigurationError reports an invalid open-time configuration: an
// unknown backend name, an unknown reranker key, or an invalid embedding
// dimension.
type ConfigurationError struct {
	Field   string
	Message string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Field, e.Message)
}

// NewConfigurationError builds a ConfigurationError.
func NewConfigurationError(field, message string) *ConfigurationError {
	return &ConfigurationError{Field: field, Message: message}
}
