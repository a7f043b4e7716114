// Package config provides configuration loading, validation, and
// environment variable merging for agentgraph.
//
// Configuration is loaded from JSON files, environment variables, or both,
// with struct-tag-based defaults and validation.
//
// # Loading Configuration
//
// [Load] reads a JSON file and unmarshals it into a typed struct. Defaults
// from struct tags are applied to zero-valued fields the file leaves out
// (a value given explicitly, even a zero one, is kept), and the result is
// validated:
//
//	type AppConfig struct {
//	    Port    int    `json:"port" default:"8080" min:"1" max:"65535"`
//	    Host    string `json:"host" default:"localhost" required:"true"`
//	    Debug   bool   `json:"debug" default:"false"`
//	}
//
//	cfg, err := config.Load[AppConfig]("config.json")
//	if err != nil {
//	    log.Fatal(err)
//	}
//
// # Environment Variables
//
// [LoadFromEnv] populates a config struct entirely from environment
// variables. Each exported field maps to PREFIX_FIELDNAME (uppercase):
//
//	cfg, err := config.LoadFromEnv[AppConfig]("APP")
//	// reads APP_PORT, APP_HOST, APP_DEBUG
//
// [MergeEnv] overlays environment variable values onto an existing config,
// only overriding fields with corresponding set variables:
//
//	config.MergeEnv(&cfg, "APP")
//
// # Validation
//
// [Validate] checks a struct against its field tags:
//
//   - required:"true" — field must not be zero-valued
//   - min:"N" — numeric fields must be >= N
//   - max:"N" — numeric fields must be <= N
//
// Validation errors are returned as [*ValidationError] with the field name
// and descriptive message.
package config
