// Package config handles configuration loading, validation, and environment
// variable merging for agentgraph.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// structValidator runs go-playground/validator "validate" struct-tag checks,
// layered on top of the required/min/max tag pass above.
var structValidator = validator.New()

// ValidationError reports a struct-tag validation failure on a single
// field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config: validation failed for %q: %s", e.Field, e.Message)
}

// Load reads a JSON file into a T, applies struct-tag defaults to
// zero-valued fields the file leaves out, validates the result, and
// returns it.
func Load[T any](path string) (T, error) {
	var cfg T

	ext := strings.ToLower(filepath.Ext(path))
	if ext != ".json" {
		return cfg, fmt.Errorf("config: unsupported extension %q (only.json)", ext)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := json.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("config: parse %s: %w", path, err)
	}

	// Top-level fields present in the file keep their value, even a zero
	// one; nested structs always receive their defaults.
	var present map[string]json.RawMessage
	_ = json.Unmarshal(data, &present)
	absent := make(map[string]bool)
	if t := reflect.TypeOf(cfg); t != nil && t.Kind() == reflect.Struct {
		for i := 0; i < t.NumField(); i++ {
			f := t.Field(i)
			if _, ok := present[jsonFieldName(f)]; !ok || f.Type.Kind() == reflect.Struct {
				absent[f.Name] = true
			}
		}
	}
	applyDefaultsSelective(&cfg, absent)

	if err := Validate(&cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// LoadFromEnv populates a T entirely from environment variables: each
// exported field maps to PREFIX_FIELDNAME (uppercase, underscore-split on
// word boundaries), defaults are applied first, then Validate runs.
func LoadFromEnv[T any](prefix string) (T, error) {
	var cfg T
	applyDefaults(&cfg)
	if err := MergeEnv(&cfg, prefix); err != nil {
		return cfg, err
	}
	if err := Validate(&cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// MergeEnv overlays environment variable values onto an existing *T,
// overriding only fields whose PREFIX_FIELDNAME variable is set. cfg must
// be a non-nil pointer to a struct.
func MergeEnv(cfg any, prefix string) error {
	v := reflect.ValueOf(cfg)
	if v.Kind() != reflect.Pointer || v.IsNil() {
		return fmt.Errorf("config: MergeEnv requires a non-nil pointer")
	}
	return mergeEnvStruct(v.Elem(), prefix)
}

func mergeEnvStruct(v reflect.Value, prefix string) error {
	if v.Kind() != reflect.Struct {
		return nil
	}
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		if !field.IsExported() {
			continue
		}
		fv := v.Field(i)
		envName := prefix + "_" + toEnvName(field.Name)

		if fv.Kind() == reflect.Struct && fv.Type() != reflect.TypeOf(time.Duration(0)) {
			if err := mergeEnvStruct(fv, envName); err != nil {
				return err
			}
			continue
		}

		raw, ok := os.LookupEnv(envName)
		if !ok {
			continue
		}
		if err := setFieldFromString(fv, raw); err != nil {
			return fmt.Errorf("config: env %s: %w", envName, err)
		}
	}
	return nil
}

// applyDefaults sets the "default" struct tag's value on every zero-valued
// field of cfg (a pointer to a struct).
func applyDefaults(cfg any) {
	applyDefaultsSelective(cfg, nil)
}

// applyDefaultsSelective is applyDefaults restricted to the given field
// names at the top level; a nil set applies to every field.
func applyDefaultsSelective(cfg any, only map[string]bool) {
	v := reflect.ValueOf(cfg)
	if v.Kind() != reflect.Pointer || v.IsNil() {
		return
	}
	v = v.Elem()
	if v.Kind() != reflect.Struct {
		return
	}
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		if !field.IsExported() {
			continue
		}
		if only != nil && !only[field.Name] {
			continue
		}
		fv := v.Field(i)
		if fv.Kind() == reflect.Struct && fv.Type() != reflect.TypeOf(time.Duration(0)) {
			applyDefaults(fv.Addr().Interface())
			continue
		}
		def, ok := field.Tag.Lookup("default")
		if !ok || !fv.IsZero() {
			continue
		}
		_ = setFieldFromString(fv, def)
	}
}

func setFieldFromString(fv reflect.Value, raw string) error {
	if fv.Type() == reflect.TypeOf(time.Duration(0)) {
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return err
		}
		fv.SetInt(n)
		return nil
	}
	switch fv.Kind() {
	case reflect.String:
		fv.SetString(raw)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return err
		}
		fv.SetInt(n)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		n, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			return err
		}
		fv.SetUint(n)
	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return err
		}
		fv.SetFloat(f)
	case reflect.Bool:
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return err
		}
		fv.SetBool(b)
	default:
		return fmt.Errorf("unsupported field kind %s", fv.Kind())
	}
	return nil
}

// Validate checks cfg (a pointer to a struct) against its "required",
// "min", and "max" struct tags.
func Validate(cfg any) error {
	v := reflect.ValueOf(cfg)
	if v.Kind() != reflect.Pointer || v.IsNil() {
		return fmt.Errorf("config: Validate requires a non-nil pointer")
	}
	v = v.Elem()
	if v.Kind() != reflect.Struct {
		return fmt.Errorf("config: Validate requires a pointer to struct")
	}
	if err := validateRequired(v.Addr().Interface(), nil); err != nil {
		return err
	}
	if err := validateBounds(v); err != nil {
		return err
	}
	if err := structValidator.Struct(v.Addr().Interface()); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
			fe := fieldErrs[0]
			return &ValidationError{Field: fe.Namespace(), Message: fmt.Sprintf("failed on the %q tag", fe.Tag())}
		}
		return fmt.Errorf("config: struct validation: %w", err)
	}
	return nil
}

func validateRequired(cfg any, _ map[string]bool) error {
	v := reflect.ValueOf(cfg)
	if v.Kind() == reflect.Pointer {
		if v.IsNil() {
			return nil
		}
		v = v.Elem()
	}
	if v.Kind() != reflect.Struct {
		return nil
	}
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		if !field.IsExported() {
			continue
		}
		fv := v.Field(i)
		if fv.Kind() == reflect.Struct && fv.Type() != reflect.TypeOf(time.Duration(0)) {
			if err := validateRequired(fv.Addr().Interface(), nil); err != nil {
				return err
			}
			continue
		}
		if req, _ := strconv.ParseBool(field.Tag.Get("required")); req && fv.IsZero() {
			return &ValidationError{Field: jsonFieldName(field), Message: "required field is missing"}
		}
	}
	return nil
}

func validateBounds(v reflect.Value) error {
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		if !field.IsExported() {
			continue
		}
		fv := v.Field(i)
		if fv.Kind() == reflect.Struct && fv.Type() != reflect.TypeOf(time.Duration(0)) {
			if err := validateBounds(fv); err != nil {
				return err
			}
			continue
		}

		name := jsonFieldName(field)
		if minTag, ok := field.Tag.Lookup("min"); ok {
			minVal, err := strconv.ParseFloat(minTag, 64)
			if err != nil {
				return &ValidationError{Field: name, Message: fmt.Sprintf("invalid min tag: %v", err)}
			}
			if numericValue(fv) < minVal {
				return &ValidationError{Field: name, Message: fmt.Sprintf("value %v is less than minimum %v", numericValue(fv), minVal)}
			}
		}
		if maxTag, ok := field.Tag.Lookup("max"); ok {
			maxVal, err := strconv.ParseFloat(maxTag, 64)
			if err != nil {
				return &ValidationError{Field: name, Message: fmt.Sprintf("invalid max tag: %v", err)}
			}
			if numericValue(fv) > maxVal {
				return &ValidationError{Field: name, Message: fmt.Sprintf("value %v is greater than maximum %v", numericValue(fv), maxVal)}
			}
		}
	}
	return nil
}

func numericValue(fv reflect.Value) float64 {
	switch fv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return float64(fv.Int())
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return float64(fv.Uint())
	case reflect.Float32, reflect.Float64:
		return fv.Float()
	default:
		return 0
	}
}

func jsonFieldName(field reflect.StructField) string {
	if tag, ok := field.Tag.Lookup("json"); ok {
		name := strings.Split(tag, ",")[0]
		if name != "" {
			return name
		}
	}
	return field.Name
}

// toEnvName converts a Go field name (e.g. "BaseURL") to its upper-snake
// environment variable suffix (e.g. "BASE_URL"), keeping acronym runs
// together.
func toEnvName(name string) string {
	var b strings.Builder
	runes := []rune(name)
	for i, r := range runes {
		if unicode.IsUpper(r) && i > 0 {
			prevLower := unicode.IsLower(runes[i-1])
			nextLower := i+1 < len(runes) && unicode.IsLower(runes[i+1])
			if prevLower || (nextLower && unicode.IsUpper(runes[i-1])) {
				b.WriteByte('_')
			}
		}
		b.WriteRune(unicode.ToUpper(r))
	}
	return b.String()
}

// Config is agentgraph's top-level configuration.
type Config struct {
	Home                string          `json:"home" mapstructure:"home" default:"./.agentgraph" validate:"required"`
	GraphBackend        string          `json:"graph_backend" mapstructure:"graph_backend" default:"sqlitegraph" required:"true" validate:"required,oneof=sqlitegraph neo4j"`
	VectorBackend       string          `json:"vector_backend" mapstructure:"vector_backend" default:"sqlitevec" required:"true" validate:"required,oneof=sqlitevec pgvector"`
	EmbeddingModel      string          `json:"embedding_model" mapstructure:"embedding_model"`
	EmbeddingDimensions int             `json:"embedding_dimensions" mapstructure:"embedding_dimensions" default:"1536" min:"1" validate:"min=1"`
	Namespace           string          `json:"namespace" mapstructure:"namespace"`
	Reranker            string          `json:"reranker" mapstructure:"reranker" default:"rrf"`
	Mode                string          `json:"mode" mapstructure:"mode" default:"global" validate:"omitempty,oneof=global project"`
	DefaultRetrieval    RetrievalConfig `json:"default_retrieval" mapstructure:"default_retrieval"`
	Neo4j               Neo4jConfig     `json:"neo4j" mapstructure:"neo4j"`
	Postgres            PostgresConfig  `json:"postgres" mapstructure:"postgres"`
}

// Neo4jConfig configures the alternate neo4j GraphStore backend. Only read
// when Config.GraphBackend == "neo4j".
type Neo4jConfig struct {
	URI      string `json:"uri" mapstructure:"uri" default:"neo4j://localhost:7687"`
	Username string `json:"username" mapstructure:"username"`
	Password string `json:"password" mapstructure:"password"`
	Database string `json:"database" mapstructure:"database" default:"neo4j"`
}

// PostgresConfig configures the alternate pgvector VectorStore backend.
// Only read when Config.VectorBackend == "pgvector".
type PostgresConfig struct {
	DSN       string `json:"dsn" mapstructure:"dsn"`
	TableName string `json:"table_name" mapstructure:"table_name" default:"agentgraph_vectors"`
}

// RetrievalConfig parameterizes the four retrieval-engine calls.
type RetrievalConfig struct {
	Limit                 int     `json:"limit" mapstructure:"limit" default:"10" min:"1" max:"100" validate:"min=1,max=100"`
	IncludeContext        bool    `json:"include_context" mapstructure:"include_context"`
	VectorWeight          float64 `json:"vector_weight" mapstructure:"vector_weight" default:"0.5" min:"0.0" max:"1.0" validate:"min=0,max=1"`
	ExpandToolUses        bool    `json:"expand_tool_uses" mapstructure:"expand_tool_uses"`
	ExpandResources       bool    `json:"expand_resources" mapstructure:"expand_resources"`
	SortBy                string  `json:"sort_by" mapstructure:"sort_by" default:"created_at" validate:"omitempty,oneof=created_at last_accessed_at"`
	SortOrder             string  `json:"sort_order" mapstructure:"sort_order" default:"desc" validate:"omitempty,oneof=asc desc"`
	ExcludeConversationID string  `json:"exclude_conversation_id" mapstructure:"exclude_conversation_id"`
	UniqueConversations   bool    `json:"unique_conversations" mapstructure:"unique_conversations"`
	TrajectoryMaxDepth    int     `json:"trajectory_max_depth" mapstructure:"trajectory_max_depth" default:"100" min:"1" max:"500" validate:"min=1,max=500"`
}

// LoadViper reads Config from a "config" file (yaml/json/toml, whichever
// Viper finds first) across configPaths, then the current directory and
// $HOME/.agentgraph, with AGENTGRAPH_-prefixed environment overrides, then
// validates the result.
func LoadViper(configPaths ...string) (Config, error) {
	var cfg Config

	v := viper.New()
	v.SetDefault("home", "./.agentgraph")
	v.SetDefault("graph_backend", "sqlitegraph")
	v.SetDefault("vector_backend", "sqlitevec")
	v.SetDefault("embedding_dimensions", 1536)
	v.SetDefault("reranker", "rrf")
	v.SetDefault("mode", "global")
	v.SetDefault("default_retrieval.limit", 10)
	v.SetDefault("default_retrieval.vector_weight", 0.5)
	v.SetDefault("default_retrieval.sort_by", "created_at")
	v.SetDefault("default_retrieval.sort_order", "desc")
	v.SetDefault("default_retrieval.trajectory_max_depth", 100)
	v.SetDefault("neo4j.uri", "neo4j://localhost:7687")
	v.SetDefault("neo4j.database", "neo4j")
	v.SetDefault("postgres.table_name", "agentgraph_vectors")

	v.SetConfigName("config")
	for _, path := range configPaths {
		v.AddConfigPath(path)
	}
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.agentgraph")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return cfg, fmt.Errorf("config: read config file: %w", err)
		}
	}

	v.SetEnvPrefix("AGENTGRAPH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, fmt.Errorf("config: decode config: %w", err)
	}

	if err := Validate(&cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}
