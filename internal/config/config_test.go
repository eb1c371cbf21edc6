package config

import (
	"log/slog"
	"testing"
	"time"
)

func TestLoadDefaultsForDevProfile(t *testing.T) {
	lookup := mapLookup(map[string]string{})
	cfg, err := Load("chat-analytics-api", lookup)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Profile != ProfileDev {
		t.Fatalf("Profile = %q, want %q", cfg.Profile, ProfileDev)
	}
	if cfg.HTTP.Address != ":8080" {
		t.Fatalf("HTTP.Address = %q", cfg.HTTP.Address)
	}
	if cfg.Observability.LogLevel != slog.LevelDebug {
		t.Fatalf("LogLevel = %v", cfg.Observability.LogLevel)
	}
	if cfg.Auth.Required {
		t.Fatal("Auth.Required should default to false in dev")
	}
	if cfg.Database.Dialect != "postgres" {
		t.Fatalf("Database.Dialect = %q", cfg.Database.Dialect)
	}
	if cfg.Database.Schema != "public" {
		t.Fatalf("Database.Schema = %q", cfg.Database.Schema)
	}
	if cfg.Database.MaxOpenConns != 20 {
		t.Fatalf("Database.MaxOpenConns = %d", cfg.Database.MaxOpenConns)
	}
	if cfg.LLM.Model != "gpt-5" {
		t.Fatalf("LLM.Model = %q", cfg.LLM.Model)
	}
	if cfg.LLM.MaxTokens != 4096 {
		t.Fatalf("LLM.MaxTokens = %d", cfg.LLM.MaxTokens)
	}
	if !cfg.NL2SQL.DetectorUseLLM {
		t.Fatal("NL2SQL.DetectorUseLLM should default to true in dev")
	}
	if cfg.NL2SQL.ConfidenceThreshold != 0.6 {
		t.Fatalf("NL2SQL.ConfidenceThreshold = %f", cfg.NL2SQL.ConfidenceThreshold)
	}
	if cfg.NL2SQL.SampleValuesPerCol != 5 {
		t.Fatalf("NL2SQL.SampleValuesPerCol = %d", cfg.NL2SQL.SampleValuesPerCol)
	}
	if cfg.NL2SQL.HistoryLimit != 10 {
		t.Fatalf("NL2SQL.HistoryLimit = %d", cfg.NL2SQL.HistoryLimit)
	}
	if cfg.NL2SQL.IncludeInternalTables {
		t.Fatal("NL2SQL.IncludeInternalTables should default to false")
	}
}

func TestLoadProdProfileDefaults(t *testing.T) {
	lookup := mapLookup(map[string]string{"CHATAPI_PROFILE": "prod"})
	cfg, err := Load("chat-analytics-api", lookup)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Profile != ProfileProd {
		t.Fatalf("Profile = %q, want %q", cfg.Profile, ProfileProd)
	}
	if !cfg.Auth.Required {
		t.Fatal("Auth.Required should default to true in prod")
	}
	if cfg.Observability.LogLevel != slog.LevelInfo {
		t.Fatalf("LogLevel = %v", cfg.Observability.LogLevel)
	}
}

func TestLoadTestProfileDisablesLLMDetection(t *testing.T) {
	lookup := mapLookup(map[string]string{"CHATAPI_PROFILE": "test"})
	cfg, err := Load("chat-analytics-api", lookup)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.NL2SQL.DetectorUseLLM {
		t.Fatal("NL2SQL.DetectorUseLLM should default to false in test")
	}
	if cfg.HTTP.Address != ":18080" {
		t.Fatalf("HTTP.Address = %q", cfg.HTTP.Address)
	}
}

func TestLoadWithEnvOverrides(t *testing.T) {
	lookup := mapLookup(map[string]string{
		"CHATAPI_PROFILE":                        "test",
		"CHATAPI_SERVICE_NAME":                   "chatapi-custom",
		"CHATAPI_HTTP_ADDR":                      ":9999",
		"CHATAPI_HTTP_READ_TIMEOUT":              "2s",
		"CHATAPI_HTTP_WRITE_TIMEOUT":             "3s",
		"CHATAPI_LOG_LEVEL":                      "error",
		"CHATAPI_AUTH_REQUIRED":                  "true",
		"CHATAPI_AUTH_STATIC_KEYS":               "k1:u1:viewer",
		"CHATAPI_DB_DSN":                         "postgres://example",
		"CHATAPI_DB_SCHEMA":                      "analytics",
		"CHATAPI_DB_MAX_OPEN_CONNS":              "42",
		"CHATAPI_DB_MAX_IDLE_CONNS":              "17",
		"CHATAPI_LLM_BASE_URL":                   "https://api.example.com",
		"CHATAPI_LLM_API_KEY":                    "secret-key",
		"CHATAPI_LLM_MODEL":                      "gpt-5.2",
		"CHATAPI_LLM_TEMPERATURE":                "0.3",
		"CHATAPI_LLM_MAX_TOKENS":                 "2048",
		"CHATAPI_LLM_TIMEOUT":                    "21s",
		"CHATAPI_NL2SQL_DETECTOR_USE_LLM":        "true",
		"CHATAPI_NL2SQL_CONFIDENCE_THRESHOLD":    "0.7",
		"CHATAPI_NL2SQL_SAMPLE_VALUES_PER_COL":   "3",
		"CHATAPI_NL2SQL_INCLUDE_INTERNAL_TABLES": "true",
		"CHATAPI_NL2SQL_HISTORY_LIMIT":           "25",
	})
	cfg, err := Load("chat-analytics-api", lookup)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Service.Name != "chatapi-custom" {
		t.Fatalf("Service.Name = %q", cfg.Service.Name)
	}
	if cfg.HTTP.Address != ":9999" {
		t.Fatalf("HTTP.Address = %q", cfg.HTTP.Address)
	}
	if cfg.HTTP.ReadTimeout != 2*time.Second {
		t.Fatalf("HTTP.ReadTimeout = %s", cfg.HTTP.ReadTimeout)
	}
	if cfg.HTTP.WriteTimeout != 3*time.Second {
		t.Fatalf("HTTP.WriteTimeout = %s", cfg.HTTP.WriteTimeout)
	}
	if cfg.Observability.LogLevel != slog.LevelError {
		t.Fatalf("LogLevel = %v", cfg.Observability.LogLevel)
	}
	if !cfg.Auth.Required {
		t.Fatal("Auth.Required = false, want true")
	}
	if cfg.Auth.StaticKeys != "k1:u1:viewer" {
		t.Fatalf("StaticKeys = %q", cfg.Auth.StaticKeys)
	}
	if cfg.Database.DSN != "postgres://example" {
		t.Fatalf("Database.DSN = %q", cfg.Database.DSN)
	}
	if cfg.Database.Schema != "analytics" {
		t.Fatalf("Database.Schema = %q", cfg.Database.Schema)
	}
	if cfg.Database.MaxOpenConns != 42 {
		t.Fatalf("Database.MaxOpenConns = %d", cfg.Database.MaxOpenConns)
	}
	if cfg.Database.MaxIdleConns != 17 {
		t.Fatalf("Database.MaxIdleConns = %d", cfg.Database.MaxIdleConns)
	}
	if cfg.LLM.BaseURL != "https://api.example.com" {
		t.Fatalf("LLM.BaseURL = %q", cfg.LLM.BaseURL)
	}
	if cfg.LLM.APIKey != "secret-key" {
		t.Fatalf("LLM.APIKey = %q", cfg.LLM.APIKey)
	}
	if cfg.LLM.Model != "gpt-5.2" {
		t.Fatalf("LLM.Model = %q", cfg.LLM.Model)
	}
	if cfg.LLM.Temperature != 0.3 {
		t.Fatalf("LLM.Temperature = %f", cfg.LLM.Temperature)
	}
	if cfg.LLM.MaxTokens != 2048 {
		t.Fatalf("LLM.MaxTokens = %d", cfg.LLM.MaxTokens)
	}
	if cfg.LLM.Timeout != 21*time.Second {
		t.Fatalf("LLM.Timeout = %s", cfg.LLM.Timeout)
	}
	if !cfg.NL2SQL.DetectorUseLLM {
		t.Fatal("NL2SQL.DetectorUseLLM = false, want true")
	}
	if cfg.NL2SQL.ConfidenceThreshold != 0.7 {
		t.Fatalf("NL2SQL.ConfidenceThreshold = %f", cfg.NL2SQL.ConfidenceThreshold)
	}
	if cfg.NL2SQL.SampleValuesPerCol != 3 {
		t.Fatalf("NL2SQL.SampleValuesPerCol = %d", cfg.NL2SQL.SampleValuesPerCol)
	}
	if !cfg.NL2SQL.IncludeInternalTables {
		t.Fatal("NL2SQL.IncludeInternalTables = false, want true")
	}
	if cfg.NL2SQL.HistoryLimit != 25 {
		t.Fatalf("NL2SQL.HistoryLimit = %d", cfg.NL2SQL.HistoryLimit)
	}
}

func TestLoadErrorsOnInvalidValues(t *testing.T) {
	tests := []map[string]string{
		{"CHATAPI_PROFILE": "oops"},
		{"CHATAPI_HTTP_READ_TIMEOUT": "NaN"},
		{"CHATAPI_DB_MAX_OPEN_CONNS": "oops"},
		{"CHATAPI_DB_DIALECT": "mongodb"},
		{"CHATAPI_LLM_TEMPERATURE": "bad"},
		{"CHATAPI_NL2SQL_CONFIDENCE_THRESHOLD": "1.5"},
		{"CHATAPI_AUTH_REQUIRED": "not-bool"},
		{"CHATAPI_LOG_LEVEL": "verbose"},
	}
	for _, env := range tests {
		_, err := Load("chat-analytics-api", mapLookup(env))
		if err == nil {
			t.Fatalf("Load() expected error for env %#v", env)
		}
	}
}

func mapLookup(values map[string]string) LookupFunc {
	return func(key string) (string, bool) {
		value, ok := values[key]
		return value, ok
	}
}
