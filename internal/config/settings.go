package config

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	ferrors "github.com/randalmurphal/ragflow/pkg/ragflow/errors"
)

// Settings is the typed application configuration.
type Settings struct {
	App       AppSettings       `mapstructure:"app"`
	API       APISettings       `mapstructure:"api"`
	Store     StoreSettings     `mapstructure:"store"`
	Vector    VectorSettings    `mapstructure:"vector"`
	Qdrant    QdrantSettings    `mapstructure:"qdrant"`
	Postgres  PostgresSettings  `mapstructure:"postgres"`
	LLM       LLMSettings       `mapstructure:"llm"`
	Embedding EmbeddingSettings `mapstructure:"embedding"`
	MCP       MCPSettings       `mapstructure:"mcp"`
	Documents DocumentSettings  `mapstructure:"documents"`
	RAG       RAGSettings       `mapstructure:"rag"`
	Agent     AgentSettings     `mapstructure:"agent"`
	Redis     RedisSettings     `mapstructure:"redis"`

	// Source is the merged configuration the settings were decoded from.
	Source Config `mapstructure:"-"`
}

type AppSettings struct {
	Name      string `mapstructure:"name"`
	Version   string `mapstructure:"version"`
	Env       string `mapstructure:"env"`
	LogLevel  string `mapstructure:"log_level"`
	LogFormat string `mapstructure:"log_format"`
}

type APISettings struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	CORSOrigins     []string      `mapstructure:"cors_origins"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// Addr returns host:port for net/http.
func (a APISettings) Addr() string {
	return fmt.Sprintf("%s:%d", a.Host, a.Port)
}

// StoreSettings selects the query, document, and job record store.
type StoreSettings struct {
	// Driver is "sqlite" or "memory".
	Driver string `mapstructure:"driver"`

	// Path is the SQLite database file.
	Path string `mapstructure:"path"`
}

// VectorSettings selects the vector index backend.
type VectorSettings struct {
	// Backend is "qdrant", "postgres", or "memory".
	Backend string `mapstructure:"backend"`
}

type QdrantSettings struct {
	Host       string `mapstructure:"host"`
	Port       int    `mapstructure:"port"`
	APIKey     string `mapstructure:"api_key"`
	Collection string `mapstructure:"collection"`
	VectorSize int    `mapstructure:"vector_size"`
}

// URL returns the Qdrant REST endpoint.
func (q QdrantSettings) URL() string {
	return fmt.Sprintf("http://%s:%d", q.Host, q.Port)
}

type PostgresSettings struct {
	// URL is a lib/pq connection string; required for the postgres backend.
	URL   string `mapstructure:"url"`
	Table string `mapstructure:"table"`
}

type LLMSettings struct {
	// Provider is "ollama" or "openai".
	Provider      string        `mapstructure:"provider"`
	OpenAIAPIKey  string        `mapstructure:"openai_api_key"`
	OpenAIModel   string        `mapstructure:"openai_model"`
	OpenAIBaseURL string        `mapstructure:"openai_base_url"`
	OllamaBaseURL string        `mapstructure:"ollama_base_url"`
	OllamaModel   string        `mapstructure:"ollama_model"`
	Temperature   float64       `mapstructure:"temperature"`
	MaxTokens     int           `mapstructure:"max_tokens"`
	Timeout       time.Duration `mapstructure:"timeout"`
}

type EmbeddingSettings struct {
	// Provider is "openai" or "ollama".
	Provider  string `mapstructure:"provider"`
	Model     string `mapstructure:"model"`
	Dimension int    `mapstructure:"dimension"`
	BatchSize int    `mapstructure:"batch_size"`

	// LocalCacheSize bounds the in-process embedding LRU. Zero uses the default.
	LocalCacheSize int `mapstructure:"local_cache_size"`
}

type MCPSettings struct {
	Enabled bool `mapstructure:"enabled"`
}

type DocumentSettings struct {
	UploadDir        string   `mapstructure:"upload_dir"`
	MaxFileSize      int64    `mapstructure:"max_file_size"`
	SupportedFormats []string `mapstructure:"supported_formats"`
	ChunkSize        int      `mapstructure:"chunk_size"`
	ChunkOverlap     int      `mapstructure:"chunk_overlap"`
	IndexConcurrency int      `mapstructure:"index_concurrency"`
}

type RAGSettings struct {
	TopK           int     `mapstructure:"top_k"`
	ScoreThreshold float64 `mapstructure:"score_threshold"`
	MaxTokens      int     `mapstructure:"max_tokens"`
}

type AgentSettings struct {
	MaxIterations   int           `mapstructure:"max_iterations"`
	Timeout         time.Duration `mapstructure:"timeout"`
	DecisionPolicy  string        `mapstructure:"decision_policy"`
	MessageLogLimit int           `mapstructure:"message_log_limit"`
	Metrics         bool          `mapstructure:"metrics"`
	Tracing         bool          `mapstructure:"tracing"`
}

type RedisSettings struct {
	// URL is a redis:// URL; empty disables the shared embedding cache.
	URL string `mapstructure:"url"`

	// CacheTTL is in seconds.
	CacheTTL int `mapstructure:"cache_ttl"`
}

// Defaults returns the built-in configuration.
func Defaults() Config {
	return New(map[string]any{
		"app": map[string]any{
			"name":       "Enterprise RAG System",
			"version":    "0.1.0",
			"env":        "development",
			"log_level":  "INFO",
			"log_format": "text",
		},
		"api": map[string]any{
			"host":             "0.0.0.0",
			"port":             8000,
			"cors_origins":     []any{"http://localhost:3000", "http://localhost:8000"},
			"shutdown_timeout": "5s",
		},
		"store": map[string]any{
			"driver": "sqlite",
			"path":   "ragflow.db",
		},
		"vector": map[string]any{
			"backend": "qdrant",
		},
		"qdrant": map[string]any{
			"host":        "localhost",
			"port":        6333,
			"api_key":     "",
			"collection":  "rag_documents",
			"vector_size": 1536,
		},
		"postgres": map[string]any{
			"url":   "",
			"table": "rag_chunks",
		},
		"llm": map[string]any{
			"provider":        "ollama",
			"openai_api_key":  "",
			"openai_model":    "gpt-4-turbo-preview",
			"openai_base_url": "https://api.openai.com/v1",
			"ollama_base_url": "http://localhost:11434",
			"ollama_model":    "llama2",
			"temperature":     0.0,
			"max_tokens":      0,
			"timeout":         "2m",
		},
		"embedding": map[string]any{
			"provider":         "openai",
			"model":            "text-embedding-3-small",
			"dimension":        1536,
			"batch_size":       32,
			"local_cache_size": 2048,
		},
		"mcp": map[string]any{
			"enabled": true,
		},
		"documents": map[string]any{
			"upload_dir":        "uploads",
			"max_file_size":     52428800,
			"supported_formats": []any{"pdf", "txt", "md", "html"},
			"chunk_size":        1000,
			"chunk_overlap":     200,
			"index_concurrency": 4,
		},
		"rag": map[string]any{
			"top_k":           5,
			"score_threshold": 0.7,
			"max_tokens":      4000,
		},
		"agent": map[string]any{
			"max_iterations":    10,
			"timeout":           "300s",
			"decision_policy":   "lenient",
			"message_log_limit": 0,
			"metrics":           false,
			"tracing":           false,
		},
		"redis": map[string]any{
			"url":       "",
			"cache_ttl": 3600,
		},
	})
}

// EnvBindings maps environment variables to configuration keys.
var EnvBindings = map[string]string{
	"APP_NAME":                "app.name",
	"APP_VERSION":             "app.version",
	"APP_ENV":                 "app.env",
	"LOG_LEVEL":               "app.log_level",
	"LOG_FORMAT":              "app.log_format",
	"API_HOST":                "api.host",
	"API_PORT":                "api.port",
	"CORS_ORIGINS":            "api.cors_origins",
	"STORE_DRIVER":            "store.driver",
	"STORE_PATH":              "store.path",
	"VECTOR_BACKEND":          "vector.backend",
	"QDRANT_HOST":             "qdrant.host",
	"QDRANT_PORT":             "qdrant.port",
	"QDRANT_API_KEY":          "qdrant.api_key",
	"QDRANT_COLLECTION_NAME":  "qdrant.collection",
	"QDRANT_VECTOR_SIZE":      "qdrant.vector_size",
	"DATABASE_URL":            "postgres.url",
	"LLM_PROVIDER":            "llm.provider",
	"OPENAI_API_KEY":          "llm.openai_api_key",
	"OPENAI_MODEL":            "llm.openai_model",
	"OPENAI_BASE_URL":         "llm.openai_base_url",
	"OLLAMA_BASE_URL":         "llm.ollama_base_url",
	"OLLAMA_MODEL":            "llm.ollama_model",
	"EMBEDDING_PROVIDER":      "embedding.provider",
	"EMBEDDING_MODEL":         "embedding.model",
	"EMBEDDING_DIMENSION":     "embedding.dimension",
	"MCP_ENABLED":             "mcp.enabled",
	"UPLOAD_DIR":              "documents.upload_dir",
	"DOCLING_MAX_FILE_SIZE":   "documents.max_file_size",
	"DOCLING_CHUNK_SIZE":      "documents.chunk_size",
	"DOCLING_CHUNK_OVERLAP":   "documents.chunk_overlap",
	"RAG_TOP_K":               "rag.top_k",
	"RAG_SCORE_THRESHOLD":     "rag.score_threshold",
	"RAG_MAX_TOKENS":          "rag.max_tokens",
	"AGENT_MAX_ITERATIONS":    "agent.max_iterations",
	"AGENT_TIMEOUT":           "agent.timeout",
	"AGENT_DECISION_POLICY":   "agent.decision_policy",
	"AGENT_MESSAGE_LOG_LIMIT": "agent.message_log_limit",
	"REDIS_URL":               "redis.url",
	"CACHE_TTL":               "redis.cache_ttl",
}

// Load builds Settings from defaults, an optional file, and the environment,
// in increasing precedence, then validates the result.
func Load(path string) (*Settings, error) {
	return load(path, os.LookupEnv)
}

func load(path string, lookup func(string) (string, bool)) (*Settings, error) {
	cfg := Defaults()
	if path != "" {
		file, err := FromFile(path)
		if err != nil {
			return nil, err
		}
		cfg = cfg.Merge(file)
	}
	cfg = FromEnv(cfg, EnvBindings, lookup)

	s, err := Decode(cfg)
	if err != nil {
		return nil, err
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// Decode converts a merged Config into Settings. Strings from the
// environment are coerced to the field types; durations accept
// time.ParseDuration syntax or whole seconds.
func Decode(cfg Config) (*Settings, error) {
	var s Settings
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &s,
		TagName:          "mapstructure",
		WeaklyTypedInput: true,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			secondsToDurationHook,
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		),
	})
	if err != nil {
		return nil, fmt.Errorf("build config decoder: %w", err)
	}
	if err := dec.Decode(cfg.Raw()); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	s.Source = cfg
	return &s, nil
}

// secondsToDurationHook reads bare numbers as whole seconds.
func secondsToDurationHook(_ reflect.Type, to reflect.Type, data any) (any, error) {
	if to != reflect.TypeOf(time.Duration(0)) {
		return data, nil
	}
	switch v := data.(type) {
	case int:
		return time.Duration(v) * time.Second, nil
	case int64:
		return time.Duration(v) * time.Second, nil
	case float64:
		return time.Duration(v * float64(time.Second)), nil
	case string:
		if n, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
			return time.Duration(n * float64(time.Second)), nil
		}
	}
	return data, nil
}

// Validate checks value ranges and enumerations.
func (s *Settings) Validate() error {
	var problems []string
	check := func(ok bool, format string, args ...any) {
		if !ok {
			problems = append(problems, fmt.Sprintf(format, args...))
		}
	}

	check(s.API.Port > 0 && s.API.Port < 65536, "api.port must be 1-65535, got %d", s.API.Port)
	check(oneOf(s.Store.Driver, "sqlite", "memory"), "store.driver must be sqlite or memory, got %q", s.Store.Driver)
	check(oneOf(s.Vector.Backend, "qdrant", "postgres", "memory"), "vector.backend must be qdrant, postgres, or memory, got %q", s.Vector.Backend)
	check(s.Vector.Backend != "postgres" || s.Postgres.URL != "", "postgres.url is required for the postgres vector backend")
	check(oneOf(s.LLM.Provider, "ollama", "openai"), "llm.provider must be ollama or openai, got %q", s.LLM.Provider)
	check(oneOf(s.Embedding.Provider, "ollama", "openai"), "embedding.provider must be ollama or openai, got %q", s.Embedding.Provider)
	check(s.Embedding.Dimension > 0, "embedding.dimension must be positive")
	check(s.Qdrant.VectorSize > 0, "qdrant.vector_size must be positive")
	check(s.Documents.ChunkSize > 0, "documents.chunk_size must be positive")
	check(s.Documents.ChunkOverlap >= 0 && s.Documents.ChunkOverlap < s.Documents.ChunkSize,
		"documents.chunk_overlap must be in [0, chunk_size)")
	check(s.RAG.TopK >= 1 && s.RAG.TopK <= 20, "rag.top_k must be 1-20, got %d", s.RAG.TopK)
	check(s.RAG.ScoreThreshold >= 0 && s.RAG.ScoreThreshold <= 1, "rag.score_threshold must be 0-1, got %v", s.RAG.ScoreThreshold)
	check(s.Agent.MaxIterations > 0, "agent.max_iterations must be positive, got %d", s.Agent.MaxIterations)
	check(oneOf(strings.ToLower(s.Agent.DecisionPolicy), "structured", "strict", "lenient", "substring"),
		"agent.decision_policy must be structured or lenient, got %q", s.Agent.DecisionPolicy)

	if len(problems) > 0 {
		return &ferrors.ValidationError{Field: "config", Message: strings.Join(problems, "; ")}
	}
	return nil
}

func oneOf(v string, allowed ...string) bool {
	for _, a := range allowed {
		if v == a {
			return true
		}
	}
	return false
}
