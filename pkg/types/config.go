package types

import "time"

// HTTPConfig holds shared HTTP settings used by adapters that make network requests.
type HTTPConfig struct {
	// Timeout is the HTTP request timeout.
	Timeout time.Duration `json:"timeout" yaml:"timeout" mapstructure:"timeout"`

	// UserAgent is the User-Agent header sent with HTTP requests.
	UserAgent string `json:"user_agent" yaml:"user_agent" mapstructure:"user_agent"`

	// MaxRetries bounds retries on HTTP 429 (0 = default of 5).
	MaxRetries int `json:"max_retries" yaml:"max_retries" mapstructure:"max_retries"`
}

// ModelConfig holds settings for the OpenAI-compatible language model endpoint.
type ModelConfig struct {
	HTTPConfig `yaml:",inline" mapstructure:",squash"`

	// Endpoint is the API base URL (e.g. "http://localhost:8002/v1").
	Endpoint string `json:"endpoint" yaml:"endpoint" mapstructure:"endpoint"`

	// Model is the model identifier sent with each request.
	Model string `json:"model" yaml:"model" mapstructure:"model"`

	// APIKey is the bearer token for the endpoint, if any.
	APIKey string `json:"api_key,omitempty" yaml:"api_key,omitempty" mapstructure:"api_key"`

	// Temperature is the sampling temperature.
	Temperature float64 `json:"temperature" yaml:"temperature" mapstructure:"temperature"`
}

// LightRAGConfig points at the knowledge graph/document server.
type LightRAGConfig struct {
	HTTPConfig `yaml:",inline" mapstructure:",squash"`

	// BaseURL is the server root (e.g. "http://localhost:9621").
	BaseURL string `json:"base_url" yaml:"base_url" mapstructure:"base_url"`

	// APIKey is sent as the X-API-Key header when set.
	APIKey string `json:"api_key,omitempty" yaml:"api_key,omitempty" mapstructure:"api_key"`
}

// SearchConfig holds settings for the web and scholarly search operations.
type SearchConfig struct {
	HTTPConfig `yaml:",inline" mapstructure:",squash"`

	// GoogleAPIKey and GoogleCSEID enable the web_search operation.
	GoogleAPIKey string `json:"google_api_key,omitempty" yaml:"google_api_key,omitempty" mapstructure:"google_api_key"`
	GoogleCSEID  string `json:"google_cse_id,omitempty" yaml:"google_cse_id,omitempty" mapstructure:"google_cse_id"`

	// OpenAlexEmail is sent as the mailto parameter for polite pool access.
	OpenAlexEmail string `json:"openalex_email,omitempty" yaml:"openalex_email,omitempty" mapstructure:"openalex_email"`

	// MaxResults caps results per search call (default 10).
	MaxResults int `json:"max_results" yaml:"max_results" mapstructure:"max_results"`
}

// FetchConfig holds settings for the fetch operation.
type FetchConfig struct {
	HTTPConfig `yaml:",inline" mapstructure:",squash"`

	// MaxBytes truncates fetched text (default 20000).
	MaxBytes int `json:"max_bytes" yaml:"max_bytes" mapstructure:"max_bytes"`
}

// StoreBackend selects the report store implementation.
type StoreBackend string

const (
	BackendFile     StoreBackend = "file"
	BackendSQLite   StoreBackend = "sqlite"
	BackendPostgres StoreBackend = "postgres"
)

// StoreConfig holds report store settings.
type StoreConfig struct {
	// Backend is file, sqlite, or postgres.
	Backend StoreBackend `json:"backend" yaml:"backend" mapstructure:"backend"`

	// Dir holds the file backing's JSON documents and the sqlite database.
	Dir string `json:"dir" yaml:"dir" mapstructure:"dir"`

	// DSN is the Postgres connection string.
	DSN string `json:"dsn,omitempty" yaml:"dsn,omitempty" mapstructure:"dsn"`

	// MaxRetries bounds retries of one unit of persistence work (default 3).
	MaxRetries int `json:"max_retries" yaml:"max_retries" mapstructure:"max_retries"`
}

// StageConfig holds settings shared by every stage node.
type StageConfig struct {
	// MaxIterations is the tool-calling loop cap (default 50).
	MaxIterations int `json:"max_iterations" yaml:"max_iterations" mapstructure:"max_iterations"`

	// MaxModelRetries bounds retries of a failed model call (default 3).
	MaxModelRetries int `json:"max_model_retries" yaml:"max_model_retries" mapstructure:"max_model_retries"`

	// PromptDir optionally holds <stage>.txt instruction overrides.
	PromptDir string `json:"prompt_dir,omitempty" yaml:"prompt_dir,omitempty" mapstructure:"prompt_dir"`

	// ResearcherWorkers bounds concurrent gap loops (default 1, sequential).
	ResearcherWorkers int `json:"researcher_workers" yaml:"researcher_workers" mapstructure:"researcher_workers"`

	// IngestBatchSize splits curator ingestion into batches (0 = one loop).
	IngestBatchSize int `json:"ingest_batch_size" yaml:"ingest_batch_size" mapstructure:"ingest_batch_size"`

	// PollInterval and PollTimeout govern waiting on the ingestion pipeline.
	PollInterval time.Duration `json:"poll_interval" yaml:"poll_interval" mapstructure:"poll_interval"`
	PollTimeout  time.Duration `json:"poll_timeout" yaml:"poll_timeout" mapstructure:"poll_timeout"`
}

// PipelineConfig holds orchestrator policy.
type PipelineConfig struct {
	// HaltOnFailure stops the chain after a failed stage.
	HaltOnFailure bool `json:"halt_on_failure" yaml:"halt_on_failure" mapstructure:"halt_on_failure"`

	// Schedule is the cron expression used by the schedule command.
	Schedule string `json:"schedule" yaml:"schedule" mapstructure:"schedule"`
}

// ApprovalConfig governs the human-approval gate.
type ApprovalConfig struct {
	// NonInteractive denies every plan without prompting.
	NonInteractive bool `json:"non_interactive" yaml:"non_interactive" mapstructure:"non_interactive"`
}

// FilesConfig roots the filesystem read helpers.
type FilesConfig struct {
	Root string `json:"root" yaml:"root" mapstructure:"root"`
}

// LogConfig selects the logger level and encoding.
type LogConfig struct {
	Level  string `json:"level" yaml:"level" mapstructure:"level"`
	Format string `json:"format" yaml:"format" mapstructure:"format"`
}

// Config groups all settings for the pipeline.
type Config struct {
	Model    ModelConfig    `json:"model" yaml:"model" mapstructure:"model"`
	LightRAG LightRAGConfig `json:"lightrag" yaml:"lightrag" mapstructure:"lightrag"`
	Search   SearchConfig   `json:"search" yaml:"search" mapstructure:"search"`
	Fetch    FetchConfig    `json:"fetch" yaml:"fetch" mapstructure:"fetch"`
	Store    StoreConfig    `json:"store" yaml:"store" mapstructure:"store"`
	Stage    StageConfig    `json:"stage" yaml:"stage" mapstructure:"stage"`
	Pipeline PipelineConfig `json:"pipeline" yaml:"pipeline" mapstructure:"pipeline"`
	Approval ApprovalConfig `json:"approval" yaml:"approval" mapstructure:"approval"`
	Files    FilesConfig    `json:"files" yaml:"files" mapstructure:"files"`
	Log      LogConfig      `json:"log" yaml:"log" mapstructure:"log"`
}

// Defaults returns a Config with every default filled in.
func Defaults() Config {
	http := HTTPConfig{Timeout: 60 * time.Second, UserAgent: "knowledge-gardener/0.1"}
	return Config{
		Model: ModelConfig{
			HTTPConfig:  http,
			Endpoint:    "http://localhost:8002/v1",
			Model:       "openai/gpt-oss-20b",
			Temperature: 0.2,
		},
		LightRAG: LightRAGConfig{HTTPConfig: http, BaseURL: "http://localhost:9621"},
		Search:   SearchConfig{HTTPConfig: http, MaxResults: 10},
		Fetch:    FetchConfig{HTTPConfig: http, MaxBytes: 20000},
		Store:    StoreConfig{Backend: BackendFile, Dir: "state", MaxRetries: 3},
		Stage: StageConfig{
			MaxIterations:     50,
			MaxModelRetries:   3,
			ResearcherWorkers: 1,
			PollInterval:      5 * time.Second,
			PollTimeout:       10 * time.Minute,
		},
		Pipeline: PipelineConfig{Schedule: "0 3 * * *"},
		Files:    FilesConfig{Root: "filesystem"},
		Log:      LogConfig{Level: "info", Format: "console"},
	}
}
