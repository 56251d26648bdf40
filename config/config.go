package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

const (
	ProviderAzure  = "azure"
	ProviderOpenAI = "openai"
	ProviderOllama = "ollama"

	SearchAzure    = "azure"
	SearchPgvector = "pgvector"

	StoreMemory   = "memory"
	StoreSQLite   = "sqlite"
	StorePostgres = "postgres"
)

// Names of the secrets resolved at startup.
const (
	KeyOpenAIEndpoint   = "AZURE_OPENAI_ENDPOINT"
	KeyOpenAIKey        = "AZURE_OPENAI_API_KEY"
	KeyDeployment       = "AZURE_OPENAI_CHAT_COMPLETIONS_DEPLOYMENT_NAME"
	KeySearchEndpoint   = "AZURE_SEARCH_SERVICE_ENDPOINT"
	KeySearchKey        = "AZURE_SEARCH_SERVICE_ADMIN_KEY"
	KeyStorageAccount   = "AZURE_STORAGE_ACCOUNT"
	KeyStorageContainer = "AZURE_STORAGE_CONTAINER"
	KeyStorageKey       = "AZURE_STORAGE_KEY"
)

type Config struct {
	Addr        string
	LogLevel    string
	LogFormat   string
	DataDir     string
	CatalogFile string

	LLM        LLMConfig
	Embeddings EmbeddingConfig
	Azure      AzureConfig
	Search     SearchConfig
	Sessions   SessionConfig

	OllamaHost    string
	OpenAIAPIKey  string
	OpenAIBaseURL string
	PostgresDSN   string

	VerifyLinks    bool
	StrictEncoding bool
	SecureCookies  bool

	ChatRateLimit float64
	ChatRateBurst int
}

type LLMConfig struct {
	Provider string
	Model    string
}

type EmbeddingConfig struct {
	Provider  string
	Model     string
	Dimension int
}

type AzureConfig struct {
	OpenAIEndpoint   string
	OpenAIKey        string
	Deployment       string
	OpenAIAPIVersion string

	SearchEndpoint   string
	SearchKey        string
	SearchAPIVersion string

	StorageAccount   string
	StorageContainer string
	StorageKey       string
}

type SearchConfig struct {
	Backend      string
	TitleField   string
	IDField      string
	ContentField string
}

type SessionConfig struct {
	Store      string
	SQLitePath string
	// IdleTTL drops in-memory sessions and rate buckets left idle this long.
	IdleTTL time.Duration
}

// MissingSecretsError lists every required secret that could not be resolved.
type MissingSecretsError struct {
	Keys []string
}

func (e *MissingSecretsError) Error() string {
	return fmt.Sprintf("missing required secrets: %s", strings.Join(e.Keys, ", "))
}

// Load resolves configuration from the process environment, then a .env
// file, then a Streamlit style secrets.toml. Earlier sources win.
func Load() (Config, error) {
	if err := loadDotEnv(envOr("MAKRAI_ENV_FILE", ".env")); err != nil {
		return Config{}, err
	}

	secrets, err := loadSecrets(envOr("MAKRAI_SECRETS_FILE", ".streamlit/secrets.toml"))
	if err != nil {
		return Config{}, err
	}

	return FromLookup(func(key string) (string, bool) {
		if value, ok := os.LookupEnv(key); ok && value != "" {
			return value, true
		}
		value, ok := secrets[key]
		return value, ok && value != ""
	}), nil
}

// FromLookup builds a Config reading every key through lookup.
func FromLookup(lookup func(string) (string, bool)) Config {
	env := source(lookup)

	return Config{
		Addr:        env.get("MAKRAI_ADDR", ":8080"),
		LogLevel:    env.get("LOG_LEVEL", "info"),
		LogFormat:   env.get("LOG_FORMAT", "text"),
		DataDir:     env.get("DATA_DIR", "./data"),
		CatalogFile: env.get("MAKRAI_CATALOG_FILE", ""),

		LLM: LLMConfig{
			Provider: strings.ToLower(env.get("LLM_PROVIDER", ProviderAzure)),
			Model:    env.get("LLM_MODEL", ""),
		},
		Embeddings: EmbeddingConfig{
			Provider:  strings.ToLower(env.get("EMBEDDINGS_PROVIDER", ProviderOpenAI)),
			Model:     env.get("EMBEDDINGS_MODEL", "text-embedding-3-small"),
			Dimension: env.getInt("EMBEDDINGS_DIMENSION", 1536),
		},
		Azure: AzureConfig{
			OpenAIEndpoint:   env.get(KeyOpenAIEndpoint, ""),
			OpenAIKey:        env.get(KeyOpenAIKey, ""),
			Deployment:       env.get(KeyDeployment, ""),
			OpenAIAPIVersion: env.get("AZURE_OPENAI_API_VERSION", "2024-06-01"),

			SearchEndpoint:   env.get(KeySearchEndpoint, ""),
			SearchKey:        env.get(KeySearchKey, ""),
			SearchAPIVersion: env.get("AZURE_SEARCH_API_VERSION", "2024-07-01"),

			StorageAccount:   env.get(KeyStorageAccount, ""),
			StorageContainer: env.get(KeyStorageContainer, ""),
			StorageKey:       env.get(KeyStorageKey, ""),
		},
		Search: SearchConfig{
			Backend:      strings.ToLower(env.get("SEARCH_BACKEND", SearchAzure)),
			TitleField:   env.get("SEARCH_TITLE_FIELD", "sourcefile"),
			IDField:      env.get("SEARCH_ID_FIELD", "parent_id"),
			ContentField: env.get("SEARCH_CONTENT_FIELD", "chunk"),
		},
		Sessions: SessionConfig{
			Store:      strings.ToLower(env.get("SESSION_STORE", StoreMemory)),
			SQLitePath: env.get("SESSION_SQLITE_PATH", "makrai-sessions.db"),
			IdleTTL:    env.getDuration("SESSION_IDLE_TTL", 12*time.Hour),
		},

		OllamaHost:    env.get("OLLAMA_HOST", "http://localhost:11434"),
		OpenAIAPIKey:  env.get("OPENAI_API_KEY", ""),
		OpenAIBaseURL: env.get("OPENAI_BASE_URL", ""),
		PostgresDSN:   env.get("POSTGRES_DSN", "postgres://localhost:5432/makrai?sslmode=disable"),

		VerifyLinks:    env.getBool("VERIFY_LINKS", true),
		StrictEncoding: env.getBool("STRICT_LINK_ENCODING", false),
		SecureCookies:  env.getBool("SECURE_COOKIES", false),

		ChatRateLimit: env.getFloat("CHAT_RATE_LIMIT", 1),
		ChatRateBurst: env.getInt("CHAT_RATE_BURST", 3),
	}
}

// Validate reports the secrets the selected providers cannot run without.
func (c Config) Validate() error {
	var missing []string
	need := func(key, value string) {
		if strings.TrimSpace(value) == "" {
			missing = append(missing, key)
		}
	}

	if c.LLM.Provider == ProviderAzure {
		need(KeyOpenAIEndpoint, c.Azure.OpenAIEndpoint)
		need(KeyOpenAIKey, c.Azure.OpenAIKey)
		need(KeyDeployment, c.Azure.Deployment)
	}
	if c.LLM.Provider == ProviderAzure || c.Search.Backend == SearchAzure {
		need(KeySearchEndpoint, c.Azure.SearchEndpoint)
		need(KeySearchKey, c.Azure.SearchKey)
	}
	need(KeyStorageAccount, c.Azure.StorageAccount)
	if c.VerifyLinks {
		need(KeyStorageKey, c.Azure.StorageKey)
	}

	if len(missing) > 0 {
		return &MissingSecretsError{Keys: missing}
	}

	switch c.LLM.Provider {
	case ProviderAzure, ProviderOpenAI, ProviderOllama:
	default:
		return fmt.Errorf("unknown llm provider: %s", c.LLM.Provider)
	}
	switch c.Search.Backend {
	case SearchAzure, SearchPgvector:
	default:
		return fmt.Errorf("unknown search backend: %s", c.Search.Backend)
	}
	switch c.Sessions.Store {
	case StoreMemory, StoreSQLite, StorePostgres:
	default:
		return fmt.Errorf("unknown session store: %s", c.Sessions.Store)
	}
	return nil
}

type source func(string) (string, bool)

func (s source) get(key, fallback string) string {
	if value, ok := s(key); ok && value != "" {
		return value
	}
	return fallback
}

func (s source) getInt(key string, fallback int) int {
	value, err := strconv.Atoi(s.get(key, ""))
	if err != nil {
		return fallback
	}
	return value
}

func (s source) getFloat(key string, fallback float64) float64 {
	value, err := strconv.ParseFloat(s.get(key, ""), 64)
	if err != nil {
		return fallback
	}
	return value
}

func (s source) getBool(key string, fallback bool) bool {
	value, err := strconv.ParseBool(s.get(key, ""))
	if err != nil {
		return fallback
	}
	return value
}

func (s source) getDuration(key string, fallback time.Duration) time.Duration {
	value, err := time.ParseDuration(s.get(key, ""))
	if err != nil {
		return fallback
	}
	return value
}

func envOr(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		return value
	}
	return fallback
}

func loadDotEnv(path string) error {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("load env file %s: %w", path, err)
	}
	return nil
}

func loadSecrets(path string) (map[string]string, error) {
	secrets := map[string]string{}
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return secrets, nil
	}

	var raw map[string]any
	if _, err := toml.DecodeFile(path, &raw); err != nil {
		return nil, fmt.Errorf("decode secrets file %s: %w", path, err)
	}

	for key, value := range raw {
		switch v := value.(type) {
		case string:
			secrets[key] = v
		case int64, float64, bool:
			secrets[key] = fmt.Sprint(v)
		}
	}
	return secrets, nil
}
