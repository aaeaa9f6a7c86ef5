package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"
)

type Specification struct {
	Provider   string `yaml:"provider"`
	APIKey     string `yaml:"providerApiKey" envconfig:"PROVIDER_API_KEY"`
	EmbedModel string `yaml:"providerEmbedModel" envconfig:"PROVIDER_EMBEDDING_MODEL"`
	GenModel   string `yaml:"providerGenModel" envconfig:"PROVIDER_GENERATION_MODEL"`
	Dim        int    `yaml:"providerDim" envconfig:"EMBED_DIM"`

	MaxChunkChars    int   `yaml:"maxChunkChars" split_words:"true"`
	FragmentBudget   int   `yaml:"fragmentBudget" split_words:"true"`
	MaxFileBytes     int64 `yaml:"maxFileBytes" split_words:"true"`
	FetchTimeoutSecs int   `yaml:"fetchTimeoutSecs" split_words:"true"`
	TopK             int   `yaml:"topK" split_words:"true"`

	LogLevel string `yaml:"logLevel" split_words:"true"`
	Port     int    `yaml:"port" split_words:"true"`

	flags *pflag.FlagSet `ignored:"true"`
}

const envPrefix = "TTYR"

func (s *Specification) Usage() {
	fmt.Fprint(os.Stderr, s.flags.FlagUsages())
}

// Load => defaults < .env < YAML < env < flags.
// configPath may be ""; if so we auto-discover.
func Load(configPath string, fs *pflag.FlagSet) (Specification, error) {
	var cfg Specification

	// .env is optional; shell env still wins via envconfig below
	_ = godotenv.Load(".env")

	// set defaults (lowest precedence)
	setDefaults(&cfg)
	bindFlags(fs, &cfg)

	// config file
	path := configPath
	if path == "" {
		if v := os.Getenv(envPrefix + "_CONFIG"); v != "" {
			path = v
		} else {
			for _, cand := range []string{
				"config/talkrepo.yaml",
				"config/config.yaml",
				"./talkrepo.yaml",
				"./config.yaml",
			} {
				if fileExists(cand) {
					path = cand
					break
				}
			}
		}
	}

	if path != "" {
		if !fileExists(path) {
			return Specification{}, fmt.Errorf("config file not found: %s", path)
		}
		if err := loadYAML(path, &cfg); err != nil {
			return Specification{}, fmt.Errorf("load yaml %s: %w", path, err)
		}
	}

	// env overrides config file
	if err := envconfig.Process(envPrefix, &cfg); err != nil {
		return Specification{}, fmt.Errorf("env override: %w", err)
	}

	// flags override everything
	if err := fs.Parse(os.Args[1:]); err != nil {
		return Specification{}, err
	}
	applyChangedFlags(fs, &cfg)

	// Minimal sanity
	if strings.TrimSpace(cfg.Provider) == "" {
		cfg.Provider = "stub"
	}
	if strings.TrimSpace(cfg.LogLevel) == "" {
		cfg.LogLevel = "info"
	}
	if cfg.MaxChunkChars <= 0 {
		return Specification{}, fmt.Errorf("max chunk chars must be positive, got %d", cfg.MaxChunkChars)
	}
	if cfg.FragmentBudget <= 0 {
		return Specification{}, fmt.Errorf("fragment budget must be positive, got %d", cfg.FragmentBudget)
	}
	return cfg, nil
}

// ---------- helpers ----------

func loadYAML(path string, into any) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(b, into)
}

func fileExists(p string) bool {
	fi, err := os.Stat(p)
	return err == nil && !fi.IsDir()
}

func bindFlags(fs *pflag.FlagSet, c *Specification) {
	fs.String("config", "", "Path to config file")

	// If --config is provided on the command line, capture it now so
	// config discovery (which runs before flags.Parse) can use it.
	for i, a := range os.Args {
		if a == "--config" {
			if i+1 < len(os.Args) && !strings.HasPrefix(os.Args[i+1], "-") {
				_ = os.Setenv(envPrefix+"_CONFIG", os.Args[i+1])
			}
		} else if strings.HasPrefix(a, "--config=") {
			parts := strings.SplitN(a, "=", 2)
			if len(parts) == 2 {
				_ = os.Setenv(envPrefix+"_CONFIG", parts[1])
			}
		}
	}

	fs.String("provider", c.Provider, "Provider (e.g., stub, gemini)")
	fs.String("provider-api-key", c.APIKey, "Provider API key")
	fs.String("provider-embedding-model", c.EmbedModel, "Provider embedding model")
	fs.String("provider-generation-model", c.GenModel, "Provider generation model")
	fs.Int("embed-dim", c.Dim, "Embedding dimensionality")

	fs.Int("max-chunk-chars", c.MaxChunkChars, "Maximum fragment size in characters")
	fs.Int("fragment-budget", c.FragmentBudget, "Maximum fragments indexed per repository")
	fs.Int64("max-file-bytes", c.MaxFileBytes, "Maximum file size eligible for indexing")
	fs.Int("fetch-timeout-secs", c.FetchTimeoutSecs, "Repository fetch timeout in seconds")
	fs.Int("top-k", c.TopK, "Number of fragments retrieved per query")

	fs.String("log-level", c.LogLevel, "Log level (debug|info|warn|error)")
	fs.Int("port", c.Port, "API server port")

	// Used later for usage/help
	// create a shallow copy of fs (so Usage can be called safely without mutating caller)
	copied := pflag.NewFlagSet("temp", pflag.ContinueOnError)
	*copied = *fs
	c.flags = copied
}

func applyChangedFlags(fs *pflag.FlagSet, c *Specification) {
	setStr := func(name string, dst *string) {
		if fs.Changed(name) {
			v, _ := fs.GetString(name)
			*dst = v
		}
	}
	setInt := func(name string, dst *int) {
		if fs.Changed(name) {
			v, _ := fs.GetInt(name)
			*dst = v
		}
	}
	setInt64 := func(name string, dst *int64) {
		if fs.Changed(name) {
			v, _ := fs.GetInt64(name)
			*dst = v
		}
	}

	// (We ignore --config here; it's for discovery.)
	setStr("provider", &c.Provider)
	setStr("provider-api-key", &c.APIKey)
	setStr("provider-embedding-model", &c.EmbedModel)
	setStr("provider-generation-model", &c.GenModel)
	setInt("embed-dim", &c.Dim)

	setInt("max-chunk-chars", &c.MaxChunkChars)
	setInt("fragment-budget", &c.FragmentBudget)
	setInt64("max-file-bytes", &c.MaxFileBytes)
	setInt("fetch-timeout-secs", &c.FetchTimeoutSecs)
	setInt("top-k", &c.TopK)

	setStr("log-level", &c.LogLevel)
	setInt("port", &c.Port)
}

func setDefaults(c *Specification) {
	c.Provider = "gemini"
	c.Dim = 0
	c.MaxChunkChars = 1000
	c.FragmentBudget = 500
	c.MaxFileBytes = 1 << 20
	c.FetchTimeoutSecs = 60
	c.TopK = 5
	c.LogLevel = "info"
	c.Port = 8000
}
