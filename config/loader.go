package config

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"strings"
	"sync"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// APIKeys holds the credentials for one exchange.
type APIKeys struct {
	APIKey    string `yaml:"api_key" json:"api_key"`
	SecretKey string `yaml:"secret_key" json:"secret_key"`
}

// StrategyConfig is a per-strategy block under `strategies`.
type StrategyConfig struct {
	Enabled    bool                   `yaml:"enabled" json:"enabled"`
	Parameters map[string]interface{} `yaml:"parameters" json:"parameters"`
	Symbols    []string               `yaml:"symbols" json:"symbols"`
}

// TelegramConfig controls the Telegram notifier.
type TelegramConfig struct {
	BotToken string `yaml:"bot_token" json:"bot_token"`
	ChatID   string `yaml:"chat_id" json:"chat_id"`
	Enabled  bool   `yaml:"enabled" json:"enabled"`
}

// FirebaseConfig controls the optional Firestore signal feed.
type FirebaseConfig struct {
	CredentialsFile string `yaml:"credentials_file" json:"credentials_file"`
	Collection      string `yaml:"collection" json:"collection"`
	Enabled         bool   `yaml:"enabled" json:"enabled"`
}

// AppConfig holds the full application configuration.
type AppConfig struct {
	Exchanges       []string           `yaml:"exchanges" json:"exchanges"`
	DefaultExchange string             `yaml:"default_exchange" json:"default_exchange"`
	APIKeys         map[string]APIKeys `yaml:"api_keys" json:"api_keys"`
	TestMode        bool               `yaml:"test_mode" json:"test_mode"`
	DryRun          bool               `yaml:"dry_run" json:"dry_run"`
	LogDir          string             `yaml:"log_dir" json:"log_dir"`
	DataDir         string             `yaml:"data_dir" json:"data_dir"`

	IcebergThreshold float64  `yaml:"iceberg_threshold" json:"iceberg_threshold"`
	MinOrderAmount   float64  `yaml:"min_order_amount" json:"min_order_amount"`
	QuoteCurrencies  []string `yaml:"quote_currencies" json:"quote_currencies"`

	DataRefreshInterval        int `yaml:"data_refresh_interval" json:"data_refresh_interval"`                 // seconds
	MarketStateRefreshInterval int `yaml:"market_state_refresh_interval" json:"market_state_refresh_interval"` // seconds
	ScanInterval               int `yaml:"scan_interval" json:"scan_interval"`                                 // minutes
	MonitorInterval            int `yaml:"monitor_interval" json:"monitor_interval"`                           // seconds
	WorkerPoolSize             int `yaml:"worker_pool_size" json:"worker_pool_size"`

	MaxNewPositions     int     `yaml:"max_new_positions" json:"max_new_positions"`
	MaxRiskPerTrade     float64 `yaml:"max_risk_per_trade" json:"max_risk_per_trade"`       // percent
	MaxTotalRisk        float64 `yaml:"max_total_risk" json:"max_total_risk"`               // percent
	MaxSectorAllocation float64 `yaml:"max_sector_allocation" json:"max_sector_allocation"` // fraction of max_total_risk
	AccountBalance      float64 `yaml:"account_balance" json:"account_balance"`

	SocialAPIEnabled bool `yaml:"social_api_enabled" json:"social_api_enabled"`

	Sectors map[string][]string `yaml:"sectors" json:"sectors"`

	ListenAddr string         `yaml:"listen_addr" json:"listen_addr"`
	Telegram   TelegramConfig `yaml:"telegram" json:"telegram"`
	Firebase   FirebaseConfig `yaml:"firebase" json:"firebase"`

	Strategies map[string]StrategyConfig `yaml:"strategies" json:"strategies"`

	path     string
	fileType string
	mu       sync.Mutex
}

// DefaultSectors is the built-in sector → symbol-prefix mapping used when
// the config file does not provide one.
func DefaultSectors() map[string][]string {
	return map[string][]string{
		"DeFi":   {"UNI/", "AAVE/", "COMP/", "SUSHI/", "YFI/", "CAKE/", "CRV/"},
		"Layer2": {"MATIC/", "ARB/", "OP/", "IMX/", "ZK/", "METIS/", "SCROLL/"},
		"AI":     {"FET/", "OCEAN/", "RNDR/", "GRT/", "AGIX/", "NMR/"},
		"GameFi": {"AXS/", "SAND/", "MANA/", "ENJ/", "GALA/", "ILV/", "MAGIC/"},
		"Meme":   {"DOGE/", "SHIB/", "PEPE/", "FLOKI/", "BONK/", "WIF/"},
	}
}

// Load reads the configuration from path. YAML and JSON are both accepted;
// an empty path tries config.yaml, config.yml then config.json.
func Load(path string) (*AppConfig, error) {
	if err := godotenv.Load(); err != nil {
		log.Println("⚠️  Warning: .env file not found. Relying on system environment variables.")
	}

	if path == "" {
		for _, candidate := range []string{"config.yaml", "config.yml", "config.json"} {
			if _, err := os.Stat(candidate); err == nil {
				path = candidate
				break
			}
		}
		if path == "" {
			return nil, fmt.Errorf("no config file found (tried config.yaml, config.yml, config.json)")
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}

	cfg := &AppConfig{path: path}
	switch {
	case strings.HasSuffix(path, ".yaml"), strings.HasSuffix(path, ".yml"):
		cfg.fileType = "yaml"
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse YAML config: %w", err)
		}
	case strings.HasSuffix(path, ".json"):
		cfg.fileType = "json"
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse JSON config: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported config format: %s (use YAML or JSON)", path)
	}

	cfg.applyDefaults()
	cfg.applyEnvOverrides()

	log.Printf("✅ Loaded configuration from %s (%d exchanges, %d strategies)",
		path, len(cfg.Exchanges), len(cfg.Strategies))
	return cfg, nil
}

func (c *AppConfig) applyDefaults() {
	if c.LogDir == "" {
		c.LogDir = "logs"
	}
	if c.DataDir == "" {
		c.DataDir = "data"
	}
	if c.IcebergThreshold == 0 {
		c.IcebergThreshold = 1.0
	}
	if c.MinOrderAmount == 0 {
		c.MinOrderAmount = 10.0
	}
	if len(c.QuoteCurrencies) == 0 {
		c.QuoteCurrencies = []string{"USDT"}
	}
	if c.DataRefreshInterval == 0 {
		c.DataRefreshInterval = 60
	}
	if c.MarketStateRefreshInterval == 0 {
		c.MarketStateRefreshInterval = 300
	}
	if c.ScanInterval == 0 {
		c.ScanInterval = 5
	}
	if c.MonitorInterval == 0 {
		c.MonitorInterval = 10
	}
	if c.MaxNewPositions == 0 {
		c.MaxNewPositions = 3
	}
	if c.MaxRiskPerTrade == 0 {
		c.MaxRiskPerTrade = 2.0
	}
	if c.MaxTotalRisk == 0 {
		c.MaxTotalRisk = 10.0
	}
	if c.MaxSectorAllocation == 0 {
		c.MaxSectorAllocation = 0.4
	}
	if c.AccountBalance == 0 {
		c.AccountBalance = 10000.0
	}
	if len(c.Sectors) == 0 {
		c.Sectors = DefaultSectors()
	}
	if c.Strategies == nil {
		c.Strategies = make(map[string]StrategyConfig)
	}
	if c.APIKeys == nil {
		c.APIKeys = make(map[string]APIKeys)
	}
}

// applyEnvOverrides lets credentials come from the environment instead of
// committed YAML.
func (c *AppConfig) applyEnvOverrides() {
	if c.DefaultExchange != "" {
		keys := c.APIKeys[c.DefaultExchange]
		if v := os.Getenv("BINANCE_API_KEY"); v != "" {
			keys.APIKey = v
		}
		if v := os.Getenv("BINANCE_SECRET_KEY"); v != "" {
			keys.SecretKey = v
		} else if v := os.Getenv("BINANCE_API_SECRET"); v != "" {
			keys.SecretKey = v
		}
		c.APIKeys[c.DefaultExchange] = keys
	}
	if v := os.Getenv("TELEGRAM_BOT_TOKEN"); v != "" {
		c.Telegram.BotToken = v
	}
	if v := os.Getenv("TELEGRAM_CHAT_ID"); v != "" {
		c.Telegram.ChatID = v
	}
}

// StrategyEnabled reports whether the named strategy is switched on.
func (c *AppConfig) StrategyEnabled(name string) bool {
	s, ok := c.Strategies[name]
	return ok && s.Enabled
}

// StrategyParameters returns the parameter map of the named strategy, never nil.
func (c *AppConfig) StrategyParameters(name string) map[string]interface{} {
	s, ok := c.Strategies[name]
	if !ok || s.Parameters == nil {
		return map[string]interface{}{}
	}
	return s.Parameters
}

// StrategySymbols returns the symbol list of the named strategy.
func (c *AppConfig) StrategySymbols(name string) []string {
	return c.Strategies[name].Symbols
}

// Save writes the configuration back to the file it was loaded from.
func (c *AppConfig) Save() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.saveLocked()
}

func (c *AppConfig) saveLocked() error {
	var (
		data []byte
		err  error
	)
	if c.fileType == "json" {
		data, err = json.MarshalIndent(c, "", "  ")
	} else {
		data, err = yaml.Marshal(c)
	}
	if err != nil {
		return fmt.Errorf("failed to serialize config: %w", err)
	}

	tmp := c.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	if err := os.Rename(tmp, c.path); err != nil {
		return fmt.Errorf("failed to replace config: %w", err)
	}

	log.Printf("💾 Configuration saved to %s", c.path)
	return nil
}

// UpdateStrategyParameter sets strategies[name].parameters[key] = value and
// persists the change immediately.
func (c *AppConfig) UpdateStrategyParameter(name, key string, value interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	s, ok := c.Strategies[name]
	if !ok {
		s = StrategyConfig{Enabled: true}
	}
	if s.Parameters == nil {
		s.Parameters = make(map[string]interface{})
	}
	s.Parameters[key] = value
	c.Strategies[name] = s

	log.Printf("🔧 Strategy %s parameter updated: %s=%v", name, key, value)
	return c.saveLocked()
}

// EnsureDirs creates the log and data directories if missing.
func (c *AppConfig) EnsureDirs() error {
	for _, dir := range []string{c.LogDir, c.DataDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return nil
}
