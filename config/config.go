package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Gemini  GeminiConfig  `mapstructure:"gemini"`
	Redis   RedisConfig   `mapstructure:"redis"`
	Upload  UploadConfig  `mapstructure:"upload"`
	Client  ClientConfig  `mapstructure:"client"`
	Session SessionConfig `mapstructure:"session"`
}

type ServerConfig struct {
	Port         string        `mapstructure:"port"`
	Mode         string        `mapstructure:"mode"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	// AllowedOrigins 允许跨域访问会话接口的页面来源，去背景代理只接受同源或这些来源
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

type GeminiConfig struct {
	APIKey        string        `mapstructure:"api_key"`
	Model         string        `mapstructure:"model"`
	BaseURL       string        `mapstructure:"base_url"`
	DefaultColor  string        `mapstructure:"default_color"`
	MaxConcurrent int           `mapstructure:"max_concurrent"`
	QueueTimeout  time.Duration `mapstructure:"queue_timeout"`
}

type RedisConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Addr     string        `mapstructure:"addr"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	TTL      time.Duration `mapstructure:"ttl"`
}

type UploadConfig struct {
	MaxSize int64 `mapstructure:"max_size"`
}

// ClientConfig 工作台访问去背景代理的配置
type ClientConfig struct {
	ProxyURL string `mapstructure:"proxy_url"`
	// Timeout 为 0 时不设超时，请求一直等到代理返回
	Timeout time.Duration `mapstructure:"timeout"`
}

type SessionConfig struct {
	ProductPrefix string        `mapstructure:"product_prefix"`
	DefaultColor  string        `mapstructure:"default_color"`
	IdleTTL       time.Duration `mapstructure:"idle_ttl"`
	SweepSpec     string        `mapstructure:"sweep_spec"`
}

// Load 从 YAML 文件加载配置
func Load(configPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")

	// 设置默认值
	setDefaults(v)
	bindEnv(v)

	// 读取配置文件
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

// New 使用默认配置路径加载配置
func New() *Config {
	return NewFromPath("config.yaml")
}

// NewFromPath 加载指定路径的配置，失败时回退到默认配置
func NewFromPath(configPath string) *Config {
	cfg, err := Load(configPath)
	if err != nil {
		// 如果加载失败，返回默认配置
		return getDefaultConfig()
	}
	return cfg
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", ":8080")
	v.SetDefault("server.mode", "debug")
	v.SetDefault("server.read_timeout", 10*time.Second)
	v.SetDefault("server.write_timeout", 0)
	v.SetDefault("server.allowed_origins", []string{})

	v.SetDefault("gemini.api_key", "")
	v.SetDefault("gemini.model", "gemini-2.5-flash-image")
	v.SetDefault("gemini.base_url", "")
	v.SetDefault("gemini.default_color", "white")
	v.SetDefault("gemini.max_concurrent", 3)
	v.SetDefault("gemini.queue_timeout", 30*time.Second)

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.ttl", 24*time.Hour)

	v.SetDefault("upload.max_size", 10*1024*1024)

	v.SetDefault("client.proxy_url", "http://localhost:8080/api/remove-bg")
	v.SetDefault("client.timeout", 0)

	v.SetDefault("session.product_prefix", "clearbg")
	v.SetDefault("session.default_color", "blue")
	v.SetDefault("session.idle_ttl", 30*time.Minute)
	v.SetDefault("session.sweep_spec", "@every 1m")
}

// bindEnv 环境变量覆盖配置，例如 CLEARBG_SERVER_PORT
func bindEnv(v *viper.Viper) {
	v.SetEnvPrefix("clearbg")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	_ = v.BindEnv("gemini.api_key", "CLEARBG_GEMINI_API_KEY", "GEMINI_API_KEY")
}

func getDefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:           ":8080",
			Mode:           "debug",
			ReadTimeout:    10 * time.Second,
			WriteTimeout:   0,
			AllowedOrigins: []string{},
		},
		Gemini: GeminiConfig{
			APIKey:        os.Getenv("GEMINI_API_KEY"),
			Model:         "gemini-2.5-flash-image",
			DefaultColor:  "white",
			MaxConcurrent: 3,
			QueueTimeout:  30 * time.Second,
		},
		Redis: RedisConfig{
			Enabled:  false,
			Addr:     "localhost:6379",
			Password: "",
			DB:       0,
			TTL:      24 * time.Hour,
		},
		Upload: UploadConfig{
			MaxSize: 10 * 1024 * 1024,
		},
		Client: ClientConfig{
			ProxyURL: "http://localhost:8080/api/remove-bg",
		},
		Session: SessionConfig{
			ProductPrefix: "clearbg",
			DefaultColor:  "blue",
			IdleTTL:       30 * time.Minute,
			SweepSpec:     "@every 1m",
		},
	}
}
