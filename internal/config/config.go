package config

import (
	"flag"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

type Config struct {
	Env       string          `yaml:"env" env:"ENV" env-default:"local"`
	HTTP      HTTPConfig      `yaml:"http"`
	Signaling SignalingConfig `yaml:"signaling"`
	WebRTC    WebRTCConfig    `yaml:"webrtc"`
	Assist    AssistConfig    `yaml:"assist"`
}

type HTTPConfig struct {
	Address string `yaml:"address" env:"HTTP_ADDRESS" env-default:""`
}

type SignalingConfig struct {
	URL         string        `yaml:"url" env:"SIGNALING_URL" env-default:""`
	UserID      string        `yaml:"user_id" env:"USER_ID" env-default:""`
	MaxRetries  int           `yaml:"max_retries" env-default:"5"`
	RetryDelay  time.Duration `yaml:"retry_delay" env-default:"2s"`
	CallTimeout time.Duration `yaml:"call_timeout" env-default:"10s"`
}

type WebRTCConfig struct {
	STUNServers       []string      `yaml:"stun_servers" env-default:""`
	MinSignalInterval time.Duration `yaml:"min_signal_interval" env-default:"50ms"`
}

type AssistConfig struct {
	BaseURL         string        `yaml:"base_url" env:"ASSIST_BASE_URL" env-default:""`
	BufferWindow    time.Duration `yaml:"buffer_window" env-default:"30s"`
	PruneInterval   time.Duration `yaml:"prune_interval" env-default:"1s"`
	AmbientInterval time.Duration `yaml:"ambient_interval" env-default:"45s"`
	StreamChunkSize int           `yaml:"stream_chunk_size" env-default:"24"`
	StreamDelay     time.Duration `yaml:"stream_delay" env-default:"40ms"`
	RequestTimeout  time.Duration `yaml:"request_timeout" env-default:"30s"`
}

func MustLoad() *Config {
	configPath := fetchConfigPath()
	if configPath == "" {
		panic("config path is empty")
	}

	return MustLoadPath(configPath)
}

func MustLoadPath(configPath string) *Config {
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		panic("config file does not exist: " + configPath)
	}

	var cfg Config

	if err := cleanenv.ReadConfig(configPath, &cfg); err != nil {
		panic("cannot read config: " + err.Error())
	}

	cfg.setDefaults()

	return &cfg
}

func fetchConfigPath() string {
	var res string

	flag.StringVar(&res, "config", "", "path to config file")
	flag.Parse()

	if res == "" {
		res = os.Getenv("CONFIG_PATH")
	}

	if res == "" {
		res = "config/local.yaml"
	}

	return res
}

func (c *Config) setDefaults() {
	if c.HTTP.Address == "" {
		c.HTTP.Address = ":8080"
	}
	if c.Signaling.URL == "" {
		c.Signaling.URL = "ws://localhost:9090/ws"
	}
	if len(c.WebRTC.STUNServers) == 0 {
		c.WebRTC.STUNServers = []string{"stun:stun.l.google.com:19302"}
	}
	if c.Assist.BufferWindow <= 0 {
		c.Assist.BufferWindow = 30 * time.Second
	}
}
