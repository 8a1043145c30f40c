package config

import (
	"os"
	"path/filepath"

	"github.com/spf13/viper"
)

// Backend selects the buffer acquisition strategy for the display core.
const (
	BackendDirect = "direct"
	BackendProxy  = "proxy"
)

type Config struct {
	Backend          string `mapstructure:"backend"`
	DisplayID        uint64 `mapstructure:"display_id"`
	DisplayWidth     int    `mapstructure:"display_width"`
	DisplayHeight    int    `mapstructure:"display_height"`
	DisplayBufferNum int    `mapstructure:"display_buffer_num"`
	ListenAddr       string `mapstructure:"listen_addr"`
	LogFormat        string `mapstructure:"log_format"`
	LogLevel         string `mapstructure:"log_level"`
	LogFile          string `mapstructure:"log_file"`
	LogMaxSizeMB     int    `mapstructure:"log_max_size_mb"`
	LogMaxBackups    int    `mapstructure:"log_max_backups"`
}

func Default() *Config {
	return &Config{
		Backend:          BackendDirect,
		DisplayWidth:     1280,
		DisplayHeight:    720,
		DisplayBufferNum: 2,
		ListenAddr:       "127.0.0.1:8750",
		LogFormat:        "text",
		LogLevel:         "info",
		LogMaxSizeMB:     20,
		LogMaxBackups:    3,
	}
}

func Load(cfgFile string) (*Config, error) {
	cfg := Default()

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("displayd")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(configDir())
		viper.AddConfigPath(".")
	}

	viper.AutomaticEnv()
	viper.SetEnvPrefix("DISPLAYD")

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	if err := viper.Unmarshal(cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func Save(cfg *Config) error {
	return SaveTo(cfg, "")
}

func SaveTo(cfg *Config, cfgFile string) error {
	viper.Set("backend", cfg.Backend)
	viper.Set("display_id", cfg.DisplayID)
	viper.Set("display_width", cfg.DisplayWidth)
	viper.Set("display_height", cfg.DisplayHeight)
	viper.Set("display_buffer_num", cfg.DisplayBufferNum)
	viper.Set("listen_addr", cfg.ListenAddr)
	viper.Set("log_format", cfg.LogFormat)
	viper.Set("log_level", cfg.LogLevel)
	viper.Set("log_file", cfg.LogFile)
	viper.Set("log_max_size_mb", cfg.LogMaxSizeMB)
	viper.Set("log_max_backups", cfg.LogMaxBackups)

	var cfgPath string
	if cfgFile != "" {
		cfgPath = cfgFile
		dir := filepath.Dir(cfgPath)
		if dir != "." {
			if err := os.MkdirAll(dir, 0700); err != nil {
				return err
			}
		}
	} else {
		cfgPath = filepath.Join(configDir(), "displayd.yaml")
		if err := os.MkdirAll(configDir(), 0700); err != nil {
			return err
		}
	}

	return viper.WriteConfigAs(cfgPath)
}

func configDir() string {
	return "/etc/evs-displayd"
}
