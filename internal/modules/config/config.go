package config

import (
	"log"
	"os"
	"strconv"

	"gopkg.in/yaml.v2"
)

const (
	configFilePathENV = "CONFIG_FILE"
	wsURLENV          = "MARKET_WS_URL"
	historyURLENV     = "HISTORY_BASE_URL"
	addressENV        = "INSTRUMENT_ADDRESS"
	tokenTelegramENV  = "TELEGRAM_TOKEN"
)

// Config ...
type Config struct {
	Market struct {
		WSURL      string `yaml:"ws_url"`
		HistoryURL string `yaml:"history_url"`
		// Инструмент и таймфрейм, которые смотрим со старта
		Address   string `yaml:"address"`
		Timeframe string `yaml:"timeframe"`
	} `yaml:"market"`

	Telegram struct {
		Token  string `yaml:"token"`
		ChatID int64  `yaml:"chat_id"`
	} `yaml:"telegram"`

	Service struct {
		Host       string `yaml:"host"`
		HealthPort int    `yaml:"health_port"`
	} `yaml:"service"`

	Jaeger struct {
		Host string `yaml:"host"`
		Port int    `yaml:"port"`
	} `yaml:"jaeger"`
}

func NewConfig() (*Config, error) {

	configFileName := os.Getenv(configFilePathENV)
	if configFileName == "" {
		configFileName = "values_local.yaml"
	}
	file, err := os.Open("configs/" + configFileName)
	if err != nil {
		log.Fatalf("Failed to open config file: %v", err)
	}

	defer func() {
		_ = file.Close()
	}()

	decoder := yaml.NewDecoder(file)
	config := Config{}
	config.Market.Timeframe = getenvDefault("TIMEFRAME", "live")
	config.Service.HealthPort = intFromEnv("HEALTH_PORT", 8080)

	err = decoder.Decode(&config)
	if err != nil {
		log.Fatalf("Failed to decode config file: %v", err)
	}

	if v := os.Getenv(wsURLENV); v != "" {
		config.Market.WSURL = v
	}
	if v := os.Getenv(historyURLENV); v != "" {
		config.Market.HistoryURL = v
	}
	if v := os.Getenv(addressENV); v != "" {
		config.Market.Address = v
	}
	if v := os.Getenv(tokenTelegramENV); v != "" {
		config.Telegram.Token = v
	}

	return &config, nil
}

func intFromEnv(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getenvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
