package config

import (
	"strconv"
	"strings"
)

// applyEnvOverrides FUNDARB_* 环境变量覆盖配置文件中的值
func applyEnvOverrides(cfg *Config) {
	setStr(&cfg.App.LogLevel, "FUNDARB_LOG_LEVEL")
	setStr(&cfg.App.LogFile, "FUNDARB_LOG_FILE")
	setStringSlice(&cfg.Symbols.List, "FUNDARB_SYMBOLS")

	setInt(&cfg.Collection.IntervalSec, "FUNDARB_COLLECTION_INTERVAL_SEC")
	setInt(&cfg.Collection.AdapterTimeoutSec, "FUNDARB_COLLECTION_ADAPTER_TIMEOUT_SEC")
	setInt(&cfg.Collection.MaxConcurrent, "FUNDARB_COLLECTION_MAX_CONCURRENT")
	setBool(&cfg.Collection.IncludeMarketData, "FUNDARB_COLLECTION_INCLUDE_MARKET_DATA")

	setStr(&cfg.Storage.Driver, "FUNDARB_STORAGE_DRIVER")
	setStr(&cfg.Storage.SQLitePath, "FUNDARB_SQLITE_PATH")
	setStr(&cfg.Storage.PostgresDSN, "FUNDARB_POSTGRES_DSN")

	setBool(&cfg.Redis.Enabled, "FUNDARB_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "FUNDARB_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "FUNDARB_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "FUNDARB_REDIS_DB")

	setStr(&cfg.Server.Addr, "FUNDARB_SERVER_ADDR")
}

func setStr(dst *string, key string) {
	if v, ok := envPresent(key); ok {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v, ok := envPresent(key); ok {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v, ok := envPresent(key); ok {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v, ok := envPresent(key); ok {
		*dst = strings.Split(v, ",")
	}
}
