package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Duration 提供更灵活的反序列化能力，同时兼容纯秒整数与 Go Duration 字符串。
type Duration time.Duration

// UnmarshalText 使 Viper 可以识别诸如 "30s"、"5m" 或纯数字秒值等配置写法。
func (d *Duration) UnmarshalText(text []byte) error {
	raw := strings.TrimSpace(string(text))
	if raw == "" {
		*d = Duration(0)
		return nil
	}

	if parsed, err := time.ParseDuration(raw); err == nil {
		*d = Duration(parsed)
		return nil
	}

	if intVal, err := strconv.ParseInt(raw, 10, 64); err == nil {
		*d = Duration(time.Duration(intVal) * time.Second)
		return nil
	}

	return fmt.Errorf("invalid duration value: %s", raw)
}

// DurationValue 返回真实的 time.Duration，便于调用方计算。
func (d Duration) DurationValue() time.Duration {
	return time.Duration(d)
}

// 支持的存储后端。
const (
	BackendLevelDB = "leveldb"
	BackendFS      = "fs"
)

// GlobalConfig 描述进程级运行参数，对应 TOML 顶层字段。
type GlobalConfig struct {
	ListenPort       int      `mapstructure:"ListenPort"`
	LogLevel         string   `mapstructure:"LogLevel"`
	LogFilePath      string   `mapstructure:"LogFilePath"`
	LogMaxSize       int      `mapstructure:"LogMaxSize"`
	LogMaxBackups    int      `mapstructure:"LogMaxBackups"`
	LogCompress      bool     `mapstructure:"LogCompress"`
	StoragePath      string   `mapstructure:"StoragePath"`
	StorageBackend   string   `mapstructure:"StorageBackend"`
	MaxEntries       int      `mapstructure:"MaxEntries"`
	UpstreamTimeout  Duration `mapstructure:"UpstreamTimeout"`
	AssetBaseURL     string   `mapstructure:"AssetBaseURL"`
	ManifestPath     string   `mapstructure:"ManifestPath"`
	CoalesceRequests bool     `mapstructure:"CoalesceRequests"`
}

// SpeedConfig 控制测速阈值与进度回调节奏。阈值单位为 bit/s。
type SpeedConfig struct {
	SlowThreshold   float64  `mapstructure:"SlowThreshold"`
	FastThreshold   float64  `mapstructure:"FastThreshold"`
	MeasureInterval Duration `mapstructure:"MeasureInterval"`
	SampleWindow    Duration `mapstructure:"SampleWindow"`
	SampleBytes     int64    `mapstructure:"SampleBytes"`
	SlowInterval    Duration `mapstructure:"SlowInterval"`
	MediumInterval  Duration `mapstructure:"MediumInterval"`
	FastInterval    Duration `mapstructure:"FastInterval"`
}

// PreloadConfig 描述 manifest 预热行为。
type PreloadConfig struct {
	Concurrency int  `mapstructure:"Concurrency"`
	OnStartup   bool `mapstructure:"OnStartup"`
}

// Config 是 TOML 文件映射的整体结构。
type Config struct {
	Global  GlobalConfig  `mapstructure:",squash"`
	Speed   SpeedConfig   `mapstructure:"Speed"`
	Preload PreloadConfig `mapstructure:"Preload"`
}

// HasManifest 表示是否配置了预热清单。
func (c *Config) HasManifest() bool {
	return c != nil && strings.TrimSpace(c.Global.ManifestPath) != ""
}

// ServesAssets 表示 /assets/* 路由是否可用（需要 AssetBaseURL）。
func (c *Config) ServesAssets() bool {
	return c != nil && strings.TrimSpace(c.Global.AssetBaseURL) != ""
}
