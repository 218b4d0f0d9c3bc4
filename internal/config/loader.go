package config

import (
	"fmt"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// Load 读取并解析 TOML 配置文件，同时注入默认值与校验逻辑。
func Load(path string) (*Config, error) {
	if path == "" {
		path = "config.toml"
	}

	v := viper.New()
	v.SetConfigFile(path)
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("读取配置失败: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(durationDecodeHook())); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	applyGlobalDefaults(&cfg.Global)
	applySpeedDefaults(&cfg.Speed)
	applyPreloadDefaults(&cfg.Preload)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	absStorage, err := filepath.Abs(cfg.Global.StoragePath)
	if err != nil {
		return nil, fmt.Errorf("无法解析缓存目录: %w", err)
	}
	cfg.Global.StoragePath = absStorage

	if cfg.HasManifest() && !filepath.IsAbs(cfg.Global.ManifestPath) {
		// 相对路径以配置文件所在目录为基准。
		cfg.Global.ManifestPath = filepath.Join(filepath.Dir(path), cfg.Global.ManifestPath)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ListenPort", 5000)
	v.SetDefault("LogLevel", "info")
	v.SetDefault("LogFilePath", "")
	v.SetDefault("LogMaxSize", 100)
	v.SetDefault("LogMaxBackups", 10)
	v.SetDefault("LogCompress", true)
	v.SetDefault("StoragePath", "./storage")
	v.SetDefault("StorageBackend", BackendLevelDB)
	v.SetDefault("MaxEntries", 0)
	v.SetDefault("UpstreamTimeout", "30s")
	v.SetDefault("CoalesceRequests", false)

	v.SetDefault("Speed.SlowThreshold", 1_000_000)
	v.SetDefault("Speed.FastThreshold", 5_000_000)
	v.SetDefault("Speed.MeasureInterval", "5m")
	v.SetDefault("Speed.SampleWindow", "2s")
	v.SetDefault("Speed.SampleBytes", 256*1024)
	v.SetDefault("Speed.SlowInterval", "2s")
	v.SetDefault("Speed.MediumInterval", "1s")
	v.SetDefault("Speed.FastInterval", "500ms")

	v.SetDefault("Preload.Concurrency", 1)
	v.SetDefault("Preload.OnStartup", false)
}

func applyGlobalDefaults(g *GlobalConfig) {
	if g.ListenPort == 0 {
		g.ListenPort = 5000
	}
	if g.UpstreamTimeout.DurationValue() == 0 {
		g.UpstreamTimeout = Duration(30 * time.Second)
	}
	g.StorageBackend = strings.ToLower(strings.TrimSpace(g.StorageBackend))
	if g.StorageBackend == "" {
		g.StorageBackend = BackendLevelDB
	}
}

func applySpeedDefaults(s *SpeedConfig) {
	if s.SlowThreshold == 0 {
		s.SlowThreshold = 1_000_000
	}
	if s.FastThreshold == 0 {
		s.FastThreshold = 5_000_000
	}
	if s.MeasureInterval.DurationValue() == 0 {
		s.MeasureInterval = Duration(5 * time.Minute)
	}
	if s.SampleWindow.DurationValue() == 0 {
		s.SampleWindow = Duration(2 * time.Second)
	}
	if s.SampleBytes == 0 {
		s.SampleBytes = 256 * 1024
	}
	if s.SlowInterval.DurationValue() == 0 {
		s.SlowInterval = Duration(2 * time.Second)
	}
	if s.MediumInterval.DurationValue() == 0 {
		s.MediumInterval = Duration(time.Second)
	}
	if s.FastInterval.DurationValue() == 0 {
		s.FastInterval = Duration(500 * time.Millisecond)
	}
}

func applyPreloadDefaults(p *PreloadConfig) {
	if p.Concurrency == 0 {
		p.Concurrency = 1
	}
}

func durationDecodeHook() mapstructure.DecodeHookFunc {
	targetType := reflect.TypeOf(Duration(0))

	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != targetType {
			return data, nil
		}

		switch v := data.(type) {
		case string:
			if v == "" {
				return Duration(0), nil
			}
			if parsed, err := time.ParseDuration(v); err == nil {
				return Duration(parsed), nil
			}
			if seconds, err := strconv.ParseFloat(v, 64); err == nil {
				return Duration(time.Duration(seconds * float64(time.Second))), nil
			}
			return nil, fmt.Errorf("无法解析 Duration 字段: %s", v)
		case int:
			return Duration(time.Duration(v) * time.Second), nil
		case int64:
			return Duration(time.Duration(v) * time.Second), nil
		case float64:
			return Duration(time.Duration(v * float64(time.Second))), nil
		case time.Duration:
			return Duration(v), nil
		case Duration:
			return v, nil
		default:
			return nil, fmt.Errorf("不支持的 Duration 类型: %T", v)
		}
	}
}
