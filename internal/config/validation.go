package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// Validate 针对语义级别做进一步校验，防止非法配置启动服务。
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("配置为空")
	}

	g := c.Global
	if g.ListenPort <= 0 || g.ListenPort > 65535 {
		return newFieldError("Global.ListenPort", "必须在 1-65535")
	}
	if g.StoragePath == "" {
		return newFieldError("Global.StoragePath", "不能为空")
	}
	switch g.StorageBackend {
	case BackendLevelDB, BackendFS:
	default:
		return newFieldError("Global.StorageBackend", "仅支持 leveldb|fs")
	}
	if g.MaxEntries < 0 {
		return newFieldError("Global.MaxEntries", "不能为负数")
	}
	if g.UpstreamTimeout.DurationValue() <= 0 {
		return newFieldError("Global.UpstreamTimeout", "必须大于 0")
	}
	if g.AssetBaseURL != "" {
		if err := validateUpstream(g.AssetBaseURL); err != nil {
			return fmt.Errorf("Global.AssetBaseURL: %w", err)
		}
	}

	s := c.Speed
	if s.SlowThreshold <= 0 {
		return newFieldError(sectionField("Speed", "SlowThreshold"), "必须大于 0")
	}
	if s.FastThreshold <= s.SlowThreshold {
		return newFieldError(sectionField("Speed", "FastThreshold"), "必须大于 SlowThreshold")
	}
	if s.MeasureInterval.DurationValue() < 0 {
		return newFieldError(sectionField("Speed", "MeasureInterval"), "不能为负数")
	}
	if s.SampleWindow.DurationValue() <= 0 {
		return newFieldError(sectionField("Speed", "SampleWindow"), "必须大于 0")
	}
	if s.SampleBytes <= 0 {
		return newFieldError(sectionField("Speed", "SampleBytes"), "必须大于 0")
	}
	for field, d := range map[string]Duration{
		"SlowInterval":   s.SlowInterval,
		"MediumInterval": s.MediumInterval,
		"FastInterval":   s.FastInterval,
	} {
		if d.DurationValue() <= 0 {
			return newFieldError(sectionField("Speed", field), "必须大于 0")
		}
	}

	if c.Preload.Concurrency <= 0 {
		return newFieldError(sectionField("Preload", "Concurrency"), "必须大于 0")
	}
	if c.Preload.OnStartup && !c.HasManifest() {
		return newFieldError(sectionField("Preload", "OnStartup"), "需要同时配置 ManifestPath")
	}

	return nil
}

func validateUpstream(raw string) error {
	parsed, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return err
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("仅支持 http/https: %s", raw)
	}
	if parsed.Host == "" {
		return fmt.Errorf("缺少 Host: %s", raw)
	}
	return nil
}
