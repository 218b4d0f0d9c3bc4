// Package manifest 解析预热清单：一组需要在首次交互前写入缓存的模型 URL。
package manifest

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// ErrBlankAsset 表示清单中存在空白条目。
var ErrBlankAsset = errors.New("manifest: blank asset entry")

// Manifest 是去重后、保持原始顺序的绝对 URL 列表。
type Manifest struct {
	Assets []string
}

type document struct {
	BaseURL string   `yaml:"baseURL"`
	Assets  []string `yaml:"assets"`
}

// Load 从 YAML 文件读取清单。
func Load(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取清单失败: %w", err)
	}
	m, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return m, nil
}

// Parse 解析 YAML 内容。相对条目基于 baseURL 解析，未配置 baseURL 时要求绝对地址。
func Parse(data []byte) (*Manifest, error) {
	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("解析清单失败: %w", err)
	}

	var base *url.URL
	if raw := strings.TrimSpace(doc.BaseURL); raw != "" {
		parsed, err := parseHTTP(raw)
		if err != nil {
			return nil, fmt.Errorf("baseURL: %w", err)
		}
		base = parsed
	}

	resolved := make([]string, 0, len(doc.Assets))
	for i, entry := range doc.Assets {
		u, err := resolve(base, entry)
		if err != nil {
			return nil, fmt.Errorf("assets[%d]: %w", i, err)
		}
		resolved = append(resolved, u)
	}
	return &Manifest{Assets: dedupe(resolved)}, nil
}

// FromURLs 直接由 URL 列表构造清单，同样会去重并拒绝空白条目。
func FromURLs(urls ...string) (*Manifest, error) {
	cleaned := make([]string, 0, len(urls))
	for i, raw := range urls {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			return nil, fmt.Errorf("assets[%d]: %w", i, ErrBlankAsset)
		}
		cleaned = append(cleaned, raw)
	}
	return &Manifest{Assets: dedupe(cleaned)}, nil
}

// Len 返回资源数量，nil 清单视为空。
func (m *Manifest) Len() int {
	if m == nil {
		return 0
	}
	return len(m.Assets)
}

func resolve(base *url.URL, entry string) (string, error) {
	entry = strings.TrimSpace(entry)
	if entry == "" {
		return "", ErrBlankAsset
	}
	ref, err := url.Parse(entry)
	if err != nil {
		return "", err
	}
	if ref.IsAbs() {
		if _, err := parseHTTP(entry); err != nil {
			return "", err
		}
		return entry, nil
	}
	if base == nil {
		return "", fmt.Errorf("相对路径 %q 需要 baseURL", entry)
	}
	return base.ResolveReference(ref).String(), nil
}

func parseHTTP(raw string) (*url.URL, error) {
	parsed, err := url.Parse(raw)
	if err != nil {
		return nil, err
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, fmt.Errorf("仅支持 http/https: %s", raw)
	}
	if parsed.Host == "" {
		return nil, fmt.Errorf("缺少 Host: %s", raw)
	}
	return parsed, nil
}

func dedupe(urls []string) []string {
	seen := make(map[string]struct{}, len(urls))
	out := make([]string, 0, len(urls))
	for _, u := range urls {
		if _, ok := seen[u]; ok {
			continue
		}
		seen[u] = struct{}{}
		out = append(out, u)
	}
	return out
}
