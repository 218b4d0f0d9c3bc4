package server

import (
	"net"
	"net/http"
	"time"

	"github.com/any-hub/model-hub/internal/config"
)

// Shared HTTP transport tunings，复用长连接并集中配置超时。
// 关闭透明压缩以保留 Content-Length，下载进度依赖该值。
var defaultTransport = &http.Transport{
	Proxy:                 http.ProxyFromEnvironment,
	MaxIdleConns:          100,
	MaxIdleConnsPerHost:   100,
	IdleConnTimeout:       90 * time.Second,
	TLSHandshakeTimeout:   10 * time.Second,
	ExpectContinueTimeout: 1 * time.Second,
	ForceAttemptHTTP2:     true,
	DisableCompression:    true,
	DialContext: (&net.Dialer{
		Timeout:   30 * time.Second,
		KeepAlive: 30 * time.Second,
	}).DialContext,
}

// NewUpstreamClient 返回共享 http.Client，测速与下载都通过它访问模型源站。
// 只限制等待响应头的时间，读取正文阶段的停滞由下载器的空闲超时处理。
func NewUpstreamClient(cfg *config.Config) *http.Client {
	transport := defaultTransport.Clone()
	transport.ResponseHeaderTimeout = UpstreamTimeout(cfg)

	return &http.Client{
		Transport: transport,
	}
}

// UpstreamTimeout 返回配置的上游超时，未配置时为 30s。
func UpstreamTimeout(cfg *config.Config) time.Duration {
	if cfg != nil && cfg.Global.UpstreamTimeout.DurationValue() > 0 {
		return cfg.Global.UpstreamTimeout.DurationValue()
	}
	return 30 * time.Second
}
