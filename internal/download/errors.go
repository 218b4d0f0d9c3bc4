package download

import (
	"errors"
	"fmt"
)

// ErrDownloadFailed 表示既没有成功的网络下载，也没有可回退的缓存。
var ErrDownloadFailed = errors.New("download failed")

// ErrStalled 表示在空闲超时内没有收到任何新字节。
var ErrStalled = errors.New("download stalled")

// Stage 标记下载在哪个阶段失败。
type Stage string

const (
	StageRequest Stage = "request"
	StageStatus  Stage = "status"
	StageStream  Stage = "stream"
)

// DownloadError 描述一次终止性的下载失败，errors.Is(err, ErrDownloadFailed) 恒成立。
type DownloadError struct {
	URL   string
	Stage Stage
	Err   error
}

func (e *DownloadError) Error() string {
	return fmt.Sprintf("download %s failed at %s: %v", e.URL, e.Stage, e.Err)
}

func (e *DownloadError) Unwrap() []error {
	return []error{ErrDownloadFailed, e.Err}
}
