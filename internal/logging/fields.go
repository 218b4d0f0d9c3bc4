package logging

import "github.com/sirupsen/logrus"

// BaseFields 构建 action + 配置路径等基础字段，便于不同入口复用。
func BaseFields(action, configPath string) logrus.Fields {
	return logrus.Fields{
		"action":     action,
		"configPath": configPath,
	}
}

// AssetFields 提供 url/来源/测速档位字段，供缓存与下载日志复用。
func AssetFields(url, source, tier string) logrus.Fields {
	return logrus.Fields{
		"url":    url,
		"source": source,
		"tier":   tier,
	}
}
