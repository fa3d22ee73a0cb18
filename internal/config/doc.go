// Package config 负责解析 settings.yaml 并提供带默认值的启动配置。
package config
