// Package config 负责解析守护进程的 JSON 配置文件，
// 并为缺省字段填充合理的默认值。
package config
