package nameservice

import (
	"context"
	"log/slog"
	"os"
	"strings"

	"AgentFlow/internal/agent"
	"AgentFlow/pkg/logger"
)

// TextKey 是承载策略配置的 ENS 文本记录键。
const TextKey = "agentflow.strategy"

// TextResolver 解析名称的文本记录。由以太坊客户端实现，
// 测试中以静态桩替代。
type TextResolver interface {
	ResolveText(ctx context.Context, name, key string) (string, error)
}

// Loader 把命名身份解析为 AgentConfig。解析失败永远不会向
// 调用方报错：按 ENS 记录、本地文件、内置默认值的顺序回退。
type Loader struct {
	resolver   TextResolver
	configFile string
}

// Option 定义可选的加载器配置。
type Option func(*Loader)

// WithResolver 配置 ENS 解析后端。
func WithResolver(resolver TextResolver) Option {
	return func(l *Loader) {
		l.resolver = resolver
	}
}

// WithConfigFile 配置本地回退配置文件。
func WithConfigFile(path string) Option {
	return func(l *Loader) {
		l.configFile = path
	}
}

// NewLoader 构造配置加载器。
func NewLoader(opts ...Option) *Loader {
	l := &Loader{}
	for _, opt := range opts {
		if opt != nil {
			opt(l)
		}
	}
	return l
}

// LoadConfig 解析给定名称的策略配置。任何一步失败都降级到
// 下一个来源，最终返回内置默认配置，因此调用方无需处理错误。
func (l *Loader) LoadConfig(ctx context.Context, ensName string) agent.AgentConfig {
	if l != nil && l.resolver != nil && strings.TrimSpace(ensName) != "" {
		text, err := l.resolver.ResolveText(ctx, normalize(ensName), TextKey)
		switch {
		case err != nil:
			logger.L().Warn("解析 ENS 配置失败，使用回退配置",
				slog.String("name", ensName),
				slog.Any("error", err),
			)
		case strings.TrimSpace(text) == "":
			logger.L().Info("ENS 未配置策略记录，使用回退配置",
				slog.String("name", ensName),
			)
		default:
			cfg, err := agent.ParseConfig([]byte(text))
			if err != nil {
				logger.L().Warn("ENS 策略记录非法，使用回退配置",
					slog.String("name", ensName),
					slog.Any("error", err),
				)
			} else {
				return cfg
			}
		}
	}

	if l != nil && l.configFile != "" {
		content, err := os.ReadFile(l.configFile)
		if err == nil {
			cfg, parseErr := agent.ParseConfig(content)
			if parseErr == nil {
				return cfg
			}
			logger.L().Warn("本地配置文件非法，使用默认配置",
				slog.String("path", l.configFile),
				slog.Any("error", parseErr),
			)
		} else if !os.IsNotExist(err) {
			logger.L().Warn("读取本地配置文件失败，使用默认配置",
				slog.String("path", l.configFile),
				slog.Any("error", err),
			)
		}
	}

	return agent.DefaultConfig()
}

// normalize 做最小化的名称规整：去空白并转小写。
// 完整的 UTS-46 规整由解析后端负责。
func normalize(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
