package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// Config 描述了 AgentFlow 守护进程在启动阶段需要加载的核心配置。
type Config struct {
	Server   ServerConfig   `json:"server"`
	Agent    AgentConfig    `json:"agent"`
	Journal  JournalConfig  `json:"journal"`
	EventBus EventBusConfig `json:"event_bus"`
	Web3     Web3Config     `json:"web3"`
	Logging  LoggingConfig  `json:"logging"`
	Runtime  RuntimeConfig  `json:"runtime"`
}

// ServerConfig 控制 API 服务的监听地址等参数。
type ServerConfig struct {
	Address string `json:"address"`
}

// AgentConfig 指定智能体身份与策略配置的来源。
// ConfigFile 指向 AgentConfig JSON 文件；ENSName 非空时优先
// 从 ENS 文本记录解析，失败再回退到文件或内置默认值。
type AgentConfig struct {
	ENSName          string `json:"ens_name"`
	ConfigFile       string `json:"config_file"`
	IntervalSeconds  int    `json:"interval_seconds"`
	SessionKeyFile   string `json:"session_key_file"`
	MarketDataFile   string `json:"market_data_file"`
	AutoStartEngine  bool   `json:"auto_start_engine"`
	OwnerAddress     string `json:"owner_address"`
	RegistryContract string `json:"registry_contract"`
}

// JournalConfig 描述执行日志存储的后端连接信息。
type JournalConfig struct {
	Driver                 string `json:"driver"`
	DSN                    string `json:"dsn"`
	MaxOpenConns           int    `json:"max_open_conns"`
	MaxIdleConns           int    `json:"max_idle_conns"`
	ConnMaxLifetimeSeconds int    `json:"conn_max_lifetime_seconds"`
	ConnMaxIdleTimeSeconds int    `json:"conn_max_idle_time_seconds"`
}

// EventBusConfig 选择执行事件总线的驱动。
type EventBusConfig struct {
	Driver   string         `json:"driver"`
	Redis    RedisConfig    `json:"redis"`
	RabbitMQ RabbitMQConfig `json:"rabbitmq"`
}

// RedisConfig 描述 Redis 事件流的连接信息。
type RedisConfig struct {
	Address   string `json:"address"`
	Password  string `json:"password"`
	DB        int    `json:"db"`
	Stream    string `json:"stream"`
	BlockWait int    `json:"block_wait_seconds"`
}

// RabbitMQConfig 描述 RabbitMQ 事件队列的连接信息。
type RabbitMQConfig struct {
	URL        string `json:"url"`
	Queue      string `json:"queue"`
	Prefetch   int    `json:"prefetch"`
	Durable    bool   `json:"durable"`
	AutoDelete bool   `json:"auto_delete"`
}

// Web3Config 包含访问区块链节点所需的配置。
type Web3Config struct {
	ChainConfig  string `json:"chain_config"`
	DefaultChain string `json:"default_chain"`
	RPCURL       string `json:"rpc_url"`
}

// LoggingConfig 控制日志输出方式。
type LoggingConfig struct {
	Level        string `json:"level"`
	Format       string `json:"format"`
	Output       string `json:"output"`
	AuditEnabled bool   `json:"audit_enabled"`
	AuditPath    string `json:"audit_path"`
}

// RuntimeConfig 用于放置运行时的通用参数。
type RuntimeConfig struct {
	DataDir string `json:"data_dir"`
}

// Load 负责解析指定路径的 JSON 配置文件。
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("配置文件路径为空")
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("打开配置文件失败: %w", err)
	}
	defer file.Close()

	content, err := io.ReadAll(file)
	if err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(content, &cfg); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	cfg.applyDefaults(filepath.Dir(path))

	return &cfg, nil
}

// applyDefaults 在用户未填写部分字段时设置合理的默认值。
func (c *Config) applyDefaults(baseDir string) {
	if c.Server.Address == "" {
		c.Server.Address = ":8080"
	}

	if c.Agent.IntervalSeconds <= 0 {
		c.Agent.IntervalSeconds = 30
	}

	if c.Journal.Driver == "" {
		c.Journal.Driver = "memory"
	}

	if c.EventBus.Driver == "" {
		c.EventBus.Driver = "memory"
	}
	if c.EventBus.Redis.Stream == "" {
		c.EventBus.Redis.Stream = "agentflow:executions"
	}
	if c.EventBus.RabbitMQ.Queue == "" {
		c.EventBus.RabbitMQ.Queue = "agentflow.executions"
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}

	if c.Runtime.DataDir == "" {
		c.Runtime.DataDir = filepath.Join(baseDir, "data")
	} else if !filepath.IsAbs(c.Runtime.DataDir) {
		c.Runtime.DataDir = filepath.Join(baseDir, c.Runtime.DataDir)
	}

	if c.Agent.ConfigFile != "" && !filepath.IsAbs(c.Agent.ConfigFile) {
		c.Agent.ConfigFile = filepath.Join(baseDir, c.Agent.ConfigFile)
	}
	if c.Agent.MarketDataFile != "" && !filepath.IsAbs(c.Agent.MarketDataFile) {
		c.Agent.MarketDataFile = filepath.Join(baseDir, c.Agent.MarketDataFile)
	}
	if c.Agent.SessionKeyFile != "" && !filepath.IsAbs(c.Agent.SessionKeyFile) {
		c.Agent.SessionKeyFile = filepath.Join(baseDir, c.Agent.SessionKeyFile)
	}
	if c.Web3.ChainConfig != "" && !filepath.IsAbs(c.Web3.ChainConfig) {
		c.Web3.ChainConfig = filepath.Join(baseDir, c.Web3.ChainConfig)
	}
}
