package main

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"AgentFlow/internal/agent"
	"AgentFlow/internal/api"
	"AgentFlow/internal/bridge"
	"AgentFlow/internal/config"
	"AgentFlow/internal/engine"
	"AgentFlow/internal/events"
	"AgentFlow/internal/executor"
	"AgentFlow/internal/history"
	"AgentFlow/internal/market"
	"AgentFlow/internal/nameservice"
	"AgentFlow/internal/session"
	"AgentFlow/internal/strategy"
	web3 "AgentFlow/internal/web3"
	"AgentFlow/internal/web3/provider"
	"AgentFlow/pkg/logger"
)

// main 是 AgentFlow 守护进程的入口。
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		log.Fatalf("agentflowd 运行失败: %v", err)
	}
}

func run(ctx context.Context) error {
	configPath := os.Getenv("AGENTFLOW_CONFIG")
	if configPath == "" {
		configPath = filepath.Join("configs", "agentflow.json")
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	if err := logger.Init(logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
		Audit: logger.AuditConfig{
			Enabled: cfg.Logging.AuditEnabled,
			Path:    cfg.Logging.AuditPath,
		},
	}); err != nil {
		return err
	}
	defer logger.Sync()

	// 执行日志存储。
	var journal history.Store
	switch cfg.Journal.Driver {
	case "", "memory":
		journal = history.NewMemoryStore()
	case "mysql":
		store, err := history.NewMySQLStore(history.MySQLConfig{
			DSN:             cfg.Journal.DSN,
			MaxOpenConns:    cfg.Journal.MaxOpenConns,
			MaxIdleConns:    cfg.Journal.MaxIdleConns,
			ConnMaxLifetime: time.Duration(cfg.Journal.ConnMaxLifetimeSeconds) * time.Second,
			ConnMaxIdleTime: time.Duration(cfg.Journal.ConnMaxIdleTimeSeconds) * time.Second,
		})
		if err != nil {
			return err
		}
		journal = store
	default:
		return fmt.Errorf("未知的执行日志驱动: %s", cfg.Journal.Driver)
	}
	defer func() {
		if journal != nil {
			_ = journal.Close()
		}
	}()

	// 事件总线。
	var bus events.Bus
	switch cfg.EventBus.Driver {
	case "", "memory":
		bus = events.NewMemoryBus(1024)
	case "redis":
		redisBus, err := events.NewRedisBus(events.RedisBusConfig{
			Address:   cfg.EventBus.Redis.Address,
			Password:  cfg.EventBus.Redis.Password,
			DB:        cfg.EventBus.Redis.DB,
			Stream:    cfg.EventBus.Redis.Stream,
			BlockWait: time.Duration(cfg.EventBus.Redis.BlockWait) * time.Second,
		})
		if err != nil {
			return err
		}
		bus = redisBus
	case "rabbitmq":
		mqBus, err := events.NewRabbitMQBus(events.RabbitMQBusConfig{
			URL:        cfg.EventBus.RabbitMQ.URL,
			Queue:      cfg.EventBus.RabbitMQ.Queue,
			Prefetch:   cfg.EventBus.RabbitMQ.Prefetch,
			Durable:    cfg.EventBus.RabbitMQ.Durable,
			AutoDelete: cfg.EventBus.RabbitMQ.AutoDelete,
		})
		if err != nil {
			return err
		}
		bus = mqBus
	default:
		return fmt.Errorf("未知的事件总线驱动: %s", cfg.EventBus.Driver)
	}
	defer func() {
		if bus != nil {
			if err := bus.Close(); err != nil {
				log.Printf("关闭事件总线失败: %v", err)
			}
		}
	}()

	// 链客户端注册表。
	chainRegistry, err := provider.NewRegistry(ctx, cfg.Web3)
	if err != nil {
		return err
	}
	defer chainRegistry.Close()

	// 策略配置：ENS 文本记录优先，其次本地文件，最后内置默认值。
	loaderOpts := []nameservice.Option{
		nameservice.WithConfigFile(cfg.Agent.ConfigFile),
	}
	if defaultClient, err := chainRegistry.DefaultClient(); err == nil {
		loaderOpts = append(loaderOpts, nameservice.WithResolver(defaultClient))
	}
	agentCfg := nameservice.NewLoader(loaderOpts...).LoadConfig(ctx, cfg.Agent.ENSName)

	// 支付会话。
	sessionKey, err := loadSessionKey(cfg.Agent.SessionKeyFile)
	if err != nil {
		return err
	}
	signingClient, err := session.NewSigningClient(sessionKey)
	if err != nil {
		return err
	}
	sessions := session.NewManager(signingClient)

	// 行情数据源。
	var marketSource *market.StaticSource
	if cfg.Agent.MarketDataFile != "" {
		marketSource, err = market.LoadStaticSource(cfg.Agent.MarketDataFile)
		if err != nil {
			return err
		}
	} else {
		marketSource = market.NewStaticSource(market.Data{})
	}

	owner := common.HexToAddress(cfg.Agent.OwnerAddress)

	// 代理授权检查：优先使用进程配置的注册合约，其次为默认链
	// 在链配置中声明的合约；两者均未配置时跳过。
	registryContract := common.HexToAddress(cfg.Agent.RegistryContract)
	if registryContract == (common.Address{}) {
		if addr, ok := chainRegistry.RegistryContract(chainRegistry.DefaultChain()); ok {
			registryContract = addr
		}
	}
	if registryContract != (common.Address{}) {
		client, err := chainRegistry.DefaultClient()
		if err != nil {
			return err
		}
		status, err := client.RegistryStatus(ctx, registryContract, owner)
		if err != nil {
			log.Printf("查询代理注册表失败: %v", err)
		} else if !status.Authorized {
			return fmt.Errorf("代理地址 %s 未在注册合约 %s 中获得授权",
				owner.Hex(), registryContract.Hex())
		}
	}

	bridgeRouter := bridge.NewRouter(bridge.NewSimulatedQuoter(), nil)
	exec := executor.New(sessions, bridgeRouter, nil, executor.WithOwner(owner))

	strategies := strategy.Build(agentCfg.Strategies, strategy.Deps{
		Prices: marketSource,
		Yields: marketSource,
		Router: exec,
	})

	stateProvider := web3.NewPortfolioSource(chainRegistry, owner)

	// 引擎事件落到总线，由记录器异步持久化。
	eng := engine.New(agentCfg, strategies, engine.WithEvents(engine.Events{
		OnDecision: func(decision agent.Decision) {
			if err := bus.Publish(ctx, events.NewDecisionEvent(decision)); err != nil {
				log.Printf("发布决策事件失败: %v", err)
			}
		},
		OnExecution: func(decision agent.Decision, result agent.ExecutionResult) {
			record := history.NewRecord(decision, result)
			if err := bus.Publish(ctx, events.NewExecutionEvent(record)); err != nil {
				log.Printf("发布执行事件失败: %v", err)
			}
		},
		OnError: func(err error) {
			if publishErr := bus.Publish(ctx, events.NewErrorEvent(err)); publishErr != nil {
				log.Printf("发布错误事件失败: %v", publishErr)
			}
		},
	}))

	recorder := events.NewRecorder(journal)
	recorderCtx, recorderCancel := context.WithCancel(ctx)
	defer recorderCancel()
	go func() {
		if err := recorder.Run(recorderCtx, bus, 2); err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("事件记录器异常退出: %v", err)
		}
	}()

	// 按配置自动开启会话。
	if agentCfg.YellowSession.AutoDeposit {
		if _, err := sessions.CreateSession(ctx, agentCfg.YellowSession.DepositAmount.BigInt()); err != nil {
			log.Printf("自动开启会话失败: %v", err)
		} else if err := bus.Publish(ctx, events.NewSessionEvent(
			events.TypeSessionOpened, sessions.Session().ID, "")); err != nil {
			log.Printf("发布会话事件失败: %v", err)
		}
	}

	interval := time.Duration(cfg.Agent.IntervalSeconds) * time.Second
	if cfg.Agent.AutoStartEngine {
		if err := eng.Start(stateProvider, interval); err != nil {
			return err
		}
		defer eng.Stop()
	}

	server := api.NewServer(cfg.Server.Address, eng, stateProvider, journal, sessions, interval)
	if err := server.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// loadSessionKey 从文件加载会话签名私钥，文件不存在时生成临时密钥。
func loadSessionKey(path string) (*ecdsa.PrivateKey, error) {
	if path == "" {
		return crypto.GenerateKey()
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		log.Printf("会话密钥文件 %s 不存在，使用临时密钥", path)
		return crypto.GenerateKey()
	}
	key, err := crypto.LoadECDSA(path)
	if err != nil {
		return nil, fmt.Errorf("加载会话密钥失败: %w", err)
	}
	return key, nil
}
