package strategy

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"math/big"
	"sort"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"AgentFlow/internal/agent"
	xerrors "AgentFlow/internal/errors"
	"AgentFlow/pkg/logger"
)

// referenceDecimals 是换算交易金额时采用的 6 位小数参考资产（USDC）。
const referenceDecimals = 1e6

// Rebalancer 在资产配置偏离目标超过阈值时，卖出超配资产买入低配资产。
type Rebalancer struct {
	cfg    agent.RebalanceConfig
	router Router
}

// NewRebalancer 构造再平衡策略。
func NewRebalancer(cfg agent.RebalanceConfig, router Router) *Rebalancer {
	return &Rebalancer{cfg: cfg, router: router}
}

// Name 实现 Strategy 接口。
func (r *Rebalancer) Name() string { return "rebalance" }

// Evaluate 找出偏离目标配比最大的资产。偏离幅度相同时取键的字典序
// 最小者，保证结果与 map 遍历顺序无关。
func (r *Rebalancer) Evaluate(state agent.PortfolioState) (*agent.Decision, error) {
	if state.TotalValueUsd == 0 {
		return nil, nil
	}

	// 计算当前各资产的实际配比（百分比）。
	allocations := make(map[string]float64)
	for chain, balances := range state.Balances {
		for _, balance := range balances {
			key := fmt.Sprintf("%d:%s", chain, balance.Symbol)
			allocations[key] += balance.ValueUsd / state.TotalValueUsd * 100
		}
	}

	keys := make([]string, 0, len(r.cfg.TargetAllocations))
	for key := range r.cfg.TargetAllocations {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	var (
		deviatingAsset    string
		maxDeviation      float64
		targetAllocation  float64
		currentAllocation float64
	)
	for _, key := range keys {
		target := r.cfg.TargetAllocations[key]
		current := allocations[key]
		deviation := math.Abs(current - target)
		if deviation > maxDeviation {
			maxDeviation = deviation
			deviatingAsset = key
			targetAllocation = target
			currentAllocation = current
		}
	}

	if deviatingAsset == "" || maxDeviation < r.cfg.RebalanceThreshold {
		return nil, nil
	}

	chain, symbol, err := parseAssetKey(deviatingAsset)
	if err != nil {
		return nil, err
	}
	if symbol != "USDC" && symbol != "WETH" {
		return nil, xerrors.New(CodeEvaluationFailure,
			fmt.Sprintf("目标配置包含不支持的资产 %s", deviatingAsset))
	}

	// 低配时买入该资产（USDC -> WETH），超配时反向，始终在同一条链上交易。
	needsMore := currentAllocation < targetAllocation
	fromSymbol, toSymbol := "WETH", "USDC"
	if needsMore {
		fromSymbol, toSymbol = "USDC", "WETH"
	}
	fromToken, ok := agent.TokenAddress(chain, fromSymbol)
	if !ok {
		return nil, xerrors.New(CodeEvaluationFailure, fmt.Sprintf("链 %d 缺少 %s 地址", chain, fromSymbol))
	}
	toToken, _ := agent.TokenAddress(chain, toSymbol)

	decision := &agent.Decision{
		ID:        "rebalance-" + uuid.NewString(),
		Strategy:  r.Name(),
		Action:    agent.ActionRebalance,
		FromChain: chain,
		ToChain:   chain,
		FromToken: fromToken,
		ToToken:   toToken,
		Amount:    rebalanceAmount(state.TotalValueUsd, maxDeviation),
		Reason: fmt.Sprintf("%s 当前配比 %.1f%%，目标 %.1f%%",
			deviatingAsset, currentAllocation, targetAllocation),
		Confidence: math.Min(maxDeviation/r.cfg.RebalanceThreshold, 1),
		Priority:   PriorityRebalance,
	}
	return decision, nil
}

// Execute 实现 Strategy 接口，委托路由器完成结算。
func (r *Rebalancer) Execute(ctx context.Context, decision agent.Decision) (agent.ExecutionResult, error) {
	logger.Audit().Info("执行再平衡决策",
		slog.String("decision_id", decision.ID),
		slog.String("reason", decision.Reason),
	)
	return route(ctx, r.router, decision)
}

// rebalanceAmount 将需要移动的美元价值换算为 6 位小数的参考资产数量。
func rebalanceAmount(totalValueUsd, deviation float64) *big.Int {
	valueToMove := totalValueUsd * deviation / 100
	return big.NewInt(int64(math.Floor(valueToMove * referenceDecimals)))
}

// parseAssetKey 解析 "链ID:符号" 形式的资产键。
func parseAssetKey(key string) (agent.ChainID, string, error) {
	chainPart, symbol, found := strings.Cut(key, ":")
	if !found || symbol == "" {
		return 0, "", xerrors.New(CodeEvaluationFailure, fmt.Sprintf("非法的资产键 %q", key))
	}
	chain, err := strconv.ParseUint(chainPart, 10, 64)
	if err != nil {
		return 0, "", xerrors.Wrap(CodeEvaluationFailure, err, fmt.Sprintf("非法的链 ID %q", chainPart))
	}
	return agent.ChainID(chain), symbol, nil
}
