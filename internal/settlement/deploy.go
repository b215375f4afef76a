package settlement

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/alanyoungcy/marketcore/internal/contracts"
	"github.com/alanyoungcy/marketcore/internal/domain"
	"github.com/alanyoungcy/marketcore/internal/evm"
	"github.com/alanyoungcy/marketcore/internal/gateway"
)

// QuestionID is the deterministic id of a question text.
func QuestionID(question string) common.Hash {
	return crypto.Keccak256Hash([]byte(question))
}

// deployPlan is a validated DeployRequest.
type deployPlan struct {
	req        domain.DeployRequest
	network    *network
	factory    contracts.Contract
	oracle     common.Address
	collateral common.Address
	event      string
	field      string
}

type network struct {
	client evm.Client
	ct     contracts.Contract
}

func (o *Orchestrator) validateDeploy(req domain.DeployRequest) (deployPlan, error) {
	var errs []error
	n := len(req.Outcomes)
	if strings.TrimSpace(req.Question) == "" {
		errs = append(errs, errors.New("question is empty"))
	}
	if n < 2 {
		errs = append(errs, fmt.Errorf("need at least 2 outcomes, got %d", n))
	}
	if limit := req.Factory.MaxSupportedOutcomes; limit > 0 && n > limit {
		errs = append(errs, fmt.Errorf("factory %q supports at most %d outcomes, got %d", req.Factory.Name, limit, n))
	}
	for i, title := range req.Outcomes {
		if strings.TrimSpace(title) == "" {
			errs = append(errs, fmt.Errorf("outcome %d has no title", i))
		}
	}
	if err := evm.MustPositive(req.InitialLiquidity, "initial liquidity"); err != nil {
		errs = append(errs, err)
	}
	if !common.IsHexAddress(req.Oracle.Address) {
		errs = append(errs, fmt.Errorf("invalid oracle address %q", req.Oracle.Address))
	}
	if !common.IsHexAddress(req.Collateral.Address) {
		errs = append(errs, fmt.Errorf("invalid collateral address %q", req.Collateral.Address))
	}
	if req.Factory.ChainID != 0 && req.Factory.ChainID != req.ChainID {
		errs = append(errs, fmt.Errorf("factory belongs to chain %d, not %d", req.Factory.ChainID, req.ChainID))
	}
	if len(errs) > 0 {
		return deployPlan{}, fmt.Errorf("settlement: deploy: %w: %w", domain.ErrValidation, errors.Join(errs...))
	}

	if req.Factory.MarketType != domain.MarketTypeLMSR {
		return deployPlan{}, fmt.Errorf("settlement: deploy %q factory: %w", req.Factory.MarketType, domain.ErrNotImplemented)
	}
	factory, err := contracts.Factory(req.Factory)
	if err != nil {
		return deployPlan{}, fmt.Errorf("settlement: deploy: %w", err)
	}
	net, err := o.network(req.ChainID)
	if err != nil {
		return deployPlan{}, fmt.Errorf("settlement: deploy: %w", err)
	}

	plan := deployPlan{
		req:        req,
		network:    net,
		factory:    factory,
		oracle:     common.HexToAddress(req.Oracle.Address),
		collateral: common.HexToAddress(req.Collateral.Address),
		event:      req.Factory.CreationEventName,
		field:      req.Factory.MarketAddressField,
	}
	if plan.event == "" {
		plan.event = contracts.EventLMSRCreation
	}
	if plan.field == "" {
		plan.field = contracts.LMSRCreationAddressField
	}
	if _, ok := factory.ABI.Events[plan.event]; !ok {
		return deployPlan{}, fmt.Errorf("settlement: deploy: factory %q has no event %q: %w", req.Factory.Name, plan.event, domain.ErrConfiguration)
	}
	return plan, nil
}

func (o *Orchestrator) network(chainID int64) (*network, error) {
	net, err := o.Networks.Get(chainID)
	if err != nil {
		return nil, err
	}
	if !common.IsHexAddress(net.Chain.ConditionalTokensAddress) {
		return nil, fmt.Errorf("chain %d has no conditional tokens contract: %w", chainID, domain.ErrConfiguration)
	}
	return &network{
		client: net.HTTP,
		ct:     contracts.ConditionalTokens(common.HexToAddress(net.Chain.ConditionalTokensAddress)),
	}, nil
}

// Deploy prepares the condition and creates its market maker. Every input is
// validated before the first chain call.
func (o *Orchestrator) Deploy(ctx context.Context, req domain.DeployRequest) (domain.DeploymentResult, error) {
	plan, err := o.validateDeploy(req)
	if err != nil {
		return domain.DeploymentResult{}, err
	}
	client := plan.network.client
	ct := plan.network.ct

	operator, err := o.Accounts.Operator(ctx, client)
	if err != nil {
		return domain.DeploymentResult{}, fmt.Errorf("settlement: deploy: %w", err)
	}

	outcomeCount := big.NewInt(int64(len(req.Outcomes)))
	questionID := QuestionID(req.Question)
	logger := o.logger.With(
		slog.Int64("chain_id", req.ChainID),
		slog.String("question_id", questionID.Hex()),
	)

	prepared, err := o.Gateway.Invoke(ctx, ct, gateway.Options{Method: "prepareCondition", Runner: operator}, plan.oracle, questionID, outcomeCount)
	if err != nil {
		return domain.DeploymentResult{}, fmt.Errorf("settlement: prepare condition: %w", err)
	}
	logger.InfoContext(ctx, "settlement: condition prepared", slog.String("tx", prepared.TxHash().Hex()))

	res, err := o.Gateway.Invoke(ctx, ct, gateway.Options{Method: "getConditionId", View: true, Client: client}, plan.oracle, questionID, outcomeCount)
	if err != nil {
		return domain.DeploymentResult{}, fmt.Errorf("settlement: condition id: %w", err)
	}
	raw, ok := res.Values[0].([32]byte)
	if !ok {
		return domain.DeploymentResult{}, fmt.Errorf("settlement: condition id: unexpected %T: %w", res.Values[0], domain.ErrInternal)
	}
	conditionID := common.Hash(raw)

	decimals, err := o.Tokens.Decimals(ctx, client, req.ChainID, plan.collateral)
	if err != nil {
		return domain.DeploymentResult{}, fmt.Errorf("settlement: deploy: %w", err)
	}
	liquidity := evm.ToBaseUnits(req.InitialLiquidity, decimals)
	if _, err := o.Tokens.EnsureBalance(ctx, operator, plan.collateral, liquidity); err != nil {
		return domain.DeploymentResult{}, fmt.Errorf("settlement: fund liquidity: %w", err)
	}
	if _, err := o.Tokens.Approve(ctx, operator, plan.collateral, plan.factory.Address, liquidity); err != nil {
		return domain.DeploymentResult{}, fmt.Errorf("settlement: approve factory: %w", err)
	}

	created, err := o.Gateway.Invoke(ctx, plan.factory, gateway.Options{Method: "createLMSRMarketMaker", Runner: operator},
		ct.Address, plan.collateral, [][32]byte{conditionID}, o.cfg.LMSRFee, o.cfg.Whitelist, liquidity)
	if err != nil {
		return domain.DeploymentResult{}, fmt.Errorf("settlement: create market maker: %w", err)
	}
	archived := o.archiveReceipt(ctx, req.ChainID, "deploy", created.Receipt)

	mmAddr, err := marketAddress(created.Receipt, plan)
	if err != nil {
		integrity := &domain.IntegrityError{
			ChainID: req.ChainID,
			TxHash:  created.TxHash().Hex(),
			Detail:  fmt.Sprintf("condition %s prepared but market address unknown: %v", conditionID.Hex(), err),
		}
		logger.ErrorContext(ctx, "settlement: market maker address missing from creation receipt",
			slog.String("condition_id", conditionID.Hex()),
			slog.String("prepare_tx", prepared.TxHash().Hex()),
			slog.String("create_tx", created.TxHash().Hex()),
			slog.String("event", plan.event),
			slog.String("field", plan.field),
			slog.Int("receipt_logs", len(created.Receipt.Logs)),
			slog.String("archive", archived),
			slog.String("error", err.Error()),
		)
		o.audit(ctx, "integrity_failure", map[string]any{
			"chain_id":     req.ChainID,
			"condition_id": conditionID.Hex(),
			"tx":           created.TxHash().Hex(),
			"archive":      archived,
			"detail":       integrity.Detail,
		})
		return domain.DeploymentResult{}, integrity
	}

	result := domain.DeploymentResult{
		ChainID:                req.ChainID,
		QuestionID:             questionID.Hex(),
		ConditionID:            conditionID.Hex(),
		MarketMakerAddress:     mmAddr.Hex(),
		PrepareConditionTxHash: prepared.TxHash().Hex(),
		CreateMarketTxHash:     created.TxHash().Hex(),
		OutcomeCount:           len(req.Outcomes),
		DeployedAt:             o.now().UTC(),
	}
	o.audit(ctx, "market_deployed", map[string]any{
		"chain_id":     req.ChainID,
		"condition_id": result.ConditionID,
		"market_maker": result.MarketMakerAddress,
		"create_tx":    result.CreateMarketTxHash,
	})
	logger.InfoContext(ctx, "settlement: market deployed",
		slog.String("condition_id", result.ConditionID),
		slog.String("market_maker", result.MarketMakerAddress),
	)
	return result, nil
}

func marketAddress(receipt *types.Receipt, plan deployPlan) (common.Address, error) {
	logs, err := gateway.EventLogs(receipt, plan.factory, plan.event)
	if err != nil {
		return common.Address{}, err
	}
	for _, l := range logs {
		if addr, ok := l.Args[plan.field].(common.Address); ok && addr != (common.Address{}) {
			return addr, nil
		}
	}
	return common.Address{}, fmt.Errorf("no %s event with field %q", plan.event, plan.field)
}

// ValidateDeployment re-reads the outcome slot count of a condition. A
// mismatch is a domain.ErrConflict.
func (o *Orchestrator) ValidateDeployment(ctx context.Context, chainID int64, conditionID string, expectedOutcomes int) (bool, error) {
	net, err := o.network(chainID)
	if err != nil {
		return false, fmt.Errorf("settlement: validate deployment: %w", err)
	}
	res, err := o.Gateway.Invoke(ctx, net.ct, gateway.Options{Method: "getOutcomeSlotCount", View: true, Client: net.client}, common.HexToHash(conditionID))
	if err != nil {
		return false, fmt.Errorf("settlement: validate deployment: %w", err)
	}
	count, ok := res.Values[0].(*big.Int)
	if !ok {
		return false, fmt.Errorf("settlement: validate deployment: unexpected %T: %w", res.Values[0], domain.ErrInternal)
	}
	if !count.IsInt64() || count.Int64() != int64(expectedOutcomes) {
		return false, fmt.Errorf("settlement: condition %s has %s outcome slots, want %d: %w", conditionID, count, expectedOutcomes, domain.ErrConflict)
	}
	return true, nil
}

func (o *Orchestrator) archiveReceipt(ctx context.Context, chainID int64, kind string, receipt *types.Receipt) string {
	if o.Archiver == nil || receipt == nil {
		return ""
	}
	path, err := o.Archiver.ArchiveReceipt(ctx, chainID, kind, receipt)
	if err != nil {
		o.logger.WarnContext(ctx, "settlement: archive receipt failed",
			slog.String("kind", kind),
			slog.String("tx", receipt.TxHash.Hex()),
			slog.String("error", err.Error()),
		)
		return ""
	}
	return path
}
