package service

import (
	"context"
	"fmt"
	"strings"

	"usdt-credit/internal/model"
	"usdt-credit/internal/repository"
	"usdt-credit/pkg/chain"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// TxReader 验证器依赖的链读取接口
type TxReader interface {
	TxSummary(ctx context.Context, txHash string) (*chain.TxSummary, error)
}

// VerifyResult 自报交易的验证结果。确认数与到账金额一律由链上收据
// 独立推导，客户端上报的金额只作为下限校验。
type VerifyResult struct {
	Verified      bool         `json:"verified"`
	Result        CreditResult `json:"result,omitempty"`
	Confirmations int          `json:"confirmations"`
	AmountOnChain string       `json:"amount_on_chain"`
	Reason        string       `json:"reason,omitempty"`
}

// VerifyService 按交易哈希验证用户自报的充值。发起方匹配用户绑定
// 钱包的走入账引擎（与扫描路径同一条幂等链路）；无法归属的进入
// 无主充值队列等人工处理，绝不自动入账给未验证的归属人。
type VerifyService struct {
	chainClient    TxReader
	accountRepo    repository.AccountRepository
	unresolvedRepo repository.UnresolvedRepository
	credit         *CreditService

	logger *zap.Logger
}

func NewVerifyService(
	chainClient TxReader,
	accountRepo repository.AccountRepository,
	unresolvedRepo repository.UnresolvedRepository,
	credit *CreditService,
	logger *zap.Logger,
) *VerifyService {
	return &VerifyService{
		chainClient:    chainClient,
		accountRepo:    accountRepo,
		unresolvedRepo: unresolvedRepo,
		credit:         credit,
		logger:         logger,
	}
}

// Verify 验证一笔自报交易
func (s *VerifyService) Verify(ctx context.Context, txHash, expectedDest string, minAmount decimal.Decimal, userID int64) (*VerifyResult, error) {
	summary, err := s.chainClient.TxSummary(ctx, txHash)
	if err != nil {
		return nil, fmt.Errorf("获取交易信息失败: %w", err)
	}

	if !summary.Success {
		return &VerifyResult{
			Confirmations: summary.Confirmations,
			AmountOnChain: "0",
			Reason:        "交易在链上执行失败",
		}, nil
	}

	// 独立汇总转入目标地址的金额，不信任客户端上报值
	amount := decimal.Zero
	fromAddress := summary.Sender
	for _, ev := range summary.Transfers {
		if strings.EqualFold(ev.To, expectedDest) {
			amount = amount.Add(ev.Amount)
			if ev.From != "" {
				fromAddress = ev.From
			}
		}
	}

	result := &VerifyResult{
		Confirmations: summary.Confirmations,
		AmountOnChain: amount.String(),
	}

	if amount.IsZero() {
		result.Reason = "交易中没有转入目标地址的代币"
		return result, nil
	}

	if amount.LessThan(minAmount) {
		result.Reason = fmt.Sprintf("到账金额 %s 低于申报下限 %s", amount.String(), minAmount.String())
		s.queueUnresolved(ctx, txHash, fromAddress, expectedDest, amount, summary.Confirmations, result.Reason)
		return result, nil
	}

	linked, err := s.accountRepo.IsWalletLinkedToUser(ctx, userID, summary.Sender)
	if err != nil {
		return nil, fmt.Errorf("查询绑定钱包失败: %w", err)
	}
	if !linked {
		result.Reason = "交易发起方不是该用户绑定的钱包，转入人工处理"
		s.queueUnresolved(ctx, txHash, fromAddress, expectedDest, amount, summary.Confirmations, result.Reason)
		return result, nil
	}

	// 与扫描路径同一条入账链路：确认数不足会落为 pending，重复自报
	// 会被幂等拦截
	creditResult, err := s.credit.Credit(ctx, &DetectedDeposit{
		TxHash:        txHash,
		FromAddress:   fromAddress,
		ToAddress:     expectedDest,
		UserID:        userID,
		GrossAmount:   amount,
		Confirmations: summary.Confirmations,
		BlockNumber:   summary.BlockNumber,
	})
	if err != nil {
		return nil, err
	}

	result.Verified = true
	result.Result = creditResult
	return result, nil
}

// queueUnresolved 验证失败的充值入人工队列，同一 tx_hash 去重
func (s *VerifyService) queueUnresolved(ctx context.Context, txHash, from, to string, amount decimal.Decimal, confirmations int, reason string) {
	deposit := &model.UnresolvedDeposit{
		TxHash:        txHash,
		FromAddress:   from,
		ToAddress:     to,
		Amount:        amount,
		Confirmations: confirmations,
		Reason:        reason,
	}
	if err := s.unresolvedRepo.Create(ctx, deposit); err != nil {
		s.logger.Error("无主充值入队失败", zap.String("tx_hash", txHash), zap.Error(err))
		return
	}
	s.logger.Info("充值转入人工处理队列",
		zap.String("tx_hash", txHash),
		zap.String("reason", reason))
}

// ResolveMatch 管理员将无主充值匹配给指定用户，经入账引擎入账
func (s *VerifyService) ResolveMatch(ctx context.Context, id, userID int64) (CreditResult, error) {
	deposit, err := s.unresolvedRepo.GetByID(ctx, id)
	if err != nil {
		return "", err
	}
	if deposit.Status != model.UnresolvedStatusOpen {
		return "", fmt.Errorf("无主充值已处理 (status: %s)", deposit.Status)
	}

	result, err := s.credit.Credit(ctx, &DetectedDeposit{
		TxHash:        deposit.TxHash,
		FromAddress:   deposit.FromAddress,
		ToAddress:     deposit.ToAddress,
		UserID:        userID,
		GrossAmount:   deposit.Amount,
		Confirmations: deposit.Confirmations,
	})
	if err != nil {
		return "", err
	}

	if err := s.unresolvedRepo.MarkMatched(ctx, id); err != nil {
		return "", err
	}

	s.logger.Info("无主充值已人工匹配",
		zap.Int64("id", id),
		zap.Int64("user_id", userID),
		zap.String("result", string(result)))
	return result, nil
}

// ResolveDismiss 管理员忽略一条无主充值
func (s *VerifyService) ResolveDismiss(ctx context.Context, id int64) error {
	return s.unresolvedRepo.MarkDismissed(ctx, id)
}
