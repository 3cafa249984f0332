package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"usdt-credit/internal/model"
	"usdt-credit/internal/mq"
	"usdt-credit/internal/repository"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// CreditResult 入账结果
type CreditResult string

const (
	CreditResultCredited  CreditResult = "credited"  // 已入账
	CreditResultPending   CreditResult = "pending"   // 确认数不足，待确认
	CreditResultDuplicate CreditResult = "duplicate" // 幂等拦截，无任何变更
)

// DetectedDeposit 已检测到的链上充值，由扫描器或验证器交给入账引擎
type DetectedDeposit struct {
	TxHash        string
	FromAddress   string
	ToAddress     string
	UserID        int64
	GrossAmount   decimal.Decimal
	Confirmations int
	BlockNumber   uint64
}

// CreditPublisher 入账事件发布接口（MQ），发布失败不影响入账
type CreditPublisher interface {
	PublishCredited(msg *mq.DepositCreditedMessage) error
}

// CreditService 入账引擎：LedgerEntry 状态迁移与余额递增的唯一写入方。
// 幂等性最终由 tx_hash 唯一索引兜底，并发调用下先查后插的竞态
// 会在插入时被约束拦下并映射为 duplicate。
type CreditService struct {
	db          *gorm.DB
	ledgerRepo  repository.LedgerRepository
	balanceRepo repository.BalanceRepository
	notifyRepo  repository.NotificationRepository
	publisher   CreditPublisher

	requiredConfirmations int
	rate                  decimal.Decimal
	feeFraction           decimal.Decimal

	logger *zap.Logger
}

func NewCreditService(
	db *gorm.DB,
	ledgerRepo repository.LedgerRepository,
	balanceRepo repository.BalanceRepository,
	notifyRepo repository.NotificationRepository,
	publisher CreditPublisher,
	requiredConfirmations int,
	rate decimal.Decimal,
	feeFraction decimal.Decimal,
	logger *zap.Logger,
) *CreditService {
	return &CreditService{
		db:                    db,
		ledgerRepo:            ledgerRepo,
		balanceRepo:           balanceRepo,
		notifyRepo:            notifyRepo,
		publisher:             publisher,
		requiredConfirmations: requiredConfirmations,
		rate:                  rate,
		feeFraction:           feeFraction,
		logger:                logger,
	}
}

// ConvertAmount 链上毛额换算为内部代币额：gross × (1 − fee) × rate
func (s *CreditService) ConvertAmount(gross decimal.Decimal) decimal.Decimal {
	return gross.Mul(decimal.NewFromInt(1).Sub(s.feeFraction)).Mul(s.rate)
}

// Credit 处理一笔已检测的充值。同一 tx_hash 重复提交返回 duplicate，
// 不是错误；确认数达标则在单个事务内完成入账记录插入与余额递增。
func (s *CreditService) Credit(ctx context.Context, dep *DetectedDeposit) (CreditResult, error) {
	// 快路径去重：扫描器重放同一窗口时避免无谓的写冲突
	exists, err := s.ledgerRepo.ExistsByTxHash(ctx, dep.TxHash)
	if err != nil {
		return "", fmt.Errorf("查询入账记录失败: %w", err)
	}
	if exists {
		return CreditResultDuplicate, nil
	}

	credited := s.ConvertAmount(dep.GrossAmount)
	entry := &model.LedgerEntry{
		DepositID:      uuid.New().String(),
		UserID:         dep.UserID,
		TxHash:         dep.TxHash,
		FromAddress:    dep.FromAddress,
		ToAddress:      dep.ToAddress,
		GrossAmount:    dep.GrossAmount,
		CreditedAmount: credited,
		Confirmations:  dep.Confirmations,
		BlockNumber:    dep.BlockNumber,
		Verified:       true,
	}

	if dep.Confirmations < s.requiredConfirmations {
		entry.Status = model.LedgerStatusPending
		err := s.ledgerRepo.Create(s.db.WithContext(ctx), entry)
		if errors.Is(err, repository.ErrDuplicateEntry) {
			return CreditResultDuplicate, nil
		}
		if err != nil {
			return "", fmt.Errorf("插入待确认记录失败: %w", err)
		}

		s.logger.Info("充值待确认",
			zap.String("tx_hash", dep.TxHash),
			zap.Int64("user_id", dep.UserID),
			zap.Int("confirmations", dep.Confirmations),
			zap.Int("required", s.requiredConfirmations))
		return CreditResultPending, nil
	}

	entry.Status = model.LedgerStatusApproved
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.ledgerRepo.Create(tx, entry); err != nil {
			return err
		}
		return s.balanceRepo.Credit(tx, dep.UserID, credited)
	})
	if errors.Is(err, repository.ErrDuplicateEntry) {
		return CreditResultDuplicate, nil
	}
	if err != nil {
		return "", fmt.Errorf("入账事务失败: %w", err)
	}

	s.logger.Info("充值已入账",
		zap.String("tx_hash", dep.TxHash),
		zap.Int64("user_id", dep.UserID),
		zap.String("gross", dep.GrossAmount.String()),
		zap.String("credited", credited.String()))

	s.emitCredited(ctx, entry)
	return CreditResultCredited, nil
}

// Promote 将一条待确认记录提升为已入账。status=pending 谓词保证
// 同一条记录至多提升一次，提升与余额递增在同一事务内。
func (s *CreditService) Promote(ctx context.Context, entry *model.LedgerEntry, confirmations int) (bool, error) {
	var promoted bool
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		ok, err := s.ledgerRepo.PromoteToApproved(tx, entry.TxHash, confirmations)
		if err != nil {
			return err
		}
		promoted = ok
		if !ok {
			return nil
		}
		return s.balanceRepo.Credit(tx, entry.UserID, entry.CreditedAmount)
	})
	if err != nil {
		return false, fmt.Errorf("提升入账失败 (tx: %s): %w", entry.TxHash, err)
	}

	if promoted {
		s.logger.Info("待确认充值已成熟入账",
			zap.String("tx_hash", entry.TxHash),
			zap.Int64("user_id", entry.UserID),
			zap.Int("confirmations", confirmations))

		entry.Status = model.LedgerStatusApproved
		entry.Confirmations = confirmations
		s.emitCredited(ctx, entry)
	}
	return promoted, nil
}

// emitCredited 入账之后的尽力而为通知：站内通知、MQ 事件、行为流水。
// 任何一步失败只记日志，绝不回滚已提交的入账。
func (s *CreditService) emitCredited(ctx context.Context, entry *model.LedgerEntry) {
	notification := &model.Notification{
		UserID:      entry.UserID,
		Kind:        "deposit",
		Title:       "充值到账",
		Body:        fmt.Sprintf("充值 %s USDT 已入账，到账 %s 代币", entry.GrossAmount.String(), entry.CreditedAmount.String()),
		PendingPush: true,
	}
	if err := s.notifyRepo.Create(ctx, notification); err != nil {
		s.logger.Warn("创建入账通知失败", zap.String("tx_hash", entry.TxHash), zap.Error(err))
	}

	if s.publisher != nil {
		msg := &mq.DepositCreditedMessage{
			DepositID:      entry.DepositID,
			UserID:         entry.UserID,
			TxHash:         entry.TxHash,
			GrossAmount:    entry.GrossAmount.String(),
			CreditedAmount: entry.CreditedAmount.String(),
			Confirmations:  entry.Confirmations,
			Timestamp:      time.Now().Unix(),
		}
		if err := s.publisher.PublishCredited(msg); err != nil {
			s.logger.Warn("发布入账事件失败", zap.String("tx_hash", entry.TxHash), zap.Error(err))
		}
	}

	desc := fmt.Sprintf("充值入账 %s (tx: %s)", entry.CreditedAmount.String(), entry.TxHash)
	if err := s.balanceRepo.AppendActivity(ctx, entry.UserID, "deposit", desc); err != nil {
		s.logger.Warn("写入行为流水失败", zap.String("tx_hash", entry.TxHash), zap.Error(err))
	}
}
