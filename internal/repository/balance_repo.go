package repository

import (
	"context"
	"errors"
	"time"

	"usdt-credit/internal/model"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// BalanceRepository 用户余额与行为流水。Credit 必须与入账记录插入
// 组合进同一事务，由调用方传入事务句柄。
type BalanceRepository interface {
	Credit(tx *gorm.DB, userID int64, amount decimal.Decimal) error
	Get(ctx context.Context, userID int64) (*model.UserBalance, error)
	// AppendActivity 追加行为流水，失败只记日志不回滚主流程
	AppendActivity(ctx context.Context, userID int64, kind, description string) error
}

type balanceRepository struct {
	db *gorm.DB
}

func NewBalanceRepository(db *gorm.DB) BalanceRepository {
	return &balanceRepository{db: db}
}

// Credit 余额与累计收益原子递增，不存在则初始化
func (r *balanceRepository) Credit(tx *gorm.DB, userID int64, amount decimal.Decimal) error {
	return tx.Exec(`INSERT INTO user_balances (user_id, balance, total_earned, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (user_id) DO UPDATE SET
			balance = user_balances.balance + EXCLUDED.balance,
			total_earned = user_balances.total_earned + EXCLUDED.total_earned,
			updated_at = EXCLUDED.updated_at`,
		userID, amount, amount, time.Now()).Error
}

func (r *balanceRepository) Get(ctx context.Context, userID int64) (*model.UserBalance, error) {
	var balance model.UserBalance
	err := r.db.WithContext(ctx).Where("user_id = ?", userID).First(&balance).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return &model.UserBalance{UserID: userID}, nil
	}
	if err != nil {
		return nil, err
	}
	return &balance, nil
}

func (r *balanceRepository) AppendActivity(ctx context.Context, userID int64, kind, description string) error {
	activity := &model.Activity{
		UserID:      userID,
		Kind:        kind,
		Description: description,
	}
	return r.db.WithContext(ctx).Create(activity).Error
}
