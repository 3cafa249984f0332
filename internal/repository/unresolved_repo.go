package repository

import (
	"context"
	"errors"

	"usdt-credit/internal/model"

	"gorm.io/gorm"
)

var ErrUnresolvedNotFound = errors.New("unresolved deposit not found")

// UnresolvedRepository 无主充值仓储：验证失败的充值进入人工处理队列，
// 绝不静默丢弃，也绝不自动入账。
type UnresolvedRepository interface {
	// Create 入队；同一 tx_hash 已在队列中时静默去重
	Create(ctx context.Context, deposit *model.UnresolvedDeposit) error
	GetByID(ctx context.Context, id int64) (*model.UnresolvedDeposit, error)
	ListOpen(ctx context.Context, limit int) ([]*model.UnresolvedDeposit, error)
	MarkMatched(ctx context.Context, id int64) error
	MarkDismissed(ctx context.Context, id int64) error
}

type unresolvedRepository struct {
	db *gorm.DB
}

func NewUnresolvedRepository(db *gorm.DB) UnresolvedRepository {
	return &unresolvedRepository{db: db}
}

func (r *unresolvedRepository) Create(ctx context.Context, deposit *model.UnresolvedDeposit) error {
	err := r.db.WithContext(ctx).Create(deposit).Error
	if isDuplicateKeyError(err) {
		return nil
	}
	return err
}

func (r *unresolvedRepository) GetByID(ctx context.Context, id int64) (*model.UnresolvedDeposit, error) {
	var deposit model.UnresolvedDeposit
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&deposit).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrUnresolvedNotFound
	}
	if err != nil {
		return nil, err
	}
	return &deposit, nil
}

func (r *unresolvedRepository) ListOpen(ctx context.Context, limit int) ([]*model.UnresolvedDeposit, error) {
	var list []*model.UnresolvedDeposit
	err := r.db.WithContext(ctx).
		Where("status = ?", model.UnresolvedStatusOpen).
		Order("created_at ASC").
		Limit(limit).
		Find(&list).Error
	return list, err
}

func (r *unresolvedRepository) MarkMatched(ctx context.Context, id int64) error {
	return r.updateStatus(ctx, id, model.UnresolvedStatusMatched)
}

func (r *unresolvedRepository) MarkDismissed(ctx context.Context, id int64) error {
	return r.updateStatus(ctx, id, model.UnresolvedStatusDismissed)
}

func (r *unresolvedRepository) updateStatus(ctx context.Context, id int64, status model.UnresolvedStatus) error {
	result := r.db.WithContext(ctx).Model(&model.UnresolvedDeposit{}).
		Where("id = ? AND status = ?", id, model.UnresolvedStatusOpen).
		Update("status", status)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrUnresolvedNotFound
	}
	return nil
}
