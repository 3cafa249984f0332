package repository

import (
	"context"
	"errors"

	"usdt-credit/internal/model"

	"gorm.io/gorm"
)

// LedgerRepository 入账记录仓储。写路径只归入账引擎所有；
// 幂等性由 tx_hash 唯一索引在存储层兜底，而不是只靠先查后插。
type LedgerRepository interface {
	// Create 在事务内插入入账记录，唯一约束冲突映射为 ErrDuplicateEntry
	Create(tx *gorm.DB, entry *model.LedgerEntry) error
	ExistsByTxHash(ctx context.Context, txHash string) (bool, error)
	GetByTxHash(ctx context.Context, txHash string) (*model.LedgerEntry, error)
	// PromoteToApproved 将 pending 记录置为 approved，返回是否真正发生了
	// 状态迁移（status=pending 谓词保证同一条记录至多提升一次）
	PromoteToApproved(tx *gorm.DB, txHash string, confirmations int) (bool, error)
	ListPending(ctx context.Context, limit int) ([]*model.LedgerEntry, error)
	List(ctx context.Context, filter LedgerFilter) ([]model.LedgerEntry, int64, error)
}

// LedgerFilter 入账记录查询条件
type LedgerFilter struct {
	UserID   *int64
	Status   *model.LedgerEntryStatus
	TxHash   string
	Page     int
	PageSize int
}

type ledgerRepository struct {
	db *gorm.DB
}

func NewLedgerRepository(db *gorm.DB) LedgerRepository {
	return &ledgerRepository{db: db}
}

func (r *ledgerRepository) Create(tx *gorm.DB, entry *model.LedgerEntry) error {
	err := tx.Create(entry).Error
	if isDuplicateKeyError(err) {
		return ErrDuplicateEntry
	}
	return err
}

func (r *ledgerRepository) ExistsByTxHash(ctx context.Context, txHash string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&model.LedgerEntry{}).
		Where("tx_hash = ?", txHash).
		Count(&count).Error
	return count > 0, err
}

func (r *ledgerRepository) GetByTxHash(ctx context.Context, txHash string) (*model.LedgerEntry, error) {
	var entry model.LedgerEntry
	err := r.db.WithContext(ctx).Where("tx_hash = ?", txHash).First(&entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrEntryNotFound
	}
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

func (r *ledgerRepository) PromoteToApproved(tx *gorm.DB, txHash string, confirmations int) (bool, error) {
	result := tx.Model(&model.LedgerEntry{}).
		Where("tx_hash = ? AND status = ?", txHash, model.LedgerStatusPending).
		Updates(map[string]interface{}{
			"status":        model.LedgerStatusApproved,
			"confirmations": confirmations,
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *ledgerRepository) ListPending(ctx context.Context, limit int) ([]*model.LedgerEntry, error) {
	var entries []*model.LedgerEntry
	err := r.db.WithContext(ctx).
		Where("status = ?", model.LedgerStatusPending).
		Order("block_number ASC").
		Limit(limit).
		Find(&entries).Error
	return entries, err
}

func (r *ledgerRepository) List(ctx context.Context, filter LedgerFilter) ([]model.LedgerEntry, int64, error) {
	query := r.db.WithContext(ctx).Model(&model.LedgerEntry{})

	if filter.UserID != nil {
		query = query.Where("user_id = ?", *filter.UserID)
	}
	if filter.Status != nil {
		query = query.Where("status = ?", *filter.Status)
	}
	if filter.TxHash != "" {
		query = query.Where("tx_hash = ?", filter.TxHash)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	page := &Pagination{Page: filter.Page, PageSize: filter.PageSize}
	page.Normalize()

	var entries []model.LedgerEntry
	err := query.Order("created_at DESC").
		Offset(page.Offset()).
		Limit(page.PageSize).
		Find(&entries).Error
	return entries, total, err
}
