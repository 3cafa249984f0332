package repository

import (
	"context"
	"errors"
	"strings"

	"usdt-credit/internal/model"

	"gorm.io/gorm"
)

// AccountRepository 充值账户目录：地址→用户 的只读视图 + 派生索引分配
type AccountRepository interface {
	// ListDepositAddresses 返回 地址(小写)→用户ID 目录，扫描器每轮刷新
	ListDepositAddresses(ctx context.Context) (map[string]int64, error)
	NextDerivationIndex(ctx context.Context) (int64, error)
	AssignDepositAddress(ctx context.Context, userID, index int64, address string) error
	GetByUserID(ctx context.Context, userID int64) (*model.DepositAccount, error)
	ListAll(ctx context.Context) ([]*model.DepositAccount, error)
	IsWalletLinkedToUser(ctx context.Context, userID int64, address string) (bool, error)
}

type accountRepository struct {
	db *gorm.DB
}

func NewAccountRepository(db *gorm.DB) AccountRepository {
	return &accountRepository{db: db}
}

func (r *accountRepository) ListDepositAddresses(ctx context.Context) (map[string]int64, error) {
	var accounts []model.DepositAccount
	if err := r.db.WithContext(ctx).Select("user_id", "address").Find(&accounts).Error; err != nil {
		return nil, err
	}

	dir := make(map[string]int64, len(accounts))
	for _, a := range accounts {
		dir[strings.ToLower(a.Address)] = a.UserID
	}
	return dir, nil
}

// NextDerivationIndex 返回下一个未使用的派生索引（单调递增，从 0 开始）
func (r *accountRepository) NextDerivationIndex(ctx context.Context) (int64, error) {
	var next int64
	err := r.db.WithContext(ctx).
		Model(&model.DepositAccount{}).
		Select("COALESCE(MAX(derivation_index) + 1, 0)").
		Scan(&next).Error
	return next, err
}

func (r *accountRepository) AssignDepositAddress(ctx context.Context, userID, index int64, address string) error {
	account := &model.DepositAccount{
		UserID:          userID,
		DerivationIndex: index,
		Address:         address,
	}
	err := r.db.WithContext(ctx).Create(account).Error
	if isDuplicateKeyError(err) {
		return ErrDuplicateEntry
	}
	return err
}

func (r *accountRepository) GetByUserID(ctx context.Context, userID int64) (*model.DepositAccount, error) {
	var account model.DepositAccount
	err := r.db.WithContext(ctx).Where("user_id = ?", userID).First(&account).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrAccountNotFound
	}
	if err != nil {
		return nil, err
	}
	return &account, nil
}

func (r *accountRepository) ListAll(ctx context.Context) ([]*model.DepositAccount, error) {
	var accounts []*model.DepositAccount
	err := r.db.WithContext(ctx).Order("derivation_index ASC").Find(&accounts).Error
	return accounts, err
}

func (r *accountRepository) IsWalletLinkedToUser(ctx context.Context, userID int64, address string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&model.LinkedWallet{}).
		Where("user_id = ? AND LOWER(address) = ?", userID, strings.ToLower(address)).
		Count(&count).Error
	return count > 0, err
}
