package service

import (
	"context"
	"errors"
	"fmt"

	"usdt-credit/internal/model"
	"usdt-credit/internal/repository"
	"usdt-credit/internal/wallet"

	"go.uber.org/zap"
)

// AccountService 充值地址分配：每个用户一个派生索引、一个地址，
// 分配后永不变更。重复请求返回已有地址（幂等）。
type AccountService struct {
	deriver     wallet.AddressDeriver
	accountRepo repository.AccountRepository
	logger      *zap.Logger
}

func NewAccountService(deriver wallet.AddressDeriver, accountRepo repository.AccountRepository, logger *zap.Logger) *AccountService {
	return &AccountService{
		deriver:     deriver,
		accountRepo: accountRepo,
		logger:      logger,
	}
}

// AssignAddress 为用户分配充值地址；已分配的直接返回现有账户。
// user_id 唯一索引兜底并发分配：约束冲突时回读已有账户返回。
func (s *AccountService) AssignAddress(ctx context.Context, userID int64) (*model.DepositAccount, error) {
	account, err := s.accountRepo.GetByUserID(ctx, userID)
	if err == nil {
		return account, nil
	}
	if !errors.Is(err, repository.ErrAccountNotFound) {
		return nil, err
	}

	index, err := s.accountRepo.NextDerivationIndex(ctx)
	if err != nil {
		return nil, fmt.Errorf("分配派生索引失败: %w", err)
	}

	address, err := s.deriver.DeriveAddress(index)
	if err != nil {
		return nil, fmt.Errorf("派生充值地址失败: %w", err)
	}

	err = s.accountRepo.AssignDepositAddress(ctx, userID, index, address)
	if errors.Is(err, repository.ErrDuplicateEntry) {
		// 并发分配被唯一约束拦下，回读赢家写入的账户
		return s.accountRepo.GetByUserID(ctx, userID)
	}
	if err != nil {
		return nil, fmt.Errorf("保存充值账户失败: %w", err)
	}

	s.logger.Info("已分配充值地址",
		zap.Int64("user_id", userID),
		zap.Int64("derivation_index", index),
		zap.String("address", address))

	return s.accountRepo.GetByUserID(ctx, userID)
}
