package service

import (
	"context"
	"crypto/ecdsa"
	"math/big"

	"usdt-credit/internal/repository"
	"usdt-credit/internal/wallet"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// TokenMover 归集依赖的链写入接口
type TokenMover interface {
	TokenBalance(ctx context.Context, address string) (*big.Int, error)
	SendToken(ctx context.Context, key *ecdsa.PrivateKey, to string, amount *big.Int) (string, error)
}

// SweepOutcome 单个地址的归集结果
type SweepOutcome struct {
	Address string `json:"address"`
	Amount  string `json:"amount"`
	TxHash  string `json:"tx_hash,omitempty"`
	Error   string `json:"error,omitempty"`
}

// SweepService 余额归集：把充值地址上累积的代币转移到金库地址。
// 签名私钥按需从 SigningKeyProvider 派生，用完即弃，不落库不缓存。
type SweepService struct {
	chainClient TokenMover
	signer      wallet.SigningKeyProvider
	accountRepo repository.AccountRepository

	treasuryAddress string
	minAmount       decimal.Decimal
	decimals        int32

	logger *zap.Logger
}

func NewSweepService(
	chainClient TokenMover,
	signer wallet.SigningKeyProvider,
	accountRepo repository.AccountRepository,
	treasuryAddress string,
	minAmount decimal.Decimal,
	decimals int,
	logger *zap.Logger,
) *SweepService {
	return &SweepService{
		chainClient:     chainClient,
		signer:          signer,
		accountRepo:     accountRepo,
		treasuryAddress: treasuryAddress,
		minAmount:       minAmount,
		decimals:        int32(decimals),
		logger:          logger,
	}
}

// SweepOnce 遍历全部充值地址，余额达到归集下限的转入金库。
// 单个地址失败不中断整轮，结果逐条返回。
func (s *SweepService) SweepOnce(ctx context.Context) ([]SweepOutcome, error) {
	accounts, err := s.accountRepo.ListAll(ctx)
	if err != nil {
		return nil, err
	}

	var outcomes []SweepOutcome
	for _, acct := range accounts {
		raw, err := s.chainClient.TokenBalance(ctx, acct.Address)
		if err != nil {
			s.logger.Warn("查询地址余额失败", zap.String("address", acct.Address), zap.Error(err))
			outcomes = append(outcomes, SweepOutcome{Address: acct.Address, Error: err.Error()})
			continue
		}

		balance := decimal.NewFromBigInt(raw, -s.decimals)
		if balance.LessThan(s.minAmount) {
			continue
		}

		key, err := s.signer.SigningKeyFor(acct.DerivationIndex)
		if err != nil {
			s.logger.Error("派生签名私钥失败", zap.String("address", acct.Address), zap.Error(err))
			outcomes = append(outcomes, SweepOutcome{Address: acct.Address, Amount: balance.String(), Error: err.Error()})
			continue
		}

		txHash, err := s.chainClient.SendToken(ctx, key, s.treasuryAddress, raw)
		if err != nil {
			s.logger.Error("归集转账失败", zap.String("address", acct.Address), zap.Error(err))
			outcomes = append(outcomes, SweepOutcome{Address: acct.Address, Amount: balance.String(), Error: err.Error()})
			continue
		}

		s.logger.Info("地址余额已归集",
			zap.String("address", acct.Address),
			zap.String("amount", balance.String()),
			zap.String("tx_hash", txHash))
		outcomes = append(outcomes, SweepOutcome{Address: acct.Address, Amount: balance.String(), TxHash: txHash})
	}
	return outcomes, nil
}
