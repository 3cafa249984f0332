package service

import (
	"context"
	"testing"

	"usdt-credit/internal/model"
	"usdt-credit/pkg/chain"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newVerifyFixture(t *testing.T, reader *fakeTxReader) (*VerifyService, *fakeAccountRepo, *fakeUnresolvedRepo, *fakeBalanceRepo, func()) {
	db, mock, cleanup := setupMockDB(t)
	mock.MatchExpectationsInOrder(false)
	mock.ExpectBegin()
	mock.ExpectCommit()
	mock.ExpectRollback()

	accountRepo := newFakeAccountRepo()
	unresolvedRepo := newFakeUnresolvedRepo()
	balanceRepo := newFakeBalanceRepo()

	credit := NewCreditService(db, newFakeLedgerRepo(), balanceRepo, newFakeNotifyRepo(), nil,
		12, decimal.NewFromInt(100), decimal.Zero, zap.NewNop())
	svc := NewVerifyService(reader, accountRepo, unresolvedRepo, credit, zap.NewNop())
	return svc, accountRepo, unresolvedRepo, balanceRepo, cleanup
}

// TestVerify_Success 发起方匹配绑定钱包的自报充值走入账链路
func TestVerify_Success(t *testing.T) {
	reader := &fakeTxReader{
		summary: &chain.TxSummary{
			Success:       true,
			Sender:        "0xSender",
			BlockNumber:   150,
			Confirmations: 51,
			Transfers: []chain.TransferEvent{
				{TxHash: "0x1", From: "0xSender", To: "0xDeposit", Amount: decimal.NewFromInt(100)},
			},
		},
	}
	svc, accountRepo, unresolvedRepo, balanceRepo, cleanup := newVerifyFixture(t, reader)
	defer cleanup()

	accountRepo.linked["0xSender"] = 7

	result, err := svc.Verify(context.Background(), "0x1", "0xdeposit", decimal.NewFromInt(50), 7)
	require.NoError(t, err)

	assert.True(t, result.Verified)
	assert.Equal(t, CreditResultCredited, result.Result)
	assert.Equal(t, "100", result.AmountOnChain)
	assert.Equal(t, 51, result.Confirmations)
	assert.True(t, balanceRepo.credits[7].Equal(decimal.NewFromInt(10000)))
	assert.Empty(t, unresolvedRepo.deposits)
}

// TestVerify_FailedTx 链上执行失败的交易只报原因，不入队
func TestVerify_FailedTx(t *testing.T) {
	reader := &fakeTxReader{
		summary: &chain.TxSummary{Success: false, Confirmations: 3},
	}
	svc, _, unresolvedRepo, _, cleanup := newVerifyFixture(t, reader)
	defer cleanup()

	result, err := svc.Verify(context.Background(), "0x1", "0xdeposit", decimal.Zero, 7)
	require.NoError(t, err)

	assert.False(t, result.Verified)
	assert.NotEmpty(t, result.Reason)
	assert.Empty(t, unresolvedRepo.deposits)
}

// TestVerify_NoTransferToDest 金额按目标地址独立汇总，不信任客户端上报
func TestVerify_NoTransferToDest(t *testing.T) {
	reader := &fakeTxReader{
		summary: &chain.TxSummary{
			Success:       true,
			Sender:        "0xSender",
			Confirmations: 51,
			Transfers: []chain.TransferEvent{
				{TxHash: "0x1", From: "0xSender", To: "0xSomeoneElse", Amount: decimal.NewFromInt(100)},
			},
		},
	}
	svc, _, unresolvedRepo, balanceRepo, cleanup := newVerifyFixture(t, reader)
	defer cleanup()

	result, err := svc.Verify(context.Background(), "0x1", "0xdeposit", decimal.Zero, 7)
	require.NoError(t, err)

	assert.False(t, result.Verified)
	assert.Equal(t, "0", result.AmountOnChain)
	assert.True(t, balanceRepo.credits[7].IsZero())
	assert.Empty(t, unresolvedRepo.deposits)
}

// TestVerify_BelowMinimum 金额低于申报下限：不入账，转入人工队列
func TestVerify_BelowMinimum(t *testing.T) {
	reader := &fakeTxReader{
		summary: &chain.TxSummary{
			Success:       true,
			Sender:        "0xSender",
			Confirmations: 51,
			Transfers: []chain.TransferEvent{
				{TxHash: "0x1", From: "0xSender", To: "0xDeposit", Amount: decimal.NewFromInt(30)},
			},
		},
	}
	svc, _, unresolvedRepo, balanceRepo, cleanup := newVerifyFixture(t, reader)
	defer cleanup()

	result, err := svc.Verify(context.Background(), "0x1", "0xdeposit", decimal.NewFromInt(50), 7)
	require.NoError(t, err)

	assert.False(t, result.Verified)
	assert.True(t, balanceRepo.credits[7].IsZero())
	require.Len(t, unresolvedRepo.deposits, 1)
	assert.Equal(t, "0x1", unresolvedRepo.deposits[0].TxHash)
	assert.Equal(t, model.UnresolvedStatusOpen, unresolvedRepo.deposits[0].Status)
}

// TestVerify_SenderNotLinked 发起方不是绑定钱包：绝不自动入账
func TestVerify_SenderNotLinked(t *testing.T) {
	reader := &fakeTxReader{
		summary: &chain.TxSummary{
			Success:       true,
			Sender:        "0xStranger",
			Confirmations: 51,
			Transfers: []chain.TransferEvent{
				{TxHash: "0x1", From: "0xStranger", To: "0xDeposit", Amount: decimal.NewFromInt(100)},
			},
		},
	}
	svc, _, unresolvedRepo, balanceRepo, cleanup := newVerifyFixture(t, reader)
	defer cleanup()

	result, err := svc.Verify(context.Background(), "0x1", "0xdeposit", decimal.Zero, 7)
	require.NoError(t, err)

	assert.False(t, result.Verified)
	assert.True(t, balanceRepo.credits[7].IsZero())
	require.Len(t, unresolvedRepo.deposits, 1)
}

// TestVerify_PendingWhenImmature 确认数不足时验证成功但入账为待确认
func TestVerify_PendingWhenImmature(t *testing.T) {
	reader := &fakeTxReader{
		summary: &chain.TxSummary{
			Success:       true,
			Sender:        "0xSender",
			Confirmations: 3,
			Transfers: []chain.TransferEvent{
				{TxHash: "0x1", From: "0xSender", To: "0xDeposit", Amount: decimal.NewFromInt(100)},
			},
		},
	}
	svc, accountRepo, _, balanceRepo, cleanup := newVerifyFixture(t, reader)
	defer cleanup()

	accountRepo.linked["0xSender"] = 7

	result, err := svc.Verify(context.Background(), "0x1", "0xdeposit", decimal.Zero, 7)
	require.NoError(t, err)

	assert.True(t, result.Verified)
	assert.Equal(t, CreditResultPending, result.Result)
	assert.True(t, balanceRepo.credits[7].IsZero())
}

// TestResolveMatch 人工匹配走入账引擎并标记已处理，重复处理被拒绝
func TestResolveMatch(t *testing.T) {
	svc, _, unresolvedRepo, balanceRepo, cleanup := newVerifyFixture(t, &fakeTxReader{})
	defer cleanup()

	deposit := &model.UnresolvedDeposit{
		TxHash:        "0xorphan",
		Amount:        decimal.NewFromInt(100),
		Confirmations: 20,
		Status:        model.UnresolvedStatusOpen,
	}
	require.NoError(t, unresolvedRepo.Create(context.Background(), deposit))

	result, err := svc.ResolveMatch(context.Background(), deposit.ID, 7)
	require.NoError(t, err)
	assert.Equal(t, CreditResultCredited, result)
	assert.True(t, balanceRepo.credits[7].Equal(decimal.NewFromInt(10000)))
	assert.Equal(t, model.UnresolvedStatusMatched, deposit.Status)

	// 已处理的不能再次匹配
	_, err = svc.ResolveMatch(context.Background(), deposit.ID, 8)
	assert.Error(t, err)
}

// TestResolveDismiss 人工忽略只改状态，不触碰余额
func TestResolveDismiss(t *testing.T) {
	svc, _, unresolvedRepo, balanceRepo, cleanup := newVerifyFixture(t, &fakeTxReader{})
	defer cleanup()

	deposit := &model.UnresolvedDeposit{TxHash: "0xnoise", Status: model.UnresolvedStatusOpen}
	require.NoError(t, unresolvedRepo.Create(context.Background(), deposit))

	require.NoError(t, svc.ResolveDismiss(context.Background(), deposit.ID))
	assert.Equal(t, model.UnresolvedStatusDismissed, deposit.Status)
	assert.Empty(t, balanceRepo.credits)
}
