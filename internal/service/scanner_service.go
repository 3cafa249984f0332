package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"usdt-credit/internal/config"
	"usdt-credit/internal/repository"
	"usdt-credit/pkg/chain"

	"go.uber.org/zap"
)

// ChainReader 扫描器依赖的链读取接口
type ChainReader interface {
	BlockNumber(ctx context.Context) (uint64, error)
	FilterTransfers(ctx context.Context, fromBlock, toBlock uint64) ([]chain.TransferEvent, error)
}

// ScannerService 链扫描器：定时从游标处拉取代币转账事件，命中充值
// 地址目录的交给入账引擎。单实例自斥：一轮扫描未结束时新 tick 直接
// 跳过，不排队。
type ScannerService struct {
	chainClient ChainReader
	cursorRepo  repository.CursorRepository
	accountRepo repository.AccountRepository
	ledgerRepo  repository.LedgerRepository
	credit      *CreditService

	scannerID             string
	requiredConfirmations int
	batchSize             uint64
	seedMode              string
	interval              time.Duration

	mu       sync.Mutex
	scanning bool

	logger *zap.Logger
}

func NewScannerService(
	chainClient ChainReader,
	cursorRepo repository.CursorRepository,
	accountRepo repository.AccountRepository,
	ledgerRepo repository.LedgerRepository,
	credit *CreditService,
	requiredConfirmations int,
	batchSize uint64,
	seedMode string,
	intervalSec int,
	logger *zap.Logger,
) *ScannerService {
	return &ScannerService{
		chainClient:           chainClient,
		cursorRepo:            cursorRepo,
		accountRepo:           accountRepo,
		ledgerRepo:            ledgerRepo,
		credit:                credit,
		scannerID:             "usdt-deposit",
		requiredConfirmations: requiredConfirmations,
		batchSize:             batchSize,
		seedMode:              seedMode,
		interval:              time.Duration(intervalSec) * time.Second,
		logger:                logger,
	}
}

// ComputeScanWindow 计算本轮扫描窗口：from = 游标+1，
// to = min(链头 − 确认数, from + 批大小 − 1)。窗口为空返回 ok=false。
func ComputeScanWindow(lastBlock, head uint64, confirmations int, batchSize uint64) (from, to uint64, ok bool) {
	if head < uint64(confirmations) {
		return 0, 0, false
	}

	from = lastBlock + 1
	finalized := head - uint64(confirmations)
	to = from + batchSize - 1
	if to > finalized {
		to = finalized
	}
	if from > to {
		return 0, 0, false
	}
	return from, to, true
}

// Start 启动扫描循环，直到 ctx 取消。正在进行的一轮自然跑完。
func (s *ScannerService) Start(ctx context.Context) {
	s.logger.Info("链扫描服务已启动",
		zap.Duration("interval", s.interval),
		zap.Uint64("batch_size", s.batchSize),
		zap.Int("required_confirmations", s.requiredConfirmations))

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	// 启动时立即扫描一次
	if err := s.ScanOnce(ctx); err != nil {
		s.logger.Warn("首轮扫描失败", zap.Error(err))
	}

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("链扫描服务已停止")
			return
		case <-ticker.C:
			if err := s.ScanOnce(ctx); err != nil {
				s.logger.Warn("本轮扫描失败", zap.Error(err))
			}
		}
	}
}

// ScanOnce 执行一轮扫描。RPC 等瞬时错误只记日志并保持游标不动，
// 同一窗口在下一轮重试；入账引擎的幂等性保证重放安全。
func (s *ScannerService) ScanOnce(ctx context.Context) error {
	if !s.tryBegin() {
		s.logger.Debug("上一轮扫描仍在进行，跳过本轮")
		return nil
	}
	defer s.end()

	head, err := s.chainClient.BlockNumber(ctx)
	if err != nil {
		return err
	}

	lastBlock, err := s.loadOrSeedCursor(ctx, head)
	if err != nil {
		return err
	}

	from, to, ok := ComputeScanWindow(lastBlock, head, s.requiredConfirmations, s.batchSize)
	if ok {
		if err := s.scanWindow(ctx, from, to, head); err != nil {
			return err
		}
	}

	// 回访待确认记录：确认数成熟的提升为已入账
	s.revisitPending(ctx, head)
	return nil
}

// scanWindow 处理一个区块窗口，全部处理干净后才推进游标
func (s *ScannerService) scanWindow(ctx context.Context, from, to, head uint64) error {
	// 每轮刷新目录：两次 tick 之间可能有新用户分配了地址
	directory, err := s.accountRepo.ListDepositAddresses(ctx)
	if err != nil {
		return err
	}

	events, err := s.chainClient.FilterTransfers(ctx, from, to)
	if err != nil {
		return err
	}

	matched := 0
	clean := true
	for _, ev := range events {
		userID, hit := directory[chain.NormalizeAddress(ev.To)]
		if !hit {
			continue
		}
		matched++

		confirmations := int(head-ev.BlockNumber) + 1
		result, err := s.credit.Credit(ctx, &DetectedDeposit{
			TxHash:        ev.TxHash,
			FromAddress:   ev.From,
			ToAddress:     ev.To,
			UserID:        userID,
			GrossAmount:   ev.Amount,
			Confirmations: confirmations,
			BlockNumber:   ev.BlockNumber,
		})
		if err != nil {
			// 入账失败：游标不动，整个窗口下一轮重放
			s.logger.Error("入账失败", zap.String("tx_hash", ev.TxHash), zap.Error(err))
			clean = false
			continue
		}
		if result == CreditResultDuplicate {
			s.logger.Debug("重复充值已拦截", zap.String("tx_hash", ev.TxHash))
		}
	}

	if !clean {
		return errors.New("窗口内存在未入账的充值，游标保持不动")
	}

	if err := s.cursorRepo.Save(ctx, s.scannerID, to); err != nil {
		return err
	}

	s.logger.Info("扫描窗口完成",
		zap.Uint64("from", from),
		zap.Uint64("to", to),
		zap.Int("events", len(events)),
		zap.Int("matched", matched))
	return nil
}

// loadOrSeedCursor 读取游标；首次运行按配置初始化：near-head 模式
// 落在链头安全落后一个批次处，genesis 模式从 0 开始全量补扫。
func (s *ScannerService) loadOrSeedCursor(ctx context.Context, head uint64) (uint64, error) {
	cursor, err := s.cursorRepo.Get(ctx, s.scannerID)
	if err == nil {
		return cursor.LastBlock, nil
	}
	if !errors.Is(err, repository.ErrCursorNotFound) {
		return 0, err
	}

	var seed uint64
	if s.seedMode == config.SeedModeNearHead {
		behind := uint64(s.requiredConfirmations) + s.batchSize
		if head > behind {
			seed = head - behind
		}
	}

	if err := s.cursorRepo.Save(ctx, s.scannerID, seed); err != nil {
		return 0, err
	}
	s.logger.Info("扫描游标已初始化",
		zap.String("mode", s.seedMode),
		zap.Uint64("seed", seed),
		zap.Uint64("head", head))
	return seed, nil
}

// revisitPending 回访待确认记录，确认数达标的通过入账引擎提升
func (s *ScannerService) revisitPending(ctx context.Context, head uint64) {
	entries, err := s.ledgerRepo.ListPending(ctx, 100)
	if err != nil {
		s.logger.Warn("查询待确认记录失败", zap.Error(err))
		return
	}

	for _, entry := range entries {
		if head < entry.BlockNumber {
			continue
		}
		confirmations := int(head-entry.BlockNumber) + 1
		if confirmations < s.requiredConfirmations {
			continue
		}
		if _, err := s.credit.Promote(ctx, entry, confirmations); err != nil {
			s.logger.Warn("提升待确认记录失败", zap.String("tx_hash", entry.TxHash), zap.Error(err))
		}
	}
}

// Status 扫描器当前状态
type ScannerStatus struct {
	ScannerID string `json:"scanner_id"`
	LastBlock uint64 `json:"last_block"`
	HeadBlock uint64 `json:"head_block"`
	LagBlocks uint64 `json:"lag_blocks"`
	Scanning  bool   `json:"scanning"`
}

func (s *ScannerService) Status(ctx context.Context) (*ScannerStatus, error) {
	head, err := s.chainClient.BlockNumber(ctx)
	if err != nil {
		return nil, err
	}

	status := &ScannerStatus{
		ScannerID: s.scannerID,
		HeadBlock: head,
		Scanning:  s.isScanning(),
	}
	cursor, err := s.cursorRepo.Get(ctx, s.scannerID)
	if err == nil {
		status.LastBlock = cursor.LastBlock
		if head > cursor.LastBlock {
			status.LagBlocks = head - cursor.LastBlock
		}
	} else if !errors.Is(err, repository.ErrCursorNotFound) {
		return nil, err
	}
	return status, nil
}

func (s *ScannerService) tryBegin() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.scanning {
		return false
	}
	s.scanning = true
	return true
}

func (s *ScannerService) end() {
	s.mu.Lock()
	s.scanning = false
	s.mu.Unlock()
}

func (s *ScannerService) isScanning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.scanning
}
