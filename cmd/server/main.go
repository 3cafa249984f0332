package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"usdt-credit/internal/config"
	"usdt-credit/internal/model"
	"usdt-credit/internal/mq"
	"usdt-credit/internal/repository"
	"usdt-credit/internal/server"
	"usdt-credit/internal/service"
	"usdt-credit/internal/wallet"
	"usdt-credit/pkg/chain"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func main() {
	zlog, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer zlog.Sync()

	// 1. 加载配置
	cfg, err := config.Load()
	if err != nil {
		zlog.Fatal("加载配置失败", zap.Error(err))
	}
	zlog.Info("配置加载成功",
		zap.Int("http_port", cfg.HTTPPort),
		zap.String("token_contract", cfg.TokenContract),
		zap.Int("required_confirmations", cfg.RequiredConfirmations))

	rate, err := decimal.NewFromString(cfg.CreditRate)
	if err != nil {
		zlog.Fatal("CREDIT_RATE 无效", zap.Error(err))
	}
	feeFraction, err := decimal.NewFromString(cfg.FeeFraction)
	if err != nil {
		zlog.Fatal("FEE_FRACTION 无效", zap.Error(err))
	}
	sweepMin, err := decimal.NewFromString(cfg.SweepMinAmount)
	if err != nil {
		zlog.Fatal("SWEEP_MIN_AMOUNT 无效", zap.Error(err))
	}

	// 2. 初始化 HD 钱包（种子无效直接启动失败，不能带病运行）
	hdWallet, err := wallet.NewHDWallet(cfg.MasterSeed, zlog)
	if err != nil {
		zlog.Fatal("初始化 HD 钱包失败", zap.Error(err))
	}

	// 3. 连接数据库（Silent 模式不输出 SQL，只有错误时输出）
	db, err := gorm.Open(postgres.Open(cfg.DSN()), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	if err != nil {
		zlog.Fatal("连接数据库失败", zap.Error(err))
	}
	zlog.Info("数据库连接成功")

	// 自动迁移
	if err := db.AutoMigrate(
		&model.DepositAccount{},
		&model.LinkedWallet{},
		&model.ScannerCursor{},
		&model.LedgerEntry{},
		&model.UnresolvedDeposit{},
		&model.Notification{},
		&model.PushEndpoint{},
		&model.UserBalance{},
		&model.Activity{},
	); err != nil {
		zlog.Fatal("数据库迁移失败", zap.Error(err))
	}
	zlog.Info("数据库迁移完成")

	// 4. 连接 RabbitMQ
	mqClient, err := mq.NewRabbitMQ(cfg.RabbitMQURL, zlog)
	if err != nil {
		zlog.Fatal("连接 RabbitMQ 失败", zap.Error(err))
	}
	defer mqClient.Close()
	zlog.Info("RabbitMQ 连接成功")

	// 5. 连接链节点
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	chainClient, err := chain.NewClient(ctx, cfg.ChainRPCURL, cfg.TokenContract, cfg.TokenDecimals, zlog)
	if err != nil {
		zlog.Fatal("连接链节点失败", zap.Error(err))
	}

	// 6. 初始化 Repository
	accountRepo := repository.NewAccountRepository(db)
	cursorRepo := repository.NewCursorRepository(db)
	ledgerRepo := repository.NewLedgerRepository(db)
	balanceRepo := repository.NewBalanceRepository(db)
	notifyRepo := repository.NewNotificationRepository(db)
	unresolvedRepo := repository.NewUnresolvedRepository(db)

	// 7. 初始化 Service
	creditService := service.NewCreditService(db, ledgerRepo, balanceRepo, notifyRepo, mqClient,
		cfg.RequiredConfirmations, rate, feeFraction, zlog)
	scannerService := service.NewScannerService(chainClient, cursorRepo, accountRepo, ledgerRepo, creditService,
		cfg.RequiredConfirmations, cfg.ScanBatchSize, cfg.CursorSeedMode, cfg.ScanInterval, zlog)
	verifyService := service.NewVerifyService(chainClient, accountRepo, unresolvedRepo, creditService, zlog)
	notifyService := service.NewNotifyService(notifyRepo, service.NewWebhookTransport(10*time.Second),
		cfg.RetryInterval, zlog)
	sweepService := service.NewSweepService(chainClient, hdWallet, accountRepo,
		cfg.TreasuryAddress, sweepMin, cfg.TokenDecimals, zlog)
	accountService := service.NewAccountService(hdWallet, accountRepo, zlog)

	// 8. 启动后台工作器
	if cfg.ScannerEnabled {
		go scannerService.Start(ctx)
	} else {
		zlog.Info("链扫描服务已禁用")
	}
	go notifyService.Start(ctx)

	// 9. 启动 HTTP 服务
	httpServer := server.NewHTTPServer(scannerService, verifyService, notifyService, sweepService,
		accountService, ledgerRepo, unresolvedRepo, cfg.HTTPPort)
	go func() {
		zlog.Info("HTTP 服务已启动", zap.Int("port", cfg.HTTPPort))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zlog.Fatal("HTTP 服务异常", zap.Error(err))
		}
	}()

	// 10. 优雅退出
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	zlog.Info("收到退出信号", zap.String("signal", sig.String()))

	cancel()
	if err := httpServer.Shutdown(context.Background()); err != nil {
		zlog.Warn("HTTP 服务关闭异常", zap.Error(err))
	}
	zlog.Info("服务已优雅退出")
}
