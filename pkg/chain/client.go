package chain

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// ERC20 Transfer(address,address,uint256) 事件签名
var transferEventTopic = crypto.Keccak256Hash([]byte("Transfer(address,address,uint256)"))

// ERC20 方法选择器
var (
	balanceOfSelector = crypto.Keccak256([]byte("balanceOf(address)"))[:4]
	transferSelector  = crypto.Keccak256([]byte("transfer(address,uint256)"))[:4]
)

// TransferEvent 代币转账事件（金额已按代币精度换算为十进制）
type TransferEvent struct {
	TxHash      string
	LogIndex    uint
	From        string
	To          string
	Amount      decimal.Decimal
	BlockNumber uint64
}

// TxSummary 单笔交易的链上事实：由收据独立推导，不信任任何客户端上报值
type TxSummary struct {
	Success       bool
	Sender        string
	BlockNumber   uint64
	Confirmations int
	Transfers     []TransferEvent
}

// Client 链 RPC 客户端，封装代币合约的事件查询与转账
type Client struct {
	eth      *ethclient.Client
	token    common.Address
	decimals int32
	chainID  *big.Int
	logger   *zap.Logger
}

// NewClient 连接 RPC 节点。连不上或拿不到 chain id 属于致命配置错误。
func NewClient(ctx context.Context, rpcURL, tokenContract string, decimals int, logger *zap.Logger) (*Client, error) {
	if !common.IsHexAddress(tokenContract) {
		return nil, fmt.Errorf("非法的代币合约地址: %s", tokenContract)
	}

	eth, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("连接链 RPC 失败: %w", err)
	}

	chainID, err := eth.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("获取 chain id 失败: %w", err)
	}

	logger.Info("链 RPC 连接成功",
		zap.String("rpc", rpcURL),
		zap.String("token", tokenContract),
		zap.String("chain_id", chainID.String()))

	return &Client{
		eth:      eth,
		token:    common.HexToAddress(tokenContract),
		decimals: int32(decimals),
		chainID:  chainID,
		logger:   logger,
	}, nil
}

// BlockNumber 返回当前链头高度
func (c *Client) BlockNumber(ctx context.Context) (uint64, error) {
	head, err := c.eth.BlockNumber(ctx)
	if err != nil {
		return 0, fmt.Errorf("获取链头高度失败: %w", err)
	}
	return head, nil
}

// FilterTransfers 拉取代币合约在 [from, to] 区块窗口内的全部转账事件。
// 单条日志解析失败只跳过该条，不影响整个窗口。
func (c *Client) FilterTransfers(ctx context.Context, fromBlock, toBlock uint64) ([]TransferEvent, error) {
	query := ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(fromBlock),
		ToBlock:   new(big.Int).SetUint64(toBlock),
		Addresses: []common.Address{c.token},
		Topics:    [][]common.Hash{{transferEventTopic}},
	}

	logs, err := c.eth.FilterLogs(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("拉取转账日志失败: %w", err)
	}

	events := make([]TransferEvent, 0, len(logs))
	for _, lg := range logs {
		ev, err := c.parseTransferLog(lg)
		if err != nil {
			c.logger.Warn("跳过无法解析的转账日志",
				zap.String("tx_hash", lg.TxHash.Hex()),
				zap.Uint("log_index", lg.Index),
				zap.Error(err))
			continue
		}
		events = append(events, ev)
	}
	return events, nil
}

// TxSummary 根据交易哈希独立推导确认数、发起方和转入事件
func (c *Client) TxSummary(ctx context.Context, txHash string) (*TxSummary, error) {
	hash := common.HexToHash(txHash)

	receipt, err := c.eth.TransactionReceipt(ctx, hash)
	if err != nil {
		return nil, fmt.Errorf("获取交易收据失败: %w", err)
	}

	head, err := c.eth.BlockNumber(ctx)
	if err != nil {
		return nil, fmt.Errorf("获取链头高度失败: %w", err)
	}

	summary := &TxSummary{
		Success:     receipt.Status == types.ReceiptStatusSuccessful,
		BlockNumber: receipt.BlockNumber.Uint64(),
	}
	if head >= summary.BlockNumber {
		summary.Confirmations = int(head-summary.BlockNumber) + 1
	}

	tx, _, err := c.eth.TransactionByHash(ctx, hash)
	if err != nil {
		return nil, fmt.Errorf("获取交易失败: %w", err)
	}
	signer := types.LatestSignerForChainID(c.chainID)
	if sender, err := types.Sender(signer, tx); err == nil {
		summary.Sender = sender.Hex()
	} else {
		c.logger.Warn("恢复交易发起方失败", zap.String("tx_hash", txHash), zap.Error(err))
	}

	for _, lg := range receipt.Logs {
		if lg.Address != c.token {
			continue
		}
		ev, err := c.parseTransferLog(*lg)
		if err != nil {
			continue
		}
		summary.Transfers = append(summary.Transfers, ev)
	}
	return summary, nil
}

// TokenBalance 查询地址的代币余额（合约最小单位）
func (c *Client) TokenBalance(ctx context.Context, address string) (*big.Int, error) {
	data := make([]byte, 0, 36)
	data = append(data, balanceOfSelector...)
	data = append(data, common.LeftPadBytes(common.HexToAddress(address).Bytes(), 32)...)

	out, err := c.eth.CallContract(ctx, ethereum.CallMsg{To: &c.token, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("查询代币余额失败: %w", err)
	}
	return new(big.Int).SetBytes(out), nil
}

// SendToken 构造并签名一笔代币转账，用于资金归集
func (c *Client) SendToken(ctx context.Context, key *ecdsa.PrivateKey, to string, amount *big.Int) (string, error) {
	from := crypto.PubkeyToAddress(key.PublicKey)

	nonce, err := c.eth.PendingNonceAt(ctx, from)
	if err != nil {
		return "", fmt.Errorf("获取 nonce 失败: %w", err)
	}
	gasPrice, err := c.eth.SuggestGasPrice(ctx)
	if err != nil {
		return "", fmt.Errorf("获取 gas 价格失败: %w", err)
	}

	data := make([]byte, 0, 68)
	data = append(data, transferSelector...)
	data = append(data, common.LeftPadBytes(common.HexToAddress(to).Bytes(), 32)...)
	data = append(data, common.LeftPadBytes(amount.Bytes(), 32)...)

	tx := types.NewTransaction(nonce, c.token, big.NewInt(0), 90000, gasPrice, data)
	signed, err := types.SignTx(tx, types.LatestSignerForChainID(c.chainID), key)
	if err != nil {
		return "", fmt.Errorf("签名交易失败: %w", err)
	}

	if err := c.eth.SendTransaction(ctx, signed); err != nil {
		return "", fmt.Errorf("广播交易失败: %w", err)
	}
	return signed.Hash().Hex(), nil
}

// parseTransferLog 解析单条 Transfer 日志
func (c *Client) parseTransferLog(lg types.Log) (TransferEvent, error) {
	if len(lg.Topics) < 3 {
		return TransferEvent{}, fmt.Errorf("topic 数量不足: %d", len(lg.Topics))
	}
	if len(lg.Data) < 32 {
		return TransferEvent{}, fmt.Errorf("data 长度不足: %d", len(lg.Data))
	}

	value := new(big.Int).SetBytes(lg.Data[:32])
	return TransferEvent{
		TxHash:      lg.TxHash.Hex(),
		LogIndex:    lg.Index,
		From:        common.HexToAddress(lg.Topics[1].Hex()).Hex(),
		To:          common.HexToAddress(lg.Topics[2].Hex()).Hex(),
		Amount:      decimal.NewFromBigInt(value, -c.decimals),
		BlockNumber: lg.BlockNumber,
	}, nil
}

// NormalizeAddress 统一地址大小写，目录匹配一律用小写形式
func NormalizeAddress(addr string) string {
	return strings.ToLower(addr)
}
