package wallet

import (
	"crypto/ecdsa"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	bip39 "github.com/tyler-smith/go-bip39"
	"go.uber.org/zap"
)

// BIP44 路径常量：m/44'/60'/0'/0/index。账户级 key 只在启动时派生一次，
// 之后按 index 派生相对子 key，这是本服务唯一认可的路径构造方式。
const (
	purposeIndex  = hdkeychain.HardenedKeyStart + 44
	coinTypeIndex = hdkeychain.HardenedKeyStart + 60
	accountIndex  = hdkeychain.HardenedKeyStart + 0
	changeIndex   = 0

	// 非硬化派生的索引上限
	maxDerivationIndex = hdkeychain.HardenedKeyStart - 1
)

// AddressDeriver 地址派生接口：纯函数，相同 (种子, index) 永远得到相同地址。
type AddressDeriver interface {
	DeriveAddress(index int64) (string, error)
}

// SigningKeyProvider 签名私钥派生接口。只用于自动归集，泄露即灾难，
// 因此与 AddressDeriver 分离，每次取 key 都留审计日志。
type SigningKeyProvider interface {
	SigningKeyFor(index int64) (*ecdsa.PrivateKey, error)
}

// HDWallet 基于主种子的分层确定性钱包
type HDWallet struct {
	changeKey *hdkeychain.ExtendedKey
	logger    *zap.Logger
}

// NewHDWallet 校验种子材料并派生账户级 key。种子非法属于致命配置错误，
// 调用方必须拒绝启动，绝不能带着不可预测的地址空间运行。
func NewHDWallet(seedMaterial string, logger *zap.Logger) (*HDWallet, error) {
	seed, err := resolveSeed(seedMaterial)
	if err != nil {
		return nil, err
	}

	master, err := hdkeychain.NewMaster(seed, &chaincfg.MainNetParams)
	if err != nil {
		return nil, fmt.Errorf("派生主密钥失败: %w", err)
	}

	changeKey := master
	for _, idx := range []uint32{purposeIndex, coinTypeIndex, accountIndex, changeIndex} {
		changeKey, err = changeKey.Derive(idx)
		if err != nil {
			return nil, fmt.Errorf("派生账户路径失败: %w", err)
		}
	}

	return &HDWallet{changeKey: changeKey, logger: logger}, nil
}

// resolveSeed 将种子材料解析为 BIP32 种子：合法助记词或足够长度的十六进制
func resolveSeed(material string) ([]byte, error) {
	material = strings.TrimSpace(material)
	if material == "" {
		return nil, fmt.Errorf("主种子不能为空")
	}

	if bip39.IsMnemonicValid(material) {
		return bip39.NewSeed(material, ""), nil
	}

	seed, err := hex.DecodeString(strings.TrimPrefix(material, "0x"))
	if err != nil {
		return nil, fmt.Errorf("主种子既不是合法助记词也不是十六进制种子: %w", err)
	}
	if len(seed) < hdkeychain.MinSeedBytes || len(seed) > hdkeychain.MaxSeedBytes {
		return nil, fmt.Errorf("十六进制种子长度非法: %d 字节", len(seed))
	}
	return seed, nil
}

// DeriveAddress 派生第 index 个收款地址（0x 格式，EIP-55 校验和大小写）
func (w *HDWallet) DeriveAddress(index int64) (string, error) {
	child, err := w.childAt(index)
	if err != nil {
		return "", err
	}

	pub, err := child.ECPubKey()
	if err != nil {
		return "", fmt.Errorf("导出公钥失败: %w", err)
	}
	return ethcrypto.PubkeyToAddress(*pub.ToECDSA()).Hex(), nil
}

// SigningKeyFor 派生第 index 个地址的签名私钥，仅供归集路径调用
func (w *HDWallet) SigningKeyFor(index int64) (*ecdsa.PrivateKey, error) {
	child, err := w.childAt(index)
	if err != nil {
		return nil, err
	}

	priv, err := child.ECPrivKey()
	if err != nil {
		return nil, fmt.Errorf("导出私钥失败: %w", err)
	}

	w.logger.Warn("签名私钥被派生", zap.Int64("index", index))
	return priv.ToECDSA(), nil
}

// childAt 校验 index 合法性并派生子 key。负数或超出非硬化范围的 index
// 属于调用方违约，立即报错，绝不产出地址。
func (w *HDWallet) childAt(index int64) (*hdkeychain.ExtendedKey, error) {
	if index < 0 || index > int64(maxDerivationIndex) {
		return nil, fmt.Errorf("非法派生索引: %d", index)
	}
	child, err := w.changeKey.Derive(uint32(index))
	if err != nil {
		return nil, fmt.Errorf("派生子密钥失败 (index: %d): %w", index, err)
	}
	return child, nil
}
