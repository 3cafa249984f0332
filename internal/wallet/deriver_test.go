package wallet

import (
	"crypto/ecdsa"
	"strings"
	"testing"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func addrFromKey(key *ecdsa.PrivateKey) string {
	return ethcrypto.PubkeyToAddress(key.PublicKey).Hex()
}

const testMnemonic = "abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon about"

func newTestWallet(t *testing.T) *HDWallet {
	w, err := NewHDWallet(testMnemonic, zap.NewNop())
	require.NoError(t, err)
	return w
}

// TestDeriveAddress_KnownVector 对公开测试向量校验 m/44'/60'/0'/0/0
func TestDeriveAddress_KnownVector(t *testing.T) {
	w := newTestWallet(t)

	addr, err := w.DeriveAddress(0)
	require.NoError(t, err)
	assert.Equal(t, "0x9858EfFD232B4033E47d90003D41EC34EcaEda94", addr)
}

// TestDeriveAddress_Deterministic 相同 (种子, index) 永远得到相同地址
func TestDeriveAddress_Deterministic(t *testing.T) {
	w1 := newTestWallet(t)
	w2 := newTestWallet(t)

	for _, index := range []int64{0, 1, 7, 1000} {
		a1, err := w1.DeriveAddress(index)
		require.NoError(t, err)
		a2, err := w2.DeriveAddress(index)
		require.NoError(t, err)
		assert.Equal(t, a1, a2)
	}
}

// TestDeriveAddress_Unique 不同 index 产出不同地址
func TestDeriveAddress_Unique(t *testing.T) {
	w := newTestWallet(t)

	seen := make(map[string]int64)
	for index := int64(0); index < 20; index++ {
		addr, err := w.DeriveAddress(index)
		require.NoError(t, err)
		assert.True(t, strings.HasPrefix(addr, "0x"))
		assert.Len(t, addr, 42)

		if prev, dup := seen[addr]; dup {
			t.Fatalf("index %d 与 %d 派生出相同地址 %s", index, prev, addr)
		}
		seen[addr] = index
	}
}

// TestDeriveAddress_InvalidIndex 非法 index 必须报错，绝不产出地址
func TestDeriveAddress_InvalidIndex(t *testing.T) {
	w := newTestWallet(t)

	_, err := w.DeriveAddress(-1)
	assert.Error(t, err)

	_, err = w.DeriveAddress(int64(maxDerivationIndex) + 1)
	assert.Error(t, err)
}

// TestSigningKeyFor_MatchesAddress 签名私钥与派生地址必须一一对应
func TestSigningKeyFor_MatchesAddress(t *testing.T) {
	w := newTestWallet(t)

	key, err := w.SigningKeyFor(3)
	require.NoError(t, err)
	require.NotNil(t, key)

	addr, err := w.DeriveAddress(3)
	require.NoError(t, err)

	derived := addrFromKey(key)
	assert.Equal(t, strings.ToLower(addr), strings.ToLower(derived))
}

// TestNewHDWallet_HexSeed 十六进制种子同样可用且确定
func TestNewHDWallet_HexSeed(t *testing.T) {
	seed := "000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f"

	w1, err := NewHDWallet(seed, zap.NewNop())
	require.NoError(t, err)
	w2, err := NewHDWallet("0x"+seed, zap.NewNop())
	require.NoError(t, err)

	a1, err := w1.DeriveAddress(0)
	require.NoError(t, err)
	a2, err := w2.DeriveAddress(0)
	require.NoError(t, err)
	assert.Equal(t, a1, a2)
}

// TestNewHDWallet_InvalidSeed 非法种子属于致命配置错误
func TestNewHDWallet_InvalidSeed(t *testing.T) {
	cases := []struct {
		name string
		seed string
	}{
		{"空种子", ""},
		{"非法助记词且非十六进制", "not a mnemonic at all"},
		{"十六进制过短", "abcd"},
		{"十六进制过长", strings.Repeat("ab", 65)},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NewHDWallet(tc.seed, zap.NewNop())
			assert.Error(t, err)
		})
	}
}
