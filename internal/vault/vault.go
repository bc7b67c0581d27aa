package vault

import (
	"context"
	"crypto/ecdsa"
	"encoding/hex"
	"log/slog"
	"time"

	xerrors "OpenWallet-Chain/internal/errors"
	"OpenWallet-Chain/pkg/logger"

	gethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/gagliardetto/solana-go"
)

// Credential 是解密后的用户签名材料。只存在于内存，绝不落库。
type Credential struct {
	UserID           int64
	EVMAddress       string
	SolanaAddress    string
	EVMPrivateKey    string // hex 编码的 secp256k1 私钥
	SolanaPrivateKey string // base58 编码的 ed25519 私钥
	CreatedAt        int64
}

// EVMSigner 返回可用于交易签名的 secp256k1 私钥对象。
func (c *Credential) EVMSigner() (*ecdsa.PrivateKey, error) {
	key, err := gethcrypto.HexToECDSA(c.EVMPrivateKey)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeDecryptionFailed, err, "解析 EVM 私钥失败")
	}
	return key, nil
}

// SolanaSigner 返回可用于交易签名的 ed25519 私钥对象。
func (c *Credential) SolanaSigner() (solana.PrivateKey, error) {
	key, err := solana.PrivateKeyFromBase58(c.SolanaPrivateKey)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeDecryptionFailed, err, "解析 Solana 私钥失败")
	}
	return key, nil
}

// Service 管理用户签名凭据的生成、加密存储与解密读取。
type Service struct {
	store Store
	cache *keyCache
	log   *slog.Logger
}

// NewService 创建凭据保管服务。
func NewService(store Store) *Service {
	return &Service{
		store: store,
		cache: newKeyCache(),
		log:   logger.Named("vault"),
	}
}

// Create 为用户生成两条链族的新密钥对，用口令派生密钥加密后持久化。
// 用户已存在时返回 DUPLICATE_USER。
func (s *Service) Create(ctx context.Context, userID int64, passphrase string) (*Credential, error) {
	if passphrase == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "口令不能为空")
	}

	key, err := s.cache.derive(passphrase)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeConfiguration, err, "口令派生失败")
	}

	evmKey, err := gethcrypto.GenerateKey()
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeVaultFailure, err, "生成 EVM 密钥失败")
	}
	evmPlain := hex.EncodeToString(gethcrypto.FromECDSA(evmKey))
	evmAddress := gethcrypto.PubkeyToAddress(evmKey.PublicKey).Hex()

	solWallet := solana.NewWallet()
	solPlain := solWallet.PrivateKey.String()
	solAddress := solWallet.PublicKey().String()

	evmSecret, err := seal(key, []byte(evmPlain))
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeVaultFailure, err, "加密 EVM 私钥失败")
	}
	solSecret, err := seal(key, []byte(solPlain))
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeVaultFailure, err, "加密 Solana 私钥失败")
	}

	now := time.Now().Unix()
	record := Record{
		UserID:              userID,
		EVMKeyCiphertext:    evmSecret.Encode(),
		SolanaKeyCiphertext: solSecret.Encode(),
		EVMAddress:          evmAddress,
		SolanaAddress:       solAddress,
		CreatedAt:           now,
	}
	if err := s.store.Insert(ctx, record); err != nil {
		return nil, err
	}

	s.log.Info("凭据已创建",
		slog.Int64("user_id", userID),
		slog.String("evm_address", evmAddress),
		slog.String("solana_address", solAddress))

	return &Credential{
		UserID:           userID,
		EVMAddress:       evmAddress,
		SolanaAddress:    solAddress,
		EVMPrivateKey:    evmPlain,
		SolanaPrivateKey: solPlain,
		CreatedAt:        now,
	}, nil
}

// Load 读取并解密用户凭据。记录不存在返回 NOT_FOUND；口令错误或密文
// 被篡改返回 DECRYPTION_FAILED。
func (s *Service) Load(ctx context.Context, userID int64, passphrase string) (*Credential, error) {
	record, err := s.store.Get(ctx, userID)
	if err != nil {
		return nil, err
	}

	key, err := s.cache.derive(passphrase)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeConfiguration, err, "口令派生失败")
	}

	evmSecret, err := DecodeSecret(record.EVMKeyCiphertext)
	if err != nil {
		return nil, err
	}
	evmPlain, err := open(key, evmSecret)
	if err != nil {
		return nil, err
	}

	solSecret, err := DecodeSecret(record.SolanaKeyCiphertext)
	if err != nil {
		return nil, err
	}
	solPlain, err := open(key, solSecret)
	if err != nil {
		return nil, err
	}

	return &Credential{
		UserID:           record.UserID,
		EVMAddress:       record.EVMAddress,
		SolanaAddress:    record.SolanaAddress,
		EVMPrivateKey:    string(evmPlain),
		SolanaPrivateKey: string(solPlain),
		CreatedAt:        record.CreatedAt,
	}, nil
}

// EnsureCredential 返回已有凭据，不存在时创建。面向网关层的便捷入口。
func (s *Service) EnsureCredential(ctx context.Context, userID int64, passphrase string) (*Credential, error) {
	cred, err := s.Load(ctx, userID, passphrase)
	if err == nil {
		return cred, nil
	}
	if xerrors.CodeOf(err) != xerrors.CodeNotFound {
		return nil, err
	}
	return s.Create(ctx, userID, passphrase)
}

// Addresses 只返回地址信息，不解密私钥。用于只读查询。
func (s *Service) Addresses(ctx context.Context, userID int64) (evm, sol string, err error) {
	record, err := s.store.Get(ctx, userID)
	if err != nil {
		return "", "", err
	}
	return record.EVMAddress, record.SolanaAddress, nil
}
