package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"strings"

	xerrors "OpenWallet-Chain/internal/errors"
)

// EncryptedSecret 表示一段经过认证加密的密文，三个字段各自独立编码。
// 落库格式为冒号分隔的三段十六进制：iv:tag:ciphertext。
type EncryptedSecret struct {
	IV         []byte
	Tag        []byte
	Ciphertext []byte
}

// Encode 序列化为落库字符串。
func (s EncryptedSecret) Encode() string {
	return strings.Join([]string{
		hex.EncodeToString(s.IV),
		hex.EncodeToString(s.Tag),
		hex.EncodeToString(s.Ciphertext),
	}, ":")
}

// DecodeSecret 解析落库字符串。格式错误按解密失败处理，与“记录不存在”
// 严格区分。
func DecodeSecret(encoded string) (EncryptedSecret, error) {
	parts := strings.Split(encoded, ":")
	if len(parts) != 3 {
		return EncryptedSecret{}, xerrors.New(xerrors.CodeDecryptionFailed, "密文格式不合法")
	}
	iv, err := hex.DecodeString(parts[0])
	if err != nil {
		return EncryptedSecret{}, xerrors.Wrap(xerrors.CodeDecryptionFailed, err, "解析 IV 失败")
	}
	tag, err := hex.DecodeString(parts[1])
	if err != nil {
		return EncryptedSecret{}, xerrors.Wrap(xerrors.CodeDecryptionFailed, err, "解析认证标签失败")
	}
	ciphertext, err := hex.DecodeString(parts[2])
	if err != nil {
		return EncryptedSecret{}, xerrors.Wrap(xerrors.CodeDecryptionFailed, err, "解析密文失败")
	}
	return EncryptedSecret{IV: iv, Tag: tag, Ciphertext: ciphertext}, nil
}

// seal 使用 AES-256-GCM 加密明文。每次调用生成新的随机 nonce，
// 同一密钥下 nonce 绝不复用。
func seal(key, plaintext []byte) (EncryptedSecret, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return EncryptedSecret{}, fmt.Errorf("创建 cipher 失败: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return EncryptedSecret{}, fmt.Errorf("创建 GCM 失败: %w", err)
	}

	iv := make([]byte, aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return EncryptedSecret{}, fmt.Errorf("生成 nonce 失败: %w", err)
	}

	sealed := aead.Seal(nil, iv, plaintext, nil)
	// GCM 输出为 ciphertext||tag，拆开分别存储。
	tagOffset := len(sealed) - aead.Overhead()
	return EncryptedSecret{
		IV:         iv,
		Tag:        sealed[tagOffset:],
		Ciphertext: sealed[:tagOffset],
	}, nil
}

// open 解密并校验认证标签。标签校验不通过返回 DECRYPTION_FAILED，
// 绝不返回部分解密的明文。
func open(key []byte, secret EncryptedSecret) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeDecryptionFailed, err, "创建 cipher 失败")
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeDecryptionFailed, err, "创建 GCM 失败")
	}
	if len(secret.IV) != aead.NonceSize() {
		return nil, xerrors.New(xerrors.CodeDecryptionFailed, "IV 长度不合法")
	}

	sealed := append(append([]byte{}, secret.Ciphertext...), secret.Tag...)
	plaintext, err := aead.Open(nil, secret.IV, sealed, nil)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeDecryptionFailed, err, "认证标签校验失败")
	}
	return plaintext, nil
}
