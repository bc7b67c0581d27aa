package vault

import (
	"fmt"
	"sync"

	"golang.org/x/crypto/scrypt"
)

// scrypt 参数。N=2^15 高于常见基线，单次派生在百毫秒量级，
// 因此派生结果必须缓存。
const (
	scryptN       = 1 << 15
	scryptR       = 8
	scryptP       = 1
	derivedKeyLen = 32
)

// keyDerivationSalt 是部署级固定盐。整个部署共享一个操作员口令，
// 派生缓存按口令取值，不按用户区分。
var keyDerivationSalt = []byte("openwallet-chain/vault/v1")

// keyCache 在进程内缓存口令派生出的对称密钥，避免每次读写凭据都
// 重新执行 scrypt。
type keyCache struct {
	mu   sync.Mutex
	keys map[string][]byte
}

func newKeyCache() *keyCache {
	return &keyCache{keys: make(map[string][]byte)}
}

// derive 返回口令对应的 32 字节 AES 密钥，首次调用执行派生并缓存。
func (c *keyCache) derive(passphrase string) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if key, ok := c.keys[passphrase]; ok {
		return key, nil
	}

	key, err := scrypt.Key([]byte(passphrase), keyDerivationSalt, scryptN, scryptR, scryptP, derivedKeyLen)
	if err != nil {
		return nil, fmt.Errorf("派生密钥失败: %w", err)
	}
	c.keys[passphrase] = key
	return key, nil
}
