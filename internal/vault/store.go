package vault

import "context"

// Record 是凭据的落库结构。私钥只以密文形式存在于 Record 中；
// 地址字段是对应密文明文的确定性公钥推导。
type Record struct {
	UserID              int64
	EVMKeyCiphertext    string
	SolanaKeyCiphertext string
	EVMAddress          string
	SolanaAddress       string
	CreatedAt           int64
}

// Store 抽象凭据持久化。实现需要保证：
//   - Insert 对已存在的 UserID 返回 DUPLICATE_USER；
//   - Get 对不存在的 UserID 返回 NOT_FOUND，与解密失败严格区分。
type Store interface {
	Insert(ctx context.Context, record Record) error
	Get(ctx context.Context, userID int64) (*Record, error)
}
