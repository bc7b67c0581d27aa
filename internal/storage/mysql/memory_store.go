package mysql

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	xerrors "OpenWallet-Chain/internal/errors"
	"OpenWallet-Chain/internal/vault"
)

// storedCredential 是内存存储的落盘结构。
type storedCredential struct {
	UserID              int64  `json:"user_id"`
	EVMKeyCiphertext    string `json:"evm_key_ciphertext"`
	SolanaKeyCiphertext string `json:"solana_key_ciphertext"`
	EVMAddress          string `json:"evm_address"`
	SolanaAddress       string `json:"solana_address"`
	CreatedAt           int64  `json:"created_at"`
}

// MemoryCredentialStore 使用本地 JSONL 文件模拟 MySQL 的效果，
// 方便开发与测试环境在无数据库时运行。密文本身已经过认证加密，
// 文件内容不包含任何明文私钥。
type MemoryCredentialStore struct {
	mu       sync.RWMutex
	dataFile string
	records  map[int64]vault.Record
}

// NewMemoryCredentialStore 创建文件支撑的内存凭据存储。
func NewMemoryCredentialStore(dataDir string) (*MemoryCredentialStore, error) {
	if dataDir == "" {
		dataDir = "."
	}
	if err := os.MkdirAll(dataDir, 0o700); err != nil {
		return nil, fmt.Errorf("创建数据目录失败: %w", err)
	}
	store := &MemoryCredentialStore{
		dataFile: filepath.Join(dataDir, "credentials.log"),
		records:  make(map[int64]vault.Record),
	}
	if err := store.loadFromDisk(); err != nil {
		return nil, err
	}
	return store, nil
}

// Insert 实现 vault.Store。
func (m *MemoryCredentialStore) Insert(_ context.Context, record vault.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.records[record.UserID]; ok {
		return xerrors.New(xerrors.CodeDuplicateUser, "")
	}

	file, err := os.OpenFile(m.dataFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "打开凭据文件失败")
	}
	defer file.Close()

	encoded, err := json.Marshal(storedCredential(record))
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "序列化凭据失败")
	}
	if _, err := file.Write(append(encoded, '\n')); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "写入凭据文件失败")
	}

	m.records[record.UserID] = record
	return nil
}

// Get 实现 vault.Store。
func (m *MemoryCredentialStore) Get(_ context.Context, userID int64) (*vault.Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	record, ok := m.records[userID]
	if !ok {
		return nil, xerrors.New(xerrors.CodeNotFound, "")
	}
	clone := record
	return &clone, nil
}

func (m *MemoryCredentialStore) loadFromDisk() error {
	file, err := os.OpenFile(m.dataFile, os.O_RDONLY|os.O_CREATE, 0o600)
	if err != nil {
		return fmt.Errorf("读取凭据文件失败: %w", err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		var stored storedCredential
		if err := json.Unmarshal(scanner.Bytes(), &stored); err != nil {
			continue
		}
		m.records[stored.UserID] = vault.Record(stored)
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("解析凭据文件失败: %w", err)
	}
	return nil
}
