package mysql

import (
	"context"
	"database/sql"
	stdErrors "errors"

	xerrors "OpenWallet-Chain/internal/errors"
	"OpenWallet-Chain/internal/vault"

	"github.com/go-sql-driver/mysql"
)

// mysqlDuplicateEntry 是 MySQL 唯一键冲突的错误号。
const mysqlDuplicateEntry = 1062

// SQLCredentialStore 使用 MySQL 持久化用户凭据密文。
type SQLCredentialStore struct {
	db *sql.DB
}

// NewSQLCredentialStore 创建连接池并执行迁移。
func NewSQLCredentialStore(ctx context.Context, cfg Config) (*SQLCredentialStore, error) {
	db, err := openDatabase(ctx, cfg)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeConfiguration, err, "初始化凭据存储失败")
	}
	store := &SQLCredentialStore{db: db}
	if err := store.runMigrations(ctx); err != nil {
		db.Close()
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "执行迁移失败")
	}
	return store, nil
}

// Close 释放连接池。
func (s *SQLCredentialStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Insert 实现 vault.Store。主键冲突映射为 DUPLICATE_USER。
func (s *SQLCredentialStore) Insert(ctx context.Context, record vault.Record) error {
	const query = `INSERT INTO wallet_credentials
(user_id, evm_key_ciphertext, solana_key_ciphertext, evm_address, solana_address, created_at)
VALUES (?, ?, ?, ?, ?, ?)`

	_, err := s.db.ExecContext(ctx, query,
		record.UserID,
		record.EVMKeyCiphertext,
		record.SolanaKeyCiphertext,
		record.EVMAddress,
		record.SolanaAddress,
		record.CreatedAt,
	)
	if err != nil {
		var mysqlErr *mysql.MySQLError
		if stdErrors.As(err, &mysqlErr) && mysqlErr.Number == mysqlDuplicateEntry {
			return xerrors.New(xerrors.CodeDuplicateUser, "")
		}
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "写入凭据失败")
	}
	return nil
}

// Get 实现 vault.Store。
func (s *SQLCredentialStore) Get(ctx context.Context, userID int64) (*vault.Record, error) {
	const query = `SELECT user_id, evm_key_ciphertext, solana_key_ciphertext, evm_address, solana_address, created_at
FROM wallet_credentials WHERE user_id = ?`

	row := s.db.QueryRowContext(ctx, query, userID)
	var record vault.Record
	if err := row.Scan(
		&record.UserID,
		&record.EVMKeyCiphertext,
		&record.SolanaKeyCiphertext,
		&record.EVMAddress,
		&record.SolanaAddress,
		&record.CreatedAt,
	); err != nil {
		if stdErrors.Is(err, sql.ErrNoRows) {
			return nil, xerrors.New(xerrors.CodeNotFound, "")
		}
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询凭据失败")
	}
	return &record, nil
}
