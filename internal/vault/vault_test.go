package vault

import (
	"context"
	"strings"
	"sync"
	"testing"

	xerrors "OpenWallet-Chain/internal/errors"
)

const testPassphrase = "operator-passphrase-for-tests"

type fakeStore struct {
	mu      sync.Mutex
	records map[int64]Record
}

func newFakeStore() *fakeStore {
	return &fakeStore{records: make(map[int64]Record)}
}

func (s *fakeStore) Insert(_ context.Context, record Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[record.UserID]; ok {
		return xerrors.New(xerrors.CodeDuplicateUser, "")
	}
	s.records[record.UserID] = record
	return nil
}

func (s *fakeStore) Get(_ context.Context, userID int64) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.records[userID]
	if !ok {
		return nil, xerrors.New(xerrors.CodeNotFound, "")
	}
	clone := record
	return &clone, nil
}

func TestCreateAndLoadRoundTrip(t *testing.T) {
	store := newFakeStore()
	svc := NewService(store)
	ctx := context.Background()

	created, err := svc.Create(ctx, 42, testPassphrase)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if created.EVMAddress == "" || created.SolanaAddress == "" {
		t.Fatalf("missing addresses: %+v", created)
	}
	if !strings.HasPrefix(created.EVMAddress, "0x") {
		t.Fatalf("unexpected evm address format: %s", created.EVMAddress)
	}

	loaded, err := svc.Load(ctx, 42, testPassphrase)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded.EVMPrivateKey != created.EVMPrivateKey {
		t.Fatal("evm key changed across round trip")
	}
	if loaded.SolanaPrivateKey != created.SolanaPrivateKey {
		t.Fatal("solana key changed across round trip")
	}
	if loaded.EVMAddress != created.EVMAddress || loaded.SolanaAddress != created.SolanaAddress {
		t.Fatal("addresses changed across round trip")
	}

	if _, err := loaded.EVMSigner(); err != nil {
		t.Fatalf("evm signer: %v", err)
	}
	if _, err := loaded.SolanaSigner(); err != nil {
		t.Fatalf("solana signer: %v", err)
	}
}

func TestStoredCiphertextOmitsPlaintext(t *testing.T) {
	store := newFakeStore()
	svc := NewService(store)

	created, err := svc.Create(context.Background(), 7, testPassphrase)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	record := store.records[7]
	if strings.Contains(record.EVMKeyCiphertext, created.EVMPrivateKey) {
		t.Fatal("evm private key stored in the clear")
	}
	if strings.Contains(record.SolanaKeyCiphertext, created.SolanaPrivateKey) {
		t.Fatal("solana private key stored in the clear")
	}
}

func TestLoadWrongPassphrase(t *testing.T) {
	store := newFakeStore()
	svc := NewService(store)
	ctx := context.Background()

	if _, err := svc.Create(ctx, 1, testPassphrase); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := svc.Load(ctx, 1, "not-the-passphrase"); xerrors.CodeOf(err) != xerrors.CodeDecryptionFailed {
		t.Fatalf("unexpected error for wrong passphrase: %v", err)
	}
}

func TestLoadTamperedRecord(t *testing.T) {
	store := newFakeStore()
	svc := NewService(store)
	ctx := context.Background()

	if _, err := svc.Create(ctx, 2, testPassphrase); err != nil {
		t.Fatalf("create: %v", err)
	}

	record := store.records[2]
	record.EVMKeyCiphertext = flipHexDigit(record.EVMKeyCiphertext)
	store.records[2] = record

	if _, err := svc.Load(ctx, 2, testPassphrase); xerrors.CodeOf(err) != xerrors.CodeDecryptionFailed {
		t.Fatalf("unexpected error for tampered record: %v", err)
	}
}

// flipHexDigit 篡改最后一段密文的第一个十六进制字符。
func flipHexDigit(encoded string) string {
	idx := strings.LastIndex(encoded, ":") + 1
	replacement := byte('0')
	if encoded[idx] == '0' {
		replacement = '1'
	}
	return encoded[:idx] + string(replacement) + encoded[idx+1:]
}

func TestCreateDuplicateUser(t *testing.T) {
	store := newFakeStore()
	svc := NewService(store)
	ctx := context.Background()

	if _, err := svc.Create(ctx, 3, testPassphrase); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := svc.Create(ctx, 3, testPassphrase); xerrors.CodeOf(err) != xerrors.CodeDuplicateUser {
		t.Fatalf("unexpected error for duplicate user: %v", err)
	}
}

func TestLoadMissingUser(t *testing.T) {
	svc := NewService(newFakeStore())
	if _, err := svc.Load(context.Background(), 404, testPassphrase); xerrors.CodeOf(err) != xerrors.CodeNotFound {
		t.Fatalf("unexpected error for missing user: %v", err)
	}
}

func TestCreateEmptyPassphrase(t *testing.T) {
	svc := NewService(newFakeStore())
	if _, err := svc.Create(context.Background(), 5, ""); xerrors.CodeOf(err) != xerrors.CodeInvalidArgument {
		t.Fatalf("unexpected error for empty passphrase: %v", err)
	}
}

func TestEnsureCredentialCreatesThenReuses(t *testing.T) {
	svc := NewService(newFakeStore())
	ctx := context.Background()

	first, err := svc.EnsureCredential(ctx, 9, testPassphrase)
	if err != nil {
		t.Fatalf("ensure first: %v", err)
	}
	second, err := svc.EnsureCredential(ctx, 9, testPassphrase)
	if err != nil {
		t.Fatalf("ensure second: %v", err)
	}
	if first.EVMAddress != second.EVMAddress {
		t.Fatal("ensure created a new credential for an existing user")
	}
}

func TestAddressesDoesNotRequirePassphrase(t *testing.T) {
	svc := NewService(newFakeStore())
	ctx := context.Background()

	created, err := svc.Create(ctx, 11, testPassphrase)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	evm, sol, err := svc.Addresses(ctx, 11)
	if err != nil {
		t.Fatalf("addresses: %v", err)
	}
	if evm != created.EVMAddress || sol != created.SolanaAddress {
		t.Fatal("addresses differ from created credential")
	}
}

func TestKeyCacheDerivesOnce(t *testing.T) {
	cache := newKeyCache()
	first, err := cache.derive(testPassphrase)
	if err != nil {
		t.Fatalf("derive: %v", err)
	}
	second, err := cache.derive(testPassphrase)
	if err != nil {
		t.Fatalf("derive cached: %v", err)
	}
	if &first[0] != &second[0] {
		t.Fatal("expected the cached key slice to be returned")
	}
}
