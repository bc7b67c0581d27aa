package vault

import (
	"bytes"
	"testing"

	xerrors "OpenWallet-Chain/internal/errors"
)

func testKey() []byte {
	key := make([]byte, derivedKeyLen)
	for i := range key {
		key[i] = byte(i)
	}
	return key
}

func TestSealOpenRoundTrip(t *testing.T) {
	key := testKey()
	plaintext := []byte("a9f3e2c1d4b5a6978877665544332211")

	secret, err := seal(key, plaintext)
	if err != nil {
		t.Fatalf("seal: %v", err)
	}
	got, err := open(key, secret)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if !bytes.Equal(got, plaintext) {
		t.Fatalf("unexpected plaintext: got %q want %q", got, plaintext)
	}
}

func TestSealUsesFreshNonce(t *testing.T) {
	key := testKey()
	plaintext := []byte("same input")

	first, err := seal(key, plaintext)
	if err != nil {
		t.Fatalf("seal first: %v", err)
	}
	second, err := seal(key, plaintext)
	if err != nil {
		t.Fatalf("seal second: %v", err)
	}
	if bytes.Equal(first.IV, second.IV) {
		t.Fatal("nonce reused across seal calls")
	}
	if bytes.Equal(first.Ciphertext, second.Ciphertext) {
		t.Fatal("identical ciphertext for two seal calls")
	}
}

func TestOpenRejectsWrongKey(t *testing.T) {
	secret, err := seal(testKey(), []byte("secret material"))
	if err != nil {
		t.Fatalf("seal: %v", err)
	}

	wrongKey := testKey()
	wrongKey[0] ^= 0xff
	if _, err := open(wrongKey, secret); xerrors.CodeOf(err) != xerrors.CodeDecryptionFailed {
		t.Fatalf("unexpected error for wrong key: %v", err)
	}
}

func TestOpenRejectsTamperedCiphertext(t *testing.T) {
	key := testKey()
	secret, err := seal(key, []byte("secret material"))
	if err != nil {
		t.Fatalf("seal: %v", err)
	}

	secret.Ciphertext[0] ^= 0x01
	if _, err := open(key, secret); xerrors.CodeOf(err) != xerrors.CodeDecryptionFailed {
		t.Fatalf("unexpected error for tampered ciphertext: %v", err)
	}
}

func TestOpenRejectsTamperedTag(t *testing.T) {
	key := testKey()
	secret, err := seal(key, []byte("secret material"))
	if err != nil {
		t.Fatalf("seal: %v", err)
	}

	secret.Tag[0] ^= 0x01
	if _, err := open(key, secret); xerrors.CodeOf(err) != xerrors.CodeDecryptionFailed {
		t.Fatalf("unexpected error for tampered tag: %v", err)
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	secret, err := seal(testKey(), []byte("payload"))
	if err != nil {
		t.Fatalf("seal: %v", err)
	}

	decoded, err := DecodeSecret(secret.Encode())
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !bytes.Equal(decoded.IV, secret.IV) || !bytes.Equal(decoded.Tag, secret.Tag) || !bytes.Equal(decoded.Ciphertext, secret.Ciphertext) {
		t.Fatal("decoded secret differs from original")
	}
}

func TestDecodeSecretRejectsMalformedInput(t *testing.T) {
	cases := []string{
		"",
		"aabb:ccdd",
		"aabb:ccdd:eeff:0011",
		"zz:ccdd:eeff",
		"aabb:zz:eeff",
		"aabb:ccdd:zz",
	}
	for _, encoded := range cases {
		if _, err := DecodeSecret(encoded); xerrors.CodeOf(err) != xerrors.CodeDecryptionFailed {
			t.Fatalf("input %q: unexpected error %v", encoded, err)
		}
	}
}
