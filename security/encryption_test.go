package security

import (
	"bytes"
	"encoding/base64"
	"testing"
)

func TestGenerateKey(t *testing.T) {
	key, err := GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey() error = %v", err)
	}
	if len(key) != 32 {
		t.Errorf("GenerateKey() returned key of length %d, want 32", len(key))
	}

	key2, err := GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey() error = %v", err)
	}
	if bytes.Equal(key, key2) {
		t.Error("GenerateKey() returned identical keys")
	}
}

func TestNewEncryptor(t *testing.T) {
	tests := []struct {
		name       string
		key        []byte
		wantErr    bool
		wantEnable bool
	}{
		{name: "valid 32-byte key", key: make([]byte, 32), wantEnable: true},
		{name: "nil key (disabled)", key: nil},
		{name: "empty key (disabled)", key: []byte{}},
		{name: "short key", key: make([]byte, 16), wantErr: true},
		{name: "long key", key: make([]byte, 64), wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			enc, err := NewEncryptor(tt.key)
			if (err != nil) != tt.wantErr {
				t.Fatalf("NewEncryptor() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil {
				return
			}
			if enc.IsEnabled() != tt.wantEnable {
				t.Errorf("IsEnabled() = %v, want %v", enc.IsEnabled(), tt.wantEnable)
			}
		})
	}
}

func TestEncryptor_SealOpen(t *testing.T) {
	key, _ := GenerateKey()
	enc, err := NewEncryptor(key)
	if err != nil {
		t.Fatalf("NewEncryptor() error = %v", err)
	}

	for _, plaintext := range []string{"", "short", `{"token":"abc","scopes":["a","b"]}`} {
		sealed, err := enc.Seal([]byte(plaintext), "oauth:token:abc")
		if err != nil {
			t.Fatalf("Seal() error = %v", err)
		}
		if plaintext != "" && sealed == plaintext {
			t.Error("Seal() returned plaintext")
		}

		opened, err := enc.Open(sealed, "oauth:token:abc")
		if err != nil {
			t.Fatalf("Open() error = %v", err)
		}
		if string(opened) != plaintext {
			t.Errorf("Open() = %q, want %q", opened, plaintext)
		}
	}
}

func TestEncryptor_SealIsRandomized(t *testing.T) {
	key, _ := GenerateKey()
	enc, _ := NewEncryptor(key)

	a, _ := enc.Seal([]byte("same"), "k")
	b, _ := enc.Seal([]byte("same"), "k")
	if a == b {
		t.Error("two seals of the same plaintext should differ")
	}
}

func TestEncryptor_Open_WrongAssociatedData(t *testing.T) {
	key, _ := GenerateKey()
	enc, _ := NewEncryptor(key)

	sealed, err := enc.Seal([]byte("secret"), "oauth:token:a")
	if err != nil {
		t.Fatalf("Seal() error = %v", err)
	}
	if _, err := enc.Open(sealed, "oauth:token:b"); err == nil {
		t.Error("Open() under a different key should fail")
	}
}

func TestEncryptor_Disabled(t *testing.T) {
	enc, _ := NewEncryptor(nil)

	sealed, err := enc.Seal([]byte("plain"), "k")
	if err != nil || sealed != "plain" {
		t.Errorf("Seal() = %q, %v; want passthrough", sealed, err)
	}
	opened, err := enc.Open("plain", "k")
	if err != nil || string(opened) != "plain" {
		t.Errorf("Open() = %q, %v; want passthrough", opened, err)
	}

	var nilEnc *Encryptor
	if nilEnc.IsEnabled() {
		t.Error("nil encryptor should report disabled")
	}
}

func TestEncryptor_Open_InvalidData(t *testing.T) {
	key, _ := GenerateKey()
	enc, _ := NewEncryptor(key)

	tests := []struct {
		name string
		data string
	}{
		{"not base64", "!!!"},
		{"too short", base64.StdEncoding.EncodeToString([]byte("abc"))},
		{"corrupted", base64.StdEncoding.EncodeToString(make([]byte, 40))},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := enc.Open(tt.data, "k"); err == nil {
				t.Error("Open() should fail")
			}
		})
	}
}

func TestEncryptor_Open_WrongKey(t *testing.T) {
	key1, _ := GenerateKey()
	key2, _ := GenerateKey()
	enc1, _ := NewEncryptor(key1)
	enc2, _ := NewEncryptor(key2)

	sealed, _ := enc1.Seal([]byte("secret"), "k")
	if _, err := enc2.Open(sealed, "k"); err == nil {
		t.Error("Open() with wrong key should fail")
	}
}

func TestKeyBase64RoundTrip(t *testing.T) {
	key, _ := GenerateKey()
	decoded, err := KeyFromBase64(KeyToBase64(key))
	if err != nil {
		t.Fatalf("KeyFromBase64() error = %v", err)
	}
	if !bytes.Equal(decoded, key) {
		t.Error("round trip changed the key")
	}

	if _, err := KeyFromBase64("not-base64!"); err == nil {
		t.Error("KeyFromBase64() should reject invalid base64")
	}
	if _, err := KeyFromBase64(base64.StdEncoding.EncodeToString(make([]byte, 16))); err == nil {
		t.Error("KeyFromBase64() should reject short keys")
	}
}
