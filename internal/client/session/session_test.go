package session

import (
	"encoding/json"
	"testing"
)

func TestEncryptDecrypt(t *testing.T) {
	originalData := "This is a secret message"

	encrypted, err := encrypt([]byte(originalData))
	if err != nil {
		t.Fatalf("Failed to encrypt: %v", err)
	}

	if encrypted == "" {
		t.Fatal("Encrypted string is empty")
	}

	decrypted, err := decrypt(encrypted)
	if err != nil {
		t.Fatalf("Failed to decrypt: %v", err)
	}

	if string(decrypted) != originalData {
		t.Errorf("Expected %q, got %q", originalData, string(decrypted))
	}
}

func TestDecryptRejectsGarbage(t *testing.T) {
	if _, err := decrypt("not-base64!!"); err == nil {
		t.Error("expected an error for invalid base64")
	}
	if _, err := decrypt("c2hvcnQ="); err == nil {
		t.Error("expected an error for a too-short ciphertext")
	}
}

func TestCredentialsRoundTrip(t *testing.T) {
	original := Credentials{
		ServerURL: "wss://tavern.example",
		Username:  "bran",
		UserID:    7,
		Token:     "bearer-token-value",
	}

	data, err := json.Marshal(original)
	if err != nil {
		t.Fatalf("Failed to marshal credentials: %v", err)
	}

	encrypted, err := encrypt(data)
	if err != nil {
		t.Fatalf("Failed to encrypt credentials: %v", err)
	}

	decryptedData, err := decrypt(encrypted)
	if err != nil {
		t.Fatalf("Failed to decrypt credentials: %v", err)
	}

	var restored Credentials
	if err := json.Unmarshal(decryptedData, &restored); err != nil {
		t.Fatalf("Failed to unmarshal restored credentials: %v", err)
	}

	if restored != original {
		t.Errorf("Expected %+v, got %+v", original, restored)
	}
}
