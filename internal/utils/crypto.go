package utils

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// KeySize is the AES-256 key length used by sealed envelopes
const KeySize = 32

var (
	ErrInvalidKey      = errors.New("key must be 32 bytes")
	ErrInvalidEnvelope = errors.New("malformed envelope")
	ErrInvalidMAC      = errors.New("envelope MAC mismatch")
	ErrInvalidPadding  = errors.New("invalid PKCS#7 padding")
)

// envelope is the JSON structure carried base64 encoded in payment callbacks
type envelope struct {
	IV    string `json:"iv"`
	Value string `json:"value"`
	MAC   string `json:"mac"`
}

// SealEnvelope encrypts plaintext with AES-256-CBC and authenticates it with
// HMAC-SHA256 over the base64 text of iv and value
func SealEnvelope(key, plaintext []byte) (string, error) {
	if len(key) != KeySize {
		return "", ErrInvalidKey
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return "", fmt.Errorf("failed to create cipher: %w", err)
	}

	iv := make([]byte, aes.BlockSize)
	if _, err := rand.Read(iv); err != nil {
		return "", fmt.Errorf("failed to generate iv: %w", err)
	}

	padded := pkcs7Pad(plaintext, aes.BlockSize)
	ciphertext := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(ciphertext, padded)

	env := envelope{
		IV:    base64.StdEncoding.EncodeToString(iv),
		Value: base64.StdEncoding.EncodeToString(ciphertext),
	}
	env.MAC = computeMAC(key, env.IV, env.Value)

	raw, err := json.Marshal(env)
	if err != nil {
		return "", fmt.Errorf("failed to encode envelope: %w", err)
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}

// OpenEnvelope verifies and decrypts a payload produced by SealEnvelope.
// The MAC is checked before any decryption happens.
func OpenEnvelope(key []byte, payload string) ([]byte, error) {
	if len(key) != KeySize {
		return nil, ErrInvalidKey
	}

	// query string decoding turns '+' into ' '
	payload = strings.ReplaceAll(strings.TrimSpace(payload), " ", "+")
	if payload == "" {
		return nil, ErrInvalidEnvelope
	}

	raw, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidEnvelope, err)
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidEnvelope, err)
	}
	if env.IV == "" || env.Value == "" || env.MAC == "" {
		return nil, ErrInvalidEnvelope
	}

	expected, err := hex.DecodeString(computeMAC(key, env.IV, env.Value))
	if err != nil {
		return nil, err
	}
	given, err := hex.DecodeString(env.MAC)
	if err != nil || !hmac.Equal(expected, given) {
		return nil, ErrInvalidMAC
	}

	iv, err := base64.StdEncoding.DecodeString(env.IV)
	if err != nil || len(iv) != aes.BlockSize {
		return nil, ErrInvalidEnvelope
	}
	ciphertext, err := base64.StdEncoding.DecodeString(env.Value)
	if err != nil || len(ciphertext) == 0 || len(ciphertext)%aes.BlockSize != 0 {
		return nil, ErrInvalidEnvelope
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}

	plaintext := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(plaintext, ciphertext)

	return pkcs7Unpad(plaintext, aes.BlockSize)
}

func computeMAC(key []byte, iv, value string) string {
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(iv + value))
	return hex.EncodeToString(mac.Sum(nil))
}

func pkcs7Pad(data []byte, blockSize int) []byte {
	padding := blockSize - len(data)%blockSize
	return append(append([]byte(nil), data...), bytes.Repeat([]byte{byte(padding)}, padding)...)
}

func pkcs7Unpad(data []byte, blockSize int) ([]byte, error) {
	if len(data) == 0 || len(data)%blockSize != 0 {
		return nil, ErrInvalidPadding
	}
	padding := int(data[len(data)-1])
	if padding == 0 || padding > blockSize {
		return nil, ErrInvalidPadding
	}
	for _, b := range data[len(data)-padding:] {
		if int(b) != padding {
			return nil, ErrInvalidPadding
		}
	}
	return data[:len(data)-padding], nil
}

// DecodeKey decodes a base64 encoded envelope key
func DecodeKey(encoded string) ([]byte, error) {
	key, err := base64.StdEncoding.DecodeString(strings.TrimSpace(encoded))
	if err != nil {
		return nil, fmt.Errorf("failed to decode key: %w", err)
	}
	if len(key) != KeySize {
		return nil, ErrInvalidKey
	}
	return key, nil
}

// SignHMACSHA256 returns the hex HMAC-SHA256 of message
func SignHMACSHA256(secret, message []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write(message)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifyHMACSHA256 compares a hex signature in constant time
func VerifyHMACSHA256(secret, message []byte, signature string) bool {
	given, err := hex.DecodeString(signature)
	if err != nil {
		return false
	}
	expected, _ := hex.DecodeString(SignHMACSHA256(secret, message))
	return hmac.Equal(expected, given)
}

// GenerateSecureToken generates a cryptographically secure random token
func GenerateSecureToken(length int) (string, error) {
	bytes := make([]byte, length)
	if _, err := rand.Read(bytes); err != nil {
		return "", fmt.Errorf("failed to generate secure token: %w", err)
	}
	return base64.URLEncoding.EncodeToString(bytes), nil
}

// GenerateKey returns a random base64 encoded envelope key
func GenerateKey() (string, error) {
	key := make([]byte, KeySize)
	if _, err := rand.Read(key); err != nil {
		return "", fmt.Errorf("failed to generate key: %w", err)
	}
	return base64.StdEncoding.EncodeToString(key), nil
}
