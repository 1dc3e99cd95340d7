// Package crypto loads the keeper's swapper key and issues and verifies
// EIP-712 subscription permits.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/ecdsa"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"golang.org/x/crypto/pbkdf2"
)

const (
	// pbkdf2Iterations is the OWASP-recommended minimum for HMAC-SHA256.
	pbkdf2Iterations = 480_000
	saltLen          = 16
	aesKeyLen        = 32
	keyFileVersion   = 1
)

// keyFile is the on-disk format of an encrypted key. Binary fields are
// base64 standard encoding.
type keyFile struct {
	Version    int            `json:"version"`
	Address    common.Address `json:"address"`
	Salt       string         `json:"salt"`
	Nonce      string         `json:"nonce"`
	Ciphertext string         `json:"ciphertext"`
}

// KeyConfig says where a key comes from. A raw key wins over a key file.
type KeyConfig struct {
	RawPrivateKey    string
	EncryptedKeyPath string
	KeyPassword      string
}

// Key is a loaded secp256k1 key and its address.
type Key struct {
	Private *ecdsa.PrivateKey
	Address common.Address
}

// EncryptKey seals a hex private key under password with PBKDF2-SHA256 and
// AES-256-GCM and returns the key file JSON.
func EncryptKey(privateKeyHex, password string) ([]byte, error) {
	if password == "" {
		return nil, errors.New("crypto/keys: password must not be empty")
	}
	pk, err := ethcrypto.HexToECDSA(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("crypto/keys: invalid private key: %w", err)
	}

	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("crypto/keys: generating salt: %w", err)
	}
	gcm, err := keyCipher(password, salt)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("crypto/keys: generating nonce: %w", err)
	}

	return json.MarshalIndent(keyFile{
		Version:    keyFileVersion,
		Address:    ethcrypto.PubkeyToAddress(pk.PublicKey),
		Salt:       base64.StdEncoding.EncodeToString(salt),
		Nonce:      base64.StdEncoding.EncodeToString(nonce),
		Ciphertext: base64.StdEncoding.EncodeToString(gcm.Seal(nil, nonce, ethcrypto.FromECDSA(pk), nil)),
	}, "", "  ")
}

// DecryptKey opens a key file produced by EncryptKey. The recorded address
// must match the decrypted key.
func DecryptKey(data []byte, password string) (Key, error) {
	if password == "" {
		return Key{}, errors.New("crypto/keys: password must not be empty")
	}
	var kf keyFile
	if err := json.Unmarshal(data, &kf); err != nil {
		return Key{}, fmt.Errorf("crypto/keys: parsing key file: %w", err)
	}
	if kf.Version != keyFileVersion {
		return Key{}, fmt.Errorf("crypto/keys: unsupported version %d", kf.Version)
	}

	var fields [3][]byte
	for i, s := range []string{kf.Salt, kf.Nonce, kf.Ciphertext} {
		b, err := base64.StdEncoding.DecodeString(s)
		if err != nil {
			return Key{}, fmt.Errorf("crypto/keys: decoding key file: %w", err)
		}
		fields[i] = b
	}
	gcm, err := keyCipher(password, fields[0])
	if err != nil {
		return Key{}, err
	}
	if len(fields[1]) != gcm.NonceSize() {
		return Key{}, fmt.Errorf("crypto/keys: nonce is %d bytes", len(fields[1]))
	}
	plain, err := gcm.Open(nil, fields[1], fields[2], nil)
	if err != nil {
		return Key{}, fmt.Errorf("crypto/keys: decryption failed (wrong password?): %w", err)
	}

	key, err := keyFromHex(hex.EncodeToString(plain))
	if err != nil {
		return Key{}, err
	}
	if kf.Address != (common.Address{}) && kf.Address != key.Address {
		return Key{}, fmt.Errorf("crypto/keys: key file is for %s, key is %s", kf.Address.Hex(), key.Address.Hex())
	}
	return key, nil
}

// LoadKey resolves the configured key: the raw key if set, otherwise the
// encrypted key file.
func LoadKey(cfg KeyConfig) (Key, error) {
	if cfg.RawPrivateKey != "" {
		return keyFromHex(cfg.RawPrivateKey)
	}
	if cfg.EncryptedKeyPath != "" {
		data, err := os.ReadFile(cfg.EncryptedKeyPath)
		if err != nil {
			return Key{}, fmt.Errorf("crypto/keys: reading key file: %w", err)
		}
		return DecryptKey(data, cfg.KeyPassword)
	}
	return Key{}, errors.New("crypto/keys: no private key source configured (set private_key or key_file)")
}

func keyFromHex(s string) (Key, error) {
	pk, err := ethcrypto.HexToECDSA(strings.TrimPrefix(s, "0x"))
	if err != nil {
		return Key{}, fmt.Errorf("crypto/keys: invalid private key: %w", err)
	}
	return Key{Private: pk, Address: ethcrypto.PubkeyToAddress(pk.PublicKey)}, nil
}

func keyCipher(password string, salt []byte) (cipher.AEAD, error) {
	derived := pbkdf2.Key([]byte(password), salt, pbkdf2Iterations, aesKeyLen, sha256.New)
	block, err := aes.NewCipher(derived)
	if err != nil {
		return nil, fmt.Errorf("crypto/keys: creating cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("crypto/keys: creating GCM: %w", err)
	}
	return gcm, nil
}
