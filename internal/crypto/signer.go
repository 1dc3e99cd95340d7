package crypto

import (
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// --------------------------------------------------------------------------
// EIP-712 type hashes (pre-computed keccak256 of the canonical type strings).
// --------------------------------------------------------------------------

var (
	// EIP712Domain(string name,string version,uint256 chainId)
	eip712DomainTypeHash = ethcrypto.Keccak256(
		[]byte("EIP712Domain(string name,string version,uint256 chainId)"),
	)

	// Subscription(address subscriber,uint256 expiry)
	subscriptionTypeHash = ethcrypto.Keccak256(
		[]byte("Subscription(address subscriber,uint256 expiry)"),
	)
)

const (
	permitDomainName    = "DCASubscription"
	permitDomainVersion = "1"

	// PermitLen is the encoded permit size: a 32-byte expiry followed by a
	// 65-byte signature.
	PermitLen = 32 + 65
)

// Signer issues subscription permits with the subscription authority key.
type Signer struct {
	privateKey *ecdsa.PrivateKey
	address    common.Address
	domainSep  []byte // cached EIP-712 domain separator hash
}

// NewSigner creates a Signer from a hex-encoded secp256k1 private key and
// the chain ID the permits are bound to.
func NewSigner(privateKeyHex string, chainID int64) (*Signer, error) {
	keyHex := strings.TrimPrefix(privateKeyHex, "0x")
	pk, err := ethcrypto.HexToECDSA(keyHex)
	if err != nil {
		return nil, fmt.Errorf("crypto/signer: invalid private key: %w", err)
	}
	return NewSignerFromKey(pk, chainID), nil
}

// NewSignerFromKey wraps an already loaded key.
func NewSignerFromKey(pk *ecdsa.PrivateKey, chainID int64) *Signer {
	return &Signer{
		privateKey: pk,
		address:    ethcrypto.PubkeyToAddress(pk.PublicKey),
		domainSep:  domainSeparator(chainID),
	}
}

// Address returns the authority address permits verify against.
func (s *Signer) Address() common.Address {
	return s.address
}

// SignPermit returns a permit stating that subscriber is subscribed until
// expiry.
func (s *Signer) SignPermit(subscriber common.Address, expiry time.Time) ([]byte, error) {
	exp := bigIntTo32Bytes(big.NewInt(expiry.Unix()))
	digest := permitDigest(s.domainSep, subscriber, exp)

	sig, err := ethcrypto.Sign(digest, s.privateKey)
	if err != nil {
		return nil, fmt.Errorf("crypto/signer: signing: %w", err)
	}
	// go-ethereum returns v in {0,1}; EIP-712 expects v in {27,28}.
	if sig[64] < 27 {
		sig[64] += 27
	}
	return concatBytes(exp, sig), nil
}

// --------------------------------------------------------------------------
// Internal helpers
// --------------------------------------------------------------------------

// domainSeparator returns keccak256(abi.encode(typeHash, nameHash, versionHash, chainId)).
func domainSeparator(chainID int64) []byte {
	return ethcrypto.Keccak256(
		concatBytes(
			eip712DomainTypeHash,
			ethcrypto.Keccak256([]byte(permitDomainName)),
			ethcrypto.Keccak256([]byte(permitDomainVersion)),
			bigIntTo32Bytes(big.NewInt(chainID)),
		),
	)
}

// permitDigest computes the EIP-712 digest of a Subscription struct:
//
//	keccak256("\x19\x01" || domainSeparator || structHash)
func permitDigest(domainSep []byte, subscriber common.Address, expiry []byte) []byte {
	structHash := ethcrypto.Keccak256(
		concatBytes(
			subscriptionTypeHash,
			common.LeftPadBytes(subscriber.Bytes(), 32),
			expiry,
		),
	)
	return ethcrypto.Keccak256(
		concatBytes(
			[]byte{0x19, 0x01},
			domainSep,
			structHash,
		),
	)
}

// bigIntTo32Bytes returns a 32-byte big-endian representation of n.
func bigIntTo32Bytes(n *big.Int) []byte {
	b := n.Bytes()
	if len(b) >= 32 {
		return b[:32]
	}
	padded := make([]byte, 32)
	copy(padded[32-len(b):], b)
	return padded
}

// concatBytes concatenates multiple byte slices into one.
func concatBytes(slices ...[]byte) []byte {
	total := 0
	for _, s := range slices {
		total += len(s)
	}
	buf := make([]byte, 0, total)
	for _, s := range slices {
		buf = append(buf, s...)
	}
	return buf
}
