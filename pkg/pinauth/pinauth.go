// Package pinauth implements the CTAP PIN/UV auth protocols (one and
// two): ECDH key encapsulation against the authenticator's
// keyAgreement key and the symmetric operations needed to drive
// getPinToken.
package pinauth

import (
	"crypto/ecdh"
	"crypto/rand"
	"crypto/sha256"
	"fmt"

	"github.com/fxamacker/cbor/v2"
	"github.com/ldclabs/cose/iana"
	"github.com/ldclabs/cose/key"
	coseecdh "github.com/ldclabs/cose/key/ecdh"
)

// Protocol holds the platform's ephemeral key pair for one PIN/UV auth
// protocol session.
type Protocol struct {
	Number uint

	platformPrivateKey *ecdh.PrivateKey
	platformCoseKey    key.Key
}

// New generates a fresh platform P-256 key pair for the given protocol
// number (1 or 2).
func New(number uint) (*Protocol, error) {
	if number != 1 && number != 2 {
		return nil, ErrInvalidProtocol
	}

	platformPrivkey, err := ecdh.P256().GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("pinauth: cannot generate platform P-256 keypair: %w", err)
	}

	platformPubkey, err := coseecdh.KeyFromPublic(platformPrivkey.Public().(*ecdh.PublicKey))
	if err != nil {
		return nil, fmt.Errorf("pinauth: cannot convert platform public key to COSE_Key: %w", err)
	}
	if err := platformPubkey.Set(iana.KeyParameterAlg, -25); err != nil {
		return nil, fmt.Errorf("pinauth: cannot set alg parameter for COSE_Key: %w", err)
	}

	// The spec requires the COSE_Key to carry only the necessary
	// parameters; some tokens reject a kid.
	delete(platformPubkey, iana.KeyParameterKid)

	return &Protocol{
		Number:             number,
		platformPrivateKey: platformPrivkey,
		platformCoseKey:    platformPubkey,
	}, nil
}

// Encapsulate derives the shared secret against the authenticator's
// keyAgreement key and returns the platform COSE_Key to send along.
func (p *Protocol) Encapsulate(peerCoseKey key.Key) (key.Key, []byte, error) {
	peerPubkey, err := coseecdh.KeyToPublic(peerCoseKey)
	if err != nil {
		return nil, nil, fmt.Errorf("pinauth: cannot convert peer COSE_Key: %w", err)
	}

	z, err := p.platformPrivateKey.ECDH(peerPubkey)
	if err != nil {
		return nil, nil, fmt.Errorf("pinauth: cannot derive shared secret: %w", err)
	}

	sharedSecret, err := p.kdf(z)
	if err != nil {
		return nil, nil, err
	}

	return p.platformCoseKey, sharedSecret, nil
}

func (p *Protocol) kdf(z []byte) ([]byte, error) {
	switch p.Number {
	case 1:
		return kdfOne(z), nil
	case 2:
		return kdfTwo(z)
	default:
		return nil, ErrInvalidProtocol
	}
}

// Encrypt encrypts a data encapsulation message under the shared
// secret.
func (p *Protocol) Encrypt(sharedSecret, plaintext []byte) ([]byte, error) {
	switch p.Number {
	case 1:
		return encryptOne(sharedSecret, plaintext)
	case 2:
		return encryptTwo(sharedSecret, plaintext)
	default:
		return nil, ErrInvalidProtocol
	}
}

// Decrypt reverses Encrypt.
func (p *Protocol) Decrypt(sharedSecret, ciphertext []byte) ([]byte, error) {
	switch p.Number {
	case 1:
		return decryptOne(sharedSecret, ciphertext)
	case 2:
		return decryptTwo(sharedSecret, ciphertext)
	default:
		return nil, ErrInvalidProtocol
	}
}

// EncryptPINHash produces the pinHashEnc parameter of getPinToken: the
// first 16 bytes of SHA-256(PIN), encrypted under the shared secret.
func (p *Protocol) EncryptPINHash(sharedSecret []byte, pin string) ([]byte, error) {
	hash := sha256.Sum256([]byte(pin))
	return p.Encrypt(sharedSecret, hash[:16])
}

// Authenticate computes the pinUvAuthParam MAC for a message.
func Authenticate(number uint, sharedSecret, message []byte) ([]byte, error) {
	switch number {
	case 1:
		return authenticateOne(sharedSecret, message), nil
	case 2:
		return authenticateTwo(sharedSecret, message), nil
	default:
		return nil, ErrInvalidProtocol
	}
}

// ParseKeyAgreement extracts the COSE_Key from a raw getKeyAgreement
// response body (map key 1).
func ParseKeyAgreement(body []byte) (key.Key, error) {
	var resp struct {
		KeyAgreement key.Key `cbor:"1,keyasint"`
	}
	if err := cbor.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("pinauth: cannot unmarshal keyAgreement response: %w", err)
	}
	if len(resp.KeyAgreement) == 0 {
		return nil, ErrNoKeyAgreement
	}

	return resp.KeyAgreement, nil
}
