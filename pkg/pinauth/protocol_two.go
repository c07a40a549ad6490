package pinauth

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"io"
	"slices"

	"golang.org/x/crypto/hkdf"
)

// Protocol two: HKDF-SHA-256 derives a 32-byte HMAC key and a 32-byte
// AES key; CBC uses a random IV prepended to the ciphertext; the MAC
// is untruncated.

func kdfTwo(z []byte) ([]byte, error) {
	salt := make([]byte, 32)

	hmacKey := make([]byte, 32)
	if _, err := io.ReadFull(hkdf.New(sha256.New, z, salt, []byte("CTAP2 HMAC key")), hmacKey); err != nil {
		return nil, err
	}

	aesKey := make([]byte, 32)
	if _, err := io.ReadFull(hkdf.New(sha256.New, z, salt, []byte("CTAP2 AES key")), aesKey); err != nil {
		return nil, err
	}

	return slices.Concat(hmacKey, aesKey), nil
}

func encryptTwo(sharedSecret, plaintext []byte) ([]byte, error) {
	if len(sharedSecret) != 64 {
		return nil, ErrInvalidSecretLength
	}
	if len(plaintext)%aes.BlockSize != 0 {
		return nil, ErrInvalidPlaintextLength
	}

	// the AES key is the second half of the shared secret
	block, err := aes.NewCipher(sharedSecret[32:])
	if err != nil {
		return nil, err
	}

	iv := make([]byte, aes.BlockSize)
	if _, err := rand.Read(iv); err != nil {
		return nil, err
	}

	ciphertext := make([]byte, len(plaintext))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(ciphertext, plaintext)

	return slices.Concat(iv, ciphertext), nil
}

func decryptTwo(sharedSecret, ciphertext []byte) ([]byte, error) {
	if len(sharedSecret) != 64 {
		return nil, ErrInvalidSecretLength
	}
	if len(ciphertext) < aes.BlockSize || len(ciphertext)%aes.BlockSize != 0 {
		return nil, ErrInvalidCiphertextLength
	}

	block, err := aes.NewCipher(sharedSecret[32:])
	if err != nil {
		return nil, err
	}

	iv, ciphertext := ciphertext[:aes.BlockSize], ciphertext[aes.BlockSize:]
	plaintext := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(plaintext, ciphertext)

	return plaintext, nil
}

func authenticateTwo(sharedSecret, message []byte) []byte {
	// the HMAC key is the first half; a 32-byte pinUvAuthToken is used
	// whole
	key := sharedSecret
	if len(key) > 32 {
		key = key[:32]
	}

	mac := hmac.New(sha256.New, key)
	mac.Write(message)
	return mac.Sum(nil)
}
