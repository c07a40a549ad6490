package pinauth

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/sha256"
)

// Protocol one: SHA-256 KDF, AES-256-CBC with a zero IV, HMAC-SHA-256
// truncated to 16 bytes.

func kdfOne(z []byte) []byte {
	hash := sha256.Sum256(z)
	return hash[:]
}

func encryptOne(sharedSecret, plaintext []byte) ([]byte, error) {
	if len(sharedSecret) != 32 {
		return nil, ErrInvalidSecretLength
	}
	if len(plaintext)%aes.BlockSize != 0 {
		return nil, ErrInvalidPlaintextLength
	}

	block, err := aes.NewCipher(sharedSecret)
	if err != nil {
		return nil, err
	}

	iv := make([]byte, block.BlockSize())
	ciphertext := make([]byte, len(plaintext))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(ciphertext, plaintext)

	return ciphertext, nil
}

func decryptOne(sharedSecret, ciphertext []byte) ([]byte, error) {
	if len(sharedSecret) != 32 {
		return nil, ErrInvalidSecretLength
	}
	if len(ciphertext)%aes.BlockSize != 0 || len(ciphertext) == 0 {
		return nil, ErrInvalidCiphertextLength
	}

	block, err := aes.NewCipher(sharedSecret)
	if err != nil {
		return nil, err
	}

	iv := make([]byte, block.BlockSize())
	plaintext := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(plaintext, ciphertext)

	return plaintext, nil
}

func authenticateOne(sharedSecret, message []byte) []byte {
	mac := hmac.New(sha256.New, sharedSecret)
	mac.Write(message)
	return mac.Sum(nil)[:16]
}
