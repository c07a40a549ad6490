package pinauth

import "errors"

var (
	ErrInvalidProtocol         = errors.New("pinauth: invalid PIN/UV auth protocol number")
	ErrInvalidSecretLength     = errors.New("pinauth: invalid shared secret length")
	ErrInvalidPlaintextLength  = errors.New("pinauth: plaintext is not block-aligned")
	ErrInvalidCiphertextLength = errors.New("pinauth: invalid ciphertext length")
	ErrNoKeyAgreement          = errors.New("pinauth: response carries no keyAgreement key")
)
