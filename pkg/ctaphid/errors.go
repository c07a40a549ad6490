package ctaphid

import "errors"

var (
	ErrMessageTooLarge        = errors.New("ctaphid: message payload too large")
	ErrShortReport            = errors.New("ctaphid: short report")
	ErrUnexpectedCommand      = errors.New("ctaphid: unexpected command")
	ErrUnexpectedContinuation = errors.New("ctaphid: continuation packet before initialization packet")
	ErrNonceMismatch          = errors.New("ctaphid: init failed, nonce mismatch")
	ErrInvalidResponseMessage = errors.New("ctaphid: invalid response message")
)

// DeviceError wraps a CTAPHID-level error code reported by the
// authenticator in a CTAPHID_ERROR frame.
type DeviceError struct {
	Code Error
}

func (e *DeviceError) Error() string {
	return "ctaphid: device reported " + e.Code.String()
}
