package ctap

import "errors"

var ErrEmptyResponse = errors.New("ctap: empty response")

// CTAPError is a non-zero CTAP status byte, attributed to the device
// that produced it.
type CTAPError struct {
	Command    Command
	StatusCode StatusCode
	DeviceName string
}

func newCTAPError(cmd Command, code StatusCode, deviceName string) *CTAPError {
	return &CTAPError{
		Command:    cmd,
		StatusCode: code,
		DeviceName: deviceName,
	}
}

func (e *CTAPError) Error() string {
	s := e.Command.String() + " failed (" + e.StatusCode.String() + ")"
	if e.DeviceName != "" {
		s += " on " + e.DeviceName
	}
	return s
}

func (e *CTAPError) Unwrap() error {
	return errors.New(e.StatusCode.String())
}
