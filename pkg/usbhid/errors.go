package usbhid

import "errors"

var (
	ErrClosed       = errors.New("usbhid: device closed")
	ErrReadTimeout  = errors.New("usbhid: report read timed out")
	ErrNotSupported = errors.New("usbhid: not supported on this platform")
)
