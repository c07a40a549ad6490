package pcsc

import "errors"

var ErrClosed = errors.New("pcsc: reader closed")
