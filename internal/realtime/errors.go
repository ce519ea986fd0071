package realtime

import "errors"

var ErrBusClosed = errors.New("realtime bus closed")
