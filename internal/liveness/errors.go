package liveness

import "errors"

var ErrAlreadyRunning = errors.New("supervisor already running")
