package shared

import "errors"

// ErrAlreadyRunning indicates a guarded run is already in progress.
var ErrAlreadyRunning = errors.New("already running")
