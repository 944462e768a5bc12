package model

import "errors"

// ErrConfig marks construction-time configuration failures: inconsistent
// head or rank dimensions, a missing correction bias for noaux_tc routing,
// or a group count that does not divide the expert count. Nothing in this
// package retries or suppresses an error; failures propagate to the caller.
var ErrConfig = errors.New("invalid layer configuration")
