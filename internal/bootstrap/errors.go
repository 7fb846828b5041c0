package bootstrap

import "errors"

// ErrWiring reports a configuration that cannot be assembled.
var ErrWiring = errors.New("bootstrap")
