package model

import "errors"

// ErrValidation marks caller input the store refuses (malformed email,
// missing ids). Handlers map it to 400. Lookups of unknown records return
// (nil, nil) rather than an error.
var ErrValidation = errors.New("validation error")
