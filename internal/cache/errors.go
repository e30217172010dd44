package cache

import "errors"

// errMalformed marks a remote answer that normalized to a record without names.
var errMalformed = errors.New("remote record has no usable name fields")
