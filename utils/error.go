package utils

import "errors"

var ErrorRecordNotFound = errors.New("record not found")

// ErrorInsufficientStock is a deterministic business rejection: clients must
// not retry it automatically.
var ErrorInsufficientStock = errors.New("insufficient stock")
