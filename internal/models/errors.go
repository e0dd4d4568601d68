package models

import "errors"

// Sentinel errors shared by storage and the management service.
var (
	ErrNotFound        = errors.New("not found")
	ErrCredentialInUse = errors.New("credential is still linked to a connector")
	ErrAlreadyLinked   = errors.New("credential already linked to connector")
	ErrInvalid         = errors.New("invalid request")
	ErrIndexingActive  = errors.New("connector has an unfinished index attempt")
)
