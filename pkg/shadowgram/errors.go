package shadowgram

import "errors"

var (
	// ErrInvalidEvent indicates that an event does not satisfy envelope invariants.
	ErrInvalidEvent = errors.New("shadowgram: invalid event")
	// ErrInvalidRecord indicates that a shadow record is missing mandatory fields.
	ErrInvalidRecord = errors.New("shadowgram: invalid record")
	// ErrInvalidNotice indicates that an outbound notice is malformed.
	ErrInvalidNotice = errors.New("shadowgram: invalid notice")
	// ErrOwnerUnresolved indicates that a business connection could not be resolved.
	ErrOwnerUnresolved = errors.New("shadowgram: owner unresolved")
)
