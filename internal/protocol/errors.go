package protocol

const (
	// Protocol/transport validation.
	ErrProtoBadRequest = "E_PROTO_BAD_REQUEST"

	// Executor state.
	ErrBusy      = "E_BUSY"
	ErrRateLimit = "E_RATE_LIMIT"

	// Fill validation.
	ErrBadRequest      = "E_BAD_REQUEST"
	ErrInvalidTarget   = "E_INVALID_TARGET"
	ErrTooLarge        = "E_TOO_LARGE"
	ErrUnknownMaterial = "E_UNKNOWN_MATERIAL"
	ErrInternal        = "E_INTERNAL"
)

var knownCodes = map[string]struct{}{
	ErrProtoBadRequest: {},
	ErrBusy:            {},
	ErrRateLimit:       {},
	ErrBadRequest:      {},
	ErrInvalidTarget:   {},
	ErrTooLarge:        {},
	ErrUnknownMaterial: {},
	ErrInternal:        {},
}

func IsKnownCode(code string) bool {
	if code == "" {
		return true
	}
	_, ok := knownCodes[code]
	return ok
}
