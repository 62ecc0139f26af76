package protocol

import (
	"errors"

	"voxelcast.ai/internal/render"
)

const (
	// Protocol/transport validation.
	ErrProtoBadRequest  = "E_PROTO_BAD_REQUEST"
	ErrProtoUnsupported = "E_PROTO_UNSUPPORTED"

	// Command layer.
	ErrBadRequest = "E_BAD_REQUEST"
	ErrUsage      = "E_USAGE"
	ErrNotFound   = "E_NOT_FOUND"
	ErrConfig     = "E_CONFIG"
	ErrSource     = "E_SOURCE"
	ErrWrite      = "E_WRITE"
	ErrCancelled  = "E_CANCELLED"
	ErrInternal   = "E_INTERNAL"
)

var knownCodes = map[string]struct{}{
	ErrProtoBadRequest:  {},
	ErrProtoUnsupported: {},
	ErrBadRequest:       {},
	ErrUsage:            {},
	ErrNotFound:         {},
	ErrConfig:           {},
	ErrSource:           {},
	ErrWrite:            {},
	ErrCancelled:        {},
	ErrInternal:         {},
}

func IsKnownCode(code string) bool {
	if code == "" {
		return true
	}
	_, ok := knownCodes[code]
	return ok
}

// CodeFor maps a render error to its wire code.
func CodeFor(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, render.ErrConfiguration):
		return ErrConfig
	case errors.Is(err, render.ErrSource):
		return ErrSource
	case errors.Is(err, render.ErrWrite):
		return ErrWrite
	case errors.Is(err, render.ErrCancelled):
		return ErrCancelled
	default:
		return ErrInternal
	}
}
