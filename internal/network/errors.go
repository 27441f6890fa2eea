package network

import "github.com/rotisserie/eris"

var (
	ErrUnknownClient    = eris.New("unknown client")
	ErrTransportClosed  = eris.New("transport closed")
	ErrPayloadTooLarge  = eris.New("payload too large")
	ErrMalformedMessage = eris.New("malformed message")
	ErrUnknownMessage   = eris.New("unknown message type")
	ErrReceiveTimeout   = eris.New("receive timed out")
)
