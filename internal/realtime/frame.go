package realtime

import (
	"github.com/fxamacker/cbor/v2"
)

// Subprotocol is the websocket subprotocol spoken by Server and Client.
const Subprotocol = "cbor"

// Frame types.
const (
	FrameSubscribe   = "subscribe"
	FrameUnsubscribe = "unsubscribe"
	FrameAck         = "ack"
	FrameError       = "error"
	FrameEvent       = "event"
)

// Frame is one CBOR message on the realtime socket. The client picks
// SubID when subscribing; the server echoes it on the ack and on every
// event for that subscription.
type Frame struct {
	Type    string          `cbor:"type"`
	SubID   string          `cbor:"sub,omitempty"`
	Table   string          `cbor:"table,omitempty"`
	Subject string          `cbor:"subject,omitempty"`
	Record  cbor.RawMessage `cbor:"record,omitempty"`
	Error   string          `cbor:"error,omitempty"`
}

var (
	encMode = mustEncMode()
	decMode = mustDecMode()
)

func mustEncMode() cbor.EncMode {
	em, err := cbor.EncOptions{
		Time:    cbor.TimeRFC3339Nano,
		TimeTag: cbor.EncTagRequired,
	}.EncMode()
	if err != nil {
		panic(err)
	}
	return em
}

func mustDecMode() cbor.DecMode {
	dm, err := cbor.DecOptions{
		TimeTagToAny: cbor.TimeTagToTime,
	}.DecMode()
	if err != nil {
		panic(err)
	}
	return dm
}

// Marshal encodes v with the realtime CBOR options.
func Marshal(v any) ([]byte, error) {
	return encMode.Marshal(v)
}

// Unmarshal decodes data into v with the realtime CBOR options.
func Unmarshal(data []byte, v any) error {
	return decMode.Unmarshal(data, v)
}
