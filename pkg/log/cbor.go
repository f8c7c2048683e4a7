package log

import (
	"io"

	"github.com/fxamacker/cbor/v2"
)

// Events are written canonically so two runs with the same traffic produce
// byte-identical logs. Decoding is lenient so logs from older builds with
// extra or repeated keys still load.
var (
	encMode = must(cbor.EncOptions{
		Sort:          cbor.SortCanonical,
		IndefLength:   cbor.IndefLengthForbidden,
		NilContainers: cbor.NilContainerAsNull,
		Time:          cbor.TimeRFC3339Nano,
	}.EncMode())

	decMode = must(cbor.DecOptions{
		DupMapKey:         cbor.DupMapKeyQuiet,
		IndefLength:       cbor.IndefLengthAllowed,
		ExtraReturnErrors: cbor.ExtraDecErrorNone,
	}.DecMode())
)

func must[M any](mode M, err error) M {
	if err != nil {
		panic("log: invalid CBOR options: " + err.Error())
	}
	return mode
}

// EncodeEvent returns the wire form of one protocol event.
func EncodeEvent(event Event) ([]byte, error) {
	return encMode.Marshal(event)
}

// DecodeEvent is the inverse of EncodeEvent.
func DecodeEvent(data []byte) (Event, error) {
	var event Event
	err := decMode.Unmarshal(data, &event)
	if err != nil {
		return Event{}, err
	}
	return event, nil
}

// NewEncoder writes a stream of events to w.
func NewEncoder(w io.Writer) *cbor.Encoder {
	return encMode.NewEncoder(w)
}

// NewDecoder reads a stream of events from r.
func NewDecoder(r io.Reader) *cbor.Decoder {
	return decMode.NewDecoder(r)
}
