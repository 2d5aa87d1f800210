// Package proto is the control protocol between a controller and the agent process.
//
// Every message travels as one frame: a 4-byte little-endian length followed by that many bytes of a
// JSON envelope {"type": "...", "data": {...}}. Bulk payloads never travel inline, they are written to
// a named shared memory segment and referenced by an ImageReady descriptor.
package proto

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ZenLiuCN/hotswap"
)

// Kind tags a message variant.
type Kind string

const (
	KindReload       Kind = "Reload"
	KindInvalidate   Kind = "Invalidate"
	KindRequestState Kind = "RequestState"
	KindPing         Kind = "Ping"
	KindShutdown     Kind = "Shutdown"
	KindRender       Kind = "Render"
	KindRollback     Kind = "Rollback"

	KindReloadComplete Kind = "ReloadComplete"
	KindStateSnapshot  Kind = "StateSnapshot"
	KindImageReady     Kind = "ImageReady"
	KindCrashReport    Kind = "CrashReport"
	KindPong           Kind = "Pong"
)

type (
	// Payload is one message variant.
	Payload interface {
		Kind() Kind
	}
	// Message is the wire envelope of a Payload.
	Message struct {
		Type Kind            `json:"type"`
		Data json.RawMessage `json:"data,omitempty"`
	}

	Reload struct {
		Path       string `json:"path"`
		SourceHash string `json:"source_hash,omitempty"`
	}
	Invalidate struct {
		Path string `json:"path"`
	}
	RequestState struct{}
	Ping         struct{}
	Shutdown     struct{}
	Render       struct{}
	Rollback     struct{}

	ReloadComplete struct {
		Success     bool         `json:"success"`
		Version     uint64       `json:"version"`
		DurationMs  int64        `json:"duration_ms"`
		Error       string       `json:"error,omitempty"`
		Diagnostics []Diagnostic `json:"diagnostics"` //compiler messages when the compile step failed
		Swapped     int          `json:"swapped"`
		Registered  int          `json:"registered,omitempty"`
		Skipped     []string     `json:"skipped"`
		Cached      bool         `json:"cached,omitempty"`
		RenderError string       `json:"render_error,omitempty"`
	}
	// Diagnostic is one compiler message.
	Diagnostic struct {
		File    string `json:"file"`
		Line    int    `json:"line"`
		Col     int    `json:"col,omitempty"`
		Message string `json:"message"`
	}
	StateSnapshot struct {
		JSON json.RawMessage `json:"json"`
	}
	// ImageReady describes a render result left in a bulk segment.
	ImageReady struct {
		BufferName string `json:"buffer_name"`
		Offset     int64  `json:"offset"`
		Size       int64  `json:"size"`
		Width      int    `json:"width"`
		Height     int    `json:"height"`
		Format     string `json:"format"`
	}
	CrashReport struct {
		Error     string `json:"error"`
		Backtrace string `json:"backtrace"`
	}
	Pong struct{}
)

func (Reload) Kind() Kind         { return KindReload }
func (Invalidate) Kind() Kind     { return KindInvalidate }
func (RequestState) Kind() Kind   { return KindRequestState }
func (Ping) Kind() Kind           { return KindPing }
func (Shutdown) Kind() Kind       { return KindShutdown }
func (Render) Kind() Kind         { return KindRender }
func (Rollback) Kind() Kind       { return KindRollback }
func (ReloadComplete) Kind() Kind { return KindReloadComplete }
func (StateSnapshot) Kind() Kind  { return KindStateSnapshot }
func (ImageReady) Kind() Kind     { return KindImageReady }
func (CrashReport) Kind() Kind    { return KindCrashReport }
func (Pong) Kind() Kind           { return KindPong }

var variants = map[Kind]func(data []byte) (Payload, error){
	KindReload:         fields[Reload],
	KindInvalidate:     fields[Invalidate],
	KindRequestState:   unit[RequestState],
	KindPing:           unit[Ping],
	KindShutdown:       unit[Shutdown],
	KindRender:         unit[Render],
	KindRollback:       unit[Rollback],
	KindReloadComplete: fields[ReloadComplete],
	KindStateSnapshot:  fields[StateSnapshot],
	KindImageReady:     fields[ImageReady],
	KindCrashReport:    fields[CrashReport],
	KindPong:           unit[Pong],
}

var null = []byte("null")

func absent(data []byte) bool {
	return len(data) == 0 || bytes.Equal(data, null)
}

// unit decodes a variant without fields, absent or null data is the empty payload.
func unit[T Payload](data []byte) (Payload, error) {
	var v T
	if absent(data) {
		return v, nil
	}
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, err
	}
	return v, nil
}

// fields decodes a variant that must carry data.
func fields[T Payload](data []byte) (Payload, error) {
	var v T
	if absent(data) {
		return nil, errors.New("missing data")
	}
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, err
	}
	return v, nil
}

// UnmarshalJSON keeps an absent snapshot nil.
func (s *StateSnapshot) UnmarshalJSON(b []byte) error {
	var v struct {
		JSON json.RawMessage `json:"json"`
	}
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	if bytes.Equal(v.JSON, null) {
		v.JSON = nil
	}
	s.JSON = v.JSON
	return nil
}

// Pack a payload into its envelope. Variants without fields carry no data.
func Pack(p Payload) (m Message, err error) {
	m.Type = p.Kind()
	var b []byte
	if b, err = json.Marshal(p); err != nil {
		return
	}
	if !bytes.Equal(b, []byte("{}")) {
		m.Data = b
	}
	return
}

// Unpack the payload of an envelope.
func (m Message) Unpack() (Payload, error) {
	f, ok := variants[m.Type]
	if !ok {
		return nil, fmt.Errorf("%w: unknown message type %q", hotswap.ErrProtocolDecode, m.Type)
	}
	p, err := f(m.Data)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", hotswap.ErrProtocolDecode, m.Type, err)
	}
	return p, nil
}

// Encode a payload to its JSON envelope.
func Encode(p Payload) ([]byte, error) {
	m, err := Pack(p)
	if err != nil {
		return nil, err
	}
	return json.Marshal(m)
}

// Decode a JSON envelope.
func Decode(b []byte) (Payload, error) {
	var m Message
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, fmt.Errorf("%w: %v", hotswap.ErrProtocolDecode, err)
	}
	return m.Unpack()
}
