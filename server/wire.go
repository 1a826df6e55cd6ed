package server

import (
	"reflect"

	"github.com/fxamacker/cbor/v2"
)

// Codec is the connect codec for the runtime service. Messages are
// canonical CBOR so that equal requests encode to equal bytes.
type Codec struct{}

var (
	cborEncMode cbor.EncMode
	cborDecMode cbor.DecMode
)

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic("server: failed to create CBOR enc mode: " + err.Error())
	}
	cborEncMode = em

	dm, err := cbor.DecOptions{DefaultMapType: reflect.TypeOf(map[string]any(nil))}.DecMode()
	if err != nil {
		panic("server: failed to create CBOR dec mode: " + err.Error())
	}
	cborDecMode = dm
}

// Name implements connect.Codec. The content type is application/cbor.
func (Codec) Name() string { return "cbor" }

// Marshal implements connect.Codec.
func (Codec) Marshal(msg any) ([]byte, error) { return cborEncMode.Marshal(msg) }

// Unmarshal implements connect.Codec.
func (Codec) Unmarshal(data []byte, msg any) error { return cborDecMode.Unmarshal(data, msg) }

// PublishRequest stores a LUX binary in the program library.
type PublishRequest struct {
	Binary []byte `cbor:"1,keyasint"`
}

// PublishResponse names the stored module.
type PublishResponse struct {
	Module string `cbor:"1,keyasint"`
	Hash   string `cbor:"2,keyasint"`
}

// SpawnRequest starts an instance from a binary or a stored module.
// Binary wins when both are set.
type SpawnRequest struct {
	Binary []byte `cbor:"1,keyasint,omitempty"`
	Module string `cbor:"2,keyasint,omitempty"`
}

// SpawnResponse identifies the new instance.
type SpawnResponse struct {
	ID     string `cbor:"1,keyasint"`
	Module string `cbor:"2,keyasint"`
}

// DispatchRequest queues an event on an instance.
type DispatchRequest struct {
	ID    string `cbor:"1,keyasint"`
	Event string `cbor:"2,keyasint"`
	Args  []any  `cbor:"3,keyasint,omitempty"`
}

// DispatchResponse is empty.
type DispatchResponse struct{}

// OutputRequest drains an instance's output.
type OutputRequest struct {
	ID string `cbor:"1,keyasint"`
}

// OutputResponse carries the drained lines.
type OutputResponse struct {
	Lines []string `cbor:"1,keyasint"`
}

// KillRequest removes an instance.
type KillRequest struct {
	ID string `cbor:"1,keyasint"`
}

// KillResponse is empty.
type KillResponse struct{}

// StatusRequest describes one instance, or all when ID is empty.
type StatusRequest struct {
	ID string `cbor:"1,keyasint,omitempty"`
}

// StatusResponse lists instance states.
type StatusResponse struct {
	Instances []InstanceStatus `cbor:"1,keyasint"`
}

// InstanceStatus mirrors host.Status on the wire.
type InstanceStatus struct {
	ID      string   `cbor:"1,keyasint"`
	Module  string   `cbor:"2,keyasint"`
	State   string   `cbor:"3,keyasint"`
	Error   string   `cbor:"4,keyasint,omitempty"`
	Frames  []string `cbor:"5,keyasint"`
	Pending int      `cbor:"6,keyasint"`
	Spawned int64    `cbor:"7,keyasint"` // unix milliseconds
}
