package mesh

import "context"

// Transport is the pluggable capability set the Engine requires from its
// underlying link. Implementations live in sibling transport/* packages
// (UDP multicast, LoRa serial); the engine never assumes any
// transport-specific framing beyond this contract.
type Transport interface {
	// Send is a best-effort broadcast/unicast depending on the medium.
	Send(ctx context.Context, frame []byte) error
	// Recv yields one framed packet.
	Recv(ctx context.Context) ([]byte, error)
	// MaxFrame is the upper bound on a single payload this transport accepts.
	MaxFrame() int
}
