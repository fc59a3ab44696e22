// SPDX-License-Identifier: MIT

package session

import "errors"

// ErrDisconnected is returned by a Transport when the peer is gone. Both
// receive and send paths report it; the supervisor treats it as a normal
// termination, never as an escalating failure.
var ErrDisconnected = errors.New("client disconnected")

// Transport is the message-framing contract towards one client. The wire
// protocol behind it is out of the supervisor's scope.
type Transport interface {
	// Receive blocks until the next application message or disconnect.
	Receive() ([]byte, error)
	// Send delivers one application message to the peer.
	Send(payload []byte) error
	// Close shuts the connection down. Idempotent.
	Close() error
}
