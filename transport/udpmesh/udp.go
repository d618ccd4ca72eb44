// BSD 3-Clause License
//
// Copyright (c) 2020, Sperax
// All rights reserved.
//
// Redistribution and use in source and binary forms, with or without
// modification, are permitted provided that the following conditions are met:
//
// 1. Redistributions of source code must retain the above copyright notice, this
//    list of conditions and the following disclaimer.
//
// 2. Redistributions in binary form must reproduce the above copyright notice,
//    this list of conditions and the following disclaimer in the documentation
//    and/or other materials provided with the distribution.
//
// 3. Neither the name of the copyright holder nor the names of its
//    contributors may be used to endorse or promote products derived from
//    this software without specific prior written permission.
//
// THIS SOFTWARE IS PROVIDED BY THE COPYRIGHT HOLDERS AND CONTRIBUTORS "AS IS"
// AND ANY EXPRESS OR IMPLIED WARRANTIES, INCLUDING, BUT NOT LIMITED TO, THE
// IMPLIED WARRANTIES OF MERCHANTABILITY AND FITNESS FOR A PARTICULAR PURPOSE ARE
// DISCLAIMED. IN NO EVENT SHALL THE COPYRIGHT HOLDER OR CONTRIBUTORS BE LIABLE
// FOR ANY DIRECT, INDIRECT, INCIDENTAL, SPECIAL, EXEMPLARY, OR CONSEQUENTIAL
// DAMAGES (INCLUDING, BUT NOT LIMITED TO, PROCUREMENT OF SUBSTITUTE GOODS OR
// SERVICES; LOSS OF USE, DATA, OR PROFITS; OR BUSINESS INTERRUPTION) HOWEVER
// CAUSED AND ON ANY THEORY OF LIABILITY, WHETHER IN CONTRACT, STRICT LIABILITY,
// OR TORT (INCLUDING NEGLIGENCE OR OTHERWISE) ARISING IN ANY WAY OUT OF THE USE
// OF THIS SOFTWARE, EVEN IF ADVISED OF THE POSSIBILITY OF SUCH DAMAGE.

// Package udpmesh implements mesh.Transport over a UDP multicast group: the
// deployment's "everyone on one LAN segment" option, as opposed to the
// range-limited transport/lora package.
package udpmesh

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/libp2p/go-reuseport"
)

// MaxFrame is the practical ceiling for a single UDP datagram before
// fragmentation risk on typical LAN MTUs becomes a concern.
const MaxFrame = 4096

// Config addresses the multicast group this transport joins.
type Config struct {
	// Group is the multicast address, e.g. "239.0.0.1:7946".
	Group string
	// Iface restricts the multicast join to one interface; nil picks the
	// system default.
	Iface *net.Interface
}

// Transport implements mesh.Transport over a UDP multicast group. Every
// Send reaches every other member of the group: there is no unicast
// addressing at this layer, matching the overlay's assumption that its
// own Target header -- not the transport -- decides who acts on a frame.
type Transport struct {
	conn      *net.UDPConn
	sendConn  net.PacketConn
	groupAddr *net.UDPAddr
}

// Listen joins the multicast group described by cfg and returns a ready
// Transport. The receive side joins the group with net.ListenMulticastUDP;
// the send side is a separate ephemeral-port socket opened through
// go-reuseport, which sets SO_REUSEPORT on it.
func Listen(cfg Config) (*Transport, error) {
	groupAddr, err := net.ResolveUDPAddr("udp", cfg.Group)
	if err != nil {
		return nil, fmt.Errorf("udpmesh: resolve group: %w", err)
	}

	conn, err := net.ListenMulticastUDP("udp", cfg.Iface, groupAddr)
	if err != nil {
		return nil, fmt.Errorf("udpmesh: join group: %w", err)
	}
	conn.SetReadBuffer(MaxFrame * 64)

	sendConn, err := reuseport.ListenPacket("udp", ":0")
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("udpmesh: open send socket: %w", err)
	}

	return &Transport{conn: conn, sendConn: sendConn, groupAddr: groupAddr}, nil
}

// Send writes frame to the multicast group.
func (t *Transport) Send(ctx context.Context, frame []byte) error {
	if len(frame) > MaxFrame {
		return fmt.Errorf("udpmesh: frame of %d bytes exceeds MaxFrame %d", len(frame), MaxFrame)
	}
	if deadline, ok := ctx.Deadline(); ok {
		t.sendConn.SetWriteDeadline(deadline)
	} else {
		t.sendConn.SetWriteDeadline(time.Time{})
	}
	_, err := t.sendConn.WriteTo(frame, t.groupAddr)
	return err
}

// Recv blocks for the next datagram on the group, or until ctx is done.
func (t *Transport) Recv(ctx context.Context) ([]byte, error) {
	t.conn.SetReadDeadline(time.Time{})

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			t.conn.SetReadDeadline(time.Now())
		case <-done:
		}
	}()

	buf := make([]byte, MaxFrame)
	n, _, err := t.conn.ReadFromUDP(buf)
	if err != nil {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
			return nil, err
		}
	}
	return buf[:n], nil
}

// MaxFrame reports the transport's datagram ceiling.
func (t *Transport) MaxFrame() int { return MaxFrame }

// Close releases both sockets.
func (t *Transport) Close() error {
	t.sendConn.Close()
	return t.conn.Close()
}
