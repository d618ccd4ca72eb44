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

// Package lora implements mesh.Transport over a LoRa radio module attached
// as a serial device. Framing is a one-byte sync marker followed by a
// little-endian u16 length and the payload -- the marker lets the reader
// resync after a corrupted frame or module reboot mid-stream, which a
// bare length prefix cannot do on a noisy radio link.
package lora

import (
	"bufio"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.bug.st/serial"
)

// MaxFrame is the payload ceiling for one LoRa transmission.
const MaxFrame = 1200

const syncMarker byte = 0xAA

// bootTimeout bounds how long the module may take to answer each AT command.
const bootTimeout = 5 * time.Second

// Config describes the serial device and radio parameters applied at boot.
type Config struct {
	// Port is the device path, e.g. "/dev/ttyUSB0".
	Port string
	// BaudRate is the serial line rate. Defaults to 115200 if zero.
	BaudRate int
	// SpreadingFactor is sent as AT+SF=<n>. Defaults to 9 if zero.
	SpreadingFactor int
	// FrequencyMHz is sent as AT+FREQ=<mhz>. Defaults to 915.0 if zero.
	FrequencyMHz float64
	// BandwidthKHz is sent as AT+BW=<khz>. Defaults to 125 if zero.
	BandwidthKHz int
}

func (c *Config) applyDefaults() {
	if c.BaudRate == 0 {
		c.BaudRate = 115200
	}
	if c.SpreadingFactor == 0 {
		c.SpreadingFactor = 9
	}
	if c.FrequencyMHz == 0 {
		c.FrequencyMHz = 915.0
	}
	if c.BandwidthKHz == 0 {
		c.BandwidthKHz = 125
	}
}

// Transport implements mesh.Transport over a serial-attached LoRa module.
type Transport struct {
	port   serial.Port
	reader *bufio.Reader

	writeMu sync.Mutex
}

// newTransport wraps an already-opened serial.Port, without running the
// boot sequence -- split out from Open so tests can inject a fake Port.
func newTransport(port serial.Port) *Transport {
	return &Transport{port: port, reader: bufio.NewReader(port)}
}

// Open opens the serial port, runs the AT+SF/AT+FREQ/AT+BW boot sequence --
// waiting for "OK" within 5s per command -- and returns a ready Transport.
func Open(cfg Config) (*Transport, error) {
	cfg.applyDefaults()

	mode := &serial.Mode{BaudRate: cfg.BaudRate}
	port, err := serial.Open(cfg.Port, mode)
	if err != nil {
		return nil, fmt.Errorf("lora: open %s: %w", cfg.Port, err)
	}

	t := newTransport(port)

	commands := []string{
		fmt.Sprintf("AT+SF=%d", cfg.SpreadingFactor),
		fmt.Sprintf("AT+FREQ=%s", strconv.FormatFloat(cfg.FrequencyMHz, 'f', -1, 64)),
		fmt.Sprintf("AT+BW=%d", cfg.BandwidthKHz),
	}
	for _, cmd := range commands {
		if err := t.runATCommand(cmd); err != nil {
			port.Close()
			return nil, err
		}
	}

	return t, nil
}

// runATCommand writes cmd terminated by CRLF and waits up to bootTimeout
// for a line containing "OK".
func (t *Transport) runATCommand(cmd string) error {
	if err := t.port.SetReadTimeout(bootTimeout); err != nil {
		return fmt.Errorf("lora: set boot read timeout: %w", err)
	}
	if _, err := t.port.Write([]byte(cmd + "\r\n")); err != nil {
		return fmt.Errorf("lora: write %q: %w", cmd, err)
	}

	deadline := time.Now().Add(bootTimeout)
	for time.Now().Before(deadline) {
		line, err := t.reader.ReadString('\n')
		if err != nil {
			if err == io.EOF {
				continue
			}
			return fmt.Errorf("lora: awaiting reply to %q: %w", cmd, err)
		}
		if strings.Contains(line, "OK") {
			return nil
		}
	}
	return fmt.Errorf("lora: no OK reply to %q within %s", cmd, bootTimeout)
}

// Send writes one framed payload: sync marker, u16 LE length, payload.
func (t *Transport) Send(ctx context.Context, frame []byte) error {
	if len(frame) > MaxFrame {
		return fmt.Errorf("lora: frame of %d bytes exceeds MaxFrame %d", len(frame), MaxFrame)
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	header := make([]byte, 3)
	header[0] = syncMarker
	binary.LittleEndian.PutUint16(header[1:], uint16(len(frame)))

	if _, err := t.port.Write(header); err != nil {
		return fmt.Errorf("lora: write header: %w", err)
	}
	if _, err := t.port.Write(frame); err != nil {
		return fmt.Errorf("lora: write payload: %w", err)
	}
	return nil
}

// Recv reads the next framed payload, resynchronizing on the marker byte
// if the stream is corrupted.
func (t *Transport) Recv(ctx context.Context) ([]byte, error) {
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		b, err := t.reader.ReadByte()
		if err != nil {
			return nil, fmt.Errorf("lora: read sync byte: %w", err)
		}
		if b != syncMarker {
			continue
		}

		lenBytes := make([]byte, 2)
		if _, err := io.ReadFull(t.reader, lenBytes); err != nil {
			return nil, fmt.Errorf("lora: read length: %w", err)
		}
		n := binary.LittleEndian.Uint16(lenBytes)
		if int(n) > MaxFrame {
			continue // corrupted length, resync on the next marker byte
		}

		payload := make([]byte, n)
		if _, err := io.ReadFull(t.reader, payload); err != nil {
			return nil, fmt.Errorf("lora: read payload: %w", err)
		}
		return payload, nil
	}
}

// MaxFrame reports the transport's payload ceiling.
func (t *Transport) MaxFrame() int { return MaxFrame }

// Close releases the serial port.
func (t *Transport) Close() error {
	return t.port.Close()
}
