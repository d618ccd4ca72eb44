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

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"github.com/tascord/flesh/identity"
	"github.com/tascord/flesh/mesh"
	"github.com/tascord/flesh/transport/lora"
	"github.com/tascord/flesh/transport/udpmesh"
	"github.com/tascord/flesh/wire"
)

func main() {
	app := &cli.App{
		Name:                 "fleshnode",
		Usage:                "run a FLESH overlay node",
		EnableBashCompletion: true,
		Commands: []*cli.Command{
			{
				Name:  "run",
				Usage: "join the mesh and log its application stream",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "group",
						Value: "239.0.0.1:7946",
						Usage: "UDP multicast group (ignored when LORA is set)",
					},
					&cli.DurationFlag{
						Name:  "announce-interval",
						Value: 30 * time.Second,
						Usage: "how often to broadcast Announce(self)",
					},
					&cli.DurationFlag{
						Name:  "peer-table-interval",
						Value: 10 * time.Second,
						Usage: "how often to print the peer table",
					},
				},
				Action: runNode,
			},
		},
		Action: func(c *cli.Context) error {
			cli.ShowAppHelp(c)
			return nil
		},
	}

	if err := app.Run(os.Args); err != nil {
		zap.NewExample().Sugar().Fatalw("fleshnode exiting", "error", err)
	}
}

func runNode(c *cli.Context) error {
	logger, err := zap.NewProduction()
	if err != nil {
		return fmt.Errorf("fleshnode: logger init: %w", err)
	}
	defer logger.Sync()
	sugar := logger.Sugar()

	id, err := identity.Generate()
	if err != nil {
		return fmt.Errorf("fleshnode: identity: %w", err)
	}

	transport, closeTransport, err := openTransport(c, sugar)
	if err != nil {
		return err
	}
	defer closeTransport()

	engine, err := mesh.NewEngine(transport, mesh.Config{
		AnnounceInterval: c.Duration("announce-interval"),
		Identity:         id,
		Logger:           sugar,
	})
	if err != nil {
		return fmt.Errorf("fleshnode: engine init: %w", err)
	}
	defer engine.Close()

	sugar.Infow("node started", "self", engine.Self().String())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt)

	peerTicker := time.NewTicker(c.Duration("peer-table-interval"))
	defer peerTicker.Stop()

	for {
		select {
		case <-sigCh:
			sugar.Info("shutting down")
			return nil
		case <-ctx.Done():
			return nil
		case <-peerTicker.C:
			printPeerTable(os.Stdout, engine)
		case msg := <-engine.Stream():
			sugar.Infow("application message",
				"status", msg.Status,
				"sender", senderString(msg.Sender),
				"bytes", len(msg.Body))
		case relayErr := <-engine.Errors():
			sugar.Warnw("relay failure", "peer", relayErr.Peer.String(), "reason", relayErr.Reason)
		}
	}
}

func senderString(sender *wire.PeerID) string {
	if sender == nil {
		return "unknown"
	}
	return sender.String()
}

// openTransport picks the LoRa serial transport when the LORA environment
// variable names a device, and falls back to UDP multicast otherwise.
func openTransport(c *cli.Context, log *zap.SugaredLogger) (mesh.Transport, func(), error) {
	if port := os.Getenv("LORA"); port != "" {
		sf, _ := strconv.Atoi(os.Getenv("LORA_SF"))
		t, err := lora.Open(lora.Config{Port: port, SpreadingFactor: sf})
		if err != nil {
			return nil, nil, fmt.Errorf("fleshnode: lora open: %w", err)
		}
		log.Infow("using LoRa transport", "port", port)
		return t, func() { t.Close() }, nil
	}

	t, err := udpmesh.Listen(udpmesh.Config{Group: c.String("group")})
	if err != nil {
		return nil, nil, fmt.Errorf("fleshnode: udp listen: %w", err)
	}
	log.Infow("using UDP multicast transport", "group", c.String("group"))
	return t, func() { t.Close() }, nil
}

// printPeerTable renders the engine's current peer table to w.
func printPeerTable(w *os.File, engine *mesh.Engine) {
	snapshot := engine.Table().Snapshot()

	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Peer", "Relation", "Via", "Last Seen"})
	for id, entry := range snapshot {
		via := ""
		if entry.Relation.Kind == mesh.RelationRelay {
			via = entry.Relation.Via.String()
		}
		relation := "local"
		if entry.Relation.Kind == mesh.RelationRelay {
			relation = "relay"
		}
		table.Append([]string{
			id.String(),
			relation,
			via,
			entry.LastSeen.Format(time.RFC3339),
		})
	}
	table.Render()
}
