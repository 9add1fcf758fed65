package events

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
)

// EmbeddedBroker wraps Bus with an in-process NATS server so every event is
// also published onto a real pub/sub transport, matching the embedded-broker
// pattern in ODSapper-CLIAIMONITOR. The Bus itself remains authoritative for
// in-process subscribers (SSE, scheduler); the NATS mirror exists for
// external tooling that wants to tail the subject "arkaledge.events.>"
// without speaking the HTTP surface. This stays a single-process embedded
// broker, not a separate node, so it does not violate the no-distributed-
// operation Non-goal.
type EmbeddedBroker struct {
	bus    *Bus
	ns     *server.Server
	nc     *nats.Conn
	subj   string
}

// NewEmbeddedBroker starts an in-process NATS server and connects a client
// to it, then subscribes to every event on bus and forwards each one to the
// subject "arkaledge.events.<type>", so events published on the bus by any
// component reach NATS. Like any bus subscriber, the forwarder drops events
// while its buffer is full.
func NewEmbeddedBroker(bus *Bus) (*EmbeddedBroker, error) {
	opts := &server.Options{
		Host:           "127.0.0.1",
		Port:           -1, // ephemeral, in-process only
		NoLog:          true,
		NoSigs:         true,
		DontListen:     false,
		MaxControlLine: 4096,
	}
	ns, err := server.NewServer(opts)
	if err != nil {
		return nil, fmt.Errorf("embedded nats: start: %w", err)
	}
	go ns.Start()
	if !ns.ReadyForConnections(5 * time.Second) {
		return nil, fmt.Errorf("embedded nats: not ready within timeout")
	}

	nc, err := nats.Connect(ns.ClientURL())
	if err != nil {
		ns.Shutdown()
		return nil, fmt.Errorf("embedded nats: connect: %w", err)
	}

	b := &EmbeddedBroker{bus: bus, ns: ns, nc: nc, subj: "arkaledge.events"}
	all := bus.SubscribeAll(0)
	go func() {
		for ev := range all {
			if payload, err := json.Marshal(ev); err == nil {
				_ = nc.Publish(b.subj+"."+string(ev.Type), payload)
			}
		}
	}()
	return b, nil
}

// Publish delivers ev on the bus; the broker's bus subscription forwards it
// to the NATS subject. Bus delivery is synchronous and authoritative; NATS
// delivery is best-effort.
func (b *EmbeddedBroker) Publish(ev Event) {
	b.bus.Publish(ev)
}

// Close tears down the NATS connection and embedded server.
func (b *EmbeddedBroker) Close() {
	if b.nc != nil {
		b.nc.Close()
	}
	if b.ns != nil {
		b.ns.Shutdown()
		b.ns.WaitForShutdown()
	}
}
