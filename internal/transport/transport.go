// Package transport binds the UDP gossip socket: a single receive loop
// dispatches inbound datagrams to a handler, and a single-flight send queue
// serializes outbound writes so at most one socket write is ever
// outstanding at a time.
//
// Grounded on the teacher's counter/gauge wiring style
// (protocol/prism/set.go) generalized from vote-set accounting to wire
// transport accounting, and on the original rai::udp_data's posted-receive
// plus chained-completion send_buffer shape described in
// original_source/rai/core/core.hpp.
package transport

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"

	"github.com/luxfi/log"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/raiproto/node/blockcodec"
	"github.com/raiproto/node/internal/wire"
	"github.com/raiproto/node/ledgerid"
)

// MaxDatagramSize is the largest UDP payload the receive loop will accept,
// matching the original's fixed 512-byte receive buffer.
const MaxDatagramSize = 512

// sendQueueDepth bounds how many outbound datagrams may be queued; once it
// is reached, Send returns an error instead of queueing.
const sendQueueDepth = 1024

// Handler processes one successfully decoded inbound message. from is the
// endpoint the datagram arrived from, already validated as non-self and
// non-reserved only at the peer-table layer — Handler must still reject
// self/reserved if it cares, since transport has no notion of "self".
type Handler func(network wire.Network, msg wire.Message, from ledgerid.Endpoint)

type outgoing struct {
	to  ledgerid.Endpoint
	buf []byte
}

// Transport owns the UDP socket and its send queue.
type Transport struct {
	log     log.Logger
	network wire.Network
	codec   blockcodec.Codec
	handler Handler

	conn *net.UDPConn
	on   atomic.Bool

	sendCh chan outgoing
	wg     sync.WaitGroup

	perKind          *prometheus.CounterVec
	badSender        prometheus.Counter
	errorCounter     prometheus.Counter
	insufficientWork prometheus.Counter
	unknown          prometheus.Counter
}

// New binds a UDP socket at addr. Messages decoded off it are passed to
// handler; handler must not block for long, since it runs on the single
// receive goroutine.
func New(addr ledgerid.Endpoint, network wire.Network, codec blockcodec.Codec, handler Handler, logger log.Logger, reg prometheus.Registerer) (*Transport, error) {
	if logger == nil {
		logger = log.NewNoOpLogger()
	}
	udpAddr := net.UDPAddrFromAddrPort(addr.AddrPort())
	conn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return nil, fmt.Errorf("transport: listen %s: %w", addr, err)
	}

	t := &Transport{
		log:     logger,
		network: network,
		codec:   codec,
		handler: handler,
		conn:    conn,
		sendCh:  make(chan outgoing, sendQueueDepth),
		perKind: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "transport_messages_total",
			Help: "Inbound messages processed, by kind.",
		}, []string{"kind"}),
		badSender: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "transport_bad_sender_total",
			Help: "Datagrams dropped for a magic/network mismatch or decode failure.",
		}),
		errorCounter: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "transport_errors_total",
			Help: "Socket read/write errors encountered.",
		}),
		insufficientWork: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "transport_insufficient_work_total",
			Help: "Datagrams dropped for failing the proof-of-work check.",
		}),
		unknown: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "transport_unknown_total",
			Help: "Datagrams dropped for an unrecognized message kind.",
		}),
	}
	t.on.Store(true)
	if reg != nil {
		_ = reg.Register(t.perKind)
		_ = reg.Register(t.badSender)
		_ = reg.Register(t.errorCounter)
		_ = reg.Register(t.insufficientWork)
		_ = reg.Register(t.unknown)
	}
	return t, nil
}

// Start launches the receive loop and the send loop. Both exit when ctx is
// canceled or Stop is called.
func (t *Transport) Start(ctx context.Context) {
	t.wg.Add(2)
	go t.receiveLoop(ctx)
	go t.sendLoop(ctx)
}

// Send enqueues msg for delivery to ep. It returns an error only if the
// transport has been stopped, msg fails to encode, or the queue is full;
// actual delivery is best-effort, as befits UDP.
func (t *Transport) Send(ep ledgerid.Endpoint, msg wire.Message) error {
	if !t.on.Load() {
		return errors.New("transport: stopped")
	}
	var buf bytes.Buffer
	if err := wire.Encode(&buf, t.network, msg, t.codec); err != nil {
		return fmt.Errorf("transport: encode %s: %w", msg.Kind(), err)
	}
	select {
	case t.sendCh <- outgoing{to: ep, buf: buf.Bytes()}:
		return nil
	default:
		t.errorCounter.Inc()
		return errors.New("transport: send queue full")
	}
}

// Stop closes the socket, which unblocks the receive loop, and marks the
// transport off so further Send calls are rejected. It does not block for
// the loops to exit; callers that need that should cancel the context
// passed to Start and rely on their own WaitGroup around node shutdown.
func (t *Transport) Stop() error {
	t.on.Store(false)
	return t.conn.Close()
}

func (t *Transport) receiveLoop(ctx context.Context) {
	defer t.wg.Done()
	buf := make([]byte, MaxDatagramSize)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		if !t.on.Load() {
			return
		}
		n, addr, err := t.conn.ReadFromUDP(buf)
		if err != nil {
			if !t.on.Load() {
				return
			}
			t.errorCounter.Inc()
			t.log.Debug("transport read error", "error", err)
			continue
		}
		t.dispatch(buf[:n], addr)
	}
}

func (t *Transport) dispatch(raw []byte, from *net.UDPAddr) {
	ap := from.AddrPort()
	ep := ledgerid.EndpointFromAddrPort(ap)

	r := bytes.NewReader(raw)
	network, msg, err := wire.Decode(r, t.codec)
	switch {
	case err == nil:
	case errors.Is(err, wire.ErrUnknownKind):
		t.unknown.Inc()
		return
	case errors.Is(err, wire.ErrMalformedMessage):
		t.badSender.Inc()
		return
	default:
		t.errorCounter.Inc()
		return
	}
	if network != t.network {
		t.badSender.Inc()
		return
	}

	t.perKind.WithLabelValues(msg.Kind().String()).Inc()
	t.handler(network, msg, ep)
}

func (t *Transport) sendLoop(ctx context.Context) {
	defer t.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case out, ok := <-t.sendCh:
			if !ok {
				return
			}
			if !t.on.Load() {
				return
			}
			udpAddr := net.UDPAddrFromAddrPort(out.to.AddrPort())
			if _, err := t.conn.WriteToUDP(out.buf, udpAddr); err != nil {
				t.errorCounter.Inc()
				t.log.Debug("transport write error", "to", out.to.String(), "error", err)
			}
		}
	}
}

// InsufficientWork lets the message processor report a failed proof-of-work
// check through the same counter set the transport owns, since §4.6 treats
// it as a transport-level drop reason rather than a processor one.
func (t *Transport) InsufficientWork() {
	t.insufficientWork.Inc()
}
