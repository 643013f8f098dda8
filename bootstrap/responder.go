package bootstrap

import (
	"net"
	"sync"
	"time"

	"github.com/luxfi/log"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/raiproto/node/block"
	"github.com/raiproto/node/blockcodec"
	"github.com/raiproto/node/internal/wire"
	"github.com/raiproto/node/ledger"
	"github.com/raiproto/node/ledgerid"
)

// Responder accepts incoming bootstrap TCP connections and serves
// frontier_req/bulk_req frames from the local ledger. A connection carries
// one frontier_req followed by zero or more bulk_req frames, mirroring the
// single persistent socket an Initiator session drives its own requests
// over.
type Responder struct {
	log     log.Logger
	ledger  ledger.Ledger
	codec   blockcodec.Codec
	network wire.Network

	mu       sync.Mutex
	listener net.Listener
	wg       sync.WaitGroup

	connections prometheus.Gauge
	served      *prometheus.CounterVec
}

// NewResponder returns a Responder ready to Serve a listener.
func NewResponder(
	ledg ledger.Ledger,
	codec blockcodec.Codec,
	network wire.Network,
	logger log.Logger,
	reg prometheus.Registerer,
) *Responder {
	if logger == nil {
		logger = log.NewNoOpLogger()
	}
	r := &Responder{
		log:     logger,
		ledger:  ledg,
		codec:   codec,
		network: network,
		connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "bootstrap_connections",
			Help: "Bootstrap TCP connections currently being served.",
		}),
		served: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bootstrap_requests_served_total",
			Help: "Bootstrap requests served, by kind.",
		}, []string{"kind"}),
	}
	if reg != nil {
		_ = reg.Register(r.connections)
		_ = reg.Register(r.served)
	}
	return r
}

// Serve accepts connections on ln, handling each on its own goroutine,
// until ln is closed. Intended to run on the node's TCP listener, bound to
// the same port as the UDP transport per spec.md §6.1.
func (r *Responder) Serve(ln net.Listener) {
	r.mu.Lock()
	r.listener = ln
	r.mu.Unlock()

	for {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		r.wg.Add(1)
		r.connections.Inc()
		go func() {
			defer r.wg.Done()
			defer r.connections.Dec()
			defer conn.Close()
			r.handle(conn)
		}()
	}
}

// Stop closes the listener and waits for in-flight connections to drain.
func (r *Responder) Stop() error {
	r.mu.Lock()
	ln := r.listener
	r.mu.Unlock()
	if ln == nil {
		return nil
	}
	err := ln.Close()
	r.wg.Wait()
	return err
}

// handle serves every request a single connection sends until the peer
// closes it (wire.Decode then fails reading the next header, which is the
// ordinary way a finished session ends) or a protocol error occurs.
func (r *Responder) handle(conn net.Conn) {
	for {
		_, msg, err := wire.Decode(conn, r.codec)
		if err != nil {
			return
		}
		switch m := msg.(type) {
		case wire.FrontierReq:
			r.served.WithLabelValues("frontier_req").Inc()
			if err := r.serveFrontiers(conn, m); err != nil {
				r.log.Debug("frontier_req response failed", "error", err.Error())
				return
			}
		case wire.BulkReq:
			r.served.WithLabelValues("bulk_req").Inc()
			if err := r.serveBulk(conn, m); err != nil {
				r.log.Debug("bulk_req response failed", "error", err.Error())
				return
			}
		default:
			r.served.WithLabelValues("unexpected").Inc()
			return
		}
	}
}

// serveFrontiers streams (address, latest hash) pairs starting at req.Start,
// skipping any account whose latest block is older than req.Age seconds
// (when set) and stopping once req.Count pairs have been sent (when set),
// per spec.md §4.8.
func (r *Responder) serveFrontiers(conn net.Conn, req wire.FrontierReq) error {
	var sendErr error
	sent := uint32(0)
	cutoff := time.Now().Add(-time.Duration(req.Age) * time.Second)
	r.ledger.Frontiers(req.Start, func(p ledger.FrontierPair) bool {
		if req.Age != 0 && p.Modified.Before(cutoff) {
			return true
		}
		if sendErr = writeFrontierFrame(conn, p.Address, p.Latest); sendErr != nil {
			return false
		}
		sent++
		return req.Count == 0 || sent < req.Count
	})
	if sendErr != nil {
		return sendErr
	}
	return writeFrontierSentinel(conn)
}

func (r *Responder) serveBulk(conn net.Conn, req wire.BulkReq) error {
	next := r.bulkStart(req.Start)
	var sent uint32
	for next != nil {
		if err := writeBlockFrame(conn, r.codec, next); err != nil {
			return err
		}
		sent++
		if next.Hash() == req.End || (req.Count != 0 && sent >= req.Count) {
			break
		}
		var ok bool
		next, ok = r.ledger.Successor(next.Hash())
		if !ok {
			break
		}
	}
	return writeBlockSentinel(conn)
}

// bulkStart resolves a bulk_req's Start field. A hash already stored means
// "continue after this block"; otherwise Start is reinterpreted as an
// account address naming the account whose Open block begins the range —
// the same 32-byte value doing double duty as the original bulk_req.start
// field did.
func (r *Responder) bulkStart(start ledgerid.BlockHash) block.Block {
	if blk, ok := r.ledger.Block(start); ok {
		next, ok := r.ledger.Successor(blk.Hash())
		if !ok {
			return nil
		}
		return next
	}
	account := ledgerid.Address(start)
	blk, ok := r.ledger.OpenBlock(account)
	if !ok {
		return nil
	}
	return blk
}
