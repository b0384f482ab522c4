// Package shard implements the optional ASN-sharded deployment: N
// independent RIB+Writer workers, each owning a deterministic subset
// of origin ASNs, fed from a single decode pass over the same ordered
// file list the unsharded Driver consumes. A small message protocol
// over Go channels — ACCESS/PROCESS/BVIEW_END/SYNC_PING/SYNC_PONG/STOP —
// keeps the central decode loop and the per-shard workers in lockstep
// at file boundaries.
package shard

import (
	"errors"
	"fmt"
	"io"

	"go.uber.org/zap"

	"github.com/anssi-fr/hijackd/internal/bgpmsg"
	"github.com/anssi-fr/hijackd/internal/rib"
	"github.com/anssi-fr/hijackd/internal/update"
	"github.com/anssi-fr/hijackd/internal/writer"
)

// kind enumerates the protocol's message types.
type kind uint8

const (
	kindProcess  kind = iota // one decoded message, to be considered by the worker
	kindBviewEnd             // the manager's priming phase is over for good
	kindSyncPing             // barrier request: drain, then reply on pong
	kindStop                 // shut down the worker goroutine
)

// protoMsg is the unit exchanged on a worker's input channel. The
// "ACCESS" step in the protocol's name is the manager's own decode
// call (Opener+Decoder below) that produces the BGP field of a
// kindProcess message; only the fan-out after that point runs over
// channels.
type protoMsg struct {
	kind kind
	file string
	bgp  bgpmsg.InternalMessage
}

// Decoder and Opener mirror internal/pipeline's interfaces so a caller
// can reuse the same collector-reading code for sharded and unsharded
// deployment.
type Decoder interface {
	Decode(collector string, r io.Reader, emit func(bgpmsg.InternalMessage) error) error
}

type Opener func(name string) (io.ReadCloser, error)

var errNotABview = errors.New("shard: file is not a full-table dump")

// ErrNoBviewsLoaded means the file list's head contained zero
// full-table dumps, so no shard was primed.
var ErrNoBviewsLoaded = errors.New("shard: no bviews were loaded")

// Owner returns which shard, out of n, owns asn. Partitioning is a
// plain modulus over the ASN space: deterministic, stateless, and
// identical across every worker and every run.
func Owner(asn uint32, n int) int {
	return int(asn % uint32(n))
}

func ownersFor(origin bgpmsg.Origin, n int) map[int]struct{} {
	owners := make(map[int]struct{}, 1)
	for _, asn := range origin.ASNs() {
		owners[Owner(asn, n)] = struct{}{}
	}
	return owners
}

// worker owns one shard's RIB and output writer, consuming protoMsgs
// from its own channel so its RIB is never touched by another
// goroutine.
type worker struct {
	id         int
	rib        *rib.RIB
	writer     *writer.Writer
	policy     update.DefaultRoutePolicy
	isWatched  update.IsWatcher
	accessTime func(file string) int64
	logger     *zap.Logger

	in   chan protoMsg
	pong chan struct{}
	done chan struct{}
}

func newWorker(id int, policy update.DefaultRoutePolicy, isWatched update.IsWatcher, w *writer.Writer, accessTime func(string) int64, logger *zap.Logger) *worker {
	return &worker{
		id:         id,
		rib:        rib.New(),
		writer:     w,
		policy:     policy,
		isWatched:  isWatched,
		accessTime: accessTime,
		logger:     logger,
		in:         make(chan protoMsg, 256),
		pong:       make(chan struct{}),
		done:       make(chan struct{}),
	}
}

func (w *worker) run() {
	defer close(w.done)
	priming := true
	for m := range w.in {
		switch m.kind {
		case kindProcess:
			at := int64(0)
			if w.accessTime != nil {
				at = w.accessTime(m.file)
			}
			if priming {
				update.Prime(w.rib, m.bgp, at, w.isWatched)
				continue
			}
			defaults, routes, conflicts := update.ProcessMessage(w.rib, m.bgp, at, w.policy, w.isWatched)
			if w.writer != nil {
				for _, d := range defaults {
					w.writer.WriteDefault(d)
				}
				for _, r := range routes {
					w.writer.WriteRoute(r)
				}
				for _, c := range conflicts {
					w.writer.WriteAbnormal(c)
				}
			}
		case kindBviewEnd:
			priming = false
		case kindSyncPing:
			w.pong <- struct{}{}
		case kindStop:
			return
		}
	}
}

// Manager drives NumShards workers over an ordered file list, fanning
// each decoded message out to the shard(s) that own its origin ASN(s).
// A withdraw carries no origin, so it is fanned out to every shard —
// the RIB.Pop it triggers is a no-op on shards that never held the
// record (see DESIGN.md).
type Manager struct {
	NumShards  int
	Collector  string
	Opener     Opener
	Decoder    Decoder
	IsWatched  update.IsWatcher
	Policy     update.DefaultRoutePolicy
	AccessTime func(file string) int64
	Logger     *zap.Logger

	// Writers holds one *writer.Writer per shard, indexed by shard ID.
	// A nil or short slice leaves the corresponding shard's output
	// unwritten (useful in tests that only inspect RIB state).
	Writers []*writer.Writer

	workers []*worker
}

// RIB returns shard id's RIB, for inspection after Run returns.
func (m *Manager) RIB(id int) *rib.RIB {
	return m.workers[id].rib
}

func (m *Manager) ensureWorkers() {
	if m.workers != nil {
		return
	}
	m.workers = make([]*worker, m.NumShards)
	for i := range m.workers {
		var w *writer.Writer
		if i < len(m.Writers) {
			w = m.Writers[i]
		}
		m.workers[i] = newWorker(i, m.Policy, m.IsWatched, w, m.AccessTime, m.Logger)
		go m.workers[i].run()
	}
}

// Run primes every shard's RIB from the file list's leading full-table
// files, then streams the same file list (bviews replayed, then the
// rest) through every shard, same two-phase algorithm as
// internal/pipeline.Driver.Run but fanned out across NumShards workers
// instead of one shared RIB.
func (m *Manager) Run(files []string) error {
	if m.Logger == nil {
		m.Logger = zap.NewNop()
	}
	m.ensureWorkers()
	defer m.stop()

	bviews, rest, err := m.prime(files)
	if err != nil {
		return err
	}
	if len(bviews) == 0 {
		return ErrNoBviewsLoaded
	}
	m.broadcast(protoMsg{kind: kindBviewEnd})

	stream := make([]string, 0, len(bviews)+len(rest))
	stream = append(stream, bviews...)
	stream = append(stream, rest...)

	for _, name := range stream {
		if err := m.processFile(name, func(msg bgpmsg.InternalMessage) error {
			m.dispatch(name, msg)
			return nil
		}); err != nil {
			return fmt.Errorf("shard: streaming %s: %w", name, err)
		}
		m.barrier()
	}
	return nil
}

func (m *Manager) prime(files []string) (bviews, rest []string, err error) {
	for i, name := range files {
		ok, err := m.primeFile(name)
		if err != nil {
			return nil, nil, fmt.Errorf("shard: priming %s: %w", name, err)
		}
		if !ok {
			return bviews, files[i:], nil
		}
		bviews = append(bviews, name)
	}
	return bviews, nil, nil
}

func (m *Manager) primeFile(name string) (bool, error) {
	pure := true
	err := m.processFile(name, func(msg bgpmsg.InternalMessage) error {
		if msg.Kind != bgpmsg.KindFullTable {
			pure = false
			return errNotABview
		}
		if isDefaultRoute(msg, m.Policy) {
			m.Logger.Warn("got a default route while priming", zap.String("file", name), zap.Stringer("prefix", msg.Prefix))
			return nil
		}
		m.dispatch(name, msg)
		return nil
	})
	if errors.Is(err, errNotABview) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	m.barrier()
	return pure, nil
}

func (m *Manager) dispatch(file string, msg bgpmsg.InternalMessage) {
	if msg.Origin == nil {
		m.broadcast(protoMsg{kind: kindProcess, file: file, bgp: msg})
		return
	}
	for id := range ownersFor(msg.Origin, m.NumShards) {
		m.workers[id].in <- protoMsg{kind: kindProcess, file: file, bgp: msg}
	}
}

func (m *Manager) broadcast(p protoMsg) {
	for _, w := range m.workers {
		w.in <- p
	}
}

// barrier blocks until every worker has drained its channel up to and
// including this call, so the manager never opens the next file while
// a worker is still mid-file on the previous one.
func (m *Manager) barrier() {
	m.broadcast(protoMsg{kind: kindSyncPing})
	for _, w := range m.workers {
		<-w.pong
	}
}

func (m *Manager) stop() {
	m.broadcast(protoMsg{kind: kindStop})
	for _, w := range m.workers {
		<-w.done
	}
}

func (m *Manager) processFile(name string, emit func(bgpmsg.InternalMessage) error) error {
	f, err := m.Opener(name)
	if err != nil {
		return err
	}
	defer f.Close()
	return m.Decoder.Decode(m.Collector, f, emit)
}

func isDefaultRoute(msg bgpmsg.InternalMessage, policy update.DefaultRoutePolicy) bool {
	return msg.Origin != nil && update.IsDefaultPrefix(msg.Prefix, policy)
}
