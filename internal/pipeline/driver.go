// Package pipeline drives the Update Engine over an ordered list of
// collector dump files: a priming phase that loads leading full-table
// dumps into the RIB, followed by a streaming phase that replays those
// same dumps and then every remaining update file, yielding the
// resulting conflict stream.
package pipeline

import (
	"errors"
	"fmt"
	"io"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/anssi-fr/hijackd/internal/bgpmsg"
	"github.com/anssi-fr/hijackd/internal/rib"
	"github.com/anssi-fr/hijackd/internal/update"
)

// Decoder turns one opened collector dump into InternalMessages, calling
// emit for each in file order. A single line of input can expand into
// more than one message (a withdrawn multi-origin route, for instance),
// so emit may be called any number of times per Decode call.
type Decoder interface {
	Decode(collector string, r io.Reader, emit func(bgpmsg.InternalMessage) error) error
}

// Opener opens a named dump for reading. Callers plug in plain file
// opens, gzip/zstd-wrapped opens, or a fork to an external decompressor,
// matching whatever the collector's dump format needs.
type Opener func(name string) (io.ReadCloser, error)

// errNotABview is returned internally when a file slated for the
// priming phase contains anything other than full-table messages; the
// driver treats it as the priming/streaming boundary, not a fatal error.
var errNotABview = errors.New("pipeline: file is not a full-table dump")

// ErrNoBviewsLoaded means the file list's head contained zero full-table
// dumps, so the RIB was never primed and conflict detection cannot run.
var ErrNoBviewsLoaded = errors.New("pipeline: no bviews were loaded")

// Driver runs the priming+streaming algorithm against a RIB.
type Driver struct {
	Collector string
	Opener    Opener
	Decoder   Decoder
	IsWatched update.IsWatcher
	Policy    update.DefaultRoutePolicy
	Logger    *zap.Logger

	// AccessTime computes the access timestamp recorded against each
	// RIB entry as a file is processed, for later staleness sweeps.
	AccessTime func(file string) int64

	// OnRoute and OnDefault, when set, receive every RouteRecord and
	// DefaultRecord the streaming phase produces alongside conflicts —
	// callers that persist routes/defaults (internal/writer,
	// internal/store) hook in here instead of reimplementing the loop.
	OnRoute   func(update.RouteRecord)
	OnDefault func(update.DefaultRecord)

	primed atomic.Bool
}

// Primed reports whether the priming phase has completed and the
// driver has moved on to (or finished) streaming. Safe to call from
// another goroutine, e.g. an HTTP readiness handler, while Run is
// still in progress.
func (d *Driver) Primed() bool {
	return d.primed.Load()
}

// Handler receives every conflict the streaming phase produces.
// Default-route records go to Driver.OnDefault instead.
type Handler func(update.Conflict)

// Run primes rib from the leading full-table files in files (in the
// order given — sort with SortRISFilenames first if the caller has
// RIS-named dumps), then streams every file again from the start
// through the Update Engine, invoking handle for each conflict it
// produces. Returns ErrNoBviewsLoaded if no leading file was a
// full-table dump.
func (d *Driver) Run(r *rib.RIB, files []string, handle Handler) error {
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}

	bviews, rest, err := d.prime(r, files)
	if err != nil {
		return err
	}
	if len(bviews) == 0 {
		return ErrNoBviewsLoaded
	}
	d.primed.Store(true)

	stream := make([]string, 0, len(bviews)+len(rest))
	stream = append(stream, bviews...)
	stream = append(stream, rest...)

	for _, name := range stream {
		if err := d.processFile(name, func(msg bgpmsg.InternalMessage) error {
			defaults, routes, conflicts := update.ProcessMessage(r, msg, d.accessTime(name), d.Policy, d.IsWatched)
			for _, def := range defaults {
				d.Logger.Warn("got a default route during streaming",
					zap.String("file", name),
					zap.Uint32("asn", def.Announce.ASN),
					zap.Stringer("prefix", def.Announce.Prefix))
				if d.OnDefault != nil {
					d.OnDefault(def)
				}
			}
			if d.OnRoute != nil {
				for _, rt := range routes {
					d.OnRoute(rt)
				}
			}
			for _, c := range conflicts {
				handle(c)
			}
			return nil
		}); err != nil {
			return fmt.Errorf("pipeline: streaming %s: %w", name, err)
		}
	}
	return nil
}

// prime consumes files from the head of the list as long as each one
// decodes to nothing but full-table messages, installing every watched
// one into rib directly (no conflict detection runs during priming —
// there is no prior state yet to conflict against). It stops, and
// leaves the offending file at the head of the returned remainder, at
// the first file that is not a pure full-table dump.
func (d *Driver) prime(r *rib.RIB, files []string) (bviews, rest []string, err error) {
	for i, name := range files {
		ok, err := d.primeFile(r, name)
		if err != nil {
			return nil, nil, fmt.Errorf("pipeline: priming %s: %w", name, err)
		}
		if !ok {
			return bviews, files[i:], nil
		}
		bviews = append(bviews, name)
	}
	return bviews, nil, nil
}

// primeFile reports whether name decoded entirely to full-table
// messages (even zero of them), installing each one as it goes. A
// single non-full-table message anywhere in the file aborts the whole
// file's priming and reports false; any already-installed messages
// from that file remain in the RIB exactly like the upstream
// implementation's mid-file ValueError abort.
func (d *Driver) primeFile(r *rib.RIB, name string) (bool, error) {
	accessTime := d.accessTime(name)
	pureBview := true
	err := d.processFile(name, func(msg bgpmsg.InternalMessage) error {
		if msg.Kind != bgpmsg.KindFullTable {
			pureBview = false
			return errNotABview
		}
		if isDefaultRoute(msg, d.Policy) {
			d.Logger.Warn("got a default route while priming", zap.String("file", name), zap.Stringer("prefix", msg.Prefix))
			return nil
		}
		update.Prime(r, msg, accessTime, d.IsWatched)
		return nil
	})
	if errors.Is(err, errNotABview) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return pureBview, nil
}

func (d *Driver) processFile(name string, emit func(bgpmsg.InternalMessage) error) error {
	f, err := d.Opener(name)
	if err != nil {
		return err
	}
	defer f.Close()
	return d.Decoder.Decode(d.Collector, f, emit)
}

func (d *Driver) accessTime(file string) int64 {
	if d.AccessTime == nil {
		return 0
	}
	return d.AccessTime(file)
}

func isDefaultRoute(msg bgpmsg.InternalMessage, policy update.DefaultRoutePolicy) bool {
	return msg.Origin != nil && update.IsDefaultPrefix(msg.Prefix, policy)
}
