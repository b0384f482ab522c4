// Package writer encodes Update Engine output records as
// newline-delimited JSON, with field order preserved per record, and
// optionally zstd-compresses the stream.
package writer

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"net/netip"

	"github.com/klauspost/compress/zstd"

	"github.com/anssi-fr/hijackd/internal/classify"
	"github.com/anssi-fr/hijackd/internal/update"
)

// sideJSON mirrors one announce/withdraw/conflict_with body. Field
// order here is the wire order: json.Marshal on a struct always
// encodes fields in declaration order, so this struct's layout is the
// actual output contract, not just documentation of it.
type sideJSON struct {
	Kind   string       `json:"type,omitempty"`
	Prefix netip.Prefix `json:"prefix"`
	ASN    uint32       `json:"asn"`
	ASPath string       `json:"as_path,omitempty"`
	Valid  []string     `json:"valid,omitempty"`
}

type conflictJSON struct {
	Timestamp    int64        `json:"timestamp"`
	Collector    string       `json:"collector"`
	PeerAS       uint32       `json:"peer_as"`
	PeerIP       netip.Addr   `json:"peer_ip"`
	Announce     *sideJSON    `json:"announce,omitempty"`
	Withdraw     *sideJSON    `json:"withdraw,omitempty"`
	ConflictWith sideJSON     `json:"conflict_with"`
	ASN          uint32       `json:"asn"`
	Relation     []string     `json:"relation,omitempty"`
	Direct       *bool        `json:"direct,omitempty"`
	Type         string       `json:"type,omitempty"`
}

func toSideJSON(s update.Side) sideJSON {
	return sideJSON{Kind: s.Kind, Prefix: s.Prefix, ASN: s.ASN, ASPath: s.ASPath, Valid: s.Valid}
}

func toConflictJSON(c update.Conflict) conflictJSON {
	out := conflictJSON{
		Timestamp:    c.Timestamp,
		Collector:    c.Collector,
		PeerAS:       c.PeerAS,
		PeerIP:       c.PeerIP,
		ConflictWith: toSideJSON(c.ConflictWith),
		ASN:          c.ASN,
		Relation:     c.Relation,
		Direct:       c.Direct,
		Type:         c.Type,
	}
	side := toSideJSON(c.Announce)
	if c.IsWithdraw {
		out.Withdraw = &side
	} else {
		out.Announce = &side
	}
	return out
}

type routeJSON struct {
	Timestamp int64        `json:"timestamp"`
	Collector string       `json:"collector"`
	PeerAS    uint32       `json:"peer_as"`
	PeerIP    netip.Addr   `json:"peer_ip"`
	Type      string       `json:"type"`
	Prefix    netip.Prefix `json:"prefix"`
	ASPath    string       `json:"as_path,omitempty"`
	ASN       uint32       `json:"asn"`
	NumRoutes int          `json:"num_routes"`
	Nexthop   string       `json:"nexthop,omitempty"`
	MED       *uint32      `json:"med,omitempty"`
	LocalPref *uint32      `json:"local_pref,omitempty"`
	CommStd   []string     `json:"communities,omitempty"`
	CommExt   []string     `json:"extended_communities,omitempty"`
	CommLarge []string     `json:"large_communities,omitempty"`
}

func toRouteJSON(r update.RouteRecord) routeJSON {
	out := routeJSON{
		Timestamp: r.Timestamp, Collector: r.Collector, PeerAS: r.PeerAS, PeerIP: r.PeerIP,
		Type: r.Kind, Prefix: r.Prefix, ASPath: r.ASPath, ASN: r.ASN, NumRoutes: r.NumRoutes,
	}
	if r.Attrs != nil {
		out.Nexthop = r.Attrs.Nexthop
		out.MED = r.Attrs.MED
		out.LocalPref = r.Attrs.LocalPref
		out.CommStd = r.Attrs.CommStd
		out.CommExt = r.Attrs.CommExt
		out.CommLarge = r.Attrs.CommLarge
	}
	return out
}

type defaultJSON struct {
	Timestamp int64      `json:"timestamp"`
	Collector string     `json:"collector"`
	PeerAS    uint32     `json:"peer_as"`
	PeerIP    netip.Addr `json:"peer_ip"`
	Announce  sideJSON   `json:"announce"`
}

func toDefaultJSON(d update.DefaultRecord) defaultJSON {
	return defaultJSON{Timestamp: d.Timestamp, Collector: d.Collector, PeerAS: d.PeerAS, PeerIP: d.PeerIP, Announce: toSideJSON(d.Announce)}
}

// Writer encodes records as NDJSON to an underlying io.Writer,
// optionally wrapping it in a zstd stream.
type Writer struct {
	w     io.Writer
	zw    *zstd.Encoder
	bw    *bufio.Writer
	close func() error
}

// New wraps dst for NDJSON output. When compress is true, dst receives
// a zstd-framed stream instead of plain text; Close must be called
// either way to flush buffered output.
func New(dst io.Writer, compress bool) (*Writer, error) {
	w := &Writer{}
	if compress {
		zw, err := zstd.NewWriter(dst)
		if err != nil {
			return nil, fmt.Errorf("writer: zstd encoder: %w", err)
		}
		w.zw = zw
		w.bw = bufio.NewWriter(zw)
		w.close = func() error {
			if err := w.bw.Flush(); err != nil {
				return err
			}
			return w.zw.Close()
		}
	} else {
		w.bw = bufio.NewWriter(dst)
		w.close = w.bw.Flush
	}
	return w, nil
}

// WriteConflict encodes c as one NDJSON line.
func (w *Writer) WriteConflict(c update.Conflict) error {
	return w.writeLine(toConflictJSON(c))
}

// WriteAbnormal encodes c only if its classification is ABNORMAL — the
// confirmed-hijack filter the CLI's default output applies.
func (w *Writer) WriteAbnormal(c update.Conflict) error {
	if !classify.IsHijack(c.Type) {
		return nil
	}
	return w.WriteConflict(c)
}

// WriteRoute encodes r as one NDJSON line.
func (w *Writer) WriteRoute(r update.RouteRecord) error {
	return w.writeLine(toRouteJSON(r))
}

// WriteDefault encodes d as one NDJSON line.
func (w *Writer) WriteDefault(d update.DefaultRecord) error {
	return w.writeLine(toDefaultJSON(d))
}

func (w *Writer) writeLine(v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("writer: marshal record: %w", err)
	}
	if _, err := w.bw.Write(b); err != nil {
		return err
	}
	return w.bw.WriteByte('\n')
}

// Close flushes any buffered output and, for a compressed stream,
// closes the zstd frame.
func (w *Writer) Close() error {
	return w.close()
}
