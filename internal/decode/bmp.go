package decode

import (
	"encoding/binary"
	"fmt"
	"io"

	"go.uber.org/zap"

	"github.com/anssi-fr/hijackd/internal/bgp"
	"github.com/anssi-fr/hijackd/internal/bgpmsg"
	"github.com/anssi-fr/hijackd/internal/bmp"
)

// BMP decodes one OpenBMP-framed BGP UPDATE record — the payload of a
// single Kafka record from a goBMP "-bmp-raw=true" topic — into
// InternalMessages. internal/bmp unwraps the OpenBMP and BMP Route
// Monitoring framing; internal/bgp parses the enclosed BGP UPDATE.
//
// BMP carries no equivalent of MRT table_dump_v2's explicit full-table
// marker, so this decoder never emits KindFullTable and cannot prime
// pipeline.Driver on its own; cmd/hijackd's serve feeds BMP-sourced
// messages straight into the update engine against a RIB that starts
// empty.
type BMP struct {
	Logger          *zap.Logger
	MaxPayloadBytes int
}

func (d *BMP) Decode(collector string, r io.Reader, emit func(bgpmsg.InternalMessage) error) error {
	logger := d.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	raw, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("decode: reading bmp record: %w", err)
	}

	bmpPayload, err := bmp.DecodeOpenBMPFrame(raw, d.MaxPayloadBytes)
	if err != nil {
		logger.Warn("dropping unparseable openbmp frame", zap.Error(err))
		return nil
	}

	parsed, err := bmp.Parse(bmpPayload)
	if err != nil {
		logger.Warn("dropping unparseable bmp message", zap.Error(err))
		return nil
	}
	if parsed.MsgType != bmp.MsgTypeRouteMonitoring || len(parsed.BGPData) == 0 {
		return nil
	}

	peerHeader := routeMonitoringPeerHeader(bmpPayload)
	peerIPStr := bmp.RouterIDFromPeerHeader(peerHeader)
	addr, ok := parseAddr(logger, peerIPStr)
	if !ok {
		return nil
	}
	peer := bgpmsg.PeerID{PeerAS: peerASFromHeader(peerHeader), PeerIP: addr}

	events, err := bgp.ParseUpdate(parsed.BGPData, parsed.HasAddPath)
	if err != nil {
		logger.Warn("dropping unparseable bgp update", zap.Error(err))
		return nil
	}

	for _, ev := range events {
		msg, ok := bmpEventToMessage(logger, collector, peer, ev)
		if !ok {
			continue
		}
		if err := emit(msg); err != nil {
			return err
		}
	}
	return nil
}

// routeMonitoringPeerHeader slices the per-peer header out of a Route
// Monitoring message's payload, immediately following the BMP common
// header.
func routeMonitoringPeerHeader(bmpPayload []byte) []byte {
	if len(bmpPayload) <= bmp.CommonHeaderSize {
		return nil
	}
	rest := bmpPayload[bmp.CommonHeaderSize:]
	if len(rest) > bmp.PerPeerHeaderSize {
		return rest[:bmp.PerPeerHeaderSize]
	}
	return rest
}

// peerASFromHeader reads the peer AS field, which sits immediately
// after the 16-byte peer address bmp.RouterIDFromPeerHeader reads from
// the same per-peer header.
func peerASFromHeader(h []byte) uint32 {
	const peerASOffset = 26
	if len(h) < peerASOffset+4 {
		return 0
	}
	return binary.BigEndian.Uint32(h[peerASOffset : peerASOffset+4])
}

func bmpEventToMessage(logger *zap.Logger, collector string, peer bgpmsg.PeerID, ev *bgp.RouteEvent) (bgpmsg.InternalMessage, bool) {
	prefix, ok := parsePrefix(logger, ev.Prefix)
	if !ok {
		return bgpmsg.InternalMessage{}, false
	}

	if ev.Action == "D" {
		return bgpmsg.InternalMessage{
			Kind:      bgpmsg.KindWithdraw,
			Collector: collector,
			Peer:      peer,
			Prefix:    prefix,
		}, true
	}

	origin, path, ok := buildOrigin(logger, ev.ASPath)
	if !ok {
		return bgpmsg.InternalMessage{}, false
	}
	return bgpmsg.InternalMessage{
		Kind:      bgpmsg.KindAnnounce,
		Collector: collector,
		Peer:      peer,
		Prefix:    prefix,
		Origin:    origin,
		ASPath:    path,
		ASPathRaw: ev.ASPath,
		Attrs:     attrsFromEvent(ev),
	}, true
}

// attrsFromEvent lifts the path-attribute fields internal/bgp already
// parsed off of ev into the decoder-agnostic bgpmsg.Attrs shape, so
// they ride through the RIB's opaque blob and into route output
// instead of being parsed and discarded.
func attrsFromEvent(ev *bgp.RouteEvent) *bgpmsg.Attrs {
	if ev.Nexthop == "" && ev.MED == nil && ev.LocalPref == nil &&
		len(ev.CommStd) == 0 && len(ev.CommExt) == 0 && len(ev.CommLarge) == 0 {
		return nil
	}
	return &bgpmsg.Attrs{
		Nexthop:   ev.Nexthop,
		MED:       ev.MED,
		LocalPref: ev.LocalPref,
		CommStd:   ev.CommStd,
		CommExt:   ev.CommExt,
		CommLarge: ev.CommLarge,
	}
}
