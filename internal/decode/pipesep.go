package decode

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/anssi-fr/hijackd/internal/bgpmsg"
)

// PipeSep decodes bgpdump-style pipe-separated text lines, classified
// by a leading two-field record type: "R|R" for a table-dump entry,
// "U|A" for an announce, "U|W" for a withdraw. Fields after the type
// are positional: timestamp|peer_ip|peer_as|prefix|as_path, with
// as_path absent (empty field) on a withdraw line.
type PipeSep struct {
	Logger *zap.Logger
}

func (d *PipeSep) Decode(collector string, r io.Reader, emit func(bgpmsg.InternalMessage) error) error {
	logger := d.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 8*1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		fields := strings.Split(line, "|")
		if len(fields) < 7 {
			logger.Warn("dropping short pipe-separated record", zap.String("line", line))
			continue
		}

		class, action := fields[0], fields[1]
		timestamp, err := strconv.ParseInt(fields[2], 10, 64)
		if err != nil {
			logger.Warn("dropping record with unparsable timestamp", zap.String("timestamp", fields[2]))
			continue
		}
		peerIP, ok := parseAddr(logger, fields[3])
		if !ok {
			continue
		}
		peerAS64, err := strconv.ParseUint(fields[4], 10, 32)
		if err != nil {
			logger.Warn("dropping record with unparsable peer_as", zap.String("peer_as", fields[4]))
			continue
		}
		peer := bgpmsg.PeerID{PeerAS: uint32(peerAS64), PeerIP: peerIP}
		prefix, ok := parsePrefix(logger, fields[5])
		if !ok {
			continue
		}
		asPathRaw := fields[6]

		var msg bgpmsg.InternalMessage
		switch {
		case class == "R" && action == "R":
			origin, path, ok := buildOrigin(logger, asPathRaw)
			if !ok {
				continue
			}
			msg = bgpmsg.InternalMessage{
				Kind: bgpmsg.KindFullTable, Timestamp: timestamp, Collector: collector,
				Peer: peer, Prefix: prefix, Origin: origin, ASPath: path, ASPathRaw: asPathRaw,
			}
		case class == "U" && action == "A":
			origin, path, ok := buildOrigin(logger, asPathRaw)
			if !ok {
				continue
			}
			msg = bgpmsg.InternalMessage{
				Kind: bgpmsg.KindAnnounce, Timestamp: timestamp, Collector: collector,
				Peer: peer, Prefix: prefix, Origin: origin, ASPath: path, ASPathRaw: asPathRaw,
			}
		case class == "U" && action == "W":
			msg = bgpmsg.InternalMessage{
				Kind: bgpmsg.KindWithdraw, Timestamp: timestamp, Collector: collector,
				Peer: peer, Prefix: prefix,
			}
		default:
			logger.Warn("dropping record of unknown type", zap.String("class", class), zap.String("action", action))
			continue
		}

		if err := emit(msg); err != nil {
			return fmt.Errorf("decode: emitting pipe-separated record: %w", err)
		}
	}
	return scanner.Err()
}
