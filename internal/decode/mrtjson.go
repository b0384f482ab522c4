package decode

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"

	"go.uber.org/zap"

	"github.com/anssi-fr/hijackd/internal/bgpmsg"
)

// MRTJSON decodes newline-delimited JSON records in the shape produced
// by an external MRT-to-JSON decoder: one "table_dump_v2" object per
// bview entry, one "update" object per announce/withdraw batch.
type MRTJSON struct {
	Logger *zap.Logger
}

type mrtEnvelope struct {
	Type string `json:"type"`
}

type mrtTableDumpV2 struct {
	Timestamp int64  `json:"timestamp"`
	Prefix    string `json:"prefix"`
	Entries   []struct {
		PeerAS uint32 `json:"peer_as"`
		PeerIP string `json:"peer_ip"`
		ASPath string `json:"as_path"`
	} `json:"entries"`
}

type mrtUpdate struct {
	Timestamp int64    `json:"timestamp"`
	PeerAS    uint32   `json:"peer_as"`
	PeerIP    string   `json:"peer_ip"`
	ASPath    string   `json:"as_path"`
	Announce  []string `json:"announce"`
	Withdraw  []string `json:"withdraw"`
}

// Decode reads one JSON object per line from r, emitting the
// InternalMessages it expands to. An unknown "type" value or a line
// that fails to parse as JSON is a skip-and-warn, not a fatal error.
func (d *MRTJSON) Decode(collector string, r io.Reader, emit func(bgpmsg.InternalMessage) error) error {
	logger := d.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 8*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var env mrtEnvelope
		if err := json.Unmarshal(line, &env); err != nil {
			logger.Warn("dropping unparsable json line", zap.Error(err))
			continue
		}

		switch env.Type {
		case "table_dump_v2":
			if err := decodeTableDumpV2(collector, line, logger, emit); err != nil {
				return err
			}
		case "update":
			if err := decodeUpdate(collector, line, logger, emit); err != nil {
				return err
			}
		default:
			logger.Warn("dropping record of unknown decoder type", zap.String("type", env.Type))
		}
	}
	return scanner.Err()
}

func decodeTableDumpV2(collector string, line []byte, logger *zap.Logger, emit func(bgpmsg.InternalMessage) error) error {
	var rec mrtTableDumpV2
	if err := json.Unmarshal(line, &rec); err != nil {
		logger.Warn("dropping unparsable table_dump_v2 record", zap.Error(err))
		return nil
	}
	prefix, ok := parsePrefix(logger, rec.Prefix)
	if !ok {
		return nil
	}
	for _, entry := range rec.Entries {
		peerIP, ok := parseAddr(logger, entry.PeerIP)
		if !ok {
			continue
		}
		origin, path, ok := buildOrigin(logger, entry.ASPath)
		if !ok {
			continue
		}
		msg := bgpmsg.InternalMessage{
			Kind:      bgpmsg.KindFullTable,
			Timestamp: rec.Timestamp,
			Collector: collector,
			Peer:      bgpmsg.PeerID{PeerAS: entry.PeerAS, PeerIP: peerIP},
			Prefix:    prefix,
			Origin:    origin,
			ASPath:    path,
			ASPathRaw: entry.ASPath,
		}
		if err := emit(msg); err != nil {
			return fmt.Errorf("decode: emitting table_dump_v2 entry: %w", err)
		}
	}
	return nil
}

func decodeUpdate(collector string, line []byte, logger *zap.Logger, emit func(bgpmsg.InternalMessage) error) error {
	var rec mrtUpdate
	if err := json.Unmarshal(line, &rec); err != nil {
		logger.Warn("dropping unparsable update record", zap.Error(err))
		return nil
	}
	peerIP, ok := parseAddr(logger, rec.PeerIP)
	if !ok {
		return nil
	}
	peer := bgpmsg.PeerID{PeerAS: rec.PeerAS, PeerIP: peerIP}

	for _, raw := range rec.Announce {
		prefix, ok := parsePrefix(logger, raw)
		if !ok {
			continue
		}
		origin, path, ok := buildOrigin(logger, rec.ASPath)
		if !ok {
			continue
		}
		msg := bgpmsg.InternalMessage{
			Kind:      bgpmsg.KindAnnounce,
			Timestamp: rec.Timestamp,
			Collector: collector,
			Peer:      peer,
			Prefix:    prefix,
			Origin:    origin,
			ASPath:    path,
			ASPathRaw: rec.ASPath,
		}
		if err := emit(msg); err != nil {
			return fmt.Errorf("decode: emitting announce: %w", err)
		}
	}

	for _, raw := range rec.Withdraw {
		prefix, ok := parsePrefix(logger, raw)
		if !ok {
			continue
		}
		msg := bgpmsg.InternalMessage{
			Kind:      bgpmsg.KindWithdraw,
			Timestamp: rec.Timestamp,
			Collector: collector,
			Peer:      peer,
			Prefix:    prefix,
		}
		if err := emit(msg); err != nil {
			return fmt.Errorf("decode: emitting withdraw: %w", err)
		}
	}
	return nil
}
