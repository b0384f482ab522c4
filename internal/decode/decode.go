// Package decode provides pipeline.Decoder implementations that turn
// raw collector dump lines into bgpmsg.InternalMessage: mrtjson for
// newline-delimited JSON MRT records, pipesep for pipe-separated
// bgpdump-style text.
package decode

import (
	"net/netip"

	"go.uber.org/zap"

	"github.com/anssi-fr/hijackd/internal/bgpmsg"
)

// buildOrigin canonicalises asPath and derives its Origin, skipping
// (rather than failing) an empty AS-path: that's IGP-origin, treated
// as skip-and-warn rather than a hard parse error.
func buildOrigin(logger *zap.Logger, asPath string) (bgpmsg.Origin, []bgpmsg.ASSeg, bool) {
	if asPath == "" {
		logger.Warn("announce with empty as-path, treating as IGP-origin and skipping")
		return nil, nil, false
	}
	path, err := bgpmsg.CanonicalASPath(asPath)
	if err != nil {
		logger.Warn("dropping record with unparsable as-path", zap.String("as_path", asPath), zap.Error(err))
		return nil, nil, false
	}
	origin, err := bgpmsg.OriginFromASPath(path)
	if err != nil {
		logger.Warn("dropping record with empty canonical as-path", zap.String("as_path", asPath), zap.Error(err))
		return nil, nil, false
	}
	return origin, path, true
}

func parsePrefix(logger *zap.Logger, s string) (netip.Prefix, bool) {
	p, err := netip.ParsePrefix(s)
	if err != nil {
		logger.Warn("dropping record with unparsable prefix", zap.String("prefix", s), zap.Error(err))
		return netip.Prefix{}, false
	}
	return p, true
}

func parseAddr(logger *zap.Logger, s string) (netip.Addr, bool) {
	a, err := netip.ParseAddr(s)
	if err != nil {
		logger.Warn("dropping record with unparsable peer address", zap.String("peer_ip", s), zap.Error(err))
		return netip.Addr{}, false
	}
	return a, true
}
