package main

import (
	"fmt"
	"net/netip"
	"os"

	"go.uber.org/zap"

	"github.com/anssi-fr/hijackd/internal/config"
	"github.com/anssi-fr/hijackd/internal/decode"
	"github.com/anssi-fr/hijackd/internal/metadata"
	"github.com/anssi-fr/hijackd/internal/pipeline"
	"github.com/anssi-fr/hijackd/internal/update"
	"github.com/anssi-fr/hijackd/internal/watch"
)

// routePolicyFor maps the configured default-route policy name to the
// update engine's enum.
func routePolicyFor(name string) update.DefaultRoutePolicy {
	if name == "literal" {
		return update.LiteralPolicy
	}
	return update.MaskLengthPolicy
}

// watchPredicateFor builds the update.IsWatcher gating non-conflicting
// announce installation, per the configured watch mode.
func watchPredicateFor(cfg config.WatchConfig, logger *zap.Logger) (update.IsWatcher, error) {
	switch cfg.Mode {
	case "asn":
		return watch.ASNs(cfg.ASNs...), nil
	case "prefix":
		prefixes := make([]netip.Prefix, 0, len(cfg.Prefixes))
		for _, s := range cfg.Prefixes {
			p, err := netip.ParsePrefix(s)
			if err != nil {
				return nil, fmt.Errorf("watch.prefixes: invalid prefix %q: %w", s, err)
			}
			prefixes = append(prefixes, p)
		}
		return watch.Prefixes(prefixes...), nil
	default:
		return watch.Always, nil
	}
}

// loadMetadata reads every configured CSV source into the Annotation
// Engine's stores. Any field left empty in cfg skips that store,
// leaving it empty (annotate functions treat a nil/empty store as a
// no-op).
func loadMetadata(cfg config.MetadataConfig, logger *zap.Logger) (*metadata.RouteObjectStore, *metadata.ROAStore, *metadata.Relations, error) {
	ro := metadata.NewRouteObjectStore()
	if cfg.RouteObjectsFile != "" {
		if err := loadCSVInto(cfg.RouteObjectsFile, func(f *os.File) error {
			return metadata.LoadRouteObjects(f, ro)
		}); err != nil {
			return nil, nil, nil, fmt.Errorf("loading route objects: %w", err)
		}
	}

	roa := metadata.NewROAStore()
	if cfg.ROAFile != "" {
		if err := loadCSVInto(cfg.ROAFile, func(f *os.File) error {
			return metadata.LoadROAs(f, roa)
		}); err != nil {
			return nil, nil, nil, fmt.Errorf("loading ROAs: %w", err)
		}
	}

	rel := metadata.NewRelations()
	for kind, path := range map[metadata.RelationKind]string{
		metadata.Organisations: cfg.OrganisationsFile,
		metadata.Maintainers:   cfg.MaintainersFile,
		metadata.Contacts:      cfg.ContactsFile,
	} {
		if path == "" {
			continue
		}
		if err := loadCSVInto(path, func(f *os.File) error {
			return rel.Load(f, kind)
		}); err != nil {
			return nil, nil, nil, fmt.Errorf("loading %s: %w", kind, err)
		}
	}

	logger.Info("metadata loaded",
		zap.String("route_objects_file", cfg.RouteObjectsFile),
		zap.String("roa_file", cfg.ROAFile),
	)
	return ro, roa, rel, nil
}

func loadCSVInto(path string, load func(*os.File) error) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return load(f)
}

// decoderForFormat returns the pipeline.Decoder matching a collector's
// configured input format.
func decoderForFormat(format string, logger *zap.Logger) (pipeline.Decoder, error) {
	switch format {
	case "mrtjson":
		return &decode.MRTJSON{Logger: logger}, nil
	case "pipesep":
		return &decode.PipeSep{Logger: logger}, nil
	default:
		return nil, fmt.Errorf("unknown input_format %q", format)
	}
}
