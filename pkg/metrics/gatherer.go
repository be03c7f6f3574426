package metrics

import (
	"slices"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

// runtimeGatherer exposes inner without the families matching dropPrefixes. Families in
// the asn_lookup namespace are always kept, whatever the configured prefixes.
func runtimeGatherer(inner prometheus.Gatherer, dropPrefixes []string) prometheus.Gatherer {
	return prometheus.GathererFunc(func() ([]*dto.MetricFamily, error) {
		families, err := inner.Gather()
		if err != nil {
			return nil, err
		}
		kept := make([]*dto.MetricFamily, 0, len(families))
		for _, family := range families {
			if dropFamily(family.GetName(), dropPrefixes) {
				continue
			}
			kept = append(kept, family)
		}
		return kept, nil
	})
}

func dropFamily(name string, dropPrefixes []string) bool {
	if strings.HasPrefix(name, namespace+"_") {
		return false
	}
	return slices.ContainsFunc(dropPrefixes, func(prefix string) bool {
		return prefix != "" && strings.HasPrefix(name, prefix)
	})
}

// gatherer combines the service registry with the filtered default registry.
func (s *Server) gatherer() prometheus.Gatherer {
	return prometheus.Gatherers{
		s.registry,
		runtimeGatherer(prometheus.DefaultGatherer, s.cfg.DropPrefixes),
	}
}
