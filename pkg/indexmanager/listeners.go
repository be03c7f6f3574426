package indexmanager

import (
	"go.uber.org/zap"

	"github.com/gtriggiano/asn-lookup-service/pkg/metrics"
)

// LogEvents returns a listener logging reload outcomes.
func LogEvents(logger *zap.Logger) func(ReloadEvent) {
	return func(event ReloadEvent) {
		fields := []zap.Field{
			zap.String("source", event.Source),
			zap.Uint64("generation", event.Generation),
			zap.Duration("duration", event.Duration),
		}

		switch event.Result {
		case ResultPublished:
			logger.Info("index published", append(fields,
				zap.String("fingerprint", event.Fingerprint),
				zap.Int("ipv4_records", event.Stats.IPv4Records),
				zap.Int("ipv6_records", event.Stats.IPv6Records),
				zap.Int("malformed", event.Malformed),
			)...)
		case ResultUnchanged:
			logger.Debug("source unchanged", fields...)
		default:
			logger.Error("index reload failed, keeping previous generation", append(fields, zap.Error(event.Err))...)
		}
	}
}

// InstrumentEvents returns a listener recording reload outcomes as metrics.
func InstrumentEvents(inst *metrics.Instrumentation) func(ReloadEvent) {
	return func(event ReloadEvent) {
		var result string
		switch event.Result {
		case ResultPublished:
			result = metrics.PUBLISHED
		case ResultUnchanged:
			result = metrics.UNCHANGED
		default:
			result = metrics.FAILED
		}

		inst.ObserveReload(event.Source, result, event.Duration)
		if event.Result == ResultPublished {
			inst.ObservePublish(event.Generation, event.Stats.IPv4Records, event.Stats.IPv6Records, event.Malformed, event.CompletedAt)
		}
	}
}
