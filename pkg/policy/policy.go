// Package policy describes the immutable rate-limiting policies enforced by
// the upstream API and the bucket metadata derived from them.
package policy

import (
	"fmt"
	"math"
)

// Type distinguishes the two kinds of bucket the upstream enforces.
type Type string

const (
	// TypeProcessingUnits charges requests by their computed PU weight.
	TypeProcessingUnits Type = "PU"
	// TypeRequests charges a flat cost of 1 per request.
	TypeRequests Type = "RQ"
)

// OutputFormat is the subset of upstream output formats that affect the PU
// cost calculation. Anything else is OutputFormatOther.
type OutputFormat int

const (
	OutputFormatOther OutputFormat = iota
	OutputFormatTIFF32
	OutputFormatOctetStream
)

// minFillIntervalNS is the scheduling precision floor: we don't get a
// realistic shot at running tasks more often than every 100ms.
const minFillIntervalNS = 100 * 1000 * 1000

// Policy is an immutable description of one token bucket enforced by the
// upstream. It is constructed once, at syncer boot, from the upstream's
// rate-limit contract and current statistics.
type Policy struct {
	ID                 string
	Type               Type
	Capacity           int64
	Initial            float64
	FillIntervalS      float64
	FillQuantity       int64
	NanosBetweenRefills int64
	SamplingPeriod     string
}

// ID derives the stable policy identifier used as the key across the
// repository's counters and metadata maps.
func ID(t Type, capacity int64, samplingPeriod string) string {
	return fmt.Sprintf("%s_%d_%s", t, capacity, samplingPeriod)
}

// New builds a Policy from contract/statistics fields, deriving its id and
// refill schedule.
func New(t Type, capacity int64, initial float64, nanosBetweenRefills int64, samplingPeriod string) Policy {
	fillIntervalS, fillQuantity := AdjustFilling(nanosBetweenRefills)
	return Policy{
		ID:                  ID(t, capacity, samplingPeriod),
		Type:                t,
		Capacity:            capacity,
		Initial:             initial,
		FillIntervalS:       fillIntervalS,
		FillQuantity:        fillQuantity,
		NanosBetweenRefills: nanosBetweenRefills,
		SamplingPeriod:      samplingPeriod,
	}
}

// AdjustFilling derives the refill cadence for a policy given the upstream's
// nanos-between-refills rate.
//
// We don't get to run tasks with nanosecond precision, so the cadence is
// adjusted to 100ms or more, incrementing the per-tick fill quantity to
// compensate so the effective rate (fill_quantity / fill_interval_s) stays
// exactly equal to the upstream's refill rate.
func AdjustFilling(nanosBetweenRefills int64) (fillIntervalS float64, fillQuantity int64) {
	if nanosBetweenRefills >= minFillIntervalNS {
		return float64(nanosBetweenRefills) / 1e9, 1
	}
	n := int64(math.Ceil(float64(minFillIntervalNS) / float64(nanosBetweenRefills)))
	return float64(nanosBetweenRefills*n) / 1e9, n
}
