// Package cost computes the processing-unit weight of an upstream request.
package cost

import "github.com/sentinel-hub/rate-limiting-guard/pkg/policy"

// CalculateProcessingUnits is a pure function mapping request parameters to
// their processing-unit weight, per the upstream's PU pricing rules.
//
// s1Orthorectification is accepted but currently has no effect: requesting
// orthorectification for S1 GRD data is expected to carry a 2x multiplier
// once the upstream enables it, but that rule is not applied at the moment.
func CalculateProcessingUnits(
	batchProcessing bool,
	width, height int,
	nInputBandsWithoutDataMask int,
	outputFormat policy.OutputFormat,
	nDataSamples int,
	s1Orthorectification bool,
) float64 {
	pu := 1.0

	if batchProcessing {
		pu /= 3.0
	}

	area := float64(width*height) / (512.0 * 512.0)
	pu *= max(area, 0.01)

	pu *= float64(nInputBandsWithoutDataMask) / 3.0

	switch outputFormat {
	case policy.OutputFormatTIFF32:
		pu *= 2.0
	case policy.OutputFormatOctetStream:
		pu *= 1.4
	}

	pu *= float64(nDataSamples)

	// if s1Orthorectification { pu *= 2.0 } // not applied at the moment

	return max(pu, 0.001)
}
