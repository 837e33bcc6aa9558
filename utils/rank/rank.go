// Package rank orders stream candidates for probing and resolved streams
// for the final client response. Ranking is deterministic: the sort key is
// total (quality tier, size distance, size, info hash), so permuted inputs
// always produce the same output order.
package rank

import (
	"math"
	"sort"

	"streambridge/models"
	"streambridge/utils/releaseparse"
)

const (
	// TriageMax bounds how many candidates are submitted to cache probing.
	TriageMax = 100
	// FinalMax bounds the ranked list returned to the client.
	FinalMax = 50

	// triageReferenceMB is the size sweet spot used for pre-probe ordering
	// before per-tier bands apply.
	triageReferenceMB = 5000
)

// sizeBand is the ideal size range, in MB, for one quality tier.
type sizeBand struct {
	min float64
	max float64
}

var tierBands = map[int]sizeBand{
	2160: {10 * 1024, 80 * 1024},
	1080: {2 * 1024, 16 * 1024},
	720:  {1 * 1024, 8 * 1024},
	480:  {512, 4 * 1024},
	0:    {0, 4 * 1024},
}

// Triage orders candidates by quality tier descending, then by distance of
// the declared size from the reference point, and truncates to TriageMax.
func Triage(candidates []models.StreamCandidate) []models.StreamCandidate {
	sorted := make([]models.StreamCandidate, len(candidates))
	copy(sorted, candidates)

	sort.Slice(sorted, func(i, j int) bool {
		ti, tj := CandidateTier(sorted[i]), CandidateTier(sorted[j])
		if ti != tj {
			return ti > tj
		}
		di := math.Abs(CandidateSizeMB(sorted[i]) - triageReferenceMB)
		dj := math.Abs(CandidateSizeMB(sorted[j]) - triageReferenceMB)
		if di != dj {
			return di < dj
		}
		return sorted[i].InfoHash < sorted[j].InfoHash
	})

	if len(sorted) > TriageMax {
		sorted = sorted[:TriageMax]
	}
	return sorted
}

// Final orders cache-confirmed streams for the client response: quality tier
// descending, then distance from the tier's ideal size band ascending, then
// size descending. Truncates to FinalMax.
func Final(streams []models.RankedStream) []models.RankedStream {
	sorted := make([]models.RankedStream, len(streams))
	copy(sorted, streams)

	sort.Slice(sorted, func(i, j int) bool {
		ti, tj := CandidateTier(sorted[i].StreamCandidate), CandidateTier(sorted[j].StreamCandidate)
		if ti != tj {
			return ti > tj
		}
		si, sj := CandidateSizeMB(sorted[i].StreamCandidate), CandidateSizeMB(sorted[j].StreamCandidate)
		di, dj := bandDistance(ti, si), bandDistance(tj, sj)
		if di != dj {
			return di < dj
		}
		if si != sj {
			return si > sj
		}
		return sorted[i].InfoHash < sorted[j].InfoHash
	})

	if len(sorted) > FinalMax {
		sorted = sorted[:FinalMax]
	}
	return sorted
}

// FallbackOrder sorts fallback entries by quality tier descending, then size
// descending, for the resolver's alternate walk.
func FallbackOrder(entries []models.FallbackEntry) []models.FallbackEntry {
	sorted := make([]models.FallbackEntry, len(entries))
	copy(sorted, entries)

	sort.Slice(sorted, func(i, j int) bool {
		ti := entryTier(sorted[i])
		tj := entryTier(sorted[j])
		if ti != tj {
			return ti > tj
		}
		if sorted[i].SizeBytes != sorted[j].SizeBytes {
			return sorted[i].SizeBytes > sorted[j].SizeBytes
		}
		return sorted[i].InfoHash < sorted[j].InfoHash
	})
	return sorted
}

// CandidateTier resolves the numeric quality tier for a candidate, parsing
// the title text when no structured quality is present. Unparseable input
// is tier 0.
func CandidateTier(c models.StreamCandidate) int {
	if c.Quality != "" {
		return releaseparse.QualityTier(c.Quality)
	}
	text := c.Filename
	if text == "" {
		text = c.DisplayTitle
	}
	return releaseparse.QualityTier(releaseparse.QualityLabel(text))
}

// CandidateSizeMB resolves the declared size in MB, falling back to the size
// label and then to size text embedded in the title. Unknown sizes are 0.
func CandidateSizeMB(c models.StreamCandidate) float64 {
	if c.SizeBytes > 0 {
		return float64(c.SizeBytes) / (1024 * 1024)
	}
	if mb := releaseparse.SizeMBFromLabel(c.SizeLabel); mb > 0 {
		return mb
	}
	return releaseparse.SizeMBFromLabel(c.DisplayTitle)
}

func entryTier(e models.FallbackEntry) int {
	if e.Quality != "" {
		return releaseparse.QualityTier(e.Quality)
	}
	return releaseparse.QualityTier(releaseparse.QualityLabel(e.DisplayTitle))
}

// bandDistance is 0 when the size falls within the tier's ideal band,
// otherwise the gap to the nearest band edge.
func bandDistance(tier int, sizeMB float64) float64 {
	band, ok := tierBands[tier]
	if !ok {
		band = tierBands[0]
	}
	switch {
	case sizeMB < band.min:
		return band.min - sizeMB
	case sizeMB > band.max:
		return sizeMB - band.max
	default:
		return 0
	}
}
