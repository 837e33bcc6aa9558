// Package releaseparse derives structured metadata (quality, codec, HDR,
// audio, season/episode markers, size) from release titles and filenames.
package releaseparse

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/MunifTanjim/go-ptt"
)

// Quality labels exposed to clients, ordered best first.
const (
	Quality4K    = "4K"
	Quality1080p = "1080p"
	Quality720p  = "720p"
	Quality480p  = "480p"
	QualitySD    = "SD"
)

// Info is the parsed view of a release title.
type Info struct {
	Title      string
	Year       int
	Resolution string
	Quality    string // source quality, e.g. BluRay, WEB-DL
	Codec      string
	Audio      []string
	HDR        []string
	Container  string
	Group      string
	Seasons    []int
	Episodes   []int
	Size       string // size text embedded in the title, if any
}

// Parse runs the release title through PTT and normalizes the result.
func Parse(title string) *Info {
	r := ptt.Parse(title)

	info := &Info{
		Title:      r.Title,
		Resolution: r.Resolution,
		Quality:    r.Quality,
		Codec:      r.Codec,
		Audio:      r.Audio,
		HDR:        r.HDR,
		Container:  r.Container,
		Group:      r.Group,
		Seasons:    r.Seasons,
		Episodes:   r.Episodes,
		Size:       r.Size,
	}
	if r.Year != "" {
		if year, err := strconv.Atoi(r.Year); err == nil {
			info.Year = year
		}
	}
	return info
}

var (
	qualityTextPattern = regexp.MustCompile(`(?i)\b(2160p|4k|uhd|1080p|720p|480p)\b`)
	sizeLabelPattern   = regexp.MustCompile(`(?i)(\d+(?:\.\d+)?)\s*(tb|gb|mb|kb)\b`)
)

// QualityLabel derives the display quality for a release title, preferring
// the PTT resolution and falling back to a raw text match. Unrecognized
// input yields QualitySD.
func QualityLabel(title string) string {
	info := Parse(title)
	if label := labelFromResolution(info.Resolution); label != QualitySD {
		return label
	}
	if m := qualityTextPattern.FindString(title); m != "" {
		return labelFromResolution(m)
	}
	return QualitySD
}

func labelFromResolution(resolution string) string {
	res := strings.ToLower(resolution)
	switch {
	case strings.Contains(res, "2160"), strings.Contains(res, "4k"), strings.Contains(res, "uhd"):
		return Quality4K
	case strings.Contains(res, "1080"):
		return Quality1080p
	case strings.Contains(res, "720"):
		return Quality720p
	case strings.Contains(res, "480"):
		return Quality480p
	default:
		return QualitySD
	}
}

// QualityTier maps a quality label to its numeric tier (2160, 1080, 720,
// 480, 0). Unknown labels are tier 0.
func QualityTier(quality string) int {
	switch labelFromResolution(quality) {
	case Quality4K:
		return 2160
	case Quality1080p:
		return 1080
	case Quality720p:
		return 720
	case Quality480p:
		return 480
	default:
		return 0
	}
}

// SizeMBFromLabel parses a human size label like "4.2 GB" or "700 MB" into
// megabytes. Unparseable labels yield 0.
func SizeMBFromLabel(label string) float64 {
	m := sizeLabelPattern.FindStringSubmatch(label)
	if len(m) != 3 {
		return 0
	}
	value, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 0
	}
	switch strings.ToLower(m[2]) {
	case "tb":
		return value * 1024 * 1024
	case "gb":
		return value * 1024
	case "mb":
		return value
	case "kb":
		return value / 1024
	}
	return 0
}

// MatchesEpisode reports whether the text carries an exact marker for the
// target season and episode. PTT parse output is consulted first; a direct
// SxxExx regex covers titles PTT cannot structure. Season packs and loose
// markers do not match here; those are handled per-file once a torrent's
// file list is known.
func MatchesEpisode(text string, season, episode int) bool {
	if strings.TrimSpace(text) == "" || season <= 0 || episode <= 0 {
		return false
	}

	info := Parse(text)
	if len(info.Seasons) > 0 && len(info.Episodes) > 0 {
		return containsInt(info.Seasons, season) && containsInt(info.Episodes, episode)
	}

	pattern := regexp.MustCompile(fmt.Sprintf(`(?i)\bs0*%d[\s._-]*e0*%d\b`, season, episode))
	return pattern.MatchString(text)
}

func containsInt(values []int, target int) bool {
	for _, v := range values {
		if v == target {
			return true
		}
	}
	return false
}
