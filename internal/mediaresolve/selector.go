// Package mediaresolve picks the playable file out of a multi-file torrent:
// the main feature for movies, the requested episode for series.
package mediaresolve

import (
	"fmt"
	"regexp"
	"strings"

	"streambridge/models"
)

var videoExtensions = map[string]struct{}{
	".mkv":  {},
	".mp4":  {},
	".m4v":  {},
	".avi":  {},
	".mov":  {},
	".wmv":  {},
	".ts":   {},
	".m2ts": {},
	".webm": {},
	".mpg":  {},
	".mpeg": {},
}

// extraKeywords mark non-feature content bundled into releases.
var extraKeywords = []string{
	"sample",
	"trailer",
	"preview",
	"extras",
	"bonus",
	"deleted",
	"behind",
	"making",
	"interview",
	"featurette",
}

var subtitleExtensions = map[string]struct{}{
	".srt": {},
	".sub": {},
	".idx": {},
	".ass": {},
	".ssa": {},
	".vtt": {},
}

// IsVideo reports whether the path carries a known video extension.
func IsVideo(filePath string) bool {
	_, ok := videoExtensions[strings.ToLower(pathExt(filePath))]
	return ok
}

// IsSubtitle reports whether the path carries a known subtitle extension.
func IsSubtitle(filePath string) bool {
	_, ok := subtitleExtensions[strings.ToLower(pathExt(filePath))]
	return ok
}

// Extension returns the lowercase filename extension including the dot, or "".
func Extension(filePath string) string {
	return strings.ToLower(pathExt(filePath))
}

// IsExtra reports whether the path looks like bundled extra content
// (samples, trailers, featurettes) rather than the main feature.
func IsExtra(filePath string) bool {
	lower := strings.ToLower(filePath)
	for _, kw := range extraKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

// SelectMovieFile scores each video file and returns the index of the best
// one, or -1 when the list holds no video. Scoring favors large files at a
// shallow path depth and penalizes extras hard enough that a sample never
// outranks the feature. Ties keep the first occurrence.
func SelectMovieFile(files []models.FileEntry) (int, string) {
	bestIdx := -1
	bestScore := 0

	for idx, f := range files {
		if !IsVideo(f.Path) {
			continue
		}

		score := 100
		sizeMB := f.SizeBytes / (1024 * 1024)
		if sizeMB > 500 {
			score += 300
		}
		if sizeMB > 1000 {
			score += 200
		}
		if sizeMB > 2000 {
			score += 150
		}
		if sizeMB > 5000 {
			score += 100
		}

		if IsExtra(f.Path) {
			score -= 800
		}

		switch strings.ToLower(pathExt(f.Path)) {
		case ".mkv":
			score += 50
		case ".mp4":
			score += 40
		}

		if pathDepth(f.Path) <= 2 {
			score += 100
		}

		if bestIdx == -1 || score > bestScore {
			bestIdx = idx
			bestScore = score
		}
	}

	if bestIdx == -1 {
		return -1, "no video files"
	}
	return bestIdx, fmt.Sprintf("score %d", bestScore)
}

// SelectEpisodeFile finds the file for the requested episode in three passes:
// exact episode patterns, then both season and episode numbers appearing
// anywhere in the path, then the largest video matching the season. The last
// pass is a guess that keeps season packs playable when filenames carry no
// episode markers, at the cost of sometimes serving the wrong episode. Files
// matching no pass yield -1.
func SelectEpisodeFile(files []models.FileEntry, season, episode int) (int, string) {
	if season <= 0 || episode <= 0 {
		return -1, "no target episode"
	}

	for _, p := range exactEpisodePatterns(season, episode) {
		if idx := largestMatching(files, p); idx != -1 {
			return idx, fmt.Sprintf("exact match S%02dE%02d", season, episode)
		}
	}

	if idx := largestMatching(files, numberPattern(season), numberPattern(episode)); idx != -1 {
		return idx, fmt.Sprintf("loose match season %d episode %d", season, episode)
	}

	if idx := largestMatching(files, seasonMarkerPattern(season)); idx != -1 {
		return idx, "season pack fallback: largest video"
	}
	return -1, "no file matches the episode"
}

// exactEpisodePatterns are tried in order of decreasing confidence.
func exactEpisodePatterns(season, episode int) []*regexp.Regexp {
	return []*regexp.Regexp{
		regexp.MustCompile(fmt.Sprintf(`(?i)\bs0*%d[\s._-]*e0*%d\b`, season, episode)),
		regexp.MustCompile(fmt.Sprintf(`(?i)\b0*%dx0*%d\b`, season, episode)),
		regexp.MustCompile(fmt.Sprintf(`(?i)season[\s._-]*0*%d[\s._-]*episode[\s._-]*0*%d`, season, episode)),
		regexp.MustCompile(fmt.Sprintf(`(?i)[^0-9]%d%02d[^0-9]`, season, episode)),
	}
}

// numberPattern matches n as a standalone number anywhere in the path,
// tolerating zero padding but not digits running into it ("1080p" never
// matches season 1 or 10).
func numberPattern(n int) *regexp.Regexp {
	return regexp.MustCompile(fmt.Sprintf(`(?:^|\D)0*%d(?:\D|$)`, n))
}

// seasonMarkerPattern matches an explicit season marker: "s2", "s02e..",
// "season 2", or the "2x.." episode form.
func seasonMarkerPattern(season int) *regexp.Regexp {
	return regexp.MustCompile(fmt.Sprintf(
		`(?i)\bs0*%d\b|\bs0*%d[\s._-]*e\d|season[\s._-]*0*%d\b|\b0*%dx\d`,
		season, season, season, season))
}

// largestMatching returns the largest non-extra video file whose path matches
// every pattern, or -1.
func largestMatching(files []models.FileEntry, patterns ...*regexp.Regexp) int {
	bestIdx := -1
	for idx, f := range files {
		if !IsVideo(f.Path) || IsExtra(f.Path) {
			continue
		}
		matched := true
		for _, p := range patterns {
			if !p.MatchString(f.Path) {
				matched = false
				break
			}
		}
		if !matched {
			continue
		}
		if bestIdx == -1 || f.SizeBytes > files[bestIdx].SizeBytes {
			bestIdx = idx
		}
	}
	return bestIdx
}

func pathExt(filePath string) string {
	dot := strings.LastIndex(filePath, ".")
	if dot == -1 || dot < strings.LastIndexAny(filePath, "/\\") {
		return ""
	}
	return filePath[dot:]
}

func pathDepth(filePath string) int {
	normalized := strings.ReplaceAll(filePath, "\\", "/")
	return strings.Count(strings.Trim(normalized, "/"), "/") + 1
}
