package plugin

import (
	"path/filepath"
	"strings"

	"github.com/bitm4ncer/hydra-plus/pkg/p2pclient"
	"github.com/bitm4ncer/hydra-plus/pkg/queuestore"
)

// supportedExtensions is the set of audio extensions eligible for the type
// bonus (§4.J).
var supportedExtensions = map[string]bool{
	".mp3":  true,
	".flac": true,
}

// Score computes a candidate's integer score against a search target,
// summing bitrate, duration-fit, size, and filename-match components, a
// flat type bonus for a supported extension, and the format-preference
// adjustment (§4.J). Preference only reorders candidates — it never zeroes
// or rejects one.
func Score(result p2pclient.SearchResult, target ScoreTarget) int {
	score := scoreBitrate(result.BitrateKbps)
	score += scoreDuration(result.DurationSeconds, target.DurationSeconds)
	score += scoreSize(result.SizeBytes)
	score += scoreFilenameMatch(result.VirtualPath, target.Artist, target.Track)

	ext := strings.ToLower(filepath.Ext(result.VirtualPath))
	if supportedExtensions[ext] {
		score += 10
	}
	score += formatPreferenceAdjustment(ext, target.FormatPreference)

	return score
}

// ScoreTarget is the subset of a Search Request scoring needs.
type ScoreTarget struct {
	Artist           string
	Track            string
	DurationSeconds  int
	FormatPreference queuestore.FormatPreference
}

// scoreBitrate maps a bitrate in kbps to 0-100 (§4.J). A rate at or above a
// named step takes that step's value; below 128kbps the value is scaled
// proportionally to 320kbps=100.
func scoreBitrate(kbps int) int {
	switch {
	case kbps >= 320:
		return 100
	case kbps >= 256:
		return 80
	case kbps >= 192:
		return 60
	case kbps >= 128:
		return 40
	case kbps <= 0:
		return 0
	default:
		return kbps * 100 / 320
	}
}

// scoreDuration maps the absolute difference between a candidate's duration
// and the target's to 0-100 via the named bins (§4.J, §8 boundary cases:
// the bins are inclusive at their upper edge — 2.0s is in the 100 bin, 2.01s
// drops to the next).
func scoreDuration(fileSeconds, targetSeconds int) int {
	if targetSeconds <= 0 {
		return 0
	}
	diff := fileSeconds - targetSeconds
	if diff < 0 {
		diff = -diff
	}
	switch {
	case diff <= 2:
		return 100
	case diff <= 5:
		return 80
	case diff <= 10:
		return 50
	case diff <= 20:
		return 25
	default:
		return 0
	}
}

// scoreSize maps absolute byte size to 0-50 via the named steps (§4.J).
func scoreSize(size int64) int {
	const mb = 1024 * 1024
	switch {
	case size > 8*mb:
		return 50
	case size > 5*mb:
		return 40
	case size > 3*mb:
		return 30
	case size > 1*mb:
		return 20
	default:
		return 0
	}
}

// scoreFilenameMatch scores a 0-50 match between the sanitized "artist
// track" query and the candidate's virtual path basename: an exact
// substring match scores the full 50; otherwise the score is proportional
// to the fraction of query words present in the filename (§4.J).
func scoreFilenameMatch(virtualPath, artist, track string) int {
	query := strings.ToLower(strings.TrimSpace(artist + " " + track))
	if query == "" {
		return 0
	}
	name := strings.ToLower(filepath.Base(virtualPath))

	if strings.Contains(name, query) {
		return 50
	}

	words := strings.Fields(query)
	if len(words) == 0 {
		return 0
	}
	matched := 0
	for _, w := range words {
		if strings.Contains(name, w) {
			matched++
		}
	}
	return 50 * matched / len(words)
}

// formatPreferenceAdjustment applies the +/- format-preference bonus (§4.J).
func formatPreferenceAdjustment(ext string, pref queuestore.FormatPreference) int {
	switch pref {
	case queuestore.FormatFLAC:
		switch ext {
		case ".flac":
			return 100
		case ".mp3":
			return -50
		}
	default: // mp3 is the default preference (§4.D)
		switch ext {
		case ".mp3":
			return 50
		case ".flac":
			return -30
		}
	}
	return 0
}
