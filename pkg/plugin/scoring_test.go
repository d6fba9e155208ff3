package plugin

import (
	"testing"

	"github.com/bitm4ncer/hydra-plus/pkg/p2pclient"
	"github.com/bitm4ncer/hydra-plus/pkg/queuestore"
)

func TestScoreDurationBins(t *testing.T) {
	cases := []struct {
		diff int
		want int
	}{
		{0, 100},
		{2, 100},
		{3, 80},
		{5, 80},
		{6, 50},
		{10, 50},
		{11, 25},
		{20, 25},
		{21, 0},
	}
	for _, c := range cases {
		got := scoreDuration(100+c.diff, 100)
		if got != c.want {
			t.Errorf("diff=%d: got %d want %d", c.diff, got, c.want)
		}
	}
}

func TestScoreBitrateSteps(t *testing.T) {
	cases := map[int]int{320: 100, 256: 80, 192: 60, 128: 40, 0: 0}
	for kbps, want := range cases {
		if got := scoreBitrate(kbps); got != want {
			t.Errorf("kbps=%d: got %d want %d", kbps, got, want)
		}
	}
}

func TestScoreFilenameMatchExactSubstring(t *testing.T) {
	got := scoreFilenameMatch("/peer/music/Prince - Purple Rain.mp3", "Prince", "Purple Rain")
	if got != 50 {
		t.Fatalf("expected exact substring match to score 50, got %d", got)
	}
}

func TestScoreFilenameMatchPartialWords(t *testing.T) {
	got := scoreFilenameMatch("/peer/music/Purple.mp3", "Prince", "Purple Rain")
	// query words: "prince", "purple", "rain" (3 total); only "purple" matches.
	if got != 50/3 {
		t.Fatalf("expected proportional partial match, got %d", got)
	}
}

func TestFormatPreferenceAdjustmentMP3(t *testing.T) {
	if got := formatPreferenceAdjustment(".mp3", queuestore.FormatMP3); got != 50 {
		t.Errorf("mp3 pref + mp3 file: got %d want 50", got)
	}
	if got := formatPreferenceAdjustment(".flac", queuestore.FormatMP3); got != -30 {
		t.Errorf("mp3 pref + flac file: got %d want -30", got)
	}
}

func TestFormatPreferenceAdjustmentFLAC(t *testing.T) {
	if got := formatPreferenceAdjustment(".flac", queuestore.FormatFLAC); got != 100 {
		t.Errorf("flac pref + flac file: got %d want 100", got)
	}
	if got := formatPreferenceAdjustment(".mp3", queuestore.FormatFLAC); got != -50 {
		t.Errorf("flac pref + mp3 file: got %d want -50", got)
	}
}

// TestScenarioS6FLACPreferenceFlipsSelection reproduces spec scenario S6:
// fileA.mp3@320 (raw 180) vs fileB.flac (raw 120), format_preference=flac,
// expected effective scores A=130 B=220 with B selected.
func TestScenarioS6FLACPreferenceFlipsSelection(t *testing.T) {
	// Directly validate against the spec's stated raw/effective numbers
	// (raw scores aren't independently observable through the public Score
	// function, which always includes the preference adjustment).
	rawA, rawB := 180, 120
	effA := rawA + formatPreferenceAdjustment(".mp3", queuestore.FormatFLAC)
	effB := rawB + formatPreferenceAdjustment(".flac", queuestore.FormatFLAC)
	if effA != 130 {
		t.Errorf("effective score A: got %d want 130", effA)
	}
	if effB != 220 {
		t.Errorf("effective score B: got %d want 220", effB)
	}
	if !(effB > effA) {
		t.Fatalf("expected fileB to outscore fileA after preference adjustment")
	}
}

func TestScoreTypeBonusForSupportedExtension(t *testing.T) {
	target := ScoreTarget{FormatPreference: queuestore.FormatMP3}
	withExt := Score(p2pclient.SearchResult{VirtualPath: "/peer/track.mp3"}, target)
	withoutExt := Score(p2pclient.SearchResult{VirtualPath: "/peer/track.wav"}, target)
	// mp3 gets +10 type bonus +50 preference; wav gets neither.
	if withExt-withoutExt != 60 {
		t.Fatalf("expected mp3 to score 60 higher than an unsupported extension, got diff %d", withExt-withoutExt)
	}
}
