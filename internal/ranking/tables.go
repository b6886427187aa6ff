package ranking

import "strings"

type marker struct {
	name   string
	tokens []string
}

// qualityMarkers is ordered best first; detection returns the first hit.
var qualityMarkers = []marker{
	{"2160p", []string{"2160p", "4k", "uhd"}},
	{"1080p", []string{"1080p", "1080i", "fhd"}},
	{"720p", []string{"720p"}},
	{"576p", []string{"576p"}},
	{"480p", []string{"480p"}},
	{"sd", []string{"sd", "sdtv", "dvdrip"}},
}

// formatMarkers is ordered newest codec first.
var formatMarkers = []marker{
	{"av1", []string{"av1"}},
	{"x265", []string{"x265", "hevc", "h265"}},
	{"x264", []string{"x264", "h264", "avc"}},
	{"xvid", []string{"xvid", "divx"}},
}

var qualityScores = map[string]float64{
	"2160p": 40,
	"1080p": 30,
	"720p":  20,
	"576p":  12,
	"480p":  10,
	"sd":    5,
}

var formatScores = map[string]float64{
	"av1":  25,
	"x265": 20,
	"x264": 15,
	"xvid": 5,
}

var codecDots = strings.NewReplacer("h.265", "h265", "h.264", "h264")

func tokenize(title string) map[string]struct{} {
	title = codecDots.Replace(strings.ToLower(title))
	tokens := map[string]struct{}{}
	for _, tok := range strings.FieldsFunc(title, func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9')
	}) {
		tokens[tok] = struct{}{}
	}
	return tokens
}

func detect(markers []marker, tokens map[string]struct{}) string {
	for _, m := range markers {
		for _, tok := range m.tokens {
			if _, ok := tokens[tok]; ok {
				return m.name
			}
		}
	}
	return ""
}

// canonical maps an alias such as "hevc" or "4k" to its table name.
func canonical(markers []marker, value string) string {
	value = strings.ToLower(strings.TrimSpace(value))
	for _, m := range markers {
		if m.name == value {
			return m.name
		}
		for _, tok := range m.tokens {
			if tok == value {
				return m.name
			}
		}
	}
	return value
}

// DetectQuality returns the best resolution marker in title, or "".
func DetectQuality(title string) string {
	return detect(qualityMarkers, tokenize(title))
}

// DetectFormat returns the newest codec marker in title, or "".
func DetectFormat(title string) string {
	return detect(formatMarkers, tokenize(title))
}
