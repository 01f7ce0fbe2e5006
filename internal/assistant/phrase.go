package assistant

import (
	"fmt"
	"strings"
	"time"

	"airpiece/internal/gps"
)

// gpsPhrase never formats a coordinate it does not have.
func gpsPhrase(pos *gps.Position) string {
	if pos == nil {
		return phraseNoFix
	}
	return fmt.Sprintf("GPS fix at %.4f, %.4f", pos.Lat, pos.Lon)
}

// sceneContext is the situational preamble sent with every request.
func sceneContext(now time.Time, pos *gps.Position, note string) string {
	lines := []string{"Time: " + now.UTC().Format(time.RFC3339)}
	if pos != nil {
		lines = append(lines, fmt.Sprintf("GPS: %.6f, %.6f", pos.Lat, pos.Lon))
	} else {
		lines = append(lines, "GPS: no fix")
	}
	if note != "" {
		lines = append(lines, note)
	}
	return strings.Join(lines, "\n")
}

// FirstParagraph returns text up to the first blank line.
func FirstParagraph(text string) string {
	text = strings.TrimSpace(strings.ReplaceAll(text, "\r\n", "\n"))
	first, _, _ := strings.Cut(text, "\n\n")
	return strings.TrimSpace(first)
}

// captureLabel turns the start of a transcript into a file name fragment.
func captureLabel(transcript string) string {
	r := []rune(strings.TrimSpace(transcript))
	if len(r) > labelMaxLen {
		r = r[:labelMaxLen]
	}
	return strings.ReplaceAll(string(r), " ", "_")
}
