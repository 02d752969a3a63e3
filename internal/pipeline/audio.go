package pipeline

import (
	"fmt"
	"strings"
)

// AudioMode selects the shape of an audio extraction.
type AudioMode string

const (
	// ModeSimple re-encodes the audio track only.
	ModeSimple AudioMode = "simple"
	// ModeTagged grabs a cover still first, then embeds it and optional lyrics.
	ModeTagged AudioMode = "tagged"
)

// DefaultCoverWidth bounds the cover still when no width is given.
const DefaultCoverWidth = 500

// ExtractAudio extracts the audio track as MP3. Lyrics are opaque text and are
// only valid in ModeTagged.
type ExtractAudio struct {
	Mode       AudioMode
	Lyrics     string
	CoverWidth int
}

// Name returns the pipeline identifier.
func (ExtractAudio) Name() string { return "extract-audio" }

// Build returns a one-stage plan for ModeSimple and a two-stage plan for
// ModeTagged.
func (s ExtractAudio) Build(input string) (Plan, error) {
	if err := checkInput(s.Name(), input); err != nil {
		return Plan{}, err
	}
	if len(s.Lyrics) > MaxLyricsBytes {
		return Plan{}, &InvalidSpecError{
			Pipeline: s.Name(),
			Field:    "lyrics",
			Reason:   fmt.Sprintf("exceeds %d bytes", MaxLyricsBytes),
		}
	}

	switch s.Mode {
	case ModeSimple, "":
		if strings.TrimSpace(s.Lyrics) != "" {
			return Plan{}, &InvalidSpecError{Pipeline: s.Name(), Field: "lyrics", Reason: "require tagged mode"}
		}
		return s.simple(input), nil
	case ModeTagged:
		if s.CoverWidth < 0 {
			return Plan{}, &InvalidSpecError{Pipeline: s.Name(), Field: "cover width", Reason: "must be positive"}
		}
		return s.tagged(input), nil
	default:
		return Plan{}, &InvalidSpecError{Pipeline: s.Name(), Field: "mode", Reason: fmt.Sprintf("%q is unknown", s.Mode)}
	}
}

func (s ExtractAudio) simple(input string) Plan {
	var args argList
	args.input(input).
		add("-vn").
		add("-c:a", AudioCodec, "-b:a", AudioBitrate).
		add(AudioOutputName)

	return Plan{
		Stages:   []Stage{{Name: "audio", Args: args.tokens()}},
		Output:   AudioOutputName,
		MIMEType: MIMETypeMP3,
	}
}

func (s ExtractAudio) tagged(input string) Plan {
	width := s.CoverWidth
	if width == 0 {
		width = DefaultCoverWidth
	}

	var cover argList
	cover.add("-ss", "0").
		input(input).
		add("-frames:v", "1").
		add("-vf", fmt.Sprintf("scale=%d:-1", width)).
		add(CoverStageName)

	var audio argList
	audio.input(input).
		input(CoverStageName).
		add("-map", "0:a", "-map", "1:v").
		add("-c:a", AudioCodec, "-b:a", AudioBitrate).
		add("-c:v", "copy").
		add("-id3v2_version", ID3Version).
		metadata("-metadata:s:v", "title", "Album cover").
		metadata("-metadata:s:v", "comment", "Cover (front)").
		add("-disposition:v", "attached_pic")

	if strings.TrimSpace(s.Lyrics) != "" {
		escaped := EscapeLyrics(s.Lyrics)
		audio.metadata("-metadata", LyricsTag, escaped).
			metadata("-metadata", SyncedLyricsTag, escaped)
	}
	audio.add(AudioOutputName)

	return Plan{
		Stages: []Stage{
			{Name: "cover", Args: cover.tokens()},
			{Name: "audio", Args: audio.tokens()},
		},
		Intermediates: []string{CoverStageName},
		Output:        AudioOutputName,
		MIMEType:      MIMETypeMP3,
	}
}

var (
	lyricsEscaper   = strings.NewReplacer(`\`, `\\`, `"`, `\"`, "\r", `\r`, "\n", `\n`)
	lyricsUnescaper = strings.NewReplacer(`\\`, `\`, `\"`, `"`, `\r`, "\r", `\n`, "\n")
)

// EscapeLyrics escapes backslashes and quotes and turns CR and LF into the
// two-character sequences \r and \n, so multi-line text fits one tag value.
func EscapeLyrics(text string) string {
	return lyricsEscaper.Replace(text)
}

// UnescapeLyrics inverts EscapeLyrics.
func UnescapeLyrics(text string) string {
	return lyricsUnescaper.Replace(text)
}
