// Package inspect reads tags back out of produced audio so callers can confirm
// what was embedded.
package inspect

import (
	"bytes"
	"errors"
	"fmt"
	"strings"

	"github.com/dhowden/tag"

	"media-extractor/internal/domain"
	"media-extractor/internal/pipeline"
)

// ErrNoTags reports audio without a readable tag block.
var ErrNoTags = errors.New("no tags found")

// Audio summarizes the tag block of an encoded audio file.
func Audio(data []byte) (domain.AudioTags, error) {
	if len(data) == 0 {
		return domain.AudioTags{}, fmt.Errorf("inspect audio: %w", ErrNoTags)
	}

	meta, err := tag.ReadFrom(bytes.NewReader(data))
	if err != nil {
		if errors.Is(err, tag.ErrNoTagsFound) {
			return domain.AudioTags{}, fmt.Errorf("inspect audio: %w", ErrNoTags)
		}
		return domain.AudioTags{}, fmt.Errorf("inspect audio: %w", err)
	}

	picture := meta.Picture()
	return domain.AudioTags{
		Format:   string(meta.Format()),
		HasCover: picture != nil && len(picture.Data) > 0,
		Lyrics:   lyrics(meta),
	}, nil
}

// lyrics prefers the unsynchronised lyrics frame and falls back to a
// user-defined text frame described as "lyrics", which is where some encoders
// put the value. Stored text is escaped on the way in and unescaped here.
func lyrics(meta tag.Metadata) string {
	if text := meta.Lyrics(); text != "" {
		return pipeline.UnescapeLyrics(text)
	}
	for _, value := range meta.Raw() {
		comm, ok := value.(*tag.Comm)
		if !ok {
			continue
		}
		if strings.EqualFold(comm.Description, pipeline.LyricsTag) {
			return pipeline.UnescapeLyrics(comm.Text)
		}
	}
	return ""
}
