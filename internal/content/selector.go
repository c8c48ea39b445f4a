package content

import (
	"errors"
	"strings"

	"golang.org/x/text/language"

	"github.com/ovaphlow/pitchfork/service-streaming-core/internal/content/entity"
)

var ErrNoAssetAvailable = errors.New("no playable asset available")

// Preferences are the client's playback wishes. Zero values mean "no preference";
// Format defaults to hls.
type Preferences struct {
	Quality      entity.Quality
	Format       entity.Format
	SubtitleLang string
	AudioLang    string
}

// Bundle is the concrete set of streams served for one playback request.
// Subtitle and Audio are nil when the content carries no such tracks.
type Bundle struct {
	ContentID string                `json:"contentId"`
	Video     entity.VideoAsset     `json:"video"`
	URL       string                `json:"url"`
	Exact     bool                  `json:"exact"`
	Subtitle  *entity.SubtitleTrack `json:"subtitle,omitempty"`
	Audio     *entity.AudioTrack    `json:"audio,omitempty"`
}

type assetKey struct {
	quality entity.Quality
	format  entity.Format
}

// DefaultQuality is the starting rung when no quality is requested.
const DefaultQuality = entity.QualityHD

// Select resolves the video asset, subtitle track and audio track for p. It is
// read-only and returns the same bundle for the same inputs.
func Select(c *entity.Content, p Preferences) (Bundle, error) {
	assets := canonicalAssets(c.Assets)
	if len(assets) == 0 {
		return Bundle{}, ErrNoAssetAvailable
	}

	format := p.Format
	if format == "" {
		format = entity.FormatHLS
	}
	quality := p.Quality
	if quality.Rung() < 0 {
		quality = DefaultQuality
	}
	start := quality.Rung()

	video, ok := walkLadder(assets, start, []entity.Format{format})
	if !ok {
		// requested format has nothing at any rung, try the others
		video, ok = walkLadder(assets, start, entity.Formats)
	}
	if !ok {
		return Bundle{}, ErrNoAssetAvailable
	}

	return Bundle{
		ContentID: c.ID,
		Video:     video,
		URL:       video.PlaybackURL(),
		Exact:     video.Quality == quality && video.Format == format,
		Subtitle:  pickTrack(c.Subtitles, p.SubtitleLang, func(t entity.SubtitleTrack) (string, bool) { return t.LanguageCode, t.IsDefault }),
		Audio:     pickTrack(c.AudioTracks, p.AudioLang, func(t entity.AudioTrack) (string, bool) { return t.LanguageCode, t.IsDefault }),
	}, nil
}

// canonicalAssets keeps one asset per (quality, format): the most recently
// uploaded, or the first stored on equal upload times. Assets whose quality or
// format is unknown are ignored.
func canonicalAssets(in []entity.VideoAsset) map[assetKey]entity.VideoAsset {
	out := make(map[assetKey]entity.VideoAsset, len(in))
	for _, a := range in {
		if a.Quality.Rung() < 0 {
			continue
		}
		if _, ok := entity.ParseFormat(string(a.Format)); !ok {
			continue
		}
		k := assetKey{quality: a.Quality, format: a.Format}
		if cur, ok := out[k]; ok && !a.UploadedAt.After(cur.UploadedAt) {
			continue
		}
		out[k] = a
	}
	return out
}

// walkLadder looks at the start rung, then every lower rung nearest first, then
// every higher rung nearest first. Within a rung formats are tried in order.
func walkLadder(assets map[assetKey]entity.VideoAsset, start int, formats []entity.Format) (entity.VideoAsset, bool) {
	order := make([]int, 0, len(entity.QualityLadder))
	for i := start; i >= 0; i-- {
		order = append(order, i)
	}
	for i := start + 1; i < len(entity.QualityLadder); i++ {
		order = append(order, i)
	}
	for _, rung := range order {
		for _, f := range formats {
			if a, ok := assets[assetKey{quality: entity.QualityLadder[rung], format: f}]; ok {
				return a, true
			}
		}
	}
	return entity.VideoAsset{}, false
}

// pickTrack prefers an exact language match, then the default track, then the
// first stored track. It returns a copy so callers cannot mutate the record.
func pickTrack[T any](tracks []T, lang string, attrs func(T) (string, bool)) *T {
	if len(tracks) == 0 {
		return nil
	}
	if want := canonicalLang(lang); want != "" {
		for _, t := range tracks {
			if code, _ := attrs(t); canonicalLang(code) == want {
				return &t
			}
		}
	}
	for _, t := range tracks {
		if _, isDefault := attrs(t); isDefault {
			return &t
		}
	}
	first := tracks[0]
	return &first
}

// canonicalLang normalizes BCP 47 tags so "EN" and "en" compare equal and
// "pt-br" matches "pt-BR". Unparseable codes compare case-insensitively.
func canonicalLang(code string) string {
	code = strings.TrimSpace(code)
	if code == "" {
		return ""
	}
	tag, err := language.Parse(code)
	if err != nil {
		return strings.ToLower(code)
	}
	return tag.String()
}
