package entity

import (
	"strings"
	"time"
)

type Status string

const (
	StatusDraft      Status = "draft"
	StatusPublished  Status = "published"
	StatusArchived   Status = "archived"
	StatusComingSoon Status = "coming_soon"
)

// Quality is a rung on the video quality ladder.
type Quality string

const (
	QualitySD     Quality = "480p"
	QualityHD     Quality = "720p"
	QualityFullHD Quality = "1080p"
	QualityUHD4K  Quality = "2160p"
)

// QualityLadder lists qualities from lowest to highest.
var QualityLadder = []Quality{QualitySD, QualityHD, QualityFullHD, QualityUHD4K}

// Rung returns the ladder index of q, or -1 when q is not on the ladder.
func (q Quality) Rung() int {
	for i, l := range QualityLadder {
		if l == q {
			return i
		}
	}
	return -1
}

// ParseQuality accepts ladder values ("1080p") and common aliases ("fullhd", "4k").
func ParseQuality(s string) (Quality, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "480p", "sd":
		return QualitySD, true
	case "720p", "hd":
		return QualityHD, true
	case "1080p", "fullhd", "full_hd", "fhd":
		return QualityFullHD, true
	case "2160p", "4k", "uhd", "uhd_4k", "uhd4k":
		return QualityUHD4K, true
	}
	return "", false
}

type Format string

const (
	FormatHLS  Format = "hls"
	FormatDASH Format = "dash"
	FormatMP4  Format = "mp4"
)

// Formats lists delivery formats in preference order.
var Formats = []Format{FormatHLS, FormatDASH, FormatMP4}

func ParseFormat(s string) (Format, bool) {
	f := Format(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Formats {
		if f == known {
			return f, true
		}
	}
	return "", false
}

// Visibility holds the access rules of a content item. Country lists only
// apply when GeoBlocked is set.
type Visibility struct {
	IsPublic             bool       `json:"isPublic" bson:"isPublic"`
	PublishAt            *time.Time `json:"publishAt,omitempty" bson:"publishDate,omitempty"`
	ExpireAt             *time.Time `json:"expireAt,omitempty" bson:"expiryDate,omitempty"`
	RequiresSubscription bool       `json:"requiresSubscription" bson:"requiresSubscription"`
	AllowedPlanIDs       []string   `json:"allowedPlanIds,omitempty" bson:"allowedPlans,omitempty"`
	GeoBlocked           bool       `json:"geoBlocked" bson:"geoBlocked"`
	AllowedCountries     []string   `json:"allowedCountries,omitempty" bson:"allowedCountries,omitempty"`
	BlockedCountries     []string   `json:"blockedCountries,omitempty" bson:"blockedCountries,omitempty"`
}

type VideoAsset struct {
	URL          string    `json:"url" bson:"url"`
	Quality      Quality   `json:"quality" bson:"quality"`
	Format       Format    `json:"format" bson:"format"`
	Size         int64     `json:"size" bson:"size"`
	Duration     float64   `json:"duration" bson:"duration"`
	IsEncrypted  bool      `json:"isEncrypted" bson:"isEncrypted"`
	HLSManifest  string    `json:"hlsManifest,omitempty" bson:"hlsManifest,omitempty"`
	DASHManifest string    `json:"dashManifest,omitempty" bson:"dashManifest,omitempty"`
	UploadedAt   time.Time `json:"uploadedAt" bson:"uploadedAt"`
}

// PlaybackURL prefers the manifest matching the asset format over the raw file URL.
func (a VideoAsset) PlaybackURL() string {
	switch {
	case a.Format == FormatHLS && a.HLSManifest != "":
		return a.HLSManifest
	case a.Format == FormatDASH && a.DASHManifest != "":
		return a.DASHManifest
	}
	return a.URL
}

type SubtitleTrack struct {
	Language     string `json:"language" bson:"language"`
	LanguageCode string `json:"languageCode" bson:"languageCode"`
	URL          string `json:"url" bson:"url"`
	Format       string `json:"format,omitempty" bson:"format,omitempty"`
	IsDefault    bool   `json:"isDefault" bson:"isDefault"`
	IsForced     bool   `json:"isForced" bson:"isForced"`
	IsSDH        bool   `json:"isSDH" bson:"isSDH"`
}

type AudioTrack struct {
	Language      string `json:"language" bson:"language"`
	LanguageCode  string `json:"languageCode" bson:"languageCode"`
	Codec         string `json:"codec" bson:"codec"`
	Channels      int    `json:"channels" bson:"channels"`
	IsDefault     bool   `json:"isDefault" bson:"isDefault"`
	IsDescriptive bool   `json:"isDescriptive" bson:"isDescriptive"`
}

// Content is the catalog record as seen by entitlement and playback. Movie and
// series specific fields stay with the catalog.
type Content struct {
	ID          string          `json:"id" bson:"-"`
	Slug        string          `json:"slug,omitempty" bson:"slug,omitempty"`
	Title       string          `json:"title" bson:"title"`
	Status      Status          `json:"status" bson:"status"`
	Visibility  Visibility      `json:"visibility" bson:"visibilitySettings"`
	Assets      []VideoAsset    `json:"assets" bson:"videoFiles"`
	Subtitles   []SubtitleTrack `json:"subtitles,omitempty" bson:"subtitles"`
	AudioTracks []AudioTrack    `json:"audioTracks,omitempty" bson:"audioTracks"`
}
