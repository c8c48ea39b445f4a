package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/ovaphlow/pitchfork/service-streaming-core/internal/content/entity"
)

var ErrNotFound = errors.New("content not found")

// MongoCatalog reads content documents written by the catalog service. Only
// the fields used by entitlement and playback are projected.
type MongoCatalog struct {
	coll *mongo.Collection
}

func NewMongoCatalog(db *mongo.Database) *MongoCatalog {
	return &MongoCatalog{coll: db.Collection("contents")}
}

var catalogProjection = bson.M{
	"_id":                1,
	"slug":               1,
	"title":              1,
	"status":             1,
	"visibilitySettings": 1,
	"videoFiles":         1,
	"subtitles":          1,
	"audioTracks":        1,
}

// contentDoc mirrors the stored document. allowedPlans holds plan references
// that may be ObjectIDs or plain strings depending on the writer.
type contentDoc struct {
	ID          primitive.ObjectID     `bson:"_id"`
	Slug        string                 `bson:"slug"`
	Title       string                 `bson:"title"`
	Status      entity.Status          `bson:"status"`
	Visibility  visibilityDoc          `bson:"visibilitySettings"`
	VideoFiles  []entity.VideoAsset    `bson:"videoFiles"`
	Subtitles   []entity.SubtitleTrack `bson:"subtitles"`
	AudioTracks []entity.AudioTrack    `bson:"audioTracks"`
}

type visibilityDoc struct {
	IsPublic             bool       `bson:"isPublic"`
	PublishDate          *time.Time `bson:"publishDate"`
	ExpiryDate           *time.Time `bson:"expiryDate"`
	RequiresSubscription bool       `bson:"requiresSubscription"`
	AllowedPlans         []any      `bson:"allowedPlans"`
	GeoBlocked           bool       `bson:"geoBlocked"`
	AllowedCountries     []string   `bson:"allowedCountries"`
	BlockedCountries     []string   `bson:"blockedCountries"`
}

// GetContent looks the record up by ObjectID hex, falling back to slug.
func (r *MongoCatalog) GetContent(ctx context.Context, id string) (*entity.Content, error) {
	filter := bson.M{"slug": id}
	if oid, err := primitive.ObjectIDFromHex(id); err == nil {
		filter = bson.M{"_id": oid}
	}
	var doc contentDoc
	err := r.coll.FindOne(ctx, filter, options.FindOne().SetProjection(catalogProjection)).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return doc.toEntity(), nil
}

func (d contentDoc) toEntity() *entity.Content {
	plans := make([]string, 0, len(d.Visibility.AllowedPlans))
	for _, p := range d.Visibility.AllowedPlans {
		switch v := p.(type) {
		case primitive.ObjectID:
			plans = append(plans, v.Hex())
		case string:
			plans = append(plans, v)
		}
	}
	return &entity.Content{
		ID:     d.ID.Hex(),
		Slug:   d.Slug,
		Title:  d.Title,
		Status: d.Status,
		Visibility: entity.Visibility{
			IsPublic:             d.Visibility.IsPublic,
			PublishAt:            d.Visibility.PublishDate,
			ExpireAt:             d.Visibility.ExpiryDate,
			RequiresSubscription: d.Visibility.RequiresSubscription,
			AllowedPlanIDs:       plans,
			GeoBlocked:           d.Visibility.GeoBlocked,
			AllowedCountries:     d.Visibility.AllowedCountries,
			BlockedCountries:     d.Visibility.BlockedCountries,
		},
		Assets:      d.VideoFiles,
		Subtitles:   d.Subtitles,
		AudioTracks: d.AudioTracks,
	}
}

// FileCatalog serves content records from a JSON array loaded once. It backs
// local development and the operator CLI.
type FileCatalog struct {
	byID map[string]entity.Content
}

func NewFileCatalog(records []entity.Content) *FileCatalog {
	byID := make(map[string]entity.Content, len(records))
	for _, c := range records {
		byID[c.ID] = c
		if c.Slug != "" {
			if _, taken := byID[c.Slug]; !taken {
				byID[c.Slug] = c
			}
		}
	}
	return &FileCatalog{byID: byID}
}

// LoadFileCatalog reads a JSON array of content records from path.
func LoadFileCatalog(path string) (*FileCatalog, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	var records []entity.Content
	if err := json.Unmarshal(raw, &records); err != nil {
		return nil, fmt.Errorf("decode catalog %s: %w", path, err)
	}
	return NewFileCatalog(records), nil
}

func (f *FileCatalog) GetContent(_ context.Context, id string) (*entity.Content, error) {
	c, ok := f.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &c, nil
}
