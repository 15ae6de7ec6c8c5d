package mongo

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"swarmstream/internal/domain"
)

const (
	torrentsCollection = "torrents"
	tracksCollection   = "subtitle_tracks"
)

func Connect(ctx context.Context, uri string, extra ...*options.ClientOptions) (*mongo.Client, error) {
	opts := append([]*options.ClientOptions{options.Client().ApplyURI(uri)}, extra...)
	return mongo.Connect(ctx, opts...)
}

// TorrentRepository persists TorrentRecord documents keyed by info-hash.
type TorrentRepository struct {
	collection *mongo.Collection
}

func NewTorrentRepository(client *mongo.Client, dbName string) *TorrentRepository {
	return &TorrentRepository{collection: client.Database(dbName).Collection(torrentsCollection)}
}

func (r *TorrentRepository) EnsureIndexes(ctx context.Context) error {
	models := []mongo.IndexModel{
		{Keys: bson.D{{Key: "name", Value: "text"}}},
		{Keys: bson.D{{Key: "createdAt", Value: -1}}},
		{Keys: bson.D{{Key: "updatedAt", Value: -1}}},
	}
	_, err := r.collection.Indexes().CreateMany(ctx, models)
	return err
}

func (r *TorrentRepository) Upsert(ctx context.Context, record domain.TorrentRecord) error {
	now := time.Now().UTC()
	record.UpdatedAt = now
	if record.CreatedAt.IsZero() {
		record.CreatedAt = now
	}
	update := bson.M{
		"$set": bson.M{
			"name":       record.Name,
			"magnet":     record.Magnet,
			"files":      record.Files,
			"totalBytes": record.TotalBytes,
			"doneBytes":  record.DoneBytes,
			"updatedAt":  record.UpdatedAt,
		},
		"$setOnInsert": bson.M{"createdAt": record.CreatedAt},
	}
	_, err := r.collection.UpdateOne(ctx,
		bson.M{"_id": string(record.ID)},
		update,
		options.Update().SetUpsert(true),
	)
	return err
}

func (r *TorrentRepository) Get(ctx context.Context, id domain.ContentID) (domain.TorrentRecord, error) {
	var record domain.TorrentRecord
	if err := r.collection.FindOne(ctx, bson.M{"_id": string(id)}).Decode(&record); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return domain.TorrentRecord{}, domain.ErrNotFound
		}
		return domain.TorrentRecord{}, err
	}
	return record, nil
}

func (r *TorrentRepository) List(ctx context.Context) ([]domain.TorrentRecord, error) {
	cursor, err := r.collection.Find(ctx, bson.M{},
		options.Find().SetSort(bson.D{{Key: "createdAt", Value: -1}}))
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)
	var records []domain.TorrentRecord
	if err := cursor.All(ctx, &records); err != nil {
		return nil, err
	}
	return records, nil
}

func (r *TorrentRepository) Delete(ctx context.Context, id domain.ContentID) error {
	res, err := r.collection.DeleteOne(ctx, bson.M{"_id": string(id)})
	if err != nil {
		return err
	}
	if res.DeletedCount == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// TrackStore indexes extracted subtitle payloads. One document per
// (contentId, filename, trackIndex); re-extraction replaces in place.
type TrackStore struct {
	collection *mongo.Collection
}

func NewTrackStore(client *mongo.Client, dbName string) *TrackStore {
	return &TrackStore{collection: client.Database(dbName).Collection(tracksCollection)}
}

func (s *TrackStore) EnsureIndexes(ctx context.Context) error {
	models := []mongo.IndexModel{
		{
			Keys: bson.D{
				{Key: "contentId", Value: 1},
				{Key: "filename", Value: 1},
				{Key: "trackIndex", Value: 1},
			},
			Options: options.Index().SetUnique(true),
		},
	}
	_, err := s.collection.Indexes().CreateMany(ctx, models)
	return err
}

func (s *TrackStore) Get(ctx context.Context, id domain.ContentID, filename string, track int) (domain.ExtractedTrack, error) {
	filter := bson.M{"contentId": string(id), "filename": filename, "trackIndex": track}
	var entry domain.ExtractedTrack
	if err := s.collection.FindOne(ctx, filter).Decode(&entry); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return domain.ExtractedTrack{}, domain.ErrNotFound
		}
		return domain.ExtractedTrack{}, err
	}
	return entry, nil
}

func (s *TrackStore) Put(ctx context.Context, entry domain.ExtractedTrack) error {
	filter := bson.M{
		"contentId":  string(entry.ContentID),
		"filename":   entry.Filename,
		"trackIndex": entry.TrackIndex,
	}
	update := bson.M{"$set": bson.M{
		"sourceCodec": entry.SourceCodec,
		"state":       entry.State,
		"payloadPath": entry.PayloadPath,
	}}
	_, err := s.collection.UpdateOne(ctx, filter, update, options.Update().SetUpsert(true))
	return err
}

func (s *TrackStore) DeleteAll(ctx context.Context, id domain.ContentID) error {
	_, err := s.collection.DeleteMany(ctx, bson.M{"contentId": string(id)})
	return err
}
