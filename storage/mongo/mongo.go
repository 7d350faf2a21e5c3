// Package mongo implements storage.Repository backed by MongoDB.
//
// Every collection maps to a MongoDB collection of the same name. Document
// IDs are the hex form of the ObjectID assigned on insert, and fields are
// stored as top-level string properties. Unique fields are enforced with
// unique indexes that are created the first time a field is used.
package mongo

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/jmcleod/todoapi/storage"
)

// DefaultDatabase is the database used when none is configured.
const DefaultDatabase = "API_DB"

// Store implements storage.Repository backed by MongoDB.
type Store struct {
	client  *mongo.Client
	db      *mongo.Database
	indexes sync.Map // "collection.field" -> struct{}
}

var _ storage.Repository = (*Store)(nil)

// NewRepository returns a Repository using the named database of client.
func NewRepository(client *mongo.Client, database string) *Store {
	if database == "" {
		database = DefaultDatabase
	}
	return &Store{client: client, db: client.Database(database)}
}

// NewRepositoryFromURI connects to uri, verifies the connection with a
// ping, and returns a new Repository.
func NewRepositoryFromURI(ctx context.Context, uri, database string) (*Store, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connecting to mongodb: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("pinging mongodb: %w", err)
	}
	return NewRepository(client, database), nil
}

// Close disconnects the underlying client.
func (s *Store) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

// Database returns the database backing the store.
func (s *Store) Database() *mongo.Database {
	return s.db
}

func (s *Store) ensureUnique(ctx context.Context, collection, field string) error {
	key := collection + "." + field
	if _, ok := s.indexes.Load(key); ok {
		return nil
	}
	_, err := s.db.Collection(collection).Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: field, Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		return fmt.Errorf("creating unique index %s: %w", key, err)
	}
	s.indexes.Store(key, struct{}{})
	return nil
}

func objectID(collection, id string) (primitive.ObjectID, error) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return primitive.NilObjectID, fmt.Errorf("%s/%s: %w", collection, id, storage.ErrNotFound)
	}
	return oid, nil
}

func fromBSON(m bson.M) *storage.Document {
	doc := &storage.Document{Fields: make(map[string]string, len(m))}
	for k, v := range m {
		if k == "_id" {
			if oid, ok := v.(primitive.ObjectID); ok {
				doc.ID = oid.Hex()
			}
			continue
		}
		if s, ok := v.(string); ok {
			doc.Fields[k] = s
		}
	}
	return doc
}

func toBSON(fields map[string]string) bson.M {
	m := make(bson.M, len(fields))
	for k, v := range fields {
		m[k] = v
	}
	return m
}

func mapWriteError(collection string, err error) error {
	if mongo.IsDuplicateKeyError(err) {
		return fmt.Errorf("%s: %w", collection, storage.ErrDuplicate)
	}
	return err
}

func (s *Store) Insert(ctx context.Context, collection string, fields map[string]string, unique ...string) (*storage.Document, error) {
	for _, field := range unique {
		if err := s.ensureUnique(ctx, collection, field); err != nil {
			return nil, err
		}
	}
	res, err := s.db.Collection(collection).InsertOne(ctx, toBSON(fields))
	if err != nil {
		return nil, mapWriteError(collection, err)
	}
	oid, ok := res.InsertedID.(primitive.ObjectID)
	if !ok {
		return nil, fmt.Errorf("unexpected inserted id type %T", res.InsertedID)
	}
	return s.Get(ctx, collection, oid.Hex())
}

func (s *Store) findOne(ctx context.Context, collection string, filter bson.M) (*storage.Document, error) {
	var m bson.M
	err := s.db.Collection(collection).
		FindOne(ctx, filter, options.FindOne().SetSort(bson.D{{Key: "_id", Value: 1}})).
		Decode(&m)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return fromBSON(m), nil
}

func (s *Store) Get(ctx context.Context, collection, id string) (*storage.Document, error) {
	oid, err := objectID(collection, id)
	if err != nil {
		return nil, err
	}
	doc, err := s.findOne(ctx, collection, bson.M{"_id": oid})
	if err != nil {
		return nil, fmt.Errorf("%s/%s: %w", collection, id, err)
	}
	return doc, nil
}

func (s *Store) FindOne(ctx context.Context, collection, field, value string) (*storage.Document, error) {
	doc, err := s.findOne(ctx, collection, bson.M{field: value})
	if err != nil {
		return nil, fmt.Errorf("%s[%s]: %w", collection, field, err)
	}
	return doc, nil
}

func (s *Store) List(ctx context.Context, collection string, limit int) ([]*storage.Document, error) {
	opts := options.Find().SetSort(bson.D{{Key: "_id", Value: 1}})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}
	cur, err := s.db.Collection(collection).Find(ctx, bson.D{}, opts)
	if err != nil {
		return nil, fmt.Errorf("listing %s: %w", collection, err)
	}
	var rows []bson.M
	if err := cur.All(ctx, &rows); err != nil {
		return nil, fmt.Errorf("listing %s: %w", collection, err)
	}
	docs := make([]*storage.Document, 0, len(rows))
	for _, m := range rows {
		docs = append(docs, fromBSON(m))
	}
	return docs, nil
}

func (s *Store) Update(ctx context.Context, collection, id string, fields map[string]string) (*storage.Document, error) {
	oid, err := objectID(collection, id)
	if err != nil {
		return nil, err
	}
	res, err := s.db.Collection(collection).UpdateOne(ctx, bson.M{"_id": oid}, bson.M{"$set": toBSON(fields)})
	if err != nil {
		return nil, mapWriteError(collection, err)
	}
	if res.MatchedCount == 0 {
		return nil, fmt.Errorf("%s/%s: %w", collection, id, storage.ErrNotFound)
	}
	return s.Get(ctx, collection, id)
}

func (s *Store) Delete(ctx context.Context, collection, id string) error {
	oid, err := objectID(collection, id)
	if err != nil {
		return err
	}
	res, err := s.db.Collection(collection).DeleteOne(ctx, bson.M{"_id": oid})
	if err != nil {
		return fmt.Errorf("deleting %s/%s: %w", collection, id, err)
	}
	if res.DeletedCount == 0 {
		return fmt.Errorf("%s/%s: %w", collection, id, storage.ErrNotFound)
	}
	return nil
}
