package store

import (
	"context"
	"time"

	"github.com/yanun0323/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"tradesim/internal/model"
	"tradesim/internal/model/enum"
)

var (
	ErrConfigNotFound  = errors.New("run config not found")
	ErrVersionNotFound = errors.New("algorithm version not found")
)

const (
	runConfigCollection   = "simulation_configs"
	algoVersionCollection = "algorithm_versions"
)

// ConfigStore is the document store for run configuration and algorithm
// version documents.
type ConfigStore struct {
	db *mongo.Database
}

// NewConfigStore wraps an open database handle.
func NewConfigStore(db *mongo.Database) *ConfigStore {
	return &ConfigStore{db: db}
}

// SaveRunConfig writes the full configuration document for a run,
// replacing any previous document for the same run id.
func (s *ConfigStore) SaveRunConfig(ctx context.Context, doc model.RunConfigDocument) error {
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = time.Now()
	}
	_, err := s.db.Collection(runConfigCollection).ReplaceOne(ctx,
		bson.M{"run_id": doc.RunID},
		doc,
		options.Replace().SetUpsert(true),
	)
	if err != nil {
		return errors.Wrap(err, "save run config")
	}
	return nil
}

// GetRunConfig returns the configuration document for one run.
func (s *ConfigStore) GetRunConfig(ctx context.Context, runID string) (*model.RunConfigDocument, error) {
	var doc model.RunConfigDocument
	err := s.db.Collection(runConfigCollection).
		FindOne(ctx, bson.M{"run_id": runID}).
		Decode(&doc)
	if err == mongo.ErrNoDocuments {
		return nil, ErrConfigNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "get run config")
	}
	return &doc, nil
}

// UpdateRunStatus patches only the status of a run's configuration document.
func (s *ConfigStore) UpdateRunStatus(ctx context.Context, runID string, status enum.RunStatus) error {
	result, err := s.db.Collection(runConfigCollection).UpdateOne(ctx,
		bson.M{"run_id": runID},
		bson.M{"$set": bson.M{"status": status, "updated_at": time.Now()}},
	)
	if err != nil {
		return errors.Wrap(err, "update run status")
	}
	if result.MatchedCount == 0 {
		return ErrConfigNotFound
	}
	return nil
}

// ListRunConfigs returns the most recent run configuration documents.
func (s *ConfigStore) ListRunConfigs(ctx context.Context, limit int64) ([]model.RunConfigDocument, error) {
	if limit <= 0 {
		limit = 50
	}
	cursor, err := s.db.Collection(runConfigCollection).Find(ctx,
		bson.M{},
		options.Find().SetSort(bson.M{"created_at": -1}).SetLimit(limit),
	)
	if err != nil {
		return nil, errors.Wrap(err, "list run configs")
	}
	var docs []model.RunConfigDocument
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, errors.Wrap(err, "decode run configs")
	}
	return docs, nil
}

// SaveAlgorithmVersion registers or replaces a named set of algorithm
// defaults.
func (s *ConfigStore) SaveAlgorithmVersion(ctx context.Context, doc model.AlgoVersionDocument) error {
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = time.Now()
	}
	_, err := s.db.Collection(algoVersionCollection).ReplaceOne(ctx,
		bson.M{"version": doc.Version},
		doc,
		options.Replace().SetUpsert(true),
	)
	if err != nil {
		return errors.Wrap(err, "save algorithm version")
	}
	return nil
}

// GetAlgorithmVersion returns one registered version.
func (s *ConfigStore) GetAlgorithmVersion(ctx context.Context, version string) (*model.AlgoVersionDocument, error) {
	var doc model.AlgoVersionDocument
	err := s.db.Collection(algoVersionCollection).
		FindOne(ctx, bson.M{"version": version}).
		Decode(&doc)
	if err == mongo.ErrNoDocuments {
		return nil, ErrVersionNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "get algorithm version")
	}
	return &doc, nil
}

// ListAlgorithmVersions returns every registered version, newest first.
func (s *ConfigStore) ListAlgorithmVersions(ctx context.Context) ([]model.AlgoVersionDocument, error) {
	cursor, err := s.db.Collection(algoVersionCollection).Find(ctx,
		bson.M{},
		options.Find().SetSort(bson.M{"created_at": -1}),
	)
	if err != nil {
		return nil, errors.Wrap(err, "list algorithm versions")
	}
	var docs []model.AlgoVersionDocument
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, errors.Wrap(err, "decode algorithm versions")
	}
	return docs, nil
}
