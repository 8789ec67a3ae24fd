package conn

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

const defaultMongoURI = "mongodb://localhost:27017"

// MongoOption defines connection options for MongoDB.
type MongoOption struct {
	URI      string
	Database string
}

// MongoClient wraps a MongoDB connection and its selected database.
type MongoClient struct {
	client *mongo.Client
	db     *mongo.Database
}

// NewMongo creates a MongoDB client and verifies the connection.
func NewMongo(ctx context.Context, option MongoOption) (*MongoClient, error) {
	uri := option.URI
	if uri == "" {
		uri = defaultMongoURI
	}

	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(connectCtx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, err
	}
	if err := client.Ping(connectCtx, readpref.Primary()); err != nil {
		_ = client.Disconnect(ctx)
		return nil, err
	}

	return &MongoClient{client: client, db: client.Database(option.Database)}, nil
}

// Database returns the selected database handle.
func (c *MongoClient) Database() *mongo.Database {
	if c == nil {
		return nil
	}
	return c.db
}

// Close disconnects the client.
func (c *MongoClient) Close(ctx context.Context) error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Disconnect(ctx)
}
