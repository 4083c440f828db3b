package mongodb

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"go.pilab.hu/authz/domain"
)

// ClientRepository implements domain.ClientStore using MongoDB.
type ClientRepository struct {
	coll *mongo.Collection
}

// NewClientRepository creates a new ClientRepository instance.
func NewClientRepository(db *mongo.Database) *ClientRepository {
	return &ClientRepository{
		coll: db.Collection(ClientsCollection),
	}
}

// CreateClient implements the ClientStore interface.
func (s *ClientRepository) CreateClient(ctx context.Context, c *domain.Client) error {
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}

	_, err := s.coll.InsertOne(ctx, c)
	return mapErr("create client", err)
}

// GetClient implements the ClientStore interface.
func (s *ClientRepository) GetClient(ctx context.Context, clientID string) (*domain.Client, error) {
	var cli domain.Client

	err := s.coll.FindOne(ctx, bson.M{"_id": clientID}).Decode(&cli)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, mapErr("get client", err)
	}

	return &cli, nil
}

var _ domain.ClientStore = (*ClientRepository)(nil)
