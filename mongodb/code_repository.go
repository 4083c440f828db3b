package mongodb

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"go.pilab.hu/authz/domain"
	"go.pilab.hu/authz/internal/crypto"
)

type codeDocument struct {
	ID                        string `bson:"_id"`
	domain.AuthorizationGrant `bson:",inline"`
}

// CodeRepository implements domain.AuthorizationCodeStore using MongoDB.
type CodeRepository struct {
	coll *mongo.Collection
}

// NewCodeRepository creates a new CodeRepository instance.
func NewCodeRepository(db *mongo.Database) *CodeRepository {
	return &CodeRepository{
		coll: db.Collection(CodesCollection),
	}
}

// SaveAuthorizationGrant implements domain.AuthorizationCodeStore.
func (r *CodeRepository) SaveAuthorizationGrant(ctx context.Context, grant *domain.AuthorizationGrant) error {
	if grant.Code == "" {
		return errors.New("auth code value cannot be empty")
	}

	doc := codeDocument{ID: crypto.HashToken(grant.Code), AuthorizationGrant: *grant}
	doc.Used = false
	doc.ExpiresAt = doc.ExpiresAt.UTC()

	if _, err := r.coll.InsertOne(ctx, doc); err != nil {
		log.Ctx(ctx).Error().Err(err).Str("client_id", grant.Request.ClientID).
			Msg("Error saving authorization code")
		return mapErr("save authorization code", err)
	}

	return nil
}

// ConsumeAuthorizationGrant implements domain.AuthorizationCodeStore. The
// filter on used=false turns the update into a compare-and-swap.
func (r *CodeRepository) ConsumeAuthorizationGrant(ctx context.Context, code string) (*domain.AuthorizationGrant, error) {
	id := crypto.HashToken(code)

	var doc codeDocument
	err := r.coll.FindOneAndUpdate(ctx,
		bson.M{"_id": id, "used": false},
		bson.M{"$set": bson.M{"used": true}},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&doc)

	if errors.Is(err, mongo.ErrNoDocuments) {
		n, countErr := r.coll.CountDocuments(ctx, bson.M{"_id": id})
		if countErr != nil {
			return nil, mapErr("consume authorization code", countErr)
		}
		if n > 0 {
			return nil, domain.ErrAlreadyConsumed
		}
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, mapErr("consume authorization code", fmt.Errorf("find and update: %w", err))
	}

	grant := doc.AuthorizationGrant
	grant.Code = code

	return &grant, nil
}

var _ domain.AuthorizationCodeStore = (*CodeRepository)(nil)
