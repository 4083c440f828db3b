package mongodb

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"go.pilab.hu/authz/domain"
	"go.pilab.hu/authz/internal/crypto"
)

// tokenDocument stores an access token and its refresh token as one
// document, so revoking either side removes both in a single write.
type tokenDocument struct {
	ID        string              `bson:"_id"`
	RefreshID string              `bson:"refresh_id,omitempty"`
	Access    domain.TokenRecord  `bson:"access"`
	Refresh   *domain.TokenRecord `bson:"refresh,omitempty"`
	ExpiresAt *time.Time          `bson:"expires_at,omitempty"`
}

// TokenRepository implements domain.TokenStore using MongoDB.
type TokenRepository struct {
	coll *mongo.Collection
	now  func() time.Time
}

// NewTokenRepository creates a new TokenRepository instance.
func NewTokenRepository(db *mongo.Database) *TokenRepository {
	return &TokenRepository{
		coll: db.Collection(TokensCollection),
		now:  time.Now,
	}
}

func byValue(value string) bson.M {
	h := crypto.HashToken(value)
	return bson.M{"$or": []bson.M{{"_id": h}, {"refresh_id": h}}}
}

// Save implements domain.TokenStore.
func (r *TokenRepository) Save(ctx context.Context, access *domain.TokenRecord, refresh *domain.TokenRecord) error {
	if access == nil || access.Value == "" {
		return errors.New("access token is required")
	}

	doc := tokenDocument{
		ID:     crypto.HashToken(access.Value),
		Access: *access,
	}

	// the document lives as long as its longest living token
	expiresAt := access.ExpiresAt
	if refresh != nil {
		rf := *refresh
		rf.LinkedValue = access.Value
		doc.Access.LinkedValue = refresh.Value
		doc.Refresh = &rf
		doc.RefreshID = crypto.HashToken(refresh.Value)

		if rf.ExpiresAt.IsZero() || rf.ExpiresAt.After(expiresAt) {
			expiresAt = rf.ExpiresAt
		}
	}
	if !expiresAt.IsZero() {
		t := expiresAt.UTC()
		doc.ExpiresAt = &t
	}

	_, err := r.coll.InsertOne(ctx, doc)
	return mapErr("save token", err)
}

// pick returns the record of doc matching value.
func pick(doc *tokenDocument, value string) *domain.TokenRecord {
	if doc.Access.Value == value {
		return &doc.Access
	}
	if doc.Refresh != nil && doc.Refresh.Value == value {
		return doc.Refresh
	}
	return nil
}

// Load implements domain.TokenStore.
func (r *TokenRepository) Load(ctx context.Context, value string) (*domain.TokenRecord, error) {
	var doc tokenDocument

	err := r.coll.FindOne(ctx, byValue(value)).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, mapErr("load token", err)
	}

	rec := pick(&doc, value)
	if rec == nil || rec.Expired(r.now()) {
		return nil, domain.ErrNotFound
	}

	return rec, nil
}

// LoadByRefreshToken implements domain.TokenStore.
func (r *TokenRepository) LoadByRefreshToken(ctx context.Context, refreshValue string) (*domain.TokenRecord, error) {
	var doc tokenDocument

	err := r.coll.FindOne(ctx, bson.M{"refresh_id": crypto.HashToken(refreshValue)}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, mapErr("load token by refresh token", err)
	}

	if doc.Refresh == nil || doc.Refresh.Expired(r.now()) || doc.Access.Expired(r.now()) {
		return nil, domain.ErrNotFound
	}

	return &doc.Access, nil
}

// Revoke implements domain.TokenStore. FindOneAndDelete lets exactly one of
// several concurrent revokers observe the document.
func (r *TokenRepository) Revoke(ctx context.Context, value string) error {
	err := r.coll.FindOneAndDelete(ctx, byValue(value)).Err()
	if errors.Is(err, mongo.ErrNoDocuments) {
		return domain.ErrNotFound
	}

	return mapErr("revoke token", err)
}

var _ domain.TokenStore = (*TokenRepository)(nil)
