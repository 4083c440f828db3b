package mongodb

import (
	"context"
	"errors"
	"fmt"
	"net"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"go.pilab.hu/authz/domain"
)

const (
	ClientsCollection = "oauth_client_details"
	CodesCollection   = "oauth_codes"
	TokensCollection  = "oauth_tokens"
)

// EnsureIndexes creates the indexes the repositories rely on. Expired codes
// and token pairs are removed by MongoDB TTL monitors.
func EnsureIndexes(ctx context.Context, db *mongo.Database) error {
	_, err := db.Collection(TokensCollection).Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "refresh_id", Value: 1}},
			Options: options.Index().SetUnique(true).SetSparse(true),
		},
		{
			Keys:    bson.D{{Key: "expires_at", Value: 1}},
			Options: options.Index().SetExpireAfterSeconds(0),
		},
	})
	if err != nil {
		return fmt.Errorf("failed to create token indexes: %w", err)
	}

	_, err = db.Collection(CodesCollection).Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "expires_at", Value: 1}},
		Options: options.Index().SetExpireAfterSeconds(0),
	})
	if err != nil {
		return fmt.Errorf("failed to create code indexes: %w", err)
	}

	return nil
}

// mapErr converts driver errors into domain errors.
func mapErr(op string, err error) error {
	if err == nil {
		return nil
	}

	if mongo.IsDuplicateKeyError(err) {
		return fmt.Errorf("%s: %w", op, domain.ErrDuplicate)
	}

	var netErr net.Error
	if mongo.IsTimeout(err) || errors.Is(err, context.DeadlineExceeded) ||
		(errors.As(err, &netErr) && netErr.Timeout()) {
		return fmt.Errorf("%s: %w: %w", op, domain.ErrTimeout, err)
	}

	return fmt.Errorf("%s: %w", op, err)
}
