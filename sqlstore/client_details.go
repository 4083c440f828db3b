package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.pilab.hu/authz/domain"
)

const selectClientDetails = `SELECT client_id, resource_ids, client_secret, scope,
	authorized_grant_types, web_server_redirect_uri, authorities,
	access_token_validity, refresh_token_validity, additional_information,
	autoapprove, created_at
FROM oauth_client_details WHERE client_id = ?`

const insertClientDetails = `INSERT INTO oauth_client_details (client_id, resource_ids,
	client_secret, scope, authorized_grant_types, web_server_redirect_uri, authorities,
	access_token_validity, refresh_token_validity, additional_information, autoapprove,
	created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

// ClientDetailsStore implements domain.ClientStore on oauth_client_details.
// List columns are comma separated and validities are stored in seconds.
type ClientDetailsStore struct {
	db *sql.DB
}

// ClientDetails returns the client registry repository of the store.
func (s *Store) ClientDetails() *ClientDetailsStore {
	return &ClientDetailsStore{db: s.db}
}

type clientDetailsRow struct {
	ClientID             string
	ResourceIDs          sql.NullString
	ClientSecret         sql.NullString
	Scope                sql.NullString
	GrantTypes           sql.NullString
	RedirectURIs         sql.NullString
	Authorities          sql.NullString
	AccessTokenValidity  sql.NullInt64
	RefreshTokenValidity sql.NullInt64
	AdditionalInfo       sql.NullString
	AutoApprove          sql.NullString
	CreatedAt            time.Time
}

// GetClient implements domain.ClientStore.
func (r *ClientDetailsStore) GetClient(ctx context.Context, clientID string) (*domain.Client, error) {
	var row clientDetailsRow

	err := r.db.QueryRowContext(ctx, selectClientDetails, clientID).Scan(
		&row.ClientID, &row.ResourceIDs, &row.ClientSecret, &row.Scope,
		&row.GrantTypes, &row.RedirectURIs, &row.Authorities,
		&row.AccessTokenValidity, &row.RefreshTokenValidity, &row.AdditionalInfo,
		&row.AutoApprove, &row.CreatedAt,
	)
	if err != nil {
		return nil, mapErr(err)
	}

	return mapClientDetails(row)
}

// CreateClient implements domain.ClientStore.
func (r *ClientDetailsStore) CreateClient(ctx context.Context, c *domain.Client) error {
	var info sql.NullString
	if len(c.AdditionalInfo) > 0 {
		raw, err := json.Marshal(c.AdditionalInfo)
		if err != nil {
			return fmt.Errorf("encode additional information: %w", err)
		}
		info = sql.NullString{String: string(raw), Valid: true}
	}

	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}

	_, err := r.db.ExecContext(ctx, insertClientDetails,
		c.ID,
		joinList(c.ResourceIDs),
		mapStringNull(c.SecretHash),
		joinList(c.Scopes),
		joinList(c.GrantTypes),
		joinList(c.RedirectURIs),
		joinList(c.Authorities),
		mapSeconds(c.AccessTokenTTL),
		mapSeconds(c.RefreshTokenTTL),
		info,
		joinList(c.AutoApprove),
		c.CreatedAt,
	)

	return mapErr(err)
}

func mapClientDetails(row clientDetailsRow) (*domain.Client, error) {
	c := &domain.Client{
		ID:           row.ClientID,
		SecretHash:   row.ClientSecret.String,
		ResourceIDs:  splitList(row.ResourceIDs),
		Scopes:       splitList(row.Scope),
		GrantTypes:   splitList(row.GrantTypes),
		RedirectURIs: splitList(row.RedirectURIs),
		Authorities:  splitList(row.Authorities),
		AutoApprove:  splitList(row.AutoApprove),
		CreatedAt:    row.CreatedAt,
	}

	// a client stored without secret is public
	c.SecretRequired = c.SecretHash != ""

	if row.AccessTokenValidity.Valid {
		c.AccessTokenTTL = time.Duration(row.AccessTokenValidity.Int64) * time.Second
	}
	if row.RefreshTokenValidity.Valid {
		c.RefreshTokenTTL = time.Duration(row.RefreshTokenValidity.Int64) * time.Second
	}

	if info := strings.TrimSpace(row.AdditionalInfo.String); info != "" {
		if err := json.Unmarshal([]byte(info), &c.AdditionalInfo); err != nil {
			return nil, fmt.Errorf("decode additional information of client %s: %w", c.ID, err)
		}
	}

	return c, nil
}

func splitList(ns sql.NullString) []string {
	if !ns.Valid {
		return nil
	}

	parts := strings.Split(ns.String, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func joinList(values []string) sql.NullString {
	return mapStringNull(strings.Join(values, ","))
}

func mapStringNull(s string) sql.NullString {
	if s == "" {
		return sql.NullString{Valid: false}
	}
	return sql.NullString{String: s, Valid: true}
}

func mapSeconds(d time.Duration) sql.NullInt64 {
	if d <= 0 {
		return sql.NullInt64{Valid: false}
	}
	return sql.NullInt64{Int64: int64(d / time.Second), Valid: true}
}

var _ domain.ClientStore = (*ClientDetailsStore)(nil)
