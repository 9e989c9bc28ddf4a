package authapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"html"
	"net/http"
	"net/url"
	"strings"

	"github.com/mwakai/touch-grass/internal/domain"
)

// rawKid accepts every spelling the service has used for kid records.
type rawKid struct {
	ID          domain.FlexibleID `json:"id"`
	LegacyID    domain.FlexibleID `json:"_id"`
	Name        string            `json:"name"`
	Age         int               `json:"age"`
	AvatarColor string            `json:"avatarColor"`
	AvatorColor string            `json:"avatorColor"`
	Interests   []string          `json:"interests"`
	Points      *int              `json:"points"`
	Stats       *domain.KidStats  `json:"stats"`
	CreatedAt   string            `json:"createdAt"`
	UpdatedAt   string            `json:"updatedAt"`
}

// ListKids returns the parent's kids.
func (c *Client) ListKids(ctx context.Context, token string) ([]domain.Kid, error) {
	data, err := c.do(ctx, http.MethodGet, "/kids", token, nil)
	if err != nil {
		return nil, err
	}
	return c.decodeKidList(data)
}

// GetKid returns a single kid profile.
func (c *Client) GetKid(ctx context.Context, token, kidID string) (domain.Kid, error) {
	data, err := c.do(ctx, http.MethodGet, "/kids/"+url.PathEscape(kidID), token, nil)
	if err != nil {
		return domain.Kid{}, err
	}
	return c.decodeKid(data)
}

// CreateKid adds a kid profile.
func (c *Client) CreateKid(ctx context.Context, token string, in domain.KidInput) (domain.Kid, error) {
	data, err := c.do(ctx, http.MethodPost, "/kids", token, in)
	if err != nil {
		return domain.Kid{}, err
	}
	return c.decodeKid(data)
}

// UpdateKid applies a partial update to a kid profile.
func (c *Client) UpdateKid(ctx context.Context, token, kidID string, patch domain.KidPatch) (domain.Kid, error) {
	data, err := c.do(ctx, http.MethodPut, "/kids/"+url.PathEscape(kidID), token, patch)
	if err != nil {
		return domain.Kid{}, err
	}
	return c.decodeKid(data)
}

// DeleteKid removes a kid profile.
func (c *Client) DeleteKid(ctx context.Context, token, kidID string) error {
	_, err := c.do(ctx, http.MethodDelete, "/kids/"+url.PathEscape(kidID), token, nil)
	return err
}

// decodeKidList accepts a bare array, {"data": [...]} or {"kids": [...]}.
// Any other shape yields an empty list.
func (c *Client) decodeKidList(data []byte) ([]domain.Kid, error) {
	list := data
	if !isJSONArray(data) {
		var envelope struct {
			Data json.RawMessage `json:"data"`
			Kids json.RawMessage `json:"kids"`
		}
		if err := json.Unmarshal(data, &envelope); err != nil {
			return nil, fmt.Errorf("decode kids: %w", err)
		}
		switch {
		case isJSONArray(envelope.Data):
			list = envelope.Data
		case isJSONArray(envelope.Kids):
			list = envelope.Kids
		default:
			c.logger.Warn("Unexpected kids response format", "body_bytes", len(data))
			return []domain.Kid{}, nil
		}
	}

	var raws []rawKid
	if err := json.Unmarshal(list, &raws); err != nil {
		return nil, fmt.Errorf("decode kids: %w", err)
	}
	kids := make([]domain.Kid, 0, len(raws))
	for _, raw := range raws {
		kids = append(kids, c.normalizeKid(raw))
	}
	return kids, nil
}

// decodeKid accepts a bare record, {"data": {...}} or {"kid": {...}}.
func (c *Client) decodeKid(data []byte) (domain.Kid, error) {
	if len(data) == 0 {
		return domain.Kid{}, fmt.Errorf("decode kid: empty response")
	}
	record := data
	var envelope struct {
		Data json.RawMessage `json:"data"`
		Kid  json.RawMessage `json:"kid"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return domain.Kid{}, fmt.Errorf("decode kid: %w", err)
	}
	switch {
	case isJSONObject(envelope.Data):
		record = envelope.Data
	case isJSONObject(envelope.Kid):
		record = envelope.Kid
	}

	var raw rawKid
	if err := json.Unmarshal(record, &raw); err != nil {
		return domain.Kid{}, fmt.Errorf("decode kid: %w", err)
	}
	return c.normalizeKid(raw), nil
}

func (c *Client) normalizeKid(raw rawKid) domain.Kid {
	kid := domain.Kid{
		ID:          raw.ID.String(),
		Name:        c.cleanText(raw.Name),
		Age:         raw.Age,
		AvatarColor: raw.AvatarColor,
		Interests:   raw.Interests,
		CreatedAt:   raw.CreatedAt,
		UpdatedAt:   raw.UpdatedAt,
	}
	if kid.ID == "" {
		kid.ID = raw.LegacyID.String()
	}
	if kid.AvatarColor == "" {
		kid.AvatarColor = raw.AvatorColor
	}
	if kid.Interests == nil {
		kid.Interests = []string{}
	}
	if raw.Points != nil {
		kid.Points = *raw.Points
	}
	if raw.Stats != nil {
		kid.Stats = *raw.Stats
	}
	return kid
}

// cleanText strips markup from display text coming from the service.
func (c *Client) cleanText(s string) string {
	return strings.TrimSpace(html.UnescapeString(c.sanitizer.Sanitize(s)))
}

func isJSONArray(data []byte) bool {
	data = bytes.TrimSpace(data)
	return len(data) > 0 && data[0] == '['
}

func isJSONObject(data []byte) bool {
	data = bytes.TrimSpace(data)
	return len(data) > 0 && data[0] == '{'
}
