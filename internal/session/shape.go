package session

import (
	"bytes"
	"encoding/json"

	"github.com/mwakai/touch-grass/internal/domain"
)

// ResponseShape tags the known layouts of an Identity Service auth payload.
type ResponseShape int

const (
	ShapeUnknown ResponseShape = iota
	// ShapeSiblingUser is {"token": ..., "user": {...}}.
	ShapeSiblingUser
	// ShapeNestedUser is {"token": ..., "data": {...user}}.
	ShapeNestedUser
	// ShapeNestedToken is {"data": {"token": ..., ...}}; data carries the token.
	ShapeNestedToken
)

func (s ResponseShape) String() string {
	switch s {
	case ShapeSiblingUser:
		return "sibling_user"
	case ShapeNestedUser:
		return "nested_user"
	case ShapeNestedToken:
		return "nested_token"
	default:
		return "unknown"
	}
}

// Credentials is the result of a successful login or signup.
type Credentials struct {
	Token string       `json:"token"`
	User  *domain.User `json:"user"`
}

type authEnvelope struct {
	Token string          `json:"token"`
	Data  json.RawMessage `json:"data"`
	User  json.RawMessage `json:"user"`
}

type tokenCarrier struct {
	Token string          `json:"token"`
	User  json.RawMessage `json:"user"`
}

// resolveAuthPayload classifies body and extracts the token and user record.
// A top-level token always wins. A nested data object that itself holds a
// token is a token carrier: the user record is then taken from its "user"
// field, the sibling "user" field, or finally its own user attributes.
func resolveAuthPayload(body []byte) (Credentials, ResponseShape, error) {
	var env authEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return Credentials{}, ShapeUnknown, ErrInvalidResponseShape
	}

	nested := objectOrNil(env.Data)
	var carrier tokenCarrier
	if nested != nil {
		if err := json.Unmarshal(nested, &carrier); err != nil {
			carrier = tokenCarrier{}
		}
	}

	var (
		shape ResponseShape
		token = env.Token
		user  *domain.User
	)
	switch {
	case nested != nil && carrier.Token != "":
		shape = ShapeNestedToken
		if token == "" {
			token = carrier.Token
		}
		user = decodeUserRecord(carrier.User)
		if user == nil {
			user = decodeUserRecord(env.User)
		}
		if user == nil {
			if attrs := decodeUserRecord(nested); attrs.HasIdentity() {
				user = attrs
			}
		}
	case nested != nil:
		shape = ShapeNestedUser
		user = decodeUserRecord(nested)
		if user == nil {
			user = decodeUserRecord(env.User)
		}
	default:
		shape = ShapeSiblingUser
		user = decodeUserRecord(env.User)
	}

	if token == "" || user == nil {
		return Credentials{}, shape, ErrInvalidResponseShape
	}
	return Credentials{Token: token, User: user}, shape, nil
}

// resolveCurrentUser extracts the user from a current-user payload:
// the "user" field, else the "data" field, else the payload itself.
func resolveCurrentUser(body []byte) (*domain.User, error) {
	if objectOrNil(body) == nil {
		return nil, ErrInvalidResponseShape
	}
	var env authEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, ErrInvalidResponseShape
	}
	for _, candidate := range []json.RawMessage{env.User, env.Data, body} {
		if user := decodeUserRecord(candidate); user != nil {
			return user, nil
		}
	}
	return nil, ErrInvalidResponseShape
}

func decodeUserRecord(raw json.RawMessage) *domain.User {
	obj := objectOrNil(raw)
	if obj == nil {
		return nil
	}
	var user domain.User
	if err := json.Unmarshal(obj, &user); err != nil {
		return nil
	}
	return &user
}

func objectOrNil(raw []byte) []byte {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || raw[0] != '{' {
		return nil
	}
	return raw
}
