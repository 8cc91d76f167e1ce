package humy

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/golang-jwt/jwt/v5"
)

// Identity is the local user as far as the client can tell.
type Identity struct {
	UserID      string
	DisplayName string
}

// IdentityFromToken reads the user id from the access token's claims
// ("user_id", falling back to "sub"). The signature is not verified; the
// server does that, the client only needs to recognize its own messages.
func IdentityFromToken(token string) (Identity, error) {
	if token == "" {
		return Identity{}, errors.New("identity: empty token")
	}
	claims := jwt.MapClaims{}
	parser := jwt.NewParser(jwt.WithJSONNumber())
	if _, _, err := parser.ParseUnverified(token, claims); err != nil {
		return Identity{}, fmt.Errorf("identity: %w", err)
	}

	id := Identity{UserID: claimString(claims["user_id"])}
	if id.UserID == "" {
		id.UserID = claimString(claims["sub"])
	}
	if id.UserID == "" {
		return Identity{}, errors.New("identity: token has no user id")
	}
	name := chooseNickname(claimString(claims["username"]), claimString(claims["name"]))
	if name != DefaultNickname {
		id.DisplayName = name
	}
	return id, nil
}

func claimString(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case json.Number:
		return x.String()
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	}
	return ""
}

// Owns reports whether m was written by this identity.
func (id Identity) Owns(m Message) bool {
	return id.UserID != "" && m.AuthorID != nil && *m.AuthorID == id.UserID
}

// Name returns the display name used for outbound messages.
func (id Identity) Name() string {
	if id.DisplayName == "" {
		return DefaultNickname
	}
	return id.DisplayName
}
