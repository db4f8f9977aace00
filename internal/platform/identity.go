package platform

import (
	"context"
	"encoding/json"
	"encoding/xml"
	"fmt"

	"listen_engine/internal/model"
	"listen_engine/internal/transport"
)

// UserID resolves the id of the user the session is logged in as. It returns
// -1 without error when the session is anonymous, which is how the login flow
// distinguishes a rejected form from a granted one.
func (c *Client) UserID(ctx context.Context, session *transport.Session) (int64, error) {
	resp, err := session.Get(ctx, c.endpoints.UserInfoURL)
	if err != nil {
		return -1, err
	}

	var payload struct {
		User *struct {
			ID int64 `json:"id"`
		} `json:"user"`
	}
	if err := json.Unmarshal(resp.Body, &payload); err != nil {
		return -1, fmt.Errorf("decode user info: %w", err)
	}
	if payload.User == nil || payload.User.ID == 0 {
		return -1, nil
	}
	return payload.User.ID, nil
}

type foafDocument struct {
	Person *foafPerson `xml:"Person"`
}

type foafPerson struct {
	FirstName    string `xml:"firstName"`
	LastName     string `xml:"secondName"`
	PublicAccess string `xml:"publicAccess"`
}

// UserByID fetches the public profile card for an id. A nil result with nil
// error means the profile is not exposed.
func (c *Client) UserByID(ctx context.Context, session *transport.Session, id int64) (*model.UserInfo, error) {
	if id <= 0 {
		return nil, nil
	}

	resp, err := session.Get(ctx, fmt.Sprintf("%s/foaf.php?id=%d", c.endpoints.BaseURL, id))
	if err != nil {
		return nil, err
	}

	var doc foafDocument
	if err := xml.Unmarshal(resp.Body, &doc); err != nil {
		return nil, fmt.Errorf("decode profile card: %w", err)
	}
	if doc.Person == nil {
		return nil, nil
	}

	return &model.UserInfo{
		ID:        id,
		FirstName: doc.Person.FirstName,
		LastName:  doc.Person.LastName,
		Access:    doc.Person.PublicAccess == "allowed",
	}, nil
}

// CurrentUser resolves the session's own profile, or nil when anonymous.
func (c *Client) CurrentUser(ctx context.Context, session *transport.Session) (*model.UserInfo, error) {
	id, err := c.UserID(ctx, session)
	if err != nil {
		return nil, err
	}
	if id <= 0 {
		return nil, nil
	}
	return c.UserByID(ctx, session, id)
}
