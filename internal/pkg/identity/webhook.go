package identity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/gofiber/fiber/v2/log"
)

// Identity webhook event types.
const (
	EventUserCreated = "user.created"
	EventUserUpdated = "user.updated"
	EventUserDeleted = "user.deleted"
)

// ErrInvalidPayload marks webhook bodies that can never be applied.
var ErrInvalidPayload = errors.New("invalid identity webhook payload")

type emailAddress struct {
	ID           string `json:"id"`
	EmailAddress string `json:"email_address"`
}

type userPayload struct {
	ID                    string         `json:"id"`
	EmailAddresses        []emailAddress `json:"email_addresses"`
	PrimaryEmailAddressID string         `json:"primary_email_address_id"`
	FirstName             string         `json:"first_name"`
	LastName              string         `json:"last_name"`
	Username              string         `json:"username"`
	ImageURL              string         `json:"image_url"`
	Deleted               bool           `json:"deleted"`
}

type userEvent struct {
	Type string      `json:"type"`
	Data userPayload `json:"data"`
}

// profile picks the primary email, falling back to the first one listed.
func (p userPayload) profile() Profile {
	email := ""
	for _, a := range p.EmailAddresses {
		if a.ID == p.PrimaryEmailAddressID {
			email = a.EmailAddress
			break
		}
	}
	if email == "" && len(p.EmailAddresses) > 0 {
		email = p.EmailAddresses[0].EmailAddress
	}
	name := strings.TrimSpace(strings.TrimSpace(p.FirstName) + " " + strings.TrimSpace(p.LastName))
	if name == "" {
		name = strings.TrimSpace(p.Username)
	}
	return Profile{
		ExternalID:      p.ID,
		Email:           email,
		DisplayName:     name,
		ProfileImageURL: p.ImageURL,
	}
}

// HandleWebhook applies a verified identity webhook payload. Unknown event
// types are acknowledged without changes.
func (s *Service) HandleWebhook(ctx context.Context, payload []byte, ip string) (string, error) {
	var ev userEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}

	switch ev.Type {
	case EventUserCreated, EventUserUpdated:
		if _, err := s.SyncUser(ctx, ev.Data.profile(), ip); err != nil {
			return ev.Type, err
		}
	case EventUserDeleted:
		if strings.TrimSpace(ev.Data.ID) == "" {
			return ev.Type, fmt.Errorf("%w: user.deleted without user id", ErrInvalidPayload)
		}
		if err := s.DeleteUser(ctx, ev.Data.ID, ip); err != nil {
			return ev.Type, err
		}
	default:
		log.Infof("[Identity] Ignoring webhook event %s", ev.Type)
	}
	return ev.Type, nil
}
