// Package audit records who did what to which world, for the account's own activity view.
package audit

import (
	"errors"
	"time"
)

// Category groups audit events by the area they touch.
type Category string

const (
	CategoryAuth   Category = "auth"
	CategoryWorld  Category = "world"
	CategoryEntity Category = "entity"
	CategoryDelete Category = "delete"
)

// Action is what happened.
type Action string

const (
	ActionLogin          Action = "login"
	ActionLoginFailed    Action = "login_failed"
	ActionLogout         Action = "logout"
	ActionPasswordChange Action = "password_changed"
	ActionCreate         Action = "create"
	ActionUpdate         Action = "update"
	ActionDeleteRequest  Action = "delete_requested"
	ActionDeleteReject   Action = "delete_rejected"
)

// Severity represents the severity level of an audit event.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Resource types referenced by events.
const (
	ResourceWorld           = "world"
	ResourceEntity          = "entity"
	ResourceDeleteOperation = "delete_operation"
)

var (
	ErrEmptyID       = errors.New("audit event ID cannot be empty")
	ErrEmptyCategory = errors.New("audit event category cannot be empty")
	ErrEmptyAction   = errors.New("audit event action cannot be empty")
	ErrZeroTimestamp = errors.New("audit event timestamp cannot be zero")
)

// Event represents a single audit log entry.
type Event struct {
	ID           string    `json:"id"`
	Timestamp    time.Time `json:"timestamp"`
	Category     Category  `json:"category"`
	Action       Action    `json:"action"`
	Severity     Severity  `json:"severity"`
	ActorID      string    `json:"actor_id"`
	ActorEmail   string    `json:"actor_email,omitempty"`
	WorldID      string    `json:"world_id,omitempty"`
	ResourceType string    `json:"resource_type,omitempty"`
	ResourceID   string    `json:"resource_id,omitempty"`
	Description  string    `json:"description,omitempty"`
	IPAddress    string    `json:"ip_address,omitempty"`
	UserAgent    string    `json:"user_agent,omitempty"`
}

// NewEvent creates an info-level event.
// PRE: id and action are non-empty
// POST: Returns an Event stamped at now (UTC)
func NewEvent(id string, now time.Time, actorID string, category Category, action Action) Event {
	return Event{
		ID:        id,
		Timestamp: now.UTC(),
		Category:  category,
		Action:    action,
		Severity:  SeverityInfo,
		ActorID:   actorID,
	}
}

// Validate checks the fields every stored event needs.
func (e Event) Validate() error {
	switch {
	case e.ID == "":
		return ErrEmptyID
	case e.Category == "":
		return ErrEmptyCategory
	case e.Action == "":
		return ErrEmptyAction
	case e.Timestamp.IsZero():
		return ErrZeroTimestamp
	}
	return nil
}

// WithSeverity sets the severity level.
func (e Event) WithSeverity(s Severity) Event {
	e.Severity = s
	return e
}

// WithActorEmail records the email the actor used, for events without an account id.
func (e Event) WithActorEmail(email string) Event {
	e.ActorEmail = email
	return e
}

// WithResource sets the world and the resource inside it.
// PRE: resourceType and resourceID are non-empty
// POST: Event resource fields are populated
func (e Event) WithResource(worldID, resourceType, resourceID string) Event {
	e.WorldID = worldID
	e.ResourceType = resourceType
	e.ResourceID = resourceID
	return e
}

// WithDescription sets the event description.
func (e Event) WithDescription(desc string) Event {
	e.Description = desc
	return e
}

// WithRequest sets IP address and user agent from the HTTP request.
func (e Event) WithRequest(ipAddress, userAgent string) Event {
	e.IPAddress = ipAddress
	e.UserAgent = userAgent
	return e
}
