package model

import (
	"database/sql"
	"time"
)

// EndpointRole describes which side of the pub/sub exchange an endpoint takes.
type EndpointRole string

const (
	// EndpointRolePublisher can only publish messages.
	EndpointRolePublisher EndpointRole = "pub"

	// EndpointRoleSubscriber can only subscribe to topics.
	EndpointRoleSubscriber EndpointRole = "sub"

	// EndpointRoleBoth can publish and subscribe.
	EndpointRoleBoth EndpointRole = "pub-sub"
)

// EndpointType describes the transport an endpoint uses.
type EndpointType string

const (
	EndpointTypeService   EndpointType = "service"
	EndpointTypeREST      EndpointType = "rest"
	EndpointTypeWebSocket EndpointType = "wsx"
)

// Endpoint represents a publish/subscribe participant - a service, a REST
// caller or a WebSocket client. Endpoints own zero or more subscriptions.
//
// Internal endpoints belong to the platform itself; fan-out and cleanup both
// skip them.
type Endpoint struct {
	ID           int64        `json:"id" db:"id"`
	Name         string       `json:"name" db:"name"`
	Role         EndpointRole `json:"role" db:"role"`
	Type         EndpointType `json:"type" db:"endpoint_type"`
	IsActive     bool         `json:"isActive" db:"is_active"`
	IsInternal   bool         `json:"isInternal" db:"is_internal"`
	LastSeen     sql.NullTime `json:"lastSeen" db:"last_seen"`
	LastDelivery sql.NullTime `json:"lastDelivery" db:"last_deliv_time"`
	CreatedAt    time.Time    `json:"createdAt" db:"created_at"`
}

// TableName returns the database table name for Endpoint.
func (e Endpoint) TableName() string {
	return tablePrefix + "endpoint"
}

// NewEndpoint creates a new active, non-internal endpoint.
func NewEndpoint(name string, role EndpointRole, endpointType EndpointType) Endpoint {
	return Endpoint{
		ID:        0,
		Name:      name,
		Role:      role,
		Type:      endpointType,
		IsActive:  true,
		CreatedAt: time.Now(),
	}
}

// CanSubscribe reports whether the endpoint's role allows subscriptions.
func (e Endpoint) CanSubscribe() bool {
	return e.Role == EndpointRoleSubscriber || e.Role == EndpointRoleBoth
}

// CanPublish reports whether the endpoint's role allows publishing.
func (e Endpoint) CanPublish() bool {
	return e.Role == EndpointRolePublisher || e.Role == EndpointRoleBoth
}
