package models

import "time"

type Coord struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Status is the lifecycle position of a service request. Transitions only
// move forward: pending -> accepted -> completed -> closed.
type Status string

const (
	StatusPending   Status = "pending"
	StatusAccepted  Status = "accepted"
	StatusCompleted Status = "completed"
	StatusClosed    Status = "closed"
)

// Request is one customer call for roadside assistance, tracked from
// creation through closure. ProviderID, ProviderLocation, Rating and
// Feedback stay unset until the transition that binds them.
type Request struct {
	ID               string    `json:"id"`
	CustomerID       string    `json:"customer_id"`
	ProviderID       string    `json:"provider_id,omitempty"`
	VehicleType      string    `json:"vehicle_type"`
	Description      string    `json:"description"`
	CustomerLocation Coord     `json:"customer_location"`
	ProviderLocation *Coord    `json:"provider_location,omitempty"`
	Status           Status    `json:"status"`
	Rating           *int      `json:"rating,omitempty"`
	Feedback         string    `json:"feedback,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// Clone returns a deep copy so stored records never alias caller memory.
func (r *Request) Clone() *Request {
	c := *r
	if r.ProviderLocation != nil {
		loc := *r.ProviderLocation
		c.ProviderLocation = &loc
	}
	if r.Rating != nil {
		v := *r.Rating
		c.Rating = &v
	}
	return &c
}

// Provider is the slice of the identity collaborator's user record the
// dispatch core reads. The accept gate requires verified, not rejected,
// and active.
type Provider struct {
	ID       string `json:"id"`
	Verified bool   `json:"verified"`
	Rejected bool   `json:"rejected"`
	Active   bool   `json:"active"`
}

// LocationReport is the wire shape published to Kafka for every provider
// position report attached to a request.
type LocationReport struct {
	RequestID  string    `json:"request_id"`
	ProviderID string    `json:"provider_id,omitempty"`
	Loc        Coord     `json:"loc"`
	ReportedAt time.Time `json:"reported_at"`
}
