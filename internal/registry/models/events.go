package models

import (
	"time"

	"github.com/google/uuid"

	id "propledger/pkg/domain"
)

// EventType names a registry notification.
type EventType string

const (
	EventPropertyCreated             EventType = "property.created"
	EventPropertyUpdated             EventType = "property.updated"
	EventPropertyVerified            EventType = "property.verified"
	EventReportCreated               EventType = "report.created"
	EventReportVerified              EventType = "report.verified"
	EventReportPurchased             EventType = "report.purchased"
	EventAccessGranted               EventType = "access.granted"
	EventAccessRevoked               EventType = "access.revoked"
	EventRoleGranted                 EventType = "access.role_granted"
	EventOwnershipTransferred        EventType = "access.ownership_transferred"
	EventPaymentDistributionUpdated  EventType = "parameters.distribution_updated"
	EventMinimumReportPriceUpdated   EventType = "parameters.minimum_price_updated"
	EventVerificationRequiredUpdated EventType = "parameters.verification_required_updated"
)

// Event is a structured notification written to the outbox in the same
// transaction as the state change it describes.
type Event struct {
	ID         uuid.UUID         `json:"id"`
	Type       EventType         `json:"type"`
	OccurredAt time.Time         `json:"occurred_at"`
	Actor      id.PrincipalID    `json:"actor"`
	Subject    *id.PrincipalID   `json:"subject,omitempty"`
	PropertyID id.PropertyID     `json:"property_id,omitempty"`
	ReportID   id.ReportID       `json:"report_id,omitempty"`
	Amount     *id.Amount        `json:"amount_wei,omitempty"`
	Attributes map[string]string `json:"attributes,omitempty"`
	RequestID  string            `json:"request_id,omitempty"`
	Client     string            `json:"client,omitempty"`
}

// AggregateKey groups events for ordered delivery: by report, then property,
// then subject principal.
func (e Event) AggregateKey() string {
	switch {
	case !e.ReportID.IsNil():
		return "report/" + e.ReportID.String()
	case !e.PropertyID.IsNil():
		return "property/" + e.PropertyID.String()
	case e.Subject != nil:
		return "principal/" + e.Subject.String()
	default:
		return "registry"
	}
}
