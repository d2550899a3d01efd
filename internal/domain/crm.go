package domain

import (
	"context"
	"time"
)

// Session is an authenticated Salesforce session.
type Session struct {
	AccessToken    string    `json:"access_token"`
	InstanceURL    string    `json:"instance_url"`
	UserID         string    `json:"user_id,omitempty"`
	OrganizationID string    `json:"organization_id,omitempty"`
	IssuedAt       time.Time `json:"issued_at"`
}

// Valid reports whether the session carries a usable token.
func (s *Session) Valid() bool {
	return s != nil && s.AccessToken != "" && s.InstanceURL != ""
}

// Contact is a Salesforce Contact lookup result.
type Contact struct {
	ID   string `json:"Id"`
	Name string `json:"Name"`
}

// Case literals written on every case this service creates.
const (
	CaseOrigin   = "LINE"
	CaseStatus   = "New"
	CasePriority = "Medium"
)

// Case is a Salesforce Case created from one inbound message.
type Case struct {
	ID          string `json:"-"`
	Subject     string `json:"Subject"`
	Description string `json:"Description"`
	Origin      string `json:"Origin"`
	Status      string `json:"Status"`
	Priority    string `json:"Priority"`
	ContactID   string `json:"ContactId,omitempty"`
}

// Account is a read-only Salesforce Account record.
type Account struct {
	ID       string `json:"Id"`
	Name     string `json:"Name"`
	Type     string `json:"Type"`
	Industry string `json:"Industry"`
	Phone    string `json:"Phone"`
	Website  string `json:"Website"`
}

// SessionProvider hands out the process-wide CRM session.
type SessionProvider interface {
	// EnsureSession returns the cached session or logs in.
	EnsureSession(ctx context.Context) (*Session, error)
	// Current returns the cached session without logging in (nil if absent).
	Current(ctx context.Context) *Session
	// Invalidate drops the cached session so the next call logs in again.
	Invalidate(ctx context.Context)
}

// CaseStore is the CRM surface needed to record inbound messages.
type CaseStore interface {
	FindContact(ctx context.Context, field, value string) (*Contact, error)
	InsertCase(ctx context.Context, c Case) (string, error)
}

// AccountReader lists CRM accounts.
type AccountReader interface {
	ListAccounts(ctx context.Context, limit int) ([]Account, error)
}
