// Package relay turns inbound LINE events into Salesforce cases.
package relay

import (
	"context"
	"log/slog"
	"unicode/utf8"

	"linerelay/internal/domain"
	"linerelay/internal/metrics"
)

// subjectLimit is the number of message runes kept in a case subject.
const subjectLimit = 50

// BuildCase renders the Case for one message. contactID may be empty.
func BuildCase(senderID, message, contactID string) domain.Case {
	return domain.Case{
		Subject:     Subject(message),
		Description: "LINE User: " + senderID + "\nMessage: " + message,
		Origin:      domain.CaseOrigin,
		Status:      domain.CaseStatus,
		Priority:    domain.CasePriority,
		ContactID:   contactID,
	}
}

// Subject keeps the first 50 runes of message and marks the cut with "...".
func Subject(message string) string {
	if utf8.RuneCountInString(message) <= subjectLimit {
		return "LINE Message: " + message
	}
	runes := []rune(message)
	return "LINE Message: " + string(runes[:subjectLimit]) + "..."
}

// CaseServiceConfig configures the case-creation use case.
type CaseServiceConfig struct {
	Sessions     domain.SessionProvider
	Store        domain.CaseStore
	ContactField string // Contact field holding the LINE user id
	Logger       *slog.Logger
}

// CaseService creates one Salesforce case per inbound message.
type CaseService struct {
	sessions     domain.SessionProvider
	store        domain.CaseStore
	contactField string
	logger       *slog.Logger
}

func NewCaseService(cfg CaseServiceConfig) *CaseService {
	if cfg.ContactField == "" {
		cfg.ContactField = "LINE_User_ID__c"
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &CaseService{
		sessions:     cfg.Sessions,
		store:        cfg.Store,
		contactField: cfg.ContactField,
		logger:       cfg.Logger,
	}
}

// CreateCase authenticates, links a Contact when one matches senderID and
// inserts the case. A failed lookup never blocks the insert.
func (s *CaseService) CreateCase(ctx context.Context, senderID, message string) (*domain.Case, error) {
	if _, err := s.sessions.EnsureSession(ctx); err != nil {
		metrics.CaseFailures.WithLabelValues("auth").Inc()
		if !domain.IsAuthError(err) {
			err = &domain.AuthError{Reason: "no session", Err: err}
		}
		return nil, err
	}

	c := BuildCase(senderID, message, s.lookupContact(ctx, senderID))

	id, err := s.store.InsertCase(ctx, c)
	if err != nil {
		if domain.IsAuthError(err) {
			metrics.CaseFailures.WithLabelValues("auth").Inc()
			return nil, err
		}
		metrics.CaseFailures.WithLabelValues("submission").Inc()
		return nil, &domain.SubmissionError{Err: err}
	}
	c.ID = id

	s.logger.Info("case created", "case_id", id, "sender", senderID, "contact_id", c.ContactID)
	return &c, nil
}

func (s *CaseService) lookupContact(ctx context.Context, senderID string) string {
	contact, err := s.store.FindContact(ctx, s.contactField, senderID)
	if err != nil {
		lerr := &domain.LookupError{Field: s.contactField, Err: err}
		s.logger.Warn("contact lookup failed, creating case without contact", "sender", senderID, "err", lerr)
		metrics.ContactLookups.WithLabelValues("error").Inc()
		return ""
	}
	if contact == nil {
		metrics.ContactLookups.WithLabelValues("missing").Inc()
		return ""
	}
	metrics.ContactLookups.WithLabelValues("found").Inc()
	return contact.ID
}
