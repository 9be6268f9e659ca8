// Package registration hosts the confirmation flow built on credential
// issuance and amendment: a registrant starts Unconfirmed, receives a
// confirmation credential carrying a shared secret and a validity window,
// and becomes Confirmed through an amendment referencing the confirmation.
//
// Sessions are explicit records in a mutex-guarded map owned by one
// Manager; lookup by secret goes through a keyed-hash index, never a scan.
package registration

import (
	"context"
	"sync"
	"time"

	"vouch/internal/credential"
	"vouch/internal/enc"
	"vouch/internal/keys"
	"vouch/pkg/domerr"
	"vouch/pkg/email"
)

// State of one registration session.
type State string

const (
	StatePending   State = "pending"
	StateConfirmed State = "confirmed"
)

// Session is the mutable record tracking one registrant between Begin and
// Confirm. The credential chain is the durable artifact; the session only
// exists to route the presented secret back to it.
type Session struct {
	Subject      string
	Recipient    string
	State        State
	Confirmation credential.Record
	Approval     credential.Record
	ExpiresAt    time.Time
}

const typeConfirmation = "ConfirmationCredential"

// Manager owns all registration sessions with single-writer discipline: all
// state transitions happen under its lock.
type Manager struct {
	chain  *credential.Chain
	sender Sender
	hasher *enc.Hasher
	issuer keys.KeyPair
	ttl    time.Duration
	clock  func() time.Time

	mu        sync.Mutex
	bySubject map[string]*Session
	bySecret  map[string]string // salted secret hash -> subject
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithManagerClock sets the clock function for testability.
func WithManagerClock(clock func() time.Time) ManagerOption {
	return func(m *Manager) {
		if clock != nil {
			m.clock = clock
		}
	}
}

func NewManager(chain *credential.Chain, sender Sender, hasher *enc.Hasher, issuer keys.KeyPair, ttl time.Duration, opts ...ManagerOption) *Manager {
	m := &Manager{
		chain:     chain,
		sender:    sender,
		hasher:    hasher,
		issuer:    issuer,
		ttl:       ttl,
		clock:     time.Now,
		bySubject: make(map[string]*Session),
		bySecret:  make(map[string]string),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}
	return m
}

// Begin issues a confirmation credential for the subject, mails the secret
// to the recipient, and opens a pending session. A subject with a live
// pending session cannot begin again until it expires.
func (m *Manager) Begin(ctx context.Context, subject, recipient string) (credential.Record, error) {
	if subject == "" || recipient == "" {
		return credential.Record{}, domerr.New(domerr.CodeInvalidInput, "subject and recipient are required")
	}

	now := m.clock().UTC()
	validUntil := now.Add(m.ttl)
	session := &Session{
		Subject:   subject,
		Recipient: recipient,
		State:     StatePending,
		ExpiresAt: validUntil,
	}

	// Check and reserve in one critical section so concurrent Begins for
	// the same subject cannot both pass the pending check.
	m.mu.Lock()
	if existing, ok := m.bySubject[subject]; ok && existing.State == StatePending && now.Before(existing.ExpiresAt) {
		m.mu.Unlock()
		return credential.Record{}, domerr.Newf(domerr.CodeInvalidInput, "subject %s already has a pending registration", subject)
	}
	m.bySubject[subject] = session
	m.mu.Unlock()

	secret, err := GenerateSecret()
	if err != nil {
		m.releaseReservation(subject, session)
		return credential.Record{}, err
	}
	secretHash, err := HashSecret(secret)
	if err != nil {
		m.releaseReservation(subject, session)
		return credential.Record{}, err
	}

	confirmation, err := m.chain.Issue(ctx, m.issuer, subject,
		map[string]any{
			"state":      string(StatePending),
			"secretHash": secretHash,
		},
		nil,
		[]string{typeConfirmation},
		credential.IssueOptions{
			AmendingKeys: [][]byte{m.issuer.Public},
			ValidUntil:   &validUntil,
		})
	if err != nil {
		m.releaseReservation(subject, session)
		return credential.Record{}, err
	}

	index := m.hasher.SaltedHash([]byte(secret))

	m.mu.Lock()
	session.Confirmation = confirmation
	m.bySecret[index] = subject
	m.mu.Unlock()

	firstName, lastName := email.DeriveNameFromEmail(recipient)

	// Fire and forget; delivery failures are the transport's problem.
	go m.sender.Send(secret, recipient, map[string]string{
		"subject":    subject,
		"credential": confirmation.URN(),
		"firstName":  firstName,
		"lastName":   lastName,
	})

	return confirmation, nil
}

// Confirm consumes a presented secret: within the validity window it amends
// the confirmation credential into an approval credential and marks the
// session confirmed.
//
// The index entry is claimed under the lock before the slow secret check, so
// concurrent Confirms of the same secret see at most one winner; the losers
// get CodeNotFound. A failed check puts the claim back.
func (m *Manager) Confirm(ctx context.Context, secret string) (credential.Record, error) {
	if secret == "" {
		return credential.Record{}, domerr.New(domerr.CodeInvalidInput, "secret is required")
	}
	index := m.hasher.SaltedHash([]byte(secret))
	now := m.clock().UTC()

	m.mu.Lock()
	subject, ok := m.bySecret[index]
	if !ok {
		m.mu.Unlock()
		return credential.Record{}, domerr.New(domerr.CodeNotFound, "unknown confirmation secret")
	}
	session := m.bySubject[subject]
	if session.State == StateConfirmed {
		m.mu.Unlock()
		return credential.Record{}, domerr.Newf(domerr.CodeInvalidInput, "subject %s is already confirmed", subject)
	}
	if now.After(session.ExpiresAt) {
		m.mu.Unlock()
		return credential.Record{}, domerr.New(domerr.CodeExpired, "confirmation window has closed")
	}
	confirmation := session.Confirmation
	delete(m.bySecret, index)
	m.mu.Unlock()

	storedHash, _ := confirmation.SubjectClaims()["secretHash"].(string)
	if err := VerifySecret(secret, storedHash); err != nil {
		m.restoreClaim(index, subject)
		return credential.Record{}, err
	}

	approval, err := m.chain.Amend(ctx, m.issuer,
		map[string]any{"state": string(StateConfirmed), "confirmedAt": now.Truncate(time.Second).Format(time.RFC3339)},
		confirmation)
	if err != nil {
		m.restoreClaim(index, subject)
		return credential.Record{}, err
	}

	m.mu.Lock()
	session.State = StateConfirmed
	session.Approval = approval
	m.mu.Unlock()

	return approval, nil
}

// releaseReservation drops a session slot that never got its credential.
func (m *Manager) releaseReservation(subject string, session *Session) {
	m.mu.Lock()
	if m.bySubject[subject] == session {
		delete(m.bySubject, subject)
	}
	m.mu.Unlock()
}

// restoreClaim puts a secret-index claim back after a failed confirmation.
func (m *Manager) restoreClaim(index, subject string) {
	m.mu.Lock()
	if session, ok := m.bySubject[subject]; ok && session.State == StatePending {
		m.bySecret[index] = subject
	}
	m.mu.Unlock()
}

// Lookup returns a copy of the session for a subject.
func (m *Manager) Lookup(subject string) (Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	session, ok := m.bySubject[subject]
	if !ok {
		return Session{}, false
	}
	return *session, true
}
