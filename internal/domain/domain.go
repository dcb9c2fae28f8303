package domain

import "time"

type MessageKind string

const (
	KindNews  MessageKind = "news"
	KindEvent MessageKind = "event"
)

// MailState tracks digest delivery for one message. The only legal
// transitions are pending -> mailed and pending -> skipped_too_old.
type MailState string

const (
	MailPending    MailState = "pending"
	MailMailed     MailState = "mailed"
	MailSkippedOld MailState = "skipped_too_old"
)

// Message is one news item or event in a container. FeedID zero means
// locally authored; non-zero means feed-owned and its title, body and
// publish date belong to reconciliation.
type Message struct {
	ID           int64
	ContainerID  int64
	Kind         MessageKind
	Title        string
	Body         string
	BodyFormat   string
	PublishedAt  time.Time
	Visible      bool
	RepeatOnRoll bool
	FeedID       int64
	ExternalID   string
	EntryHash    string
	TimeModified time.Time
	AuthorID     *int64
	HideAuthor   bool
	EventStart   *time.Time
	EventEnd     *time.Time
	Location     string
	AllDay       bool
	MailState    MailState
	GroupIDs     []int64
}

func (m *Message) FeedOwned() bool {
	return m.FeedID != 0
}

type Feed struct {
	ID          int64
	ContainerID int64
	URL         string
	ContentHash string
	UpdatedAt   time.Time
	LastError   string
}

// Due reports whether the feed should be refreshed at now.
func (f *Feed) Due(now time.Time, minInterval time.Duration) bool {
	return now.Sub(f.UpdatedAt) >= minInterval
}

type Container struct {
	ID                int64
	Name              string
	DefaultSubscribed bool
}

// Subscription is one user's explicit opt-in/opt-out for one container.
// Absence of a row means the container default applies; callers must
// apply that default explicitly, never assume "missing = unsubscribed".
type Subscription struct {
	UserID      int64
	ContainerID int64
	Subscribed  bool
}

type Recipient struct {
	UserID        int64
	Email         string
	Lang          string
	Timezone      string
	MailFormat    string
	Tier          string
	EmailDisabled bool
	Deleted       bool
	AuthMethod    string
	BounceCount   int64
	GroupIDs      []int64
}

// Candidate is a container member together with their explicit
// subscription row, when one exists. Subscribed is nil when no row
// exists and the container default must be applied by the caller.
type Candidate struct {
	Recipient
	Subscribed *bool
}

// GroupKey batches recipients whose digest renders identically.
type GroupKey struct {
	Lang       string
	Timezone   string
	Tier       string
	MailFormat string
}
