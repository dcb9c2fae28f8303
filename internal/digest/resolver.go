// Package digest walks containers with unsent messages and sends
// batched email digests under a wall-clock budget.
package digest

import (
	"context"
	"log/slog"
	"sort"

	"coursewire/internal/domain"
)

// ResolverStore is the slice of the store the recipient resolver needs.
type ResolverStore interface {
	GetContainer(ctx context.Context, containerID int64) (*domain.Container, error)
	Candidates(ctx context.Context, containerID int64) ([]domain.Candidate, error)
}

// Auth methods whose accounts cannot log in and therefore never
// receive digest mail.
var noLoginAuthMethods = map[string]struct{}{
	"nologin":    {},
	"webservice": {},
}

// Resolver computes the deliverable subscriber set for a container and
// batches recipients whose rendered digest would be identical.
type Resolver struct {
	store           ResolverStore
	bounceThreshold int64
	log             *slog.Logger
}

func NewResolver(store ResolverStore, bounceThreshold int64, log *slog.Logger) *Resolver {
	return &Resolver{
		store:           store,
		bounceThreshold: bounceThreshold,
		log:             log,
	}
}

// Fetch loads the container and its candidate subscribers. This is the
// "subscriber fetch" phase of a digest run.
func (r *Resolver) Fetch(
	ctx context.Context,
	containerID int64,
) (*domain.Container, []domain.Candidate, error) {
	container, err := r.store.GetContainer(ctx, containerID)
	if err != nil {
		return nil, nil, err
	}

	candidates, err := r.store.Candidates(ctx, containerID)
	if err != nil {
		return nil, nil, err
	}

	return container, candidates, nil
}

// Filter applies the container's default subscription state to members
// without an explicit row, then drops candidates who cannot receive
// mail: disabled email, deleted accounts, no-login auth methods, and
// accounts past the bounce threshold.
func (r *Resolver) Filter(
	container *domain.Container,
	candidates []domain.Candidate,
) []domain.Recipient {
	var recipients []domain.Recipient

	for _, c := range candidates {
		subscribed := container.DefaultSubscribed
		if c.Subscribed != nil {
			subscribed = *c.Subscribed
		}
		if !subscribed {
			continue
		}

		if c.EmailDisabled || c.Deleted || c.Email == "" {
			continue
		}
		if _, ok := noLoginAuthMethods[c.AuthMethod]; ok {
			continue
		}
		if r.bounceThreshold > 0 && c.BounceCount >= r.bounceThreshold {
			continue
		}

		recipients = append(recipients, c.Recipient)
	}

	return recipients
}

// Groups buckets recipients for one message by rendering key. When the
// message carries a restriction group set, recipients outside it are
// counted as group-skips, not errors. Keys come back in stable sorted
// order so every run emits batches in the same sequence.
func (r *Resolver) Groups(
	msg *domain.Message,
	recipients []domain.Recipient,
) ([]domain.GroupKey, map[domain.GroupKey][]domain.Recipient, int) {
	groups := make(map[domain.GroupKey][]domain.Recipient)
	groupSkipped := 0

	for _, rcpt := range recipients {
		if len(msg.GroupIDs) > 0 && !intersects(msg.GroupIDs, rcpt.GroupIDs) {
			groupSkipped++
			continue
		}

		key := domain.GroupKey{
			Lang:       rcpt.Lang,
			Timezone:   rcpt.Timezone,
			Tier:       rcpt.Tier,
			MailFormat: rcpt.MailFormat,
		}

		groups[key] = append(groups[key], rcpt)
	}

	keys := make([]domain.GroupKey, 0, len(groups))
	for key := range groups {
		keys = append(keys, key)
	}

	sort.Slice(keys, func(i, j int) bool {
		a, b := keys[i], keys[j]
		if a.Lang != b.Lang {
			return a.Lang < b.Lang
		}
		if a.Timezone != b.Timezone {
			return a.Timezone < b.Timezone
		}
		if a.Tier != b.Tier {
			return a.Tier < b.Tier
		}
		return a.MailFormat < b.MailFormat
	})

	return keys, groups, groupSkipped
}

func intersects(a []int64, b []int64) bool {
	set := make(map[int64]struct{}, len(a))
	for _, id := range a {
		set[id] = struct{}{}
	}

	for _, id := range b {
		if _, ok := set[id]; ok {
			return true
		}
	}

	return false
}
