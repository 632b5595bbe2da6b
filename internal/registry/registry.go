package registry

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	pebblestore "github.com/rzbill/ripple/internal/storage/pebble"
	logpkg "github.com/rzbill/ripple/pkg/log"
)

// Registry validation errors, surfaced by the admin API as 4xx responses.
var (
	ErrInvalidPattern = errors.New("registry: invalid channel pattern")
	ErrAlreadyExists  = errors.New("registry: pattern already exists")
	ErrNotFound       = errors.New("registry: channel not found")
)

// Channel is a persisted channel definition. Pattern may embed a % wildcard
// matching any sequence.
type Channel struct {
	ID          string   `json:"id"`
	Pattern     string   `json:"pattern"`
	Description string   `json:"description,omitempty"`
	WebhookURLs []string `json:"webhookUrls,omitempty"`
	Enabled     bool     `json:"enabled"`
	CreatedAtMs int64    `json:"createdAtMs"`
	UpdatedAtMs int64    `json:"updatedAtMs"`
}

// CreateParams are the inputs to Create.
type CreateParams struct {
	Pattern     string
	Description string
	WebhookURLs []string
	// Disabled inverts the default-enabled flag; new channels are enabled
	// unless explicitly created disabled.
	Disabled bool
}

// UpdateParams are the optional mutations applied by Update. Nil fields are
// left unchanged.
type UpdateParams struct {
	Pattern     *string
	Description *string
	WebhookURLs *[]string
	Enabled     *bool
}

// Service is the channel catalog backing resolution and authorization.
// Mutations are serialized by mu so the uniqueness check and the batch
// commit behind it act as one step.
type Service struct {
	db     *pebblestore.DB
	logger logpkg.Logger

	mu sync.Mutex
}

// New creates a registry service over db.
func New(db *pebblestore.DB, logger logpkg.Logger) *Service {
	return &Service{db: db, logger: logger.WithComponent("registry")}
}

// Create registers a new channel pattern.
func (s *Service) Create(ctx context.Context, p CreateParams) (*Channel, error) {
	if !validPattern(p.Pattern) {
		return nil, ErrInvalidPattern
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if b, err := s.db.Get(chanNameKey(p.Pattern)); err == nil && len(b) > 0 {
		return nil, ErrAlreadyExists
	}
	now := time.Now().UnixMilli()
	ch := &Channel{
		ID:          uuid.NewString(),
		Pattern:     p.Pattern,
		Description: p.Description,
		WebhookURLs: p.WebhookURLs,
		Enabled:     !p.Disabled,
		CreatedAtMs: now,
		UpdatedAtMs: now,
	}
	if err := s.write(ctx, ch, ""); err != nil {
		return nil, err
	}
	s.logger.Info("channel created",
		logpkg.Str("id", ch.ID),
		logpkg.Str("pattern", ch.Pattern),
		logpkg.Bool("enabled", ch.Enabled),
	)
	return ch, nil
}

// Get returns the channel with the given id.
func (s *Service) Get(ctx context.Context, id string) (*Channel, error) {
	pattern, err := s.db.Get(chanIDKey(id))
	if err != nil || len(pattern) == 0 {
		return nil, ErrNotFound
	}
	return s.getByPattern(string(pattern))
}

// GetByPattern returns the channel registered under the exact pattern.
func (s *Service) GetByPattern(ctx context.Context, pattern string) (*Channel, error) {
	return s.getByPattern(pattern)
}

// Resolve maps a concrete channel name to its governing channel. Names
// outside the channel charset never resolve, keeping wildcard patterns
// from granting names the catalog could not store. An exact pattern match
// takes precedence regardless of enabled state, so a disabled exact
// channel never falls through to a wildcard. Otherwise wildcard patterns
// are scanned in lexicographic order and the first enabled LIKE match
// wins.
func (s *Service) Resolve(ctx context.Context, name string) (*Channel, bool) {
	if !validName(name) {
		return nil, false
	}
	if ch, err := s.getByPattern(name); err == nil {
		return ch, true
	}
	var match *Channel
	err := s.db.ScanPrefix(chanNamePrefix, func(key, value []byte) bool {
		var ch Channel
		if err := json.Unmarshal(value, &ch); err != nil {
			return true
		}
		if !ch.Enabled || !isWildcard(ch.Pattern) {
			return true
		}
		if likeMatch(ch.Pattern, name) {
			match = &ch
			return false
		}
		return true
	})
	if err != nil {
		s.logger.Error("resolve scan failed", logpkg.Str("name", name), logpkg.Err(err))
		return nil, false
	}
	if match == nil {
		return nil, false
	}
	return match, true
}

// Update applies the non-nil fields of p to the channel with the given id.
func (s *Service) Update(ctx context.Context, id string, p UpdateParams) (*Channel, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	oldPattern := ""
	if p.Pattern != nil && *p.Pattern != ch.Pattern {
		if !validPattern(*p.Pattern) {
			return nil, ErrInvalidPattern
		}
		if b, err := s.db.Get(chanNameKey(*p.Pattern)); err == nil && len(b) > 0 {
			return nil, ErrAlreadyExists
		}
		oldPattern = ch.Pattern
		ch.Pattern = *p.Pattern
	}
	if p.Description != nil {
		ch.Description = *p.Description
	}
	if p.WebhookURLs != nil {
		ch.WebhookURLs = *p.WebhookURLs
	}
	if p.Enabled != nil {
		ch.Enabled = *p.Enabled
	}
	ch.UpdatedAtMs = time.Now().UnixMilli()
	if err := s.write(ctx, ch, oldPattern); err != nil {
		return nil, err
	}
	return ch, nil
}

// SetEnabled flips the enabled flag. Disabling blocks all new subscribes
// and publishes immediately; existing room membership is not revoked.
func (s *Service) SetEnabled(ctx context.Context, id string, enabled bool) (*Channel, error) {
	return s.Update(ctx, id, UpdateParams{Enabled: &enabled})
}

// Delete removes the channel with the given id.
func (s *Service) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	b := s.db.NewBatch()
	defer b.Close()
	if err := b.Delete(chanNameKey(ch.Pattern), nil); err != nil {
		return err
	}
	if err := b.Delete(chanIDKey(ch.ID), nil); err != nil {
		return err
	}
	if err := s.db.CommitBatch(ctx, b); err != nil {
		return err
	}
	s.logger.Info("channel deleted", logpkg.Str("id", ch.ID), logpkg.Str("pattern", ch.Pattern))
	return nil
}

// List returns all channels in pattern order.
func (s *Service) List(ctx context.Context) ([]*Channel, error) {
	var out []*Channel
	err := s.db.ScanPrefix(chanNamePrefix, func(key, value []byte) bool {
		var ch Channel
		if err := json.Unmarshal(value, &ch); err == nil {
			out = append(out, &ch)
		}
		return true
	})
	return out, err
}

func (s *Service) getByPattern(pattern string) (*Channel, error) {
	b, err := s.db.Get(chanNameKey(pattern))
	if err != nil || len(b) == 0 {
		return nil, ErrNotFound
	}
	var ch Channel
	if err := json.Unmarshal(b, &ch); err != nil {
		return nil, ErrNotFound
	}
	return &ch, nil
}

// write persists both the pattern row and the id index atomically, dropping
// the old pattern row on rename.
func (s *Service) write(ctx context.Context, ch *Channel, oldPattern string) error {
	bytes, err := json.Marshal(ch)
	if err != nil {
		return err
	}
	b := s.db.NewBatch()
	defer b.Close()
	if oldPattern != "" {
		if err := b.Delete(chanNameKey(oldPattern), nil); err != nil {
			return err
		}
	}
	if err := b.Set(chanNameKey(ch.Pattern), bytes, nil); err != nil {
		return err
	}
	if err := b.Set(chanIDKey(ch.ID), []byte(ch.Pattern), nil); err != nil {
		return err
	}
	return s.db.CommitBatch(ctx, b)
}
