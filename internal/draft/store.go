// Package draft persists the in-progress invoice of one form instance and
// holds the editing session around it.
//
// Persistence is best-effort: a failed save or load is logged and reported
// as a plain boolean or "not found", never as an error, so the operator can
// keep working while storage is unavailable.
package draft

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"boutique/terminal/internal/domain"
	"boutique/terminal/internal/store"
)

const observerSaveTimeout = 5 * time.Second

// LoadResult is the outcome of Load. Found is true only when the stored
// draft has at least one line; a header-only draft comes back in Header with
// Found false so the form can restore its header fields.
type LoadResult struct {
	Draft  domain.Draft
	Header *domain.DraftHeader
	Found  bool
}

type Store struct {
	storage store.DraftStorage
	formID  string
	key     string
	log     zerolog.Logger
	now     func() time.Time
}

func NewStore(storage store.DraftStorage, formID string, log zerolog.Logger) *Store {
	return &Store{
		storage: storage,
		formID:  formID,
		key:     store.DraftKey(formID),
		log:     log.With().Str("component", "draft").Str("form", formID).Logger(),
		now:     time.Now,
	}
}

func (s *Store) FormID() string {
	return s.formID
}

// Save overwrites the stored draft with d, stamping version, form and save
// time. It reports whether the draft reached storage.
func (s *Store) Save(ctx context.Context, d domain.Draft) bool {
	d = d.Clone()
	d.Version = domain.DraftVersion
	d.FormID = s.formID
	d.SavedAt = s.now().UTC()
	if d.Lines == nil {
		d.Lines = []domain.LineItem{}
	}

	payload, err := json.Marshal(d)
	if err != nil {
		s.log.Warn().Err(err).Msg("encode draft failed")
		return false
	}
	if err := s.storage.PutDraft(ctx, s.key, payload); err != nil {
		s.log.Warn().Err(err).Int("lines", len(d.Lines)).Msg("save draft failed")
		return false
	}
	s.log.Debug().Int("lines", len(d.Lines)).Msg("draft saved")
	return true
}

// Load reads the stored draft. Unreadable data is logged and left in place.
func (s *Store) Load(ctx context.Context) LoadResult {
	payload, err := s.storage.GetDraft(ctx, s.key)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			s.log.Warn().Err(err).Msg("read draft failed")
		}
		return LoadResult{}
	}

	var d domain.Draft
	if err := json.Unmarshal(payload, &d); err != nil {
		s.log.Warn().Err(err).Int("bytes", len(payload)).Msg("stored draft is unreadable, ignoring")
		return LoadResult{}
	}
	if d.Version > domain.DraftVersion {
		s.log.Debug().Int("version", d.Version).Msg("draft written by a newer version")
	}
	d.FormID = s.formID

	if len(d.Lines) > 0 {
		header := d.Header
		return LoadResult{Draft: d, Header: &header, Found: true}
	}
	if !d.Header.IsZero() {
		header := d.Header
		return LoadResult{Header: &header}
	}
	return LoadResult{}
}

// Clear removes the stored draft. Clearing an absent draft is fine.
func (s *Store) Clear(ctx context.Context) {
	if err := s.storage.DeleteDraft(ctx, s.key); err != nil {
		s.log.Warn().Err(err).Msg("clear draft failed")
	}
}

// OnDraftChanged is the observer hook: it saves d and drops the result.
func (s *Store) OnDraftChanged(d domain.Draft) {
	ctx, cancel := context.WithTimeout(context.Background(), observerSaveTimeout)
	defer cancel()
	_ = s.Save(ctx, d)
}
