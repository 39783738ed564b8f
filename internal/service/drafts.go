package service

import (
	"context"
	"errors"
	"fmt"
	"regexp"

	"boutique/terminal/internal/domain"
	"boutique/terminal/internal/draft"
	"boutique/terminal/internal/pricing"
)

var (
	ErrInvalidForm       = errors.New("invalid form id")
	ErrDraftEmpty        = errors.New("draft has no lines")
	ErrDraftLineUnlinked = errors.New("draft line is not linked to a catalog article")
)

var formIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

type DraftView struct {
	Draft    domain.Draft         `json:"draft"`
	Lines    []pricing.LineResult `json:"lines"`
	Totals   pricing.Totals       `json:"totals"`
	Restored bool                 `json:"restored"`
}

// OpenDraft returns the editing session of formID, restoring the stored
// draft the first time the form is opened.
func (s *Service) OpenDraft(ctx context.Context, formID string) (DraftView, error) {
	session, restored, err := s.session(ctx, formID)
	if err != nil {
		return DraftView{}, err
	}
	view := s.view(session.Draft())
	view.Restored = restored
	return view, nil
}

// LoadDraft reads what is stored for formID without touching the session.
func (s *Service) LoadDraft(ctx context.Context, formID string) (draft.LoadResult, error) {
	if !formIDPattern.MatchString(formID) {
		return draft.LoadResult{}, ErrInvalidForm
	}
	return draft.NewStore(s.drafts, formID, s.log).Load(ctx), nil
}

func (s *Service) SaveDraft(ctx context.Context, formID string, d domain.Draft) (DraftView, error) {
	session, _, err := s.session(ctx, formID)
	if err != nil {
		return DraftView{}, err
	}
	replaced, err := session.Replace(d)
	if err != nil {
		return DraftView{}, err
	}
	return s.view(replaced), nil
}

func (s *Service) ClearDraft(ctx context.Context, formID string) error {
	session, _, err := s.session(ctx, formID)
	if err != nil {
		return err
	}
	session.Discard(ctx)

	s.mu.Lock()
	delete(s.sessions, formID)
	s.mu.Unlock()
	return nil
}

func (s *Service) AddDraftLine(ctx context.Context, formID string, item domain.LineItem) (DraftView, error) {
	session, _, err := s.session(ctx, formID)
	if err != nil {
		return DraftView{}, err
	}
	d, err := session.AddLine(item)
	if err != nil {
		return DraftView{}, err
	}
	return s.view(d), nil
}

func (s *Service) RemoveDraftLine(ctx context.Context, formID string, index int) (DraftView, error) {
	session, _, err := s.session(ctx, formID)
	if err != nil {
		return DraftView{}, err
	}
	d, err := session.RemoveLine(index)
	if err != nil {
		return DraftView{}, err
	}
	return s.view(d), nil
}

func (s *Service) DraftTotals(ctx context.Context, formID string) (pricing.Totals, error) {
	session, _, err := s.session(ctx, formID)
	if err != nil {
		return pricing.Totals{}, err
	}
	return session.Totals(), nil
}

func (s *Service) UpdateDraftHeader(ctx context.Context, formID string, upd domain.DraftHeaderUpdate) (DraftView, error) {
	session, _, err := s.session(ctx, formID)
	if err != nil {
		return DraftView{}, err
	}
	return s.view(session.UpdateHeader(upd)), nil
}

// SubmitDraft turns the draft into a sale. The draft is cleared once the
// sale is recorded, whether it reached the backend or was queued.
func (s *Service) SubmitDraft(ctx context.Context, formID string, paymentMode string) (domain.CheckoutResponse, error) {
	session, _, err := s.session(ctx, formID)
	if err != nil {
		return domain.CheckoutResponse{}, err
	}

	d := session.Draft()
	if len(d.Lines) == 0 {
		return domain.CheckoutResponse{}, ErrDraftEmpty
	}

	lines := make([]domain.SaleLine, 0, len(d.Lines))
	for i, item := range d.Lines {
		if item.ArticleRef == nil {
			return domain.CheckoutResponse{}, fmt.Errorf("%w: line %d (%s)", ErrDraftLineUnlinked, i+1, item.Name)
		}
		lines = append(lines, domain.SaleLine{
			ArticleRef:  *item.ArticleRef,
			ArticleName: item.Name,
			Quantity:    item.QuantityUnits,
			UnitPrice:   item.UnitSalePrice,
		})
	}

	resp, err := s.Checkout(ctx, domain.CheckoutRequest{
		InvoiceNumber: d.Header.InvoiceNumber,
		PaymentMode:   paymentMode,
		Lines:         lines,
	})
	if err != nil {
		return domain.CheckoutResponse{}, err
	}

	if err := s.ClearDraft(ctx, formID); err != nil {
		s.log.Warn().Err(err).Str("form", formID).Msg("clear submitted draft failed")
	}
	return resp, nil
}

// CloseDrafts runs the teardown save of every open session.
func (s *Service) CloseDrafts(ctx context.Context) {
	s.mu.Lock()
	sessions := make([]*draft.Session, 0, len(s.sessions))
	for _, session := range s.sessions {
		sessions = append(sessions, session)
	}
	s.mu.Unlock()

	for _, session := range sessions {
		session.Close(ctx)
	}
}

func (s *Service) session(ctx context.Context, formID string) (*draft.Session, bool, error) {
	if !formIDPattern.MatchString(formID) {
		return nil, false, ErrInvalidForm
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if session, ok := s.sessions[formID]; ok {
		if !session.HasCatalog() {
			if snapshot, err := s.catalog.Snapshot(ctx); err == nil {
				session.SetCatalog(snapshot)
			}
		}
		return session, false, nil
	}

	snapshot, err := s.catalog.Snapshot(ctx)
	if err != nil {
		s.log.Warn().Err(err).Str("form", formID).Msg("draft session without catalog snapshot")
	}

	session := draft.NewSession(draft.NewStore(s.drafts, formID, s.log), snapshot, s.calc)
	res := session.Restore(ctx)
	s.sessions[formID] = session
	return session, res.Found || res.Header != nil, nil
}

func (s *Service) view(d domain.Draft) DraftView {
	lines := make([]pricing.LineResult, 0, len(d.Lines))
	for _, item := range d.Lines {
		lines = append(lines, s.calc.Line(item, d.Header))
	}
	return DraftView{
		Draft:  d,
		Lines:  lines,
		Totals: s.calc.Totals(d.Lines, d.Header),
	}
}
