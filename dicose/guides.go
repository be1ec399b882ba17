package dicose

import (
	"context"
	"fmt"
	"sort"
	"time"
)

// =============================================================================
// GUIDE REGISTRY & MIRROR MATCHER
// =============================================================================

// GuideRegistry validates guide use and finds mirror events. It holds no
// state; every lookup goes through the Store it is handed, so it reads the
// same transaction as the approval that calls it.
type GuideRegistry struct{}

type GuideQuery struct {
	Key                 GuideKey
	EventType           EventType
	Species             Species
	PremiseID           string
	PremiseRegistration string
	// The event being validated; excluded from duplicate-use detection.
	ExcludeEventID EventID
}

// GuideCheck is the registry's verdict.
type GuideCheck struct {
	Valid        bool
	Code         IssueCode // set when !Valid
	Kind         IssueKind
	Reason       string
	AutoRegister bool   // unknown guide; registered with the entry
	Guide        *Guide // known guide, if any
	Conflicting  *Event // event already holding the guide
}

// ValidateGuide applies, in order: known-guide checks (status, species,
// destination for inbound types) and the same-premise duplicate-use rule.
// An unknown guide is valid and flagged for auto-registration.
func (GuideRegistry) ValidateGuide(ctx context.Context, s Store, q GuideQuery) (GuideCheck, error) {
	guide, err := s.GetGuide(ctx, q.Key)
	if err != nil {
		return GuideCheck{}, fmt.Errorf("failed to load guide %s: %w", q.Key, err)
	}

	check := GuideCheck{Valid: true, Guide: guide, AutoRegister: guide == nil}

	if guide != nil {
		switch {
		case guide.Status != GuideValid:
			return invalidGuide(check, fmt.Sprintf("guide %s has status %s", q.Key, guide.Status)), nil
		case guide.Species != "" && q.Species != "" && guide.Species != q.Species:
			return invalidGuide(check, fmt.Sprintf("guide %s is for %s, event is %s", q.Key, guide.Species, q.Species)), nil
		case q.EventType.Inbound() && guide.DestinationRegistration != "" &&
			guide.DestinationRegistration != q.PremiseRegistration:
			return invalidGuide(check, fmt.Sprintf("guide %s is destined to %s, not %s",
				q.Key, guide.DestinationRegistration, q.PremiseRegistration)), nil
		}
	}

	events, err := s.ListEventsByGuide(ctx, q.Key)
	if err != nil {
		return GuideCheck{}, fmt.Errorf("failed to load events for guide %s: %w", q.Key, err)
	}
	for i := range events {
		e := events[i]
		if e.ID == q.ExcludeEventID || e.Status == StatusRejected || e.PremiseID != q.PremiseID {
			continue
		}
		if Counterparts(e.Type, q.EventType) {
			continue
		}
		check.Valid = false
		check.Code = IssueGuideConflict
		check.Kind = KindConflict
		check.Reason = fmt.Sprintf("guide %s already used by %s event %s", q.Key, e.Type, e.ID)
		check.Conflicting = &e
		return check, nil
	}

	return check, nil
}

func invalidGuide(c GuideCheck, reason string) GuideCheck {
	c.Valid = false
	c.Code = IssueGuideInvalid
	c.Kind = KindValidation
	c.Reason = reason
	return c
}

// FindMirror returns the APPROVED counterpart of a SALE or PURCHASE sharing
// the guide, on any premise, or nil. The earliest approval wins.
func (GuideRegistry) FindMirror(ctx context.Context, s Store, eventType EventType, key GuideKey) (*Event, error) {
	want, ok := mirrorTypes[eventType]
	if !ok || key.Series == "" || key.Number == "" {
		return nil, nil
	}
	events, err := s.ListEventsByGuide(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("failed to load events for guide %s: %w", key, err)
	}

	var candidates []Event
	for _, e := range events {
		if e.Type == want && e.Status == StatusApproved {
			candidates = append(candidates, e)
		}
	}
	if len(candidates) == 0 {
		return nil, nil
	}
	sort.Slice(candidates, func(i, j int) bool {
		return approvedAt(candidates[i]).Before(approvedAt(candidates[j]))
	})
	return &candidates[0], nil
}

// NewGuideFor builds the record auto-registered on a guide's first use.
func NewGuideFor(e Event, premise Premise, now time.Time) Guide {
	g := Guide{
		Series:            e.GuideSeries,
		Number:            e.GuideNumber,
		Species:           e.Species,
		Status:            GuideValid,
		RegisteredByEvent: e.ID,
		RegisteredAt:      now,
	}
	if e.Type.Inbound() {
		g.OriginRegistration = e.CounterpartRegistration
		g.DestinationRegistration = premise.RegistrationNumber
	} else {
		g.OriginRegistration = premise.RegistrationNumber
		g.DestinationRegistration = e.CounterpartRegistration
	}
	return g
}

func approvedAt(e Event) time.Time {
	if e.ApprovedAt == nil {
		return time.Time{}
	}
	return *e.ApprovedAt
}
