package service

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"mailtrack/internal/classify"
	"mailtrack/internal/domain"
	"mailtrack/internal/ledger"
	"mailtrack/internal/observability"
	"mailtrack/internal/store"
	"mailtrack/internal/util"
)

const (
	DefaultGracePeriod = 45 * time.Second
	directReferer      = "Direct"
)

type TrackingService struct {
	Store       store.Repository
	Policy      ledger.Policy
	GracePeriod time.Duration
	// BaseURL overrides the request origin when building pixel URLs.
	BaseURL string
	Now     func() time.Time
}

func (s *TrackingService) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return util.NowUTC()
}

func (s *TrackingService) policy() ledger.Policy {
	if s.Policy == nil {
		return ledger.ProxyOnly{}
	}
	return s.Policy
}

// Register issues a fresh API key and stores its owner.
func (s *TrackingService) Register(ctx context.Context) (domain.Owner, error) {
	key, err := util.NewAPIKey()
	if err != nil {
		return domain.Owner{}, err
	}
	owner := domain.Owner{Key: key, UserID: util.NewUserID(), CreatedAt: s.now()}
	if err := s.Store.InsertOwner(ctx, owner); err != nil {
		return domain.Owner{}, err
	}
	return owner, nil
}

func (s *TrackingService) trackingURL(origin, trackingID string) string {
	base := s.BaseURL
	if base == "" {
		base = origin
	}
	return strings.TrimRight(base, "/") + "/track/" + trackingID
}

// CreateRecord registers a message for tracking. Owners the store has not
// seen yet are created on the fly.
func (s *TrackingService) CreateRecord(ctx context.Context, ownerKey string, req domain.CreateRecordRequest, senderIP, origin string) (domain.Record, error) {
	if err := req.Validate(); err != nil {
		return domain.Record{}, err
	}
	now := s.now()
	if err := s.Store.EnsureOwner(ctx, ownerKey, now); err != nil {
		return domain.Record{}, err
	}

	recipient := strings.TrimSpace(req.Recipient)
	if recipient == "" {
		recipient = domain.UnknownRecipient
	}
	tid := util.NewTrackingID()
	rec := domain.Record{
		ID:          util.NewRecordID(),
		TrackingID:  tid,
		TrackingURL: s.trackingURL(origin, tid),
		Subject:     strings.TrimSpace(req.Subject),
		Recipient:   recipient,
		OwnerKey:    ownerKey,
		SenderIP:    classify.NormalizeIP(senderIP),
		CreatedAt:   now,
		Opens:       []domain.OpenEvent{},
	}
	if err := s.Store.InsertRecord(ctx, rec); err != nil {
		return domain.Record{}, err
	}
	slog.Info("tracking record created", "record_id", rec.ID, "tracking_id", rec.TrackingID)
	return rec, nil
}

// MarkSent confirms delivery. The first confirmation wins; later calls get
// domain.ErrAlreadySent.
func (s *TrackingService) MarkSent(ctx context.Context, ownerKey, id string) (time.Time, error) {
	return s.Store.MarkSent(ctx, ownerKey, id, s.now())
}

func (s *TrackingService) ListRecords(ctx context.Context, ownerKey string) ([]domain.Record, error) {
	return s.Store.ListRecords(ctx, ownerKey)
}

func (s *TrackingService) GetRecord(ctx context.Context, ownerKey, id string) (domain.Record, error) {
	return s.Store.GetRecord(ctx, ownerKey, id)
}

func (s *TrackingService) DeleteRecord(ctx context.Context, ownerKey, id string) error {
	return s.Store.DeleteRecord(ctx, ownerKey, id)
}

func optionalHeader(m domain.FetchMetadata, name string) *string {
	v, ok := m.Header(name)
	if !ok {
		return nil
	}
	return &v
}

// RecordOpen classifies one pixel fetch and appends it to the record that
// owns job.TrackingID. Unknown tracking ids are ignored: found is false and
// err is nil.
func (s *TrackingService) RecordOpen(ctx context.Context, job domain.OpenJob) (ev domain.OpenEvent, found bool, err error) {
	fetch := job.Fetch
	verdict := classify.DetectOpenType(fetch.UserAgent, fetch.Headers)
	observability.PixelFetches.WithLabelValues(string(verdict.Type)).Inc()

	at := fetch.FetchedAt.UTC()
	if fetch.FetchedAt.IsZero() {
		at = s.now()
	}
	ua := fetch.UserAgent
	if ua == "" {
		ua = classify.Unknown
	}
	referer := fetch.Referer
	if referer == "" {
		referer = directReferer
	}
	base := domain.OpenEvent{
		Timestamp:  at,
		UserAgent:  ua,
		IP:         classify.NormalizeIP(fetch.IP),
		Referer:    referer,
		OpenType:   verdict.Type,
		IsReal:     verdict.IsLikelyReal,
		DeviceInfo: classify.ParseUserAgent(fetch.UserAgent),
		Headers: domain.ForensicHeaders{
			Via:            optionalHeader(fetch, "via"),
			Accept:         optionalHeader(fetch, "accept"),
			AcceptLanguage: optionalHeader(fetch, "accept-language"),
			AcceptEncoding: optionalHeader(fetch, "accept-encoding"),
		},
	}

	grace := s.GracePeriod
	policy := s.policy()
	start := time.Now()
	ev, found, err = s.Store.AppendOpen(ctx, job.TrackingID, func(rec *domain.Record) domain.OpenEvent {
		e := base
		e.InGracePeriod = classify.InGracePeriod(rec.GraceAnchor(), e.Timestamp, grace)
		e.IsSelfView = classify.IsSelfView(rec.SenderIP, e.IP)
		return ledger.Append(rec, e, policy)
	})
	observability.StoreLatency.Observe(time.Since(start).Seconds())

	result := openResult(ev, found, err)
	observability.Opens.WithLabelValues(result).Inc()
	switch {
	case err != nil:
		return domain.OpenEvent{}, found, err
	case !found:
		slog.Debug("pixel fetch for unknown tracking id", "tracking_id", job.TrackingID)
	default:
		slog.Info("open recorded", "tracking_id", job.TrackingID, "open_type", ev.OpenType, "result", result)
	}
	return ev, found, nil
}

func openResult(ev domain.OpenEvent, found bool, err error) string {
	switch {
	case err != nil:
		return observability.OpenError
	case !found:
		return observability.OpenUnknownTrack
	case ev.Counted:
		return observability.OpenCounted
	case ev.InGracePeriod:
		return observability.OpenGracePeriod
	case ev.IsSelfView:
		return observability.OpenSelfView
	default:
		return observability.OpenNotCounted
	}
}
