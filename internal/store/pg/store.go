package pg

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"mailtrack/internal/domain"
	"mailtrack/internal/store"
)

type Store struct {
	DB *pgxpool.Pool
}

var _ store.Repository = (*Store)(nil)

func New(db *pgxpool.Pool) *Store { return &Store{DB: db} }

const recordColumns = `id, tracking_id, tracking_url, subject, recipient, owner_key,
	COALESCE(sender_ip,''), created_at, sent_at, open_count, last_opened`

func storageErr(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", domain.ErrStorage, op, err)
}

func (s *Store) InsertOwner(ctx context.Context, owner domain.Owner) error {
	_, err := s.DB.Exec(ctx, `
		INSERT INTO owners (key, user_id, created_at) VALUES ($1,$2,$3)
		ON CONFLICT (key) DO NOTHING
	`, owner.Key, nullIfEmpty(owner.UserID), owner.CreatedAt)
	if err != nil {
		return storageErr("insert owner", err)
	}
	return nil
}

func (s *Store) EnsureOwner(ctx context.Context, key string, now time.Time) error {
	return s.InsertOwner(ctx, domain.Owner{Key: key, CreatedAt: now})
}

func (s *Store) InsertRecord(ctx context.Context, rec domain.Record) error {
	_, err := s.DB.Exec(ctx, `
		INSERT INTO tracking_records (id, tracking_id, tracking_url, subject, recipient, owner_key, sender_ip, created_at, sent_at, open_count, last_opened)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
	`, rec.ID, rec.TrackingID, rec.TrackingURL, rec.Subject, rec.Recipient, rec.OwnerKey,
		nullIfEmpty(rec.SenderIP), rec.CreatedAt, rec.SentAt, rec.OpenCount, rec.LastOpened)
	if err != nil {
		return storageErr("insert record", err)
	}
	return nil
}

func scanRecord(row pgx.Row) (domain.Record, error) {
	var r domain.Record
	err := row.Scan(&r.ID, &r.TrackingID, &r.TrackingURL, &r.Subject, &r.Recipient, &r.OwnerKey,
		&r.SenderIP, &r.CreatedAt, &r.SentAt, &r.OpenCount, &r.LastOpened)
	r.Opens = []domain.OpenEvent{}
	return r, err
}

func (s *Store) ListRecords(ctx context.Context, ownerKey string) ([]domain.Record, error) {
	rows, err := s.DB.Query(ctx, `
		SELECT `+recordColumns+` FROM tracking_records
		WHERE owner_key=$1 ORDER BY created_at DESC
	`, ownerKey)
	if err != nil {
		return nil, storageErr("list records", err)
	}
	defer rows.Close()

	out := make([]domain.Record, 0)
	ids := make([]string, 0)
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, storageErr("scan record", err)
		}
		out = append(out, r)
		ids = append(ids, r.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("list records", err)
	}
	if len(ids) == 0 {
		return out, nil
	}

	opens, err := s.loadOpens(ctx, ids)
	if err != nil {
		return nil, err
	}
	for i := range out {
		if evs, ok := opens[out[i].ID]; ok {
			out[i].Opens = evs
		}
	}
	return out, nil
}

func (s *Store) GetRecord(ctx context.Context, ownerKey, id string) (domain.Record, error) {
	r, err := scanRecord(s.DB.QueryRow(ctx, `
		SELECT `+recordColumns+` FROM tracking_records WHERE id=$1 AND owner_key=$2
	`, id, ownerKey))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Record{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.Record{}, storageErr("get record", err)
	}

	opens, err := s.loadOpens(ctx, []string{id})
	if err != nil {
		return domain.Record{}, err
	}
	if evs, ok := opens[id]; ok {
		r.Opens = evs
	}
	return r, nil
}

func (s *Store) loadOpens(ctx context.Context, recordIDs []string) (map[string][]domain.OpenEvent, error) {
	rows, err := s.DB.Query(ctx, `
		SELECT record_id, opened_at, user_agent, ip, referer, open_type, is_real, is_self_view,
		       in_grace_period, counted, device_os, device_browser, device_type,
		       hdr_via, hdr_accept, hdr_accept_language, hdr_accept_encoding
		FROM open_events WHERE record_id = ANY($1) ORDER BY record_id, id
	`, recordIDs)
	if err != nil {
		return nil, storageErr("load opens", err)
	}
	defer rows.Close()

	out := map[string][]domain.OpenEvent{}
	for rows.Next() {
		var recordID, openType string
		var ev domain.OpenEvent
		if err := rows.Scan(&recordID, &ev.Timestamp, &ev.UserAgent, &ev.IP, &ev.Referer, &openType,
			&ev.IsReal, &ev.IsSelfView, &ev.InGracePeriod, &ev.Counted,
			&ev.DeviceInfo.OS, &ev.DeviceInfo.Browser, &ev.DeviceInfo.Device,
			&ev.Headers.Via, &ev.Headers.Accept, &ev.Headers.AcceptLanguage, &ev.Headers.AcceptEncoding); err != nil {
			return nil, storageErr("scan open", err)
		}
		ev.OpenType = domain.OpenType(openType)
		out[recordID] = append(out[recordID], ev)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("load opens", err)
	}
	return out, nil
}

func (s *Store) DeleteRecord(ctx context.Context, ownerKey, id string) error {
	ct, err := s.DB.Exec(ctx, `DELETE FROM tracking_records WHERE id=$1 AND owner_key=$2`, id, ownerKey)
	if err != nil {
		return storageErr("delete record", err)
	}
	if ct.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (s *Store) MarkSent(ctx context.Context, ownerKey, id string, now time.Time) (time.Time, error) {
	var sentAt time.Time
	err := s.DB.QueryRow(ctx, `
		UPDATE tracking_records SET sent_at=$3
		WHERE id=$1 AND owner_key=$2 AND sent_at IS NULL
		RETURNING sent_at
	`, id, ownerKey, now).Scan(&sentAt)
	if err == nil {
		return sentAt, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return time.Time{}, storageErr("mark sent", err)
	}

	var existing *time.Time
	err = s.DB.QueryRow(ctx, `SELECT sent_at FROM tracking_records WHERE id=$1 AND owner_key=$2`, id, ownerKey).Scan(&existing)
	if errors.Is(err, pgx.ErrNoRows) {
		return time.Time{}, domain.ErrNotFound
	}
	if err != nil {
		return time.Time{}, storageErr("mark sent", err)
	}
	if existing == nil {
		return time.Time{}, storageErr("mark sent", errors.New("sent_at changed concurrently"))
	}
	return *existing, domain.ErrAlreadySent
}

// AppendOpen holds the record row with SELECT ... FOR UPDATE for the
// duration of the append so concurrent opens serialize per record.
func (s *Store) AppendOpen(ctx context.Context, trackingID string, fn store.OpenAppender) (domain.OpenEvent, bool, error) {
	tx, err := s.DB.Begin(ctx)
	if err != nil {
		return domain.OpenEvent{}, false, storageErr("begin", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	rec, err := scanRecord(tx.QueryRow(ctx, `
		SELECT `+recordColumns+` FROM tracking_records WHERE tracking_id=$1 FOR UPDATE
	`, trackingID))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.OpenEvent{}, false, nil
	}
	if err != nil {
		return domain.OpenEvent{}, false, storageErr("lock record", err)
	}

	ev := fn(&rec)

	_, err = tx.Exec(ctx, `
		INSERT INTO open_events (record_id, opened_at, user_agent, ip, referer, open_type, is_real, is_self_view,
		                         in_grace_period, counted, device_os, device_browser, device_type,
		                         hdr_via, hdr_accept, hdr_accept_language, hdr_accept_encoding)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)
	`, rec.ID, ev.Timestamp, ev.UserAgent, ev.IP, ev.Referer, string(ev.OpenType), ev.IsReal, ev.IsSelfView,
		ev.InGracePeriod, ev.Counted, ev.DeviceInfo.OS, ev.DeviceInfo.Browser, ev.DeviceInfo.Device,
		ev.Headers.Via, ev.Headers.Accept, ev.Headers.AcceptLanguage, ev.Headers.AcceptEncoding)
	if err != nil {
		return domain.OpenEvent{}, true, storageErr("insert open", err)
	}

	_, err = tx.Exec(ctx, `
		UPDATE tracking_records SET open_count=$2, last_opened=$3 WHERE id=$1
	`, rec.ID, rec.OpenCount, rec.LastOpened)
	if err != nil {
		return domain.OpenEvent{}, true, storageErr("update aggregates", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return domain.OpenEvent{}, true, storageErr("commit", err)
	}
	return ev, true, nil
}

func (s *Store) Ping(ctx context.Context) error {
	if err := s.DB.Ping(ctx); err != nil {
		return storageErr("ping", err)
	}
	return nil
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
