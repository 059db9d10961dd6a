// Package redisstore keeps tracking records as JSON documents in Redis.
//
// Keys:
//
//	mailtrack:owner:{key}        hash   user_id, created_at
//	mailtrack:owner:{key}:recs   zset   record ids scored by created_at
//	mailtrack:rec:{id}           string record document
//	mailtrack:rec:{id}:opens     list   open events in arrival order
//	mailtrack:trk:{trackingId}   string record id
//
// Mutations of one record run as WATCH/MULTI transactions on its document
// key, retried on conflict. A striped in-process lock keeps writers of the
// same process from conflicting with each other.
package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"mailtrack/internal/domain"
	"mailtrack/internal/store"
)

const (
	prefix     = "mailtrack:"
	maxRetries = 50
	stripes    = 64
)

type Store struct {
	client *redis.Client
	locks  [stripes]sync.Mutex
}

var _ store.Repository = (*Store)(nil)

func New(client *redis.Client) *Store {
	return &Store{client: client}
}

// recordDoc is the stored shape; domain.Record hides owner and sender ip
// from API responses.
type recordDoc struct {
	ID          string     `json:"id"`
	TrackingID  string     `json:"trackingId"`
	TrackingURL string     `json:"trackingUrl"`
	Subject     string     `json:"subject"`
	Recipient   string     `json:"recipient"`
	OwnerKey    string     `json:"ownerKey"`
	SenderIP    string     `json:"senderIp"`
	CreatedAt   time.Time  `json:"createdAt"`
	SentAt      *time.Time `json:"sentAt"`
	OpenCount   int        `json:"openCount"`
	LastOpened  *time.Time `json:"lastOpened"`
}

func toDoc(r domain.Record) recordDoc {
	return recordDoc{
		ID: r.ID, TrackingID: r.TrackingID, TrackingURL: r.TrackingURL,
		Subject: r.Subject, Recipient: r.Recipient, OwnerKey: r.OwnerKey, SenderIP: r.SenderIP,
		CreatedAt: r.CreatedAt, SentAt: r.SentAt, OpenCount: r.OpenCount, LastOpened: r.LastOpened,
	}
}

func (d recordDoc) record() domain.Record {
	return domain.Record{
		ID: d.ID, TrackingID: d.TrackingID, TrackingURL: d.TrackingURL,
		Subject: d.Subject, Recipient: d.Recipient, OwnerKey: d.OwnerKey, SenderIP: d.SenderIP,
		CreatedAt: d.CreatedAt, SentAt: d.SentAt, OpenCount: d.OpenCount, LastOpened: d.LastOpened,
		Opens: []domain.OpenEvent{},
	}
}

func ownerKey(key string) string     { return prefix + "owner:" + key }
func ownerRecsKey(key string) string { return prefix + "owner:" + key + ":recs" }
func recKey(id string) string        { return prefix + "rec:" + id }
func opensKey(id string) string      { return prefix + "rec:" + id + ":opens" }
func trackingKey(tid string) string  { return prefix + "trk:" + tid }

func storageErr(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", domain.ErrStorage, op, err)
}

func (s *Store) stripe(id string) *sync.Mutex {
	h := fnv.New32a()
	_, _ = h.Write([]byte(id))
	return &s.locks[h.Sum32()%stripes]
}

func (s *Store) InsertOwner(ctx context.Context, owner domain.Owner) error {
	_, err := s.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.HSetNX(ctx, ownerKey(owner.Key), "created_at", owner.CreatedAt.UTC().Format(time.RFC3339Nano))
		if owner.UserID != "" {
			p.HSetNX(ctx, ownerKey(owner.Key), "user_id", owner.UserID)
		}
		return nil
	})
	if err != nil {
		return storageErr("insert owner", err)
	}
	return nil
}

func (s *Store) EnsureOwner(ctx context.Context, key string, now time.Time) error {
	return s.InsertOwner(ctx, domain.Owner{Key: key, CreatedAt: now})
}

func (s *Store) InsertRecord(ctx context.Context, rec domain.Record) error {
	b, err := json.Marshal(toDoc(rec))
	if err != nil {
		return storageErr("encode record", err)
	}
	ok, err := s.client.SetNX(ctx, trackingKey(rec.TrackingID), rec.ID, 0).Result()
	if err != nil {
		return storageErr("reserve tracking id", err)
	}
	if !ok {
		return fmt.Errorf("%w: duplicate tracking id %s", domain.ErrStorage, rec.TrackingID)
	}
	_, err = s.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Set(ctx, recKey(rec.ID), b, 0)
		p.ZAdd(ctx, ownerRecsKey(rec.OwnerKey), redis.Z{Score: float64(rec.CreatedAt.UnixNano()), Member: rec.ID})
		return nil
	})
	if err != nil {
		_ = s.client.Del(ctx, trackingKey(rec.TrackingID)).Err()
		return storageErr("insert record", err)
	}
	return nil
}

// getter is satisfied by both *redis.Client and *redis.Tx.
type getter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func getDoc(ctx context.Context, c getter, id string) (recordDoc, error) {
	b, err := c.Get(ctx, recKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return recordDoc{}, domain.ErrNotFound
	}
	if err != nil {
		return recordDoc{}, storageErr("get record", err)
	}
	var d recordDoc
	if err := json.Unmarshal(b, &d); err != nil {
		return recordDoc{}, storageErr("decode record", err)
	}
	return d, nil
}

func (s *Store) loadOpens(ctx context.Context, id string) ([]domain.OpenEvent, error) {
	raw, err := s.client.LRange(ctx, opensKey(id), 0, -1).Result()
	if err != nil {
		return nil, storageErr("load opens", err)
	}
	out := make([]domain.OpenEvent, 0, len(raw))
	for _, item := range raw {
		var ev domain.OpenEvent
		if err := json.Unmarshal([]byte(item), &ev); err != nil {
			return nil, storageErr("decode open", err)
		}
		out = append(out, ev)
	}
	return out, nil
}

func (s *Store) ListRecords(ctx context.Context, owner string) ([]domain.Record, error) {
	ids, err := s.client.ZRevRange(ctx, ownerRecsKey(owner), 0, -1).Result()
	if err != nil {
		return nil, storageErr("list records", err)
	}
	out := make([]domain.Record, 0, len(ids))
	for _, id := range ids {
		d, err := getDoc(ctx, s.client, id)
		if errors.Is(err, domain.ErrNotFound) {
			continue // deleted between the range and the read
		}
		if err != nil {
			return nil, err
		}
		rec := d.record()
		if rec.Opens, err = s.loadOpens(ctx, id); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

func (s *Store) GetRecord(ctx context.Context, owner, id string) (domain.Record, error) {
	d, err := getDoc(ctx, s.client, id)
	if err != nil {
		return domain.Record{}, err
	}
	if d.OwnerKey != owner {
		return domain.Record{}, domain.ErrNotFound
	}
	rec := d.record()
	if rec.Opens, err = s.loadOpens(ctx, id); err != nil {
		return domain.Record{}, err
	}
	return rec, nil
}

// update runs fn inside a WATCH on the record document, retrying when a
// concurrent writer touched it first.
func (s *Store) update(ctx context.Context, id string, fn func(tx *redis.Tx) error) error {
	mu := s.stripe(id)
	mu.Lock()
	defer mu.Unlock()

	for i := 0; i < maxRetries; i++ {
		err := s.client.Watch(ctx, fn, recKey(id))
		if errors.Is(err, redis.TxFailedErr) {
			time.Sleep(time.Duration(i+1) * time.Millisecond)
			continue
		}
		return err
	}
	return storageErr("update record", errors.New("too many concurrent writers"))
}

func (s *Store) DeleteRecord(ctx context.Context, owner, id string) error {
	return s.update(ctx, id, func(tx *redis.Tx) error {
		d, err := getDoc(ctx, tx, id)
		if err != nil {
			return err
		}
		if d.OwnerKey != owner {
			return domain.ErrNotFound
		}
		_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
			p.Del(ctx, recKey(id), opensKey(id), trackingKey(d.TrackingID))
			p.ZRem(ctx, ownerRecsKey(owner), id)
			return nil
		})
		return err
	})
}

func (s *Store) MarkSent(ctx context.Context, owner, id string, now time.Time) (time.Time, error) {
	var sentAt time.Time
	err := s.update(ctx, id, func(tx *redis.Tx) error {
		d, err := getDoc(ctx, tx, id)
		if err != nil {
			return err
		}
		if d.OwnerKey != owner {
			return domain.ErrNotFound
		}
		if d.SentAt != nil {
			sentAt = *d.SentAt
			return domain.ErrAlreadySent
		}
		ts := now
		d.SentAt = &ts
		b, err := json.Marshal(d)
		if err != nil {
			return storageErr("encode record", err)
		}
		_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
			p.Set(ctx, recKey(id), b, 0)
			return nil
		})
		sentAt = ts
		return err
	})
	return sentAt, err
}

func (s *Store) AppendOpen(ctx context.Context, trackingID string, fn store.OpenAppender) (domain.OpenEvent, bool, error) {
	id, err := s.client.Get(ctx, trackingKey(trackingID)).Result()
	if errors.Is(err, redis.Nil) {
		return domain.OpenEvent{}, false, nil
	}
	if err != nil {
		return domain.OpenEvent{}, false, storageErr("lookup tracking id", err)
	}

	var ev domain.OpenEvent
	err = s.update(ctx, id, func(tx *redis.Tx) error {
		d, err := getDoc(ctx, tx, id)
		if err != nil {
			return err
		}
		rec := d.record()
		ev = fn(&rec)

		doc, err := json.Marshal(toDoc(rec))
		if err != nil {
			return storageErr("encode record", err)
		}
		evb, err := json.Marshal(ev)
		if err != nil {
			return storageErr("encode open", err)
		}
		_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
			p.Set(ctx, recKey(id), doc, 0)
			p.RPush(ctx, opensKey(id), evb)
			return nil
		})
		return err
	})
	if errors.Is(err, domain.ErrNotFound) {
		return domain.OpenEvent{}, false, nil
	}
	if err != nil {
		if !errors.Is(err, domain.ErrStorage) {
			err = storageErr("append open", err)
		}
		return domain.OpenEvent{}, true, err
	}
	return ev, true, nil
}

func (s *Store) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return storageErr("ping", err)
	}
	return nil
}
