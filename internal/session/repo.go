package session

import (
	"context"
	"errors"
	"log"
	"time"

	"gorm.io/gorm"

	"github.com/solace-app/coachsync/internal/common"
	"github.com/solace-app/coachsync/internal/feed"
	"github.com/solace-app/coachsync/internal/message"
)

// Repo is the remote session store. All mutation goes through the upsert
// paths below; nothing patches fields without re-reading first.
type Repo struct {
	db   *gorm.DB
	feed feed.Publisher // optional; nil disables change events
}

func NewRepo(db *gorm.DB, pub feed.Publisher) *Repo {
	return &Repo{db: db, feed: pub}
}

// Fetch returns the default-kind document for userID. Absence is a valid
// non-error outcome. If duplicates ever exist for the key, the most
// recently updated one wins.
func (r *Repo) Fetch(ctx context.Context, userID uint64) (*Document, bool, error) {
	var d Document
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND kind = ?", userID, KindDefault).
		Order("updated_at DESC").
		First(&d).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return &d, true, nil
}

func (r *Repo) FetchByDocID(ctx context.Context, userID uint64, docID string) (*Document, bool, error) {
	var d Document
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND doc_id = ?", userID, docID).
		First(&d).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return &d, true, nil
}

// UpsertDefault writes msgs as the full message array of the user's
// default document, creating it lazily on first write. The existence
// re-query happens immediately before the create decision so two racing
// writers converge on one document instead of creating a second.
func (r *Repo) UpsertDefault(ctx context.Context, userID uint64, msgs []message.Message) (*Document, error) {
	encoded, err := encodeMessages(msgs)
	if err != nil {
		return nil, err
	}

	existing, ok, err := r.Fetch(ctx, userID)
	if err != nil {
		return nil, err
	}
	if ok {
		if err := r.db.WithContext(ctx).Model(&Document{}).
			Where("id = ?", existing.ID).
			Updates(map[string]any{
				"messages":   encoded,
				"updated_at": time.Now(),
			}).Error; err != nil {
			return nil, err
		}
		existing.Messages = encoded
		r.notify(ctx, existing)
		return existing, nil
	}

	docID, err := common.NewULID()
	if err != nil {
		return nil, err
	}
	d := &Document{
		DocID:    docID,
		UserID:   userID,
		Kind:     KindDefault,
		Messages: encoded,
	}
	if err := r.db.WithContext(ctx).Create(d).Error; err != nil {
		return nil, err
	}
	r.notify(ctx, d)
	return d, nil
}

// CreateBreakout spawns a new breakout document linked back to the
// session it was derived from.
func (r *Repo) CreateBreakout(ctx context.Context, userID uint64, parentDocID string, msgs []message.Message) (*Document, error) {
	encoded, err := encodeMessages(msgs)
	if err != nil {
		return nil, err
	}
	docID, err := common.NewULID()
	if err != nil {
		return nil, err
	}
	d := &Document{
		DocID:       docID,
		UserID:      userID,
		Kind:        KindBreakout,
		ParentDocID: &parentDocID,
		Messages:    encoded,
	}
	if err := r.db.WithContext(ctx).Create(d).Error; err != nil {
		return nil, err
	}
	r.notify(ctx, d)
	return d, nil
}

// SaveDoc replaces the message array of an existing document by DocID.
// Used for breakout sessions, which are never keyed by (user, kind).
func (r *Repo) SaveDoc(ctx context.Context, userID uint64, docID string, msgs []message.Message) error {
	encoded, err := encodeMessages(msgs)
	if err != nil {
		return err
	}
	res := r.db.WithContext(ctx).Model(&Document{}).
		Where("user_id = ? AND doc_id = ?", userID, docID).
		Updates(map[string]any{
			"messages":   encoded,
			"updated_at": time.Now(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	r.notify(ctx, &Document{UserID: userID, Kind: KindBreakout, DocID: docID})
	return nil
}

// DeleteDefault removes the user's default document(s). Only the explicit
// user-initiated reset goes through here.
func (r *Repo) DeleteDefault(ctx context.Context, userID uint64) error {
	return r.db.WithContext(ctx).
		Where("user_id = ? AND kind = ?", userID, KindDefault).
		Delete(&Document{}).Error
}

// CountForKey exists for the single-document invariant check.
func (r *Repo) CountForKey(ctx context.Context, userID uint64, kind Kind) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&Document{}).
		Where("user_id = ? AND kind = ?", userID, kind).
		Count(&n).Error
	return n, err
}

// notify publishes a change event; failures are logged and swallowed,
// a missed event only delays reconciliation until the next write.
func (r *Repo) notify(ctx context.Context, d *Document) {
	if r.feed == nil {
		return
	}
	ev := feed.Event{
		UserID:    d.UserID,
		Kind:      string(d.Kind),
		DocID:     d.DocID,
		UpdatedAt: d.UpdatedAt,
	}
	if err := r.feed.Publish(ctx, ev); err != nil {
		log.Printf("[session] publish change event user=%d doc=%s err=%v", d.UserID, d.DocID, err)
	}
}
