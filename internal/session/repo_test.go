package session

import (
	"context"
	"fmt"
	"testing"
	"time"

	gormsqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"

	"github.com/solace-app/coachsync/internal/message"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(gormsqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if sqlDB, err := db.DB(); err == nil {
		sqlDB.SetMaxOpenConns(1)
	}
	if err := db.AutoMigrate(&Document{}); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

func TestUpsertDefault_SingleDocumentInvariant(t *testing.T) {
	db := openTestDB(t)
	repo := NewRepo(db, nil)
	ctx := context.Background()

	msgs := []message.Message{
		message.Greeting("hi"),
		message.New(message.RoleUser, "Hello"),
	}

	first, err := repo.UpsertDefault(ctx, 1, msgs)
	if err != nil {
		t.Fatalf("first upsert: %v", err)
	}

	// repeated upserts must update in place, never create a second doc
	for i := 0; i < 5; i++ {
		msgs = append(msgs, message.New(message.RoleAssistant, "reply"))
		if _, err := repo.UpsertDefault(ctx, 1, msgs); err != nil {
			t.Fatalf("upsert %d: %v", i, err)
		}
	}

	n, err := repo.CountForKey(ctx, 1, KindDefault)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected exactly 1 document, got %d", n)
	}

	d, ok, err := repo.Fetch(ctx, 1)
	if err != nil || !ok {
		t.Fatalf("fetch: ok=%v err=%v", ok, err)
	}
	if d.DocID != first.DocID {
		t.Fatalf("doc id changed across upserts: %q vs %q", d.DocID, first.DocID)
	}
	got, err := d.DecodeMessages()
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(got) != 7 {
		t.Fatalf("expected 7 messages, got %d", len(got))
	}
}

func TestFetch_NoSessionIsNotAnError(t *testing.T) {
	db := openTestDB(t)
	repo := NewRepo(db, nil)

	d, ok, err := repo.Fetch(context.Background(), 42)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if ok || d != nil {
		t.Fatalf("expected absence, got %+v", d)
	}
}

func TestFetch_DuplicateDocsMostRecentWins(t *testing.T) {
	db := openTestDB(t)
	repo := NewRepo(db, nil)
	ctx := context.Background()

	// simulate a historical create race: two docs for the same key
	stale := &Document{DocID: "01STALE00000000000000000000", UserID: 9, Kind: KindDefault, Messages: `[]`}
	if err := db.Create(stale).Error; err != nil {
		t.Fatalf("seed stale: %v", err)
	}
	fresh := &Document{DocID: "01FRESH00000000000000000000", UserID: 9, Kind: KindDefault, Messages: `[]`}
	if err := db.Create(fresh).Error; err != nil {
		t.Fatalf("seed fresh: %v", err)
	}
	// bump fresh's updated_at explicitly
	if err := db.Model(fresh).Update("updated_at", stale.UpdatedAt.Add(time.Second)).Error; err != nil {
		t.Fatalf("bump: %v", err)
	}

	d, ok, err := repo.Fetch(ctx, 9)
	if err != nil || !ok {
		t.Fatalf("fetch: ok=%v err=%v", ok, err)
	}
	if d.DocID != fresh.DocID {
		t.Fatalf("expected most recently updated doc, got %q", d.DocID)
	}
}

func TestCreateBreakout_LinksParent(t *testing.T) {
	db := openTestDB(t)
	repo := NewRepo(db, nil)
	ctx := context.Background()

	parent, err := repo.UpsertDefault(ctx, 3, []message.Message{message.New(message.RoleUser, "hi")})
	if err != nil {
		t.Fatalf("parent upsert: %v", err)
	}

	b, err := repo.CreateBreakout(ctx, 3, parent.DocID, nil)
	if err != nil {
		t.Fatalf("create breakout: %v", err)
	}
	if b.Kind != KindBreakout || b.ParentDocID == nil || *b.ParentDocID != parent.DocID {
		t.Fatalf("unexpected breakout doc: %+v", b)
	}
	if b.DocID == parent.DocID {
		t.Fatalf("breakout must get its own doc id")
	}

	msgs := []message.Message{message.New(message.RoleUser, "breakout msg")}
	if err := repo.SaveDoc(ctx, 3, b.DocID, msgs); err != nil {
		t.Fatalf("save breakout: %v", err)
	}
	got, ok, err := repo.FetchByDocID(ctx, 3, b.DocID)
	if err != nil || !ok {
		t.Fatalf("fetch breakout: ok=%v err=%v", ok, err)
	}
	decoded, err := got.DecodeMessages()
	if err != nil || len(decoded) != 1 {
		t.Fatalf("decode breakout: %v len=%d", err, len(decoded))
	}
}

func TestDeleteDefault(t *testing.T) {
	db := openTestDB(t)
	repo := NewRepo(db, nil)
	ctx := context.Background()

	if _, err := repo.UpsertDefault(ctx, 5, []message.Message{message.New(message.RoleUser, "x")}); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if err := repo.DeleteDefault(ctx, 5); err != nil {
		t.Fatalf("delete: %v", err)
	}
	_, ok, err := repo.Fetch(ctx, 5)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if ok {
		t.Fatalf("expected document gone after reset")
	}
}
