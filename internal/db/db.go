package db

import (
	"log"

	gormsqlite "github.com/glebarez/sqlite"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"

	"github.com/solace-app/coachsync/internal/session"
)

// Connect opens the session document store. An empty DSN falls back to
// an in-process sqlite database for local development.
func Connect(dsn string) *gorm.DB {
	var (
		gdb *gorm.DB
		err error
	)
	if dsn == "" {
		gdb, err = gorm.Open(gormsqlite.Open("file:coachsync-dev?mode=memory&cache=shared"), &gorm.Config{})
	} else {
		gdb, err = gorm.Open(mysql.Open(dsn), &gorm.Config{})
	}
	if err != nil {
		log.Fatalf("db connect: %v", err)
	}

	if err := gdb.AutoMigrate(&session.Document{}); err != nil {
		log.Fatalf("db migrate: %v", err)
	}
	return gdb
}
