package history

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/suite"
	"go.uber.org/zap/zaptest"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

type StoreSuite struct {
	suite.Suite
	store *Store
}

func (s *StoreSuite) SetupTest() {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	s.Require().NoError(err)
	sqlDB, err := db.DB()
	s.Require().NoError(err)
	// Each pooled connection would otherwise get its own empty database.
	sqlDB.SetMaxOpenConns(1)

	s.store, err = New(db, 3, zaptest.NewLogger(s.T()))
	s.Require().NoError(err)
}

func (s *StoreSuite) TearDownTest() {
	s.NoError(s.store.Close())
}

func (s *StoreSuite) TestKeepsNewestPerClient() {
	ctx := context.Background()
	for i := 1; i <= 5; i++ {
		s.Require().NoError(s.store.Record(ctx, Entry{
			ClientID: "user:a",
			Action:   "polish",
			Input:    fmt.Sprintf("in %d", i),
			Output:   fmt.Sprintf("out %d", i),
		}))
	}
	s.Require().NoError(s.store.Record(ctx, Entry{ClientID: "ip:b", Action: "expand", Input: "x", Output: "y"}))

	entries, err := s.store.Recent(ctx, "user:a")
	s.Require().NoError(err)
	s.Require().Len(entries, 3)
	s.Equal("out 5", entries[0].Output)
	s.Equal("out 3", entries[2].Output)

	var total int64
	s.Require().NoError(s.store.db.Model(&Entry{}).Where("client_id = ?", "user:a").Count(&total).Error)
	s.EqualValues(3, total)

	other, err := s.store.Recent(ctx, "ip:b")
	s.Require().NoError(err)
	s.Len(other, 1)
}

func (s *StoreSuite) TestUnknownClientIsEmpty() {
	entries, err := s.store.Recent(context.Background(), "nobody")
	s.Require().NoError(err)
	s.Empty(entries)
}

func (s *StoreSuite) TestRecordRequiresClient() {
	s.Error(s.store.Record(context.Background(), Entry{Action: "polish"}))
}

func TestStoreSuite(t *testing.T) {
	suite.Run(t, new(StoreSuite))
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	_, err := Open(Config{Driver: "oracle"}, nil)
	assert.Error(t, err)
	_, err = Open(Config{Driver: "postgres"}, nil)
	assert.Error(t, err)
}
