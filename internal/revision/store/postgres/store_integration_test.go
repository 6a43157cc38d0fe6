//go:build integration

package postgres_test

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"revtrail/internal/revision/models"
	"revtrail/internal/revision/store/postgres"
	"revtrail/pkg/platform/sentinel"
	txcontext "revtrail/pkg/platform/tx"
	"revtrail/pkg/testutil/containers"
)

type PostgresStoreSuite struct {
	suite.Suite
	postgres *containers.PostgresContainer
	store    *postgres.Store
}

func TestPostgresStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(PostgresStoreSuite))
}

func (s *PostgresStoreSuite) SetupSuite() {
	s.postgres = containers.NewPostgresContainer(s.T())
	s.store = postgres.New(s.postgres.DB)
	s.Require().NoError(s.store.EnsureSchema(context.Background()))
}

func (s *PostgresStoreSuite) SetupTest() {
	s.Require().NoError(s.postgres.TruncateTables(context.Background(), "revisions"))
}

func (s *PostgresStoreSuite) append(entity string, entityID int64, ts time.Time) *models.Revision {
	rev := &models.Revision{
		Timestamp:  ts.UnixMilli(),
		Username:   "alice",
		IPAddress:  "10.0.0.1",
		UserAgent:  "integration-test",
		Type:       models.TypeUpdate,
		EntityName: entity,
		EntityID:   entityID,
		Changes:    models.ChangeSet{models.NewUpdateChange("price", 10, 12)},
	}
	s.Require().NoError(s.store.Append(context.Background(), rev))
	return rev
}

func (s *PostgresStoreSuite) TestAppendAndGetByID() {
	ctx := context.Background()

	rev := &models.Revision{
		Timestamp:  time.Now().UnixMilli(),
		Username:   "bob",
		IPAddress:  "192.168.1.7",
		UserAgent:  "Mozilla/5.0",
		Type:       models.TypeInsert,
		EntityName: "product",
		EntityID:   42,
		Changes: models.ChangeSet{
			models.NewInsertChange("name", "widget"),
			models.NewInsertChange("price", 10),
		},
		Reason: "initial import",
	}
	s.Require().NoError(s.store.Append(ctx, rev))
	s.Positive(rev.ID)

	got, err := s.store.GetByID(ctx, rev.ID)
	s.Require().NoError(err)
	s.Equal(rev.Username, got.Username)
	s.Equal(rev.IPAddress, got.IPAddress)
	s.Equal(rev.UserAgent, got.UserAgent)
	s.Equal(models.TypeInsert, got.Type)
	s.Equal(rev.Reason, got.Reason)
	s.False(got.Compressed)

	name, ok := got.Changes.Get("name")
	s.Require().True(ok)
	s.Equal("widget", name.New)
}

func (s *PostgresStoreSuite) TestGetByIDNotFound() {
	_, err := s.store.GetByID(context.Background(), 99999)
	s.ErrorIs(err, sentinel.ErrNotFound)
}

func (s *PostgresStoreSuite) TestLatestBreaksTimestampTiesByID() {
	ctx := context.Background()
	ts := time.Now()

	s.append("order", 7, ts)
	second := s.append("order", 7, ts)

	got, err := s.store.Latest(ctx, "order", 7)
	s.Require().NoError(err)
	s.Equal(second.ID, got.ID)

	_, err = s.store.Latest(ctx, "order", 8)
	s.ErrorIs(err, sentinel.ErrNotFound)
}

func (s *PostgresStoreSuite) TestListByEntityPagination() {
	ctx := context.Background()
	base := time.Now().Add(-time.Hour)
	for i := 0; i < 5; i++ {
		s.append("product", 1, base.Add(time.Duration(i)*time.Second))
	}

	page1, err := s.store.ListByEntity(ctx, "product", 1, models.Page{Limit: 3})
	s.Require().NoError(err)
	s.Require().Len(page1, 3)
	s.Equal(base.UnixMilli(), page1[0].Timestamp)

	page2, err := s.store.ListByEntity(ctx, "product", 1, models.Page{Limit: 3, Offset: 3})
	s.Require().NoError(err)
	s.Len(page2, 2)
}

func (s *PostgresStoreSuite) TestSearchCombinesCriteria() {
	ctx := context.Background()
	now := time.Now()

	s.append("product", 1, now.Add(-time.Minute))
	s.append("product", 2, now.Add(-time.Minute))
	s.append("order", 1, now.Add(-time.Minute))
	s.append("product", 1, now.Add(-48*time.Hour))

	got, err := s.store.Search(ctx, models.SearchCriteria{
		EntityName: "product",
		EntityID:   1,
		Username:   "alice",
		From:       now.Add(-time.Hour),
	}, models.Page{Limit: 10})
	s.Require().NoError(err)
	s.Require().Len(got, 1)
	s.Equal(int64(1), got[0].EntityID)
}

func (s *PostgresStoreSuite) TestDeleteOlderThanRunsInBatches() {
	ctx := context.Background()
	old := time.Now().Add(-30 * 24 * time.Hour)
	for i := 0; i < 7; i++ {
		s.append("product", int64(i), old)
	}
	s.append("product", 100, time.Now())

	// Batch size smaller than the expired set forces multiple delete rounds.
	deleted, err := s.store.DeleteOlderThan(ctx, time.Now().Add(-24*time.Hour), 3)
	s.Require().NoError(err)
	s.EqualValues(7, deleted)

	n, err := s.store.CountByUsername(ctx, "alice")
	s.Require().NoError(err)
	s.EqualValues(1, n)

	deleted, err = s.store.DeleteOlderThan(ctx, time.Now().Add(-24*time.Hour), 3)
	s.Require().NoError(err)
	s.Zero(deleted)
}

func (s *PostgresStoreSuite) TestDeleteExcessKeepsNewestPerEntity() {
	ctx := context.Background()
	base := time.Now().Add(-time.Hour)
	for i := 0; i < 12; i++ {
		s.append("product", 1, base.Add(time.Duration(i)*time.Second))
	}
	s.append("order", 1, base)

	deleted, err := s.store.DeleteExcess(ctx, 5, 4)
	s.Require().NoError(err)
	s.EqualValues(7, deleted)

	survivors, err := s.store.ListByEntity(ctx, "product", 1, models.Page{Limit: 20})
	s.Require().NoError(err)
	s.Require().Len(survivors, 5)
	s.Equal(base.Add(7*time.Second).UnixMilli(), survivors[0].Timestamp)

	n, err := s.store.CountByEntity(ctx, "order", 1)
	s.Require().NoError(err)
	s.EqualValues(1, n)
}

func (s *PostgresStoreSuite) TestCompressionRoundTrip() {
	ctx := context.Background()

	big := strings.Repeat("lorem ipsum ", 512)
	rev := &models.Revision{
		Timestamp:  time.Now().UnixMilli(),
		Username:   "alice",
		Type:       models.TypeInsert,
		EntityName: "document",
		EntityID:   1,
		Changes:    models.ChangeSet{models.NewInsertChange("body", big)},
	}
	s.Require().NoError(s.store.Append(ctx, rev))

	rows, err := s.store.ListCompressible(ctx, 1024, 10)
	s.Require().NoError(err)
	s.Require().Len(rows, 1)
	s.Equal(rev.ID, rows[0].ID)

	compressed, err := models.Compress(rows[0].Payload)
	s.Require().NoError(err)
	s.Less(len(compressed), len(rows[0].Payload))
	s.Require().NoError(s.store.CompressChanges(ctx, rev.ID, compressed))

	got, err := s.store.GetByID(ctx, rev.ID)
	s.Require().NoError(err)
	s.True(got.Compressed)
	body, ok := got.Changes.Get("body")
	s.Require().True(ok)
	s.Equal(big, body.New)

	// Already-compressed rows are no longer candidates.
	rows, err = s.store.ListCompressible(ctx, 1024, 10)
	s.Require().NoError(err)
	s.Empty(rows)
	s.ErrorIs(s.store.CompressChanges(ctx, rev.ID, compressed), sentinel.ErrNotFound)
}

func (s *PostgresStoreSuite) TestStatsWindows() {
	ctx := context.Background()
	now := time.Now()

	s.append("product", 1, now.Add(-2*time.Hour))
	s.append("product", 2, now.Add(-3*24*time.Hour))
	s.append("product", 3, now.Add(-20*24*time.Hour))
	s.append("product", 4, now.Add(-60*24*time.Hour))

	stats, err := s.store.Stats(ctx, now)
	s.Require().NoError(err)
	s.EqualValues(4, stats.Total)
	s.EqualValues(1, stats.Last24h)
	s.EqualValues(2, stats.Last7d)
	s.EqualValues(3, stats.Last30d)
	s.EqualValues(4, stats.ByType[models.TypeUpdate])
}

func (s *PostgresStoreSuite) TestAppendJoinsCallerTransaction() {
	ctx := context.Background()

	tx, err := s.postgres.DB.BeginTx(ctx, nil)
	s.Require().NoError(err)

	rev := &models.Revision{
		Timestamp:  time.Now().UnixMilli(),
		Username:   "alice",
		Type:       models.TypeInsert,
		EntityName: "product",
		EntityID:   1,
		Changes:    models.ChangeSet{models.NewInsertChange("name", "widget")},
	}
	s.Require().NoError(s.store.Append(txcontext.WithTx(ctx, tx), rev))
	s.Require().NoError(tx.Rollback())

	// The audit row lives and dies with the caller's transaction.
	_, err = s.store.GetByID(ctx, rev.ID)
	s.ErrorIs(err, sentinel.ErrNotFound)
}

func (s *PostgresStoreSuite) TestConcurrentAppends() {
	ctx := context.Background()
	const goroutines = 20

	var wg sync.WaitGroup
	var failures atomic.Int32
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			rev := &models.Revision{
				Timestamp:  time.Now().UnixMilli(),
				Username:   "alice",
				Type:       models.TypeUpdate,
				EntityName: "product",
				EntityID:   int64(idx),
				Changes:    models.ChangeSet{models.NewUpdateChange("price", 10, 12)},
			}
			if err := s.store.Append(ctx, rev); err != nil {
				failures.Add(1)
			}
		}(i)
	}
	wg.Wait()

	s.Zero(failures.Load())
	n, err := s.store.CountByUsername(ctx, "alice")
	s.Require().NoError(err)
	s.EqualValues(goroutines, n)
}
