package report

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teranos/keywatch/db"
	"github.com/teranos/keywatch/errors"
	kwtest "github.com/teranos/keywatch/internal/testing"
	"github.com/teranos/keywatch/pulse/schedule"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s := NewStore(kwtest.CreateTestDB(t))
	base := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	var tick int
	s.now = func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Minute)
	}
	return s
}

func sampleReport() *schedule.Report {
	created := time.Date(2026, 3, 14, 8, 0, 0, 0, time.UTC)
	return &schedule.Report{
		Owner:        "alice",
		Query:        "golang",
		Summary:      "Go is trending",
		FullReport:   "Go is trending[2]. Generics landed[1]. Again[2]. Unknown[9].",
		ScheduleID:   "sched-1",
		SessionID:    "schedule_sched-1_0a1b2c3d",
		ReportLength: schedule.ReportDetailed,
		Sources:      []string{"reddit", "hackernews"},
		PostCount:    3,
		Citations: []schedule.Citation{
			{Index: 1, URL: "https://reddit.com/r/golang/1", Title: "Generics", Source: "reddit", Score: 300, Comments: 40, CreatedAt: created},
			{Index: 2, URL: "https://news.ycombinator.com/item?id=2", Title: "Trending", Source: "hackernews", Score: 90},
			{Index: 3, URL: "https://reddit.com/r/golang/3", Title: "Not cited", Source: "reddit"},
		},
	}
}

func TestSave_PersistsReportAndCitedLinks(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	id, err := s.Save(ctx, sampleReport())
	require.NoError(t, err)
	require.NotEmpty(t, id)

	got, err := s.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "alice", got.Owner)
	assert.Equal(t, "golang", got.Query)
	assert.Equal(t, "sched-1", got.ScheduleID)
	assert.Equal(t, "schedule_sched-1_0a1b2c3d", got.SessionID)
	assert.Equal(t, "detailed", got.ReportLength)
	assert.Equal(t, Metadata{Sources: []string{"reddit", "hackernews"}, PostCount: 3, ScheduleID: "sched-1"}, got.Metadata)

	require.Len(t, got.Links, 2, "only cited footnotes with a mapping")
	assert.Equal(t, 1, got.Links[0].Footnote)
	assert.Equal(t, "https://reddit.com/r/golang/1", got.Links[0].URL)
	assert.Equal(t, 40, got.Links[0].Comments)
	require.NotNil(t, got.Links[0].CreatedAt)
	assert.True(t, got.Links[0].CreatedAt.Equal(time.Date(2026, 3, 14, 8, 0, 0, 0, time.UTC)))
	assert.Equal(t, 2, got.Links[1].Footnote)
	assert.Nil(t, got.Links[1].CreatedAt)
}

func TestSave_Defaults(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	id, err := s.Save(ctx, &schedule.Report{Owner: "bob", Query: "rust", Summary: "s", FullReport: "no footnotes"})
	require.NoError(t, err)

	got, err := s.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "moderate", got.ReportLength)
	assert.Empty(t, got.ScheduleID)
	assert.Empty(t, got.Links)
}

func TestSave_RejectsIncompleteReport(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Save(context.Background(), &schedule.Report{Query: "golang"})
	assert.True(t, errors.Is(err, errors.ErrInvalidRequest))
}

func TestExtractLinks_InlineFallback(t *testing.T) {
	report := "Claim[1](https://a.example/1). Other[2](http://b.example/2). Repeat[1](https://a.example/1). Bare[3]."
	links := ExtractLinks(report, nil)

	require.Len(t, links, 2)
	assert.Equal(t, Link{Footnote: 1, URL: "https://a.example/1"}, links[0])
	assert.Equal(t, Link{Footnote: 2, URL: "http://b.example/2"}, links[1])
}

func TestCitedIndexes(t *testing.T) {
	assert.Equal(t, []int{3, 1, 2}, CitedIndexes("a[3] b[1] c[3] d[2]"))
	assert.Empty(t, CitedIndexes("no footnotes [x]"))
}

func TestListByOwner_NewestFirst(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	first, err := s.Save(ctx, &schedule.Report{Owner: "alice", Query: "one", FullReport: "x"})
	require.NoError(t, err)
	second, err := s.Save(ctx, &schedule.Report{Owner: "alice", Query: "two", FullReport: "x"})
	require.NoError(t, err)
	_, err = s.Save(ctx, &schedule.Report{Owner: "bob", Query: "three", FullReport: "x"})
	require.NoError(t, err)

	got, err := s.ListByOwner(ctx, "alice", 0)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, second, got[0].ID)
	assert.Equal(t, first, got[1].ID)

	got, err = s.ListByOwner(ctx, "alice", 1)
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestDelete(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	id, err := s.Save(ctx, sampleReport())
	require.NoError(t, err)

	err = s.Delete(ctx, id, "mallory")
	assert.True(t, errors.IsNotFoundError(err), "other owners cannot delete")

	require.NoError(t, s.Delete(ctx, id, "alice"))

	_, err = s.Get(ctx, id)
	assert.True(t, errors.IsNotFoundError(err))
	links, err := s.Links(ctx, id)
	require.NoError(t, err)
	assert.Empty(t, links)
}

func TestSave_StoreUnavailable(t *testing.T) {
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer sqlDB.Close()

	mock.ExpectBegin().WillReturnError(&net.OpError{Op: "dial", Net: "tcp", Err: errors.New("connection refused")})

	s := NewStore(db.Wrap(sqlDB, db.DialectPostgres))
	_, err = s.Save(context.Background(), sampleReport())
	require.Error(t, err)
	assert.True(t, errors.IsStoreUnavailable(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}
