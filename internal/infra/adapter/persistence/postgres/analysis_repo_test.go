package postgres_test

import (
	"context"
	"encoding/json"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/go-cmp/cmp"

	"marketfeed/internal/domain/entity"
	"marketfeed/internal/infra/adapter/persistence/postgres"
)

func sampleResult(t *testing.T) *entity.AnalysisResult {
	t.Helper()
	return &entity.AnalysisResult{
		Summary: "Rates held steady.",
		Sentiment: entity.Sentiment{
			Score: 0.2, Label: entity.SentimentPositive, Confidence: 0.9,
		},
		MarketImpact: entity.MarketImpact{
			ShortTerm:       "Mild rally expected.",
			LongTerm:        "Neutral.",
			AffectedSectors: []string{"banking"},
		},
		KeyPoints:         []string{"No change to policy rate"},
		RelatedIndicators: []string{"Fed funds rate"},
		CreatedAt:         time.Date(2026, 3, 2, 15, 0, 0, 0, time.UTC),
	}
}

func mustJSON(t *testing.T, result *entity.AnalysisResult) []byte {
	t.Helper()
	payload, err := json.Marshal(result)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return payload
}

func TestAnalysisRepo_Get(t *testing.T) {
	db, mock, _ := sqlmock.New()
	defer func() { _ = db.Close() }()

	want := sampleResult(t)
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT analysis`)).
		WithArgs("id-1").
		WillReturnRows(sqlmock.NewRows([]string{"analysis"}).AddRow(mustJSON(t, want)))

	repo := postgres.NewAnalysisRepo(db)
	got, err := repo.Get(context.Background(), "id-1")
	if err != nil {
		t.Fatalf("Get err=%v", err)
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("mismatch (-want +got):\n%s", diff)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestAnalysisRepo_GetNotFound(t *testing.T) {
	db, mock, _ := sqlmock.New()
	defer func() { _ = db.Close() }()

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT analysis`)).
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows([]string{"analysis"}))

	repo := postgres.NewAnalysisRepo(db)
	_, err := repo.Get(context.Background(), "missing")
	if !errors.Is(err, entity.ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
}

func TestAnalysisRepo_InsertIfAbsent_Inserts(t *testing.T) {
	db, mock, _ := sqlmock.New()
	defer func() { _ = db.Close() }()

	result := sampleResult(t)
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO article_analysis`)).
		WithArgs("id-1", mustJSON(t, result), result.CreatedAt).
		WillReturnResult(sqlmock.NewResult(1, 1))

	repo := postgres.NewAnalysisRepo(db)
	got, err := repo.InsertIfAbsent(context.Background(), "id-1", result)
	if err != nil {
		t.Fatalf("InsertIfAbsent err=%v", err)
	}
	if diff := cmp.Diff(result, got); diff != "" {
		t.Fatalf("mismatch (-want +got):\n%s", diff)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestAnalysisRepo_InsertIfAbsent_ConflictReturnsStored(t *testing.T) {
	db, mock, _ := sqlmock.New()
	defer func() { _ = db.Close() }()

	attempted := sampleResult(t)
	stored := sampleResult(t)
	stored.Summary = "The earlier writer's summary."

	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO article_analysis`)).
		WithArgs("id-1", mustJSON(t, attempted), attempted.CreatedAt).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT analysis`)).
		WithArgs("id-1").
		WillReturnRows(sqlmock.NewRows([]string{"analysis"}).AddRow(mustJSON(t, stored)))

	repo := postgres.NewAnalysisRepo(db)
	got, err := repo.InsertIfAbsent(context.Background(), "id-1", attempted)
	if err != nil {
		t.Fatalf("InsertIfAbsent err=%v", err)
	}
	if got.Summary != stored.Summary {
		t.Fatalf("want stored winner %q, got %q", stored.Summary, got.Summary)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestAnalysisRepo_InsertIfAbsent_ConflictRowVanished(t *testing.T) {
	db, mock, _ := sqlmock.New()
	defer func() { _ = db.Close() }()

	result := sampleResult(t)
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO article_analysis`)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT analysis`)).
		WillReturnRows(sqlmock.NewRows([]string{"analysis"}))

	repo := postgres.NewAnalysisRepo(db)
	if _, err := repo.InsertIfAbsent(context.Background(), "id-1", result); err == nil {
		t.Fatal("want error when conflict row vanished")
	}
}
