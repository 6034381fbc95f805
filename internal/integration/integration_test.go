package integration

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	goredis "github.com/redis/go-redis/v9"
	tc "github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
	"github.com/uptrace/bun/migrate"

	"github.com/jackc/pgx/v4/pgxpool"

	"survival-quiz-service/internal/app"
	"survival-quiz-service/internal/domain"
	pginfra "survival-quiz-service/internal/infra/postgres"
	pgmigrations "survival-quiz-service/internal/infra/postgres/migrations"
	redisinfra "survival-quiz-service/internal/infra/redis"
)

func TestSurvivalSessionEndToEnd(t *testing.T) {
	ctx := context.Background()

	pgURL, pgCleanup := startPostgres(t, ctx)
	defer pgCleanup()
	redisAddr, redisCleanup := startRedis(t, ctx)
	defer redisCleanup()

	seedQuiz(t, ctx, pgURL, sampleQuiz())

	pool, err := pgxpool.Connect(ctx, pgURL)
	if err != nil {
		t.Fatalf("connect pg: %v", err)
	}
	defer pool.Close()

	redisClient := goredis.NewClient(&goredis.Options{Addr: redisAddr})
	defer redisClient.Close()

	store := pginfra.NewStore(pool)
	quizRepo := redisinfra.NewQuizRepository(redisClient, pginfra.NewQuizLoader(pool), 5*time.Minute)
	bus := redisinfra.NewEventBus(redisClient)
	service := app.NewSessionService(store, quizRepo, bus)

	session, err := service.CreateSession(ctx, "quiz-1", "host-1")
	if err != nil {
		t.Fatalf("create session: %v", err)
	}

	events, cancel, err := service.Subscribe(ctx, session.PIN)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer cancel()

	// The nickname uniqueness race resolves at the real constraint: exactly
	// one of the concurrent joins wins.
	const joiners = 8
	var wg sync.WaitGroup
	joinErrs := make([]error, joiners)
	for i := 0; i < joiners; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, joinErrs[i] = service.Join(ctx, session.PIN, "Sara")
		}(i)
	}
	wg.Wait()
	winners := 0
	for _, err := range joinErrs {
		switch {
		case err == nil:
			winners++
		case errors.Is(err, domain.ErrNicknameTaken):
		default:
			t.Fatalf("unexpected join error: %v", err)
		}
	}
	if winners != 1 {
		t.Fatalf("expected one winner of the nickname race, got %d", winners)
	}

	ali, err := service.Join(ctx, session.PIN, "Ali")
	if err != nil {
		t.Fatalf("join: %v", err)
	}

	if _, err := service.AdvanceToQuestion(ctx, session.PIN, session.HostToken, 0); err != nil {
		t.Fatalf("advance: %v", err)
	}
	waitForEvent(t, events, domain.EventNewQuestion)

	result, err := service.SubmitAnswer(ctx, session.PIN, ali.ID, "q1", "o2", 1100)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if !result.Correct || result.PointsEarned != 1 || result.TotalScore != 1 {
		t.Fatalf("expected correct answer worth 1, got %+v", result)
	}

	// The response primary key rejects the retry without touching the score.
	if _, err := service.SubmitAnswer(ctx, session.PIN, ali.ID, "q1", "o2", 1100); !errors.Is(err, domain.ErrDuplicateSubmission) {
		t.Fatalf("expected duplicate submission, got %v", err)
	}

	lb, err := service.Finish(ctx, session.PIN, session.HostToken)
	if err != nil {
		t.Fatalf("finish: %v", err)
	}
	if len(lb.Entries) != 2 || lb.Entries[0].Nickname != "Ali" || lb.Entries[0].Score != 1 {
		t.Fatalf("unexpected leaderboard %+v", lb.Entries)
	}

	// Finished sessions free their PIN but stay readable.
	state, err := service.CurrentQuestionFor(ctx, session.PIN, ali.ID)
	if err != nil {
		t.Fatalf("state after finish: %v", err)
	}
	if state.Kind != domain.StateFinished {
		t.Fatalf("expected finished state, got %+v", state)
	}
}

func waitForEvent(t *testing.T, events <-chan domain.Event, eventType string) {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case event := <-events:
			if event.Type == eventType {
				return
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s", eventType)
		}
	}
}

func startPostgres(t *testing.T, ctx context.Context) (string, func()) {
	t.Helper()
	req := tc.ContainerRequest{
		Image:        "postgres:15-alpine",
		Env:          map[string]string{"POSTGRES_USER": "quiz", "POSTGRES_PASSWORD": "quizpass", "POSTGRES_DB": "quizdb"},
		ExposedPorts: []string{"5432/tcp"},
		WaitingFor:   wait.ForListeningPort("5432/tcp").WithStartupTimeout(60 * time.Second),
	}
	container, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		if strings.Contains(err.Error(), "Cannot connect to the Docker daemon") {
			t.Skipf("docker not available: %v", err)
		}
		t.Fatalf("start postgres: %v", err)
	}
	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("host: %v", err)
	}
	port, err := container.MappedPort(ctx, "5432/tcp")
	if err != nil {
		t.Fatalf("port: %v", err)
	}
	url := fmt.Sprintf("postgres://quiz:quizpass@%s:%s/quizdb?sslmode=disable", host, port.Port())
	return url, func() { _ = container.Terminate(ctx) }
}

func startRedis(t *testing.T, ctx context.Context) (string, func()) {
	t.Helper()
	req := tc.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForListeningPort("6379/tcp").WithStartupTimeout(60 * time.Second),
	}
	container, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		if strings.Contains(err.Error(), "Cannot connect to the Docker daemon") {
			t.Skipf("docker not available: %v", err)
		}
		t.Fatalf("start redis: %v", err)
	}
	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("host: %v", err)
	}
	port, err := container.MappedPort(ctx, "6379/tcp")
	if err != nil {
		t.Fatalf("port: %v", err)
	}
	return fmt.Sprintf("%s:%s", host, port.Port()), func() { _ = container.Terminate(ctx) }
}

func seedQuiz(t *testing.T, ctx context.Context, pgURL string, quiz domain.Quiz) {
	t.Helper()
	sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(pgURL)))
	db := bun.NewDB(sqldb, pgdialect.New())
	defer db.Close()

	migrator := migrate.NewMigrator(db, pgmigrations.Migrations)
	if err := migrator.Init(ctx); err != nil {
		t.Fatalf("init migrator: %v", err)
	}
	if _, err := migrator.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	data, err := json.Marshal(quiz)
	if err != nil {
		t.Fatalf("marshal quiz: %v", err)
	}
	if _, err := db.ExecContext(ctx, `INSERT INTO quizzes (id, data) VALUES (?, ?)`, quiz.ID, string(data)); err != nil {
		t.Fatalf("seed quiz: %v", err)
	}
}

func sampleQuiz() domain.Quiz {
	return domain.Quiz{
		ID:      "quiz-1",
		OwnerID: "host-1",
		Title:   "Integration trivia",
		Questions: []domain.Question{
			{
				ID:     "q1",
				Prompt: "What is 2 + 2?",
				Options: []domain.Option{
					{ID: "o1", Text: "3", Correct: false},
					{ID: "o2", Text: "4", Correct: true},
				},
				TimerSec: 20,
				Points:   1,
				Order:    0,
			},
		},
	}
}
