package integration

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"quiz-attempt-service/internal/attempt"
	"quiz-attempt-service/internal/domain"
	"quiz-attempt-service/internal/grading"
	pgloader "quiz-attempt-service/internal/infra/postgres"
	pgmigrations "quiz-attempt-service/internal/infra/postgres/migrations"
	infraredis "quiz-attempt-service/internal/infra/redis"
	"github.com/jackc/pgx/v4/pgxpool"
	goredis "github.com/redis/go-redis/v9"
	tc "github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
	"github.com/uptrace/bun/migrate"
)

func TestAttemptLifecycleEndToEnd(t *testing.T) {
	ctx := context.Background()
	requireDocker(t)

	pgURL, pgCleanup := startPostgres(t, ctx)
	defer pgCleanup()
	redisURL, redisCleanup := startRedis(t, ctx)
	defer redisCleanup()

	seedQuiz(t, ctx, pgURL, sampleQuiz())

	pool, err := pgxpool.Connect(ctx, pgURL)
	if err != nil {
		t.Fatalf("connect pg: %v", err)
	}
	defer pool.Close()

	redisClient, err := redisClientFromURL(redisURL)
	if err != nil {
		t.Fatalf("redis client: %v", err)
	}

	var submitCalls atomic.Int32
	gradingSrv := fakeGradingServer(t, &submitCalls)
	defer gradingSrv.Close()

	quizRepo := infraredis.NewQuizRepository(redisClient, pgloader.NewQuizLoader(pool), 5*time.Minute)
	snapshots := infraredis.NewSnapshotStore(redisClient)
	service := attempt.NewAttemptService(quizRepo, snapshots, grading.NewClient(gradingSrv.URL, 5*time.Second), attempt.Config{})

	started, err := service.Start(ctx, "quiz-1", "u1")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if started.RemainingSeconds != 600 || len(started.Questions) != 2 {
		t.Fatalf("unexpected start result %+v", started)
	}

	if err := service.SetAnswer(ctx, "quiz-1", "u1", 0, domain.ChoiceAnswer(1)); err != nil {
		t.Fatalf("answer: %v", err)
	}
	// The answer write must be durably visible before any submit.
	if snap, found, err := snapshots.Load(ctx, "u1", "quiz-1"); err != nil || !found || len(snap.Answers) != 2 {
		t.Fatalf("expected persisted snapshot, found=%v err=%v", found, err)
	}

	submission, history, err := service.Submit(ctx, "quiz-1", "u1")
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if submission.Score != 1 || submission.TotalPoints != 2 {
		t.Fatalf("unexpected submission %+v", submission)
	}
	if submitCalls.Load() != 1 {
		t.Fatalf("expected one grading request, got %d", submitCalls.Load())
	}
	if history.CurrentAttempt != 1 {
		t.Fatalf("history not refreshed after finalize: %+v", history)
	}
	if _, found, _ := snapshots.Load(ctx, "u1", "quiz-1"); found {
		t.Fatalf("snapshot must be cleared after completion")
	}
}

// fakeGradingServer emulates the grading collaborator: it grades nothing for
// real, it just records submissions and echoes them through the history
// endpoint.
func fakeGradingServer(t *testing.T, submitCalls *atomic.Int32) *httptest.Server {
	t.Helper()
	var submissions []domain.Submission
	mux := http.NewServeMux()
	mux.HandleFunc("/quizzes/quiz-1/submissions", func(w http.ResponseWriter, r *http.Request) {
		submitCalls.Add(1)
		var payload domain.SubmitPayload
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			_ = json.NewEncoder(w).Encode(map[string]string{"code": "VALIDATION", "message": "bad payload"})
			return
		}
		sub := domain.Submission{
			ID:               fmt.Sprintf("sub-%d", len(submissions)+1),
			AttemptNumber:    len(submissions) + 1,
			Score:            float64(len(payload.Answers)),
			TotalPoints:      2,
			TimeSpentSeconds: payload.TimeSpent,
			SubmittedAt:      time.Now().UTC(),
		}
		submissions = append(submissions, sub)
		_ = json.NewEncoder(w).Encode(sub)
	})
	mux.HandleFunc("/quizzes/quiz-1/submission-history", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(domain.AttemptHistory{Submissions: submissions})
	})
	return httptest.NewServer(mux)
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
	dsn := fmt.Sprintf("postgres://quiz:quizpass@%s:%s/quizdb?sslmode=disable", host, port.Port())
	return dsn, func() {
		_ = container.Terminate(ctx)
	}
}

func startRedis(t *testing.T, ctx context.Context) (string, func()) {
	t.Helper()
	req := tc.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForListeningPort("6379/tcp").WithStartupTimeout(30 * time.Second),
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
		t.Fatalf("redis host: %v", err)
	}
	port, err := container.MappedPort(ctx, "6379/tcp")
	if err != nil {
		t.Fatalf("redis port: %v", err)
	}
	url := fmt.Sprintf("redis://%s:%s", host, port.Port())
	return url, func() {
		_ = container.Terminate(ctx)
	}
}

func seedQuiz(t *testing.T, ctx context.Context, dsn string, quiz domain.Quiz) {
	sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(dsn)))
	db := bun.NewDB(sqldb, pgdialect.New())
	defer db.Close()

	migrator := migrate.NewMigrator(db, pgmigrations.Migrations)
	if err := migrator.Init(ctx); err != nil {
		t.Fatalf("migrator init: %v", err)
	}
	if _, err := migrator.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	data, err := json.Marshal(quiz)
	if err != nil {
		t.Fatalf("marshal quiz: %v", err)
	}
	if _, err := db.ExecContext(ctx, `INSERT INTO quizzes (id, data) VALUES (? , ?::jsonb) ON CONFLICT (id) DO UPDATE SET data=EXCLUDED.data`, quiz.ID, string(data)); err != nil {
		t.Fatalf("insert quiz: %v", err)
	}
}

func sampleQuiz() domain.Quiz {
	return domain.Quiz{
		ID:               "quiz-1",
		Title:            "Integration quiz",
		TimeLimitSeconds: 600,
		MaxAttempts:      3,
		Questions: []domain.Question{
			{
				ID:     "q1",
				Type:   domain.MultipleChoice,
				Prompt: "What is 2 + 2?",
				Options: []domain.Option{
					{ID: "o1", Text: "3"},
					{ID: "o2", Text: "4"},
					{ID: "o3", Text: "5"},
				},
				Points: 1,
				Order:  1,
			},
			{
				ID:     "q2",
				Type:   domain.FillBlank,
				Prompt: "Name the planet we live on.",
				Points: 1,
				Order:  2,
			},
		},
	}
}

func redisClientFromURL(url string) (*goredis.Client, error) {
	opts, err := goredis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	return goredis.NewClient(&goredis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	}), nil
}

func requireDocker(t *testing.T) {
	t.Helper()
	if _, err := tc.NewDockerProvider(); err != nil {
		t.Skipf("docker not available: %v", err)
	}
}
