package socsync

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"bitbucket.org/mmdatafocus/hr_sync_backend/config"
	"bitbucket.org/mmdatafocus/hr_sync_backend/models"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const testOwner = "owner-a"

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	config.InstallPlugins(db)
	require.NoError(t, models.AutoMigrate(db))
	return db
}

func testLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

// fakeFetcher serves a fixed body. Hook runs before every fetch.
type fakeFetcher struct {
	mu    sync.Mutex
	body  string
	err   error
	calls int
	hook  func()
}

func (f *fakeFetcher) Fetch(ctx context.Context, kind string, params Params) (*Dataset, error) {
	f.mu.Lock()
	f.calls++
	hook, body, err := f.hook, f.body, f.err
	f.mu.Unlock()
	if hook != nil {
		hook()
	}
	if err != nil {
		return nil, err
	}
	return ParseDataset([]byte(body))
}

func (f *fakeFetcher) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type staticCredentials struct {
	err error
}

func (s staticCredentials) Resolve(ctx context.Context, kind, owner string, period Period) (Params, error) {
	if s.err != nil {
		return Params{}, s.err
	}
	return Params{
		BaseURL: "https://soc.test/exportadados",
		Values:  map[string]string{"empresa": "1", "codigo": "2", "chave": "k", "tipoSaida": "json"},
	}, nil
}

type recordingPublisher struct {
	mu   sync.Mutex
	msgs []ContinuationMessage
	err  error
}

func (p *recordingPublisher) PublishContinuation(ctx context.Context, msg ContinuationMessage) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return "", p.err
	}
	p.msgs = append(p.msgs, msg)
	return fmt.Sprintf("msg-%d", len(p.msgs)), nil
}

func (p *recordingPublisher) Messages() []ContinuationMessage {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]ContinuationMessage(nil), p.msgs...)
}

// steppingClock advances by step on every read.
type steppingClock struct {
	mu   sync.Mutex
	now  time.Time
	step time.Duration
}

func newSteppingClock(step time.Duration) *steppingClock {
	return &steppingClock{now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC), step: step}
}

func (c *steppingClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := c.now
	c.now = c.now.Add(c.step)
	return t
}

type memorySnapshots struct {
	mu      sync.Mutex
	objects map[string][]byte
	loads   int
}

func newMemorySnapshots() *memorySnapshots {
	return &memorySnapshots{objects: map[string][]byte{}}
}

func (m *memorySnapshots) Save(ctx context.Context, key string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = append([]byte(nil), data...)
	return nil
}

func (m *memorySnapshots) Load(ctx context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.loads++
	data, ok := m.objects[key]
	if !ok {
		return nil, errors.New("snapshot not found")
	}
	return data, nil
}

func (m *memorySnapshots) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, key)
	return nil
}

type testEnv struct {
	db        *gorm.DB
	svc       *Service
	fetcher   *fakeFetcher
	publisher *recordingPublisher
}

// newTestEnv builds a Service whose pipeline runs synchronously inside Start.
func newTestEnv(t *testing.T, body string) *testEnv {
	t.Helper()
	db := newTestDB(t)
	fetcher := &fakeFetcher{body: body}
	pub := &recordingPublisher{}
	svc := NewService(Deps{
		DB:          db,
		Logger:      testLogger(),
		Settings:    config.DefaultSyncSettings(),
		Fetcher:     fetcher,
		Credentials: staticCredentials{},
		Publisher:   pub,
	})
	svc.Launch = func(fn func()) { fn() }
	return &testEnv{db: db, svc: svc, fetcher: fetcher, publisher: pub}
}

func (e *testEnv) run(t *testing.T, id uint) *models.SyncRun {
	t.Helper()
	run, err := e.svc.Tracker.Get(context.Background(), id)
	require.NoError(t, err)
	return run
}

// companiesJSON renders n company records with codes 1..n.
func companiesJSON(n int) string {
	parts := make([]string, 0, n)
	for i := 1; i <= n; i++ {
		parts = append(parts, fmt.Sprintf(`{"CODIGO":"%d","NOMEABREVIADO":"Empresa %d","RAZAOSOCIAL":"Empresa %d Ltda","UF":"sp","ATIVO":"1"}`, i, i, i))
	}
	return "[" + strings.Join(parts, ",") + "]"
}

func intPtr(v int) *int    { return &v }
func boolPtr(v bool) *bool { return &v }

func countRows(t *testing.T, db *gorm.DB, model interface{}) int64 {
	t.Helper()
	var n int64
	require.NoError(t, db.Model(model).Count(&n).Error)
	return n
}
