package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/SkillsFundingAgency/ilr-validation-service/internal/output"
)

var (
	// ErrArtifactNotFound is returned by Load when no artifact has the key.
	ErrArtifactNotFound = errors.New("artifact not found")
	// ErrInvalidArtifactKey is returned for keys that are empty or escape the store root.
	ErrInvalidArtifactKey = errors.New("invalid artifact key")
	// ErrArtifactStore wraps backend failures.
	ErrArtifactStore = errors.New("artifact store error")

	_ output.ArtifactStore = (*PostgresArtifactStore)(nil)
	_ output.ArtifactStore = (*RedisArtifactStore)(nil)
	_ output.ArtifactStore = (*FileArtifactStore)(nil)
)

const (
	queryUpsertArtifact = `
		INSERT INTO validation_artifacts (key, payload)
		VALUES ($1, $2)
		ON CONFLICT (key) DO UPDATE
		SET payload = EXCLUDED.payload, updated_at = now()`

	querySelectArtifact = `SELECT payload FROM validation_artifacts WHERE key = $1`

	// redisKeyPrefix namespaces artifact keys in a shared Redis.
	redisKeyPrefix = "ilr:artifact:"
)

// PostgresArtifactStore keeps artifacts in the validation_artifacts table.
type PostgresArtifactStore struct {
	conn *Connection
}

// NewPostgresArtifactStore creates a PostgresArtifactStore. Returns ErrNoDatabaseConnection if conn is nil.
func NewPostgresArtifactStore(conn *Connection) (*PostgresArtifactStore, error) {
	if conn == nil || conn.DB == nil {
		return nil, ErrNoDatabaseConnection
	}

	return &PostgresArtifactStore{conn: conn}, nil
}

// Save inserts or replaces the artifact.
func (s *PostgresArtifactStore) Save(ctx context.Context, key string, payload []byte) error {
	if key == "" {
		return ErrInvalidArtifactKey
	}

	if _, err := s.conn.ExecContext(ctx, queryUpsertArtifact, key, payload); err != nil {
		return fmt.Errorf("%w: save %s: %w", ErrArtifactStore, key, err)
	}

	return nil
}

// Load returns the artifact payload.
func (s *PostgresArtifactStore) Load(ctx context.Context, key string) ([]byte, error) {
	var payload []byte

	err := s.conn.QueryRowContext(ctx, querySelectArtifact, key).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrArtifactNotFound, key)
	}

	if err != nil {
		return nil, fmt.Errorf("%w: load %s: %w", ErrArtifactStore, key, err)
	}

	return payload, nil
}

// RedisArtifactStore keeps artifacts as Redis strings, optionally expiring.
type RedisArtifactStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisArtifactStore connects to the Redis at url and verifies it with a ping.
// A ttl of 0 keeps artifacts until deleted.
func NewRedisArtifactStore(ctx context.Context, url string, ttl time.Duration) (*RedisArtifactStore, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("%w: parse redis URL: %w", ErrArtifactStore, err)
	}

	client := redis.NewClient(opts)

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()

		return nil, fmt.Errorf("%w: redis ping failed: %w", ErrArtifactStore, err)
	}

	return &RedisArtifactStore{client: client, ttl: ttl}, nil
}

// Save sets the artifact with the store TTL.
func (s *RedisArtifactStore) Save(ctx context.Context, key string, payload []byte) error {
	if key == "" {
		return ErrInvalidArtifactKey
	}

	if err := s.client.Set(ctx, redisKeyPrefix+key, payload, s.ttl).Err(); err != nil {
		return fmt.Errorf("%w: save %s: %w", ErrArtifactStore, key, err)
	}

	return nil
}

// Load returns the artifact payload.
func (s *RedisArtifactStore) Load(ctx context.Context, key string) ([]byte, error) {
	payload, err := s.client.Get(ctx, redisKeyPrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%w: %s", ErrArtifactNotFound, key)
	}

	if err != nil {
		return nil, fmt.Errorf("%w: load %s: %w", ErrArtifactStore, key, err)
	}

	return payload, nil
}

// TTL returns the remaining lifetime of an artifact, or a negative duration when it never expires.
func (s *RedisArtifactStore) TTL(ctx context.Context, key string) (time.Duration, error) {
	ttl, err := s.client.TTL(ctx, redisKeyPrefix+key).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: ttl %s: %w", ErrArtifactStore, key, err)
	}

	return ttl, nil
}

// Close closes the Redis client.
func (s *RedisArtifactStore) Close() error {
	return s.client.Close()
}

// FileArtifactStore writes each artifact to a file below a root directory.
// Keys map to relative paths; "job/ValidationErrors.json" becomes root/job/ValidationErrors.json.
type FileArtifactStore struct {
	root string
}

// NewFileArtifactStore creates the root directory if needed.
func NewFileArtifactStore(root string) (*FileArtifactStore, error) {
	if err := os.MkdirAll(root, 0o750); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrArtifactStore, err)
	}

	return &FileArtifactStore{root: root}, nil
}

// Root returns the root directory.
func (s *FileArtifactStore) Root() string {
	return s.root
}

// Save writes the artifact through a temporary file so readers never see a partial payload.
func (s *FileArtifactStore) Save(ctx context.Context, key string, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	path, err := s.path(key)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fmt.Errorf("%w: %w", ErrArtifactStore, err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".artifact-*")
	if err != nil {
		return fmt.Errorf("%w: %w", ErrArtifactStore, err)
	}

	defer func() {
		_ = os.Remove(tmp.Name())
	}()

	if _, err := tmp.Write(payload); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("%w: write %s: %w", ErrArtifactStore, key, err)
	}

	if err := tmp.Close(); err != nil {
		return fmt.Errorf("%w: write %s: %w", ErrArtifactStore, key, err)
	}

	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("%w: write %s: %w", ErrArtifactStore, key, err)
	}

	return nil
}

// Load returns the artifact payload.
func (s *FileArtifactStore) Load(_ context.Context, key string) ([]byte, error) {
	path, err := s.path(key)
	if err != nil {
		return nil, err
	}

	payload, err := os.ReadFile(path) //nolint:gosec // path is confined to the store root
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrArtifactNotFound, key)
	}

	if err != nil {
		return nil, fmt.Errorf("%w: load %s: %w", ErrArtifactStore, key, err)
	}

	return payload, nil
}

func (s *FileArtifactStore) path(key string) (string, error) {
	rel := filepath.FromSlash(key)
	if key == "" || strings.Contains(key, `\`) || !filepath.IsLocal(rel) {
		return "", fmt.Errorf("%w: %q", ErrInvalidArtifactKey, key)
	}

	return filepath.Join(s.root, rel), nil
}
