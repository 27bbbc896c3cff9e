// Package tomlfile stores chat sessions in a single TOML file. Writes go
// to a temp file that is renamed into place, so a crash never leaves a
// half-written history.
package tomlfile

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	toml "github.com/pelletier/go-toml/v2"
	"github.com/raphaelgruber/sortify/internal/chat"
	"github.com/raphaelgruber/sortify/internal/models"
	"github.com/spf13/viper"
)

// PathKey is the viper key holding the chat file location.
const PathKey = "store.path"

const (
	configName      = "config"
	configType      = "toml"
	fileMode        = 0o600
	dirMode         = 0o700
	configDir       = ".sortify"
	defaultFile     = "chats.toml"
	tempFilePattern = ".chats-*.toml.tmp"
)

// Store implements chat.Gateway on a TOML file.
type Store struct {
	path string
	mu   *sync.RWMutex
	now  func() time.Time
}

var (
	lockRegistryMu sync.Mutex
	pathLockMap    = map[string]*sync.RWMutex{}
)

var _ chat.Gateway = (*Store)(nil)

// New resolves the file path from cfg (key "store.path", optionally read
// from ~/.sortify/config.toml) and returns a store for it. The file is
// created on first write.
func New(cfg *viper.Viper) (*Store, error) {
	if cfg == nil {
		cfg = viper.New()
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("resolve home directory: %w", err)
	}

	cfg.SetConfigName(configName)
	cfg.SetConfigType(configType)
	cfg.AddConfigPath(filepath.Join(homeDir, configDir))
	cfg.SetDefault(PathKey, filepath.Join(homeDir, configDir, defaultFile))

	if err := cfg.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	path := cfg.GetString(PathKey)
	if path == "" {
		return nil, errors.New("chat store path is empty")
	}
	path, err = filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve chat store path: %w", err)
	}
	path = filepath.Clean(path)

	return &Store{path: path, mu: lockForPath(path), now: time.Now}, nil
}

// Path returns the resolved file location.
func (s *Store) Path() string {
	return s.path
}

func (s *Store) CreateSession(ctx context.Context, ownerID, title string) (models.Session, error) {
	if err := ctx.Err(); err != nil {
		return models.Session{}, err
	}
	if strings.TrimSpace(ownerID) == "" {
		return models.Session{}, chat.ErrAuthRequired
	}
	if strings.TrimSpace(title) == "" {
		title = chat.DefaultTitle
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	file, err := s.readSchema()
	if err != nil {
		return models.Session{}, err
	}

	now := s.now()
	sess := models.Session{
		ID:        uuid.Must(uuid.NewV7()).String(),
		OwnerID:   ownerID,
		Title:     title,
		CreatedAt: now,
		UpdatedAt: now,
	}
	file.Sessions = append(file.Sessions, toSessionSchema(sess))

	if err := ctx.Err(); err != nil {
		return models.Session{}, err
	}
	if err := s.writeSchema(file); err != nil {
		return models.Session{}, err
	}
	// Return what a reload would see, at the file's time precision.
	return fromSessionSchema(toSessionSchema(sess)), nil
}

// ListSessions returns ownerID's sessions, most recently updated first.
func (s *Store) ListSessions(ctx context.Context, ownerID string) ([]models.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if strings.TrimSpace(ownerID) == "" {
		return nil, chat.ErrAuthRequired
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	file, err := s.readSchema()
	if err != nil {
		return nil, err
	}

	var sessions []models.Session
	for _, entry := range file.Sessions {
		if entry.Owner == ownerID {
			sessions = append(sessions, fromSessionSchema(entry))
		}
	}
	models.SortSessionsByActivity(sessions)
	return sessions, nil
}

func (s *Store) DeleteSession(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	file, err := s.readSchema()
	if err != nil {
		return err
	}
	i := file.find(id)
	if i < 0 {
		return chat.ErrSessionNotFound
	}
	file.Sessions = append(file.Sessions[:i], file.Sessions[i+1:]...)

	if err := ctx.Err(); err != nil {
		return err
	}
	return s.writeSchema(file)
}

func (s *Store) AppendMessage(ctx context.Context, sessionID, content string, role models.Role) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !role.Persistable() {
		return &chat.ValidationError{Field: "role", Reason: "cannot store " + string(role) + " messages"}
	}
	if strings.TrimSpace(content) == "" {
		return &chat.ValidationError{Field: "content", Reason: "must not be blank"}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	file, err := s.readSchema()
	if err != nil {
		return err
	}
	i := file.find(sessionID)
	if i < 0 {
		return chat.ErrSessionNotFound
	}

	now := formatTime(s.now())
	entry := &file.Sessions[i]
	entry.Messages = append(entry.Messages, messageSchema{
		ID:        uuid.Must(uuid.NewV7()).String(),
		Role:      string(role),
		Content:   content,
		CreatedAt: now,
	})
	entry.UpdatedAt = now

	if err := ctx.Err(); err != nil {
		return err
	}
	return s.writeSchema(file)
}

// ListMessages returns the session's messages, oldest first.
func (s *Store) ListMessages(ctx context.Context, sessionID string) ([]models.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	file, err := s.readSchema()
	if err != nil {
		return nil, err
	}
	i := file.find(sessionID)
	if i < 0 {
		return nil, chat.ErrSessionNotFound
	}

	msgs := make([]models.Message, 0, len(file.Sessions[i].Messages))
	for _, m := range file.Sessions[i].Messages {
		msgs = append(msgs, fromMessageSchema(sessionID, m))
	}
	return msgs, nil
}

func (s *Store) readSchema() (fileSchema, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fileSchema{Version: currentSchemaVersion}, nil
		}
		return fileSchema{}, fmt.Errorf("read chat file: %w", err)
	}

	var file fileSchema
	if err := toml.Unmarshal(data, &file); err != nil {
		return fileSchema{}, fmt.Errorf("decode chat file: %w", err)
	}
	if err := file.validateVersion(); err != nil {
		return fileSchema{}, err
	}
	file.applyDefaults()

	return file, nil
}

func (s *Store) writeSchema(file fileSchema) error {
	file.applyDefaults()

	if err := os.MkdirAll(filepath.Dir(s.path), dirMode); err != nil {
		return fmt.Errorf("create chat directory: %w", err)
	}

	data, err := toml.Marshal(file)
	if err != nil {
		return fmt.Errorf("encode chat file: %w", err)
	}

	tempFile, err := os.CreateTemp(filepath.Dir(s.path), tempFilePattern)
	if err != nil {
		return fmt.Errorf("create temp chat file: %w", err)
	}

	tempName := tempFile.Name()
	cleanup := true
	defer func() {
		if cleanup {
			_ = os.Remove(tempName)
		}
	}()

	if _, err := tempFile.Write(data); err != nil {
		_ = tempFile.Close()
		return fmt.Errorf("write temp chat file: %w", err)
	}
	if err := tempFile.Chmod(fileMode); err != nil {
		_ = tempFile.Close()
		return fmt.Errorf("chmod temp chat file: %w", err)
	}
	if err := tempFile.Close(); err != nil {
		return fmt.Errorf("close temp chat file: %w", err)
	}
	if err := os.Rename(tempName, s.path); err != nil {
		return fmt.Errorf("replace chat file: %w", err)
	}
	cleanup = false

	return nil
}

// lockForPath shares one lock between stores opened on the same file.
func lockForPath(path string) *sync.RWMutex {
	lockRegistryMu.Lock()
	defer lockRegistryMu.Unlock()

	if mu, ok := pathLockMap[path]; ok {
		return mu
	}
	mu := &sync.RWMutex{}
	pathLockMap[path] = mu
	return mu
}
