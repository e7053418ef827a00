// Package credential supplies the access token and user identity used by
// the HTTP client and the socket handshake.
package credential

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/BurntSushi/toml"
)

// ErrNoToken means no usable token is available. Requests proceed
// unauthenticated.
var ErrNoToken = errors.New("no access token")

// EnvToken overrides the token stored in credentials.toml.
const EnvToken = "CONFCHAT_ACCESS_TOKEN"

// Identity is the signed-in user.
type Identity struct {
	ID    int64  `toml:"id"`
	Email string `toml:"email"`
	Name  string `toml:"name"`
}

// Provider yields the current credentials. Implementations must be safe
// for concurrent use.
type Provider interface {
	Token(ctx context.Context) (string, error)
	Identity(ctx context.Context) (Identity, error)
}

// Static is a fixed token and identity.
type Static struct {
	AccessToken string
	User        Identity
}

func (s Static) Token(context.Context) (string, error) {
	if s.AccessToken == "" {
		return "", ErrNoToken
	}
	return s.AccessToken, nil
}

func (s Static) Identity(context.Context) (Identity, error) {
	if s.User.ID == 0 {
		return Identity{}, ErrNoToken
	}
	return s.User, nil
}

type fileContents struct {
	AccessToken string   `toml:"access_token"`
	User        Identity `toml:"user"`
}

// File reads credentials.toml on every call so a token written by another
// process is picked up without a restart. Tokens that are malformed or
// expired count as absent.
type File struct {
	Path string
	Now  func() time.Time

	mu sync.Mutex
}

func NewFile(path string) *File {
	return &File{Path: path, Now: time.Now}
}

func (f *File) load() (fileContents, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var fc fileContents
	if _, err := toml.DecodeFile(f.Path, &fc); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fileContents{}, fmt.Errorf("read credentials: %w", err)
	}
	if env := os.Getenv(EnvToken); env != "" {
		fc.AccessToken = env
	}
	return fc, nil
}

func (f *File) now() time.Time {
	if f.Now != nil {
		return f.Now()
	}
	return time.Now()
}

func (f *File) Token(context.Context) (string, error) {
	fc, err := f.load()
	if err != nil {
		return "", err
	}
	if fc.AccessToken == "" {
		return "", ErrNoToken
	}
	if _, err := ParseToken(fc.AccessToken, f.now()); err != nil {
		return "", fmt.Errorf("%w: %v", ErrNoToken, err)
	}
	return fc.AccessToken, nil
}

// Identity returns the stored user, falling back to the token's claims
// when the [user] table is absent.
func (f *File) Identity(ctx context.Context) (Identity, error) {
	fc, err := f.load()
	if err != nil {
		return Identity{}, err
	}
	if fc.User.ID != 0 {
		return fc.User, nil
	}
	if fc.AccessToken == "" {
		return Identity{}, ErrNoToken
	}
	claims, err := ParseToken(fc.AccessToken, f.now())
	if err != nil {
		return Identity{}, fmt.Errorf("%w: %v", ErrNoToken, err)
	}
	return Identity{ID: claims.UserID, Email: claims.Email}, nil
}

// Save writes token and user to path with owner-only permissions, creating
// parent dirs as needed.
func Save(path, token string, user Identity) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(file).Encode(fileContents{AccessToken: token, User: user})
	if closeErr := file.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}
