package credential

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var now = time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)

func signToken(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-secret"))
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func TestParseToken(t *testing.T) {
	valid := signToken(t, jwt.MapClaims{"userId": 7, "email": "a@conf.vn", "exp": now.Add(time.Hour).Unix()})

	tests := []struct {
		name    string
		token   string
		wantErr bool
	}{
		{"valid", valid, false},
		{"string user id", signToken(t, jwt.MapClaims{"userId": "7", "exp": now.Add(time.Hour).Unix()}), false},
		{"expired", signToken(t, jwt.MapClaims{"userId": 7, "exp": now.Add(-time.Minute).Unix()}), true},
		{"no exp", signToken(t, jwt.MapClaims{"userId": 7}), true},
		{"no user id", signToken(t, jwt.MapClaims{"exp": now.Add(time.Hour).Unix()}), true},
		{"two parts", "abc.def", true},
		{"garbage", "not-a-token", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := ParseToken(tt.token, now)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseToken() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err == nil && c.UserID != 7 {
				t.Errorf("UserID = %d, want 7", c.UserID)
			}
		})
	}
}

func TestStatic(t *testing.T) {
	ctx := context.Background()
	if _, err := (Static{}).Token(ctx); !errors.Is(err, ErrNoToken) {
		t.Errorf("empty Static Token() error = %v, want ErrNoToken", err)
	}
	s := Static{AccessToken: "tok", User: Identity{ID: 3}}
	if tok, err := s.Token(ctx); err != nil || tok != "tok" {
		t.Errorf("Token() = %q, %v", tok, err)
	}
	if id, err := s.Identity(ctx); err != nil || id.ID != 3 {
		t.Errorf("Identity() = %+v, %v", id, err)
	}
}

func TestFileProvider(t *testing.T) {
	t.Setenv(EnvToken, "")
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "credentials.toml")

	f := NewFile(path)
	f.Now = func() time.Time { return now }

	if _, err := f.Token(ctx); !errors.Is(err, ErrNoToken) {
		t.Fatalf("Token() on missing file error = %v, want ErrNoToken", err)
	}

	tok := signToken(t, jwt.MapClaims{"userId": 42, "email": "b@conf.vn", "exp": now.Add(time.Hour).Unix()})
	if err := Save(path, tok, Identity{}); err != nil {
		t.Fatal(err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm() != 0600 {
		t.Errorf("credentials permission = %o, want 0600", info.Mode().Perm())
	}

	got, err := f.Token(ctx)
	if err != nil || got != tok {
		t.Fatalf("Token() = %q, %v", got, err)
	}
	id, err := f.Identity(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if id.ID != 42 || id.Email != "b@conf.vn" {
		t.Errorf("Identity() from claims = %+v", id)
	}

	if err := Save(path, tok, Identity{ID: 5, Name: "Lan"}); err != nil {
		t.Fatal(err)
	}
	if id, _ := f.Identity(ctx); id.ID != 5 || id.Name != "Lan" {
		t.Errorf("Identity() from [user] = %+v", id)
	}

	f.Now = func() time.Time { return now.Add(2 * time.Hour) }
	if _, err := f.Token(ctx); !errors.Is(err, ErrNoToken) {
		t.Errorf("expired Token() error = %v, want ErrNoToken", err)
	}
}

func TestFileEnvOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "credentials.toml")
	tok := signToken(t, jwt.MapClaims{"userId": 9, "exp": now.Add(time.Hour).Unix()})
	t.Setenv(EnvToken, tok)

	f := NewFile(path)
	f.Now = func() time.Time { return now }
	got, err := f.Token(context.Background())
	if err != nil || got != tok {
		t.Errorf("Token() = %q, %v; want env token", got, err)
	}
}

func TestSaveCreatesProfileDir(t *testing.T) {
	path := filepath.Join(t.TempDir(), "profiles", "new", "credentials.toml")
	tok := signToken(t, jwt.MapClaims{"userId": 3, "exp": now.Add(time.Hour).Unix()})

	if err := Save(path, tok, Identity{ID: 3}); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if perm := info.Mode().Perm(); perm != 0600 {
		t.Errorf("file permission = %o, want 0600", perm)
	}
}
