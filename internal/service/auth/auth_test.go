package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"paywall-service/internal/domain/user"
	xerrors "paywall-service/internal/pkg/errors"
	"paywall-service/internal/pkg/token"
)

type fakeTxRunner struct{}

func (fakeTxRunner) InTx(ctx context.Context, fn func(ctx context.Context, tx pgx.Tx) error) error {
	return fn(ctx, nil)
}

type fakeUsers struct {
	byEmail map[string]*user.User
	nextID  int64
}

func (f *fakeUsers) CreateWithTx(_ context.Context, _ pgx.Tx, u *user.User) error {
	if _, exists := f.byEmail[u.Email]; exists {
		return xerrors.Wrap(xerrors.ErrConflict, "email already registered")
	}
	f.nextID++
	u.ID = f.nextID
	f.byEmail[u.Email] = u
	return nil
}

func (f *fakeUsers) FindByEmail(_ context.Context, email string) (*user.User, error) {
	u, ok := f.byEmail[email]
	if !ok {
		return nil, xerrors.ErrNotFound
	}
	return u, nil
}

func (f *fakeUsers) FindByID(_ context.Context, id int64) (*user.User, error) {
	for _, u := range f.byEmail {
		if u.ID == id {
			return u, nil
		}
	}
	return nil, xerrors.ErrNotFound
}

type fakeSeeder struct{ seeded []int64 }

func (f *fakeSeeder) SeedWithTx(_ context.Context, _ pgx.Tx, userID int64) error {
	f.seeded = append(f.seeded, userID)
	return nil
}

type fakeBlacklist struct{ contacts map[string]bool }

func (f *fakeBlacklist) Exists(_ context.Context, contact string) (bool, error) {
	return f.contacts[contact], nil
}

type plainHasher struct{}

func (plainHasher) Hash(password string) (string, error) { return "h:" + password, nil }

func (plainHasher) Compare(hash, password string) error {
	if hash != "h:"+password {
		return errors.New("mismatch")
	}
	return nil
}

func newService(blacklisted ...string) (*AuthService, *fakeUsers, *fakeSeeder) {
	users := &fakeUsers{byEmail: map[string]*user.User{}}
	seeder := &fakeSeeder{}
	bl := &fakeBlacklist{contacts: map[string]bool{}}
	for _, c := range blacklisted {
		bl.contacts[c] = true
	}
	tokens := token.NewManager(token.Config{
		Secret: "test-secret", Issuer: "paywall", Audience: "paywall-api", TTL: time.Hour,
	})
	svc := NewAuthService(fakeTxRunner{}, users, seeder, bl, plainHasher{}, tokens, zap.NewNop())
	return svc, users, seeder
}

func TestRegisterSeedsMembership(t *testing.T) {
	svc, users, seeder := newService()

	resp, err := svc.Register(context.Background(), &user.RegisterRequest{
		Email: " New@Example.COM ", Password: "hunter22",
	})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if resp.Token == "" {
		t.Fatal("missing access token")
	}
	if resp.User.Email != "new@example.com" {
		t.Fatalf("email = %q, want normalized", resp.User.Email)
	}
	if _, ok := users.byEmail["new@example.com"]; !ok {
		t.Fatal("user not stored under normalized email")
	}
	if len(seeder.seeded) != 1 || seeder.seeded[0] != resp.User.ID {
		t.Fatalf("membership seed = %v, want [%d]", seeder.seeded, resp.User.ID)
	}
}

func TestRegisterRefusesBlacklistedContact(t *testing.T) {
	svc, users, _ := newService("banned@example.com")

	_, err := svc.Register(context.Background(), &user.RegisterRequest{
		Email: "Banned@example.com", Password: "hunter22",
	})
	if !errors.Is(err, xerrors.ErrBlacklisted) {
		t.Fatalf("err = %v, want ErrBlacklisted", err)
	}
	if len(users.byEmail) != 0 {
		t.Fatal("blacklisted registration must not create a user")
	}
}

func TestLoginRoundTrip(t *testing.T) {
	svc, _, _ := newService()
	ctx := context.Background()

	if _, err := svc.Register(ctx, &user.RegisterRequest{Email: "a@example.com", Password: "hunter22"}); err != nil {
		t.Fatal(err)
	}

	resp, err := svc.Login(ctx, &user.LoginRequest{Email: "a@example.com", Password: "hunter22"})
	if err != nil {
		t.Fatalf("Login: %v", err)
	}

	claims, err := svc.ValidateToken(resp.Token)
	if err != nil {
		t.Fatalf("ValidateToken: %v", err)
	}
	if claims.UserID != resp.User.ID || claims.Email != "a@example.com" {
		t.Fatalf("claims = %+v", claims)
	}
}

func TestLoginWrongPassword(t *testing.T) {
	svc, _, _ := newService()
	ctx := context.Background()

	if _, err := svc.Register(ctx, &user.RegisterRequest{Email: "a@example.com", Password: "hunter22"}); err != nil {
		t.Fatal(err)
	}

	if _, err := svc.Login(ctx, &user.LoginRequest{Email: "a@example.com", Password: "wrong"}); !errors.Is(err, xerrors.ErrUnauthorized) {
		t.Fatalf("err = %v, want ErrUnauthorized", err)
	}
	if _, err := svc.Login(ctx, &user.LoginRequest{Email: "nobody@example.com", Password: "x"}); !errors.Is(err, xerrors.ErrUnauthorized) {
		t.Fatalf("unknown email: err = %v, want ErrUnauthorized", err)
	}
}
