package authpw

import (
	"context"
	"errors"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"paperkeep/api/internal/store"
)

type fakeUserStore struct {
	usersByEmail map[string]store.User
	usersByID    map[string]store.User
	resets       map[string]string
	verifyErr    error
	verified     []string
	passwords    map[string]string
	usedResets   []string
}

func newFakeUserStore() *fakeUserStore {
	return &fakeUserStore{
		usersByEmail: map[string]store.User{},
		usersByID:    map[string]store.User{},
		resets:       map[string]string{},
		passwords:    map[string]string{},
	}
}

func (f *fakeUserStore) GetUserByEmail(ctx context.Context, email string) (store.User, error) {
	u, ok := f.usersByEmail[email]
	if !ok {
		return store.User{}, errors.New("not found")
	}
	return u, nil
}

func (f *fakeUserStore) GetUserByID(ctx context.Context, id string) (store.User, error) {
	u, ok := f.usersByID[id]
	if !ok {
		return store.User{}, errors.New("not found")
	}
	return u, nil
}

func (f *fakeUserStore) CreateUser(ctx context.Context, user store.User) error {
	f.usersByEmail[user.Email] = user
	f.usersByID[user.ID] = user
	return nil
}

func (f *fakeUserStore) UpdateUserVerificationToken(ctx context.Context, userID, token string, expiresAt time.Time) error {
	return nil
}

func (f *fakeUserStore) VerifyUserEmail(ctx context.Context, token string) error {
	if f.verifyErr != nil {
		return f.verifyErr
	}
	f.verified = append(f.verified, token)
	return nil
}

func (f *fakeUserStore) UpdateUserPassword(ctx context.Context, userID, passwordHash string) error {
	f.passwords[userID] = passwordHash
	return nil
}

func (f *fakeUserStore) CreatePasswordReset(ctx context.Context, userID, token string, expiresAt time.Time) error {
	f.resets[token] = userID
	return nil
}

func (f *fakeUserStore) GetPasswordReset(ctx context.Context, token string) (string, error) {
	userID, ok := f.resets[token]
	if !ok {
		return "", errors.New("not found")
	}
	return userID, nil
}

func (f *fakeUserStore) MarkPasswordResetUsed(ctx context.Context, token string) error {
	f.usedResets = append(f.usedResets, token)
	return nil
}

func seedVerifiedUser(f *fakeUserStore, email, password string) store.User {
	hash, _ := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	user := store.User{
		ID:              "user_seed",
		DisplayName:     "Seed",
		Email:           email,
		PasswordHash:    string(hash),
		IsEmailVerified: true,
	}
	f.usersByEmail[email] = user
	f.usersByID[user.ID] = user
	return user
}

func TestSignUp(t *testing.T) {
	f := newFakeUserStore()
	svc := NewService(f)
	ctx := context.Background()

	resp, err := svc.SignUp(ctx, SignUpRequest{
		Email:       "new@example.com",
		Password:    "long-enough",
		DisplayName: "New User",
	})
	if err != nil {
		t.Fatalf("SignUp failed: %v", err)
	}
	if resp.UserID == "" || resp.VerificationToken == "" || !resp.RequiresEmailVerify {
		t.Fatalf("unexpected response: %+v", resp)
	}

	stored := f.usersByEmail["new@example.com"]
	if stored.PasswordHash == "long-enough" {
		t.Fatal("password must be hashed")
	}
	if stored.IsEmailVerified {
		t.Fatal("new accounts start unverified")
	}
}

func TestSignUpValidation(t *testing.T) {
	f := newFakeUserStore()
	seedVerifiedUser(f, "taken@example.com", "password1")
	svc := NewService(f)
	ctx := context.Background()

	cases := []struct {
		name string
		req  SignUpRequest
	}{
		{"missing email", SignUpRequest{Password: "password1", DisplayName: "X"}},
		{"missing password", SignUpRequest{Email: "x@example.com", DisplayName: "X"}},
		{"missing display name", SignUpRequest{Email: "x@example.com", Password: "password1"}},
		{"short password", SignUpRequest{Email: "x@example.com", Password: "short", DisplayName: "X"}},
		{"duplicate email", SignUpRequest{Email: "taken@example.com", Password: "password1", DisplayName: "X"}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := svc.SignUp(ctx, tc.req); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestSignIn(t *testing.T) {
	f := newFakeUserStore()
	user := seedVerifiedUser(f, "ada@example.com", "correct-horse")
	svc := NewService(f)
	ctx := context.Background()

	resp, err := svc.SignIn(ctx, SignInRequest{Email: "ada@example.com", Password: "correct-horse"})
	if err != nil {
		t.Fatalf("SignIn failed: %v", err)
	}
	if resp.User.ID != user.ID || resp.RequiresVerify {
		t.Fatalf("unexpected response: %+v", resp)
	}

	if _, err := svc.SignIn(ctx, SignInRequest{Email: "ada@example.com", Password: "wrong"}); err == nil {
		t.Fatal("expected error for wrong password")
	}
	if _, err := svc.SignIn(ctx, SignInRequest{Email: "nobody@example.com", Password: "whatever"}); err == nil {
		t.Fatal("expected error for unknown email")
	}
}

func TestSignInUnverified(t *testing.T) {
	f := newFakeUserStore()
	user := seedVerifiedUser(f, "ada@example.com", "correct-horse")
	user.IsEmailVerified = false
	f.usersByEmail[user.Email] = user
	svc := NewService(f)

	resp, err := svc.SignIn(context.Background(), SignInRequest{Email: "ada@example.com", Password: "correct-horse"})
	if err != nil {
		t.Fatalf("SignIn failed: %v", err)
	}
	if !resp.RequiresVerify {
		t.Fatal("expected verification gate")
	}
}

func TestVerifyEmail(t *testing.T) {
	f := newFakeUserStore()
	svc := NewService(f)
	ctx := context.Background()

	if err := svc.VerifyEmail(ctx, "some-token"); err != nil {
		t.Fatalf("VerifyEmail failed: %v", err)
	}
	if err := svc.VerifyEmail(ctx, ""); err == nil {
		t.Fatal("expected error for empty token")
	}

	f.verifyErr = errors.New("no such token")
	if err := svc.VerifyEmail(ctx, "bad-token"); err == nil {
		t.Fatal("expected error for rejected token")
	}
}

func TestRequestPasswordReset(t *testing.T) {
	f := newFakeUserStore()
	user := seedVerifiedUser(f, "ada@example.com", "correct-horse")
	svc := NewService(f)
	ctx := context.Background()

	token, err := svc.RequestPasswordReset(ctx, "ada@example.com")
	if err != nil {
		t.Fatalf("RequestPasswordReset failed: %v", err)
	}
	if token == "" {
		t.Fatal("expected a token")
	}
	if f.resets[token] != user.ID {
		t.Fatal("reset must be recorded for the user")
	}

	// Unknown addresses are indistinguishable from known ones.
	token, err = svc.RequestPasswordReset(ctx, "nobody@example.com")
	if err != nil {
		t.Fatalf("RequestPasswordReset for unknown email failed: %v", err)
	}
	if token != "" {
		t.Fatal("unknown email must yield an empty token")
	}
}

func TestResetPassword(t *testing.T) {
	f := newFakeUserStore()
	user := seedVerifiedUser(f, "ada@example.com", "old-password")
	f.resets["reset-token"] = user.ID
	svc := NewService(f)
	ctx := context.Background()

	if err := svc.ResetPassword(ctx, ResetPasswordRequest{Token: "reset-token", NewPassword: "new-password"}); err != nil {
		t.Fatalf("ResetPassword failed: %v", err)
	}

	newHash := f.passwords[user.ID]
	if newHash == "" {
		t.Fatal("expected stored password to change")
	}
	if err := bcrypt.CompareHashAndPassword([]byte(newHash), []byte("new-password")); err != nil {
		t.Fatal("new password must verify against the stored hash")
	}
	if len(f.usedResets) != 1 || f.usedResets[0] != "reset-token" {
		t.Fatal("reset token must be marked used")
	}

	if err := svc.ResetPassword(ctx, ResetPasswordRequest{Token: "unknown", NewPassword: "new-password"}); err == nil {
		t.Fatal("expected error for unknown token")
	}
	if err := svc.ResetPassword(ctx, ResetPasswordRequest{Token: "reset-token", NewPassword: "short"}); err == nil {
		t.Fatal("expected error for short password")
	}
}
