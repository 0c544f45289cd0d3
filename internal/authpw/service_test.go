package authpw

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"horizon/api/internal/store"
)

type memoryUserStore struct {
	users        map[string]store.User // keyed by id
	byEmail      map[string]string
	resets       map[string]string // token -> user id
	resetsUsed   map[string]bool
	verifyTokens map[string]string // token -> user id
}

func newMemoryUserStore() *memoryUserStore {
	return &memoryUserStore{
		users:        make(map[string]store.User),
		byEmail:      make(map[string]string),
		resets:       make(map[string]string),
		resetsUsed:   make(map[string]bool),
		verifyTokens: make(map[string]string),
	}
}

func (m *memoryUserStore) GetUserByEmail(_ context.Context, email string) (store.User, error) {
	id, ok := m.byEmail[email]
	if !ok {
		return store.User{}, sql.ErrNoRows
	}
	return m.users[id], nil
}

func (m *memoryUserStore) GetUserByID(_ context.Context, id string) (store.User, error) {
	user, ok := m.users[id]
	if !ok {
		return store.User{}, sql.ErrNoRows
	}
	return user, nil
}

func (m *memoryUserStore) CreateUser(_ context.Context, user store.User) error {
	m.users[user.ID] = user
	m.byEmail[user.Email] = user.ID
	return nil
}

func (m *memoryUserStore) UpdateUserVerificationToken(_ context.Context, userID, token string, _ time.Time) error {
	m.verifyTokens[token] = userID
	return nil
}

func (m *memoryUserStore) VerifyUserEmail(_ context.Context, token string) error {
	id, ok := m.verifyTokens[token]
	if !ok {
		return sql.ErrNoRows
	}
	user := m.users[id]
	user.IsEmailVerified = true
	m.users[id] = user
	delete(m.verifyTokens, token)
	return nil
}

func (m *memoryUserStore) UpdateUserPassword(_ context.Context, userID, passwordHash string) error {
	user := m.users[userID]
	user.PasswordHash = passwordHash
	m.users[userID] = user
	return nil
}

func (m *memoryUserStore) CreatePasswordReset(_ context.Context, userID, token string, _ time.Time) error {
	m.resets[token] = userID
	return nil
}

func (m *memoryUserStore) GetPasswordReset(_ context.Context, token string) (string, error) {
	if m.resetsUsed[token] {
		return "", sql.ErrNoRows
	}
	id, ok := m.resets[token]
	if !ok {
		return "", sql.ErrNoRows
	}
	return id, nil
}

func (m *memoryUserStore) MarkPasswordResetUsed(_ context.Context, token string) error {
	m.resetsUsed[token] = true
	return nil
}

func signUp(t *testing.T, svc *Service) *SignUpResponse {
	t.Helper()
	resp, err := svc.SignUp(context.Background(), SignUpRequest{
		Email:       "rowan@example.com",
		Password:    "correct-horse",
		DisplayName: "Rowan",
	})
	if err != nil {
		t.Fatalf("SignUp: %v", err)
	}
	return resp
}

func TestSignUpAndVerify(t *testing.T) {
	users := newMemoryUserStore()
	svc := NewService(users)

	resp := signUp(t, svc)
	if !resp.RequiresEmailVerify || resp.VerificationToken == "" {
		t.Fatalf("unexpected sign-up response: %+v", resp)
	}

	// Unverified accounts cannot complete sign-in.
	signIn, err := svc.SignIn(context.Background(), SignInRequest{Email: "rowan@example.com", Password: "correct-horse"})
	if err != nil {
		t.Fatalf("SignIn: %v", err)
	}
	if !signIn.RequiresVerify {
		t.Fatal("expected RequiresVerify before email verification")
	}

	if err := svc.VerifyEmail(context.Background(), resp.VerificationToken); err != nil {
		t.Fatalf("VerifyEmail: %v", err)
	}

	signIn, err = svc.SignIn(context.Background(), SignInRequest{Email: "rowan@example.com", Password: "correct-horse"})
	if err != nil {
		t.Fatalf("SignIn after verify: %v", err)
	}
	if signIn.RequiresVerify {
		t.Fatal("account should be verified")
	}
	if signIn.User.Role != "planner" {
		t.Errorf("default role = %q, want planner", signIn.User.Role)
	}
}

func TestSignUpRejectsDuplicateEmail(t *testing.T) {
	users := newMemoryUserStore()
	svc := NewService(users)
	signUp(t, svc)

	_, err := svc.SignUp(context.Background(), SignUpRequest{
		Email:       "rowan@example.com",
		Password:    "another-pass",
		DisplayName: "Rowan Two",
	})
	if !errors.Is(err, ErrEmailExists) {
		t.Fatalf("expected ErrEmailExists, got %v", err)
	}
}

func TestSignUpRejectsShortPassword(t *testing.T) {
	svc := NewService(newMemoryUserStore())
	_, err := svc.SignUp(context.Background(), SignUpRequest{
		Email:       "a@b.com",
		Password:    "short",
		DisplayName: "A",
	})
	if err == nil {
		t.Fatal("expected error for short password")
	}
}

func TestSignInRejectsWrongPassword(t *testing.T) {
	users := newMemoryUserStore()
	svc := NewService(users)
	resp := signUp(t, svc)
	if err := svc.VerifyEmail(context.Background(), resp.VerificationToken); err != nil {
		t.Fatalf("VerifyEmail: %v", err)
	}

	if _, err := svc.SignIn(context.Background(), SignInRequest{Email: "rowan@example.com", Password: "wrong"}); err == nil {
		t.Fatal("expected error for wrong password")
	}
}

func TestPasswordResetFlow(t *testing.T) {
	users := newMemoryUserStore()
	svc := NewService(users)
	resp := signUp(t, svc)
	if err := svc.VerifyEmail(context.Background(), resp.VerificationToken); err != nil {
		t.Fatalf("VerifyEmail: %v", err)
	}

	token, err := svc.RequestPasswordReset(context.Background(), "rowan@example.com")
	if err != nil {
		t.Fatalf("RequestPasswordReset: %v", err)
	}
	if token == "" {
		t.Fatal("expected reset token for known email")
	}

	if err := svc.ResetPassword(context.Background(), ResetPasswordRequest{Token: token, NewPassword: "brand-new-pass"}); err != nil {
		t.Fatalf("ResetPassword: %v", err)
	}

	if _, err := svc.SignIn(context.Background(), SignInRequest{Email: "rowan@example.com", Password: "brand-new-pass"}); err != nil {
		t.Fatalf("SignIn with new password: %v", err)
	}

	// A used token cannot be replayed.
	if err := svc.ResetPassword(context.Background(), ResetPasswordRequest{Token: token, NewPassword: "yet-another-pw"}); err == nil {
		t.Fatal("expected error for reused reset token")
	}
}

func TestPasswordResetUnknownEmailIsSilent(t *testing.T) {
	svc := NewService(newMemoryUserStore())
	token, err := svc.RequestPasswordReset(context.Background(), "ghost@example.com")
	if err != nil {
		t.Fatalf("RequestPasswordReset: %v", err)
	}
	if token != "" {
		t.Fatal("unknown email must not yield a token")
	}
}
