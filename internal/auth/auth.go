// Package auth implements account registration, password and external
// identity login, email verification, password reset, and the
// server-side session table behind the HTTP cookie.
package auth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/pcgarena/arena/internal/apierr"
	"github.com/pcgarena/arena/internal/mailer"
	"github.com/pcgarena/arena/internal/storage"
	"github.com/pcgarena/arena/internal/types"
)

const (
	// BcryptCost is deliberately above the library default; registration
	// and login are rare enough that the extra latency is acceptable.
	BcryptCost = 12

	SessionTTL     = 30 * 24 * time.Hour
	VerifyTokenTTL = 24 * time.Hour
	ResetTokenTTL  = time.Hour

	sessionTokenBytes = 32
)

// Identity is the result of verifying an external identity credential.
type Identity struct {
	Subject       string
	Email         string
	Name          string
	EmailVerified bool
}

// IdentityVerifier checks an externally issued credential (a Google ID
// token in production) and extracts the identity it asserts.
type IdentityVerifier interface {
	Verify(ctx context.Context, credential string) (*Identity, error)
}

// Params configures the auth service.
type Params struct {
	BaseURL     string // public base URL used in emailed links
	AdminEmails []string
	Verifier    IdentityVerifier // nil disables external login
}

// Service owns all account and session state transitions.
type Service struct {
	store  storage.Store
	mail   mailer.Mailer
	params Params
	logger *zap.Logger
}

func NewService(store storage.Store, mail mailer.Mailer, params Params, logger *zap.Logger) *Service {
	return &Service{store: store, mail: mail, params: params, logger: logger}
}

// RegisterRequest is the body of POST /v1/auth/register.
type RegisterRequest struct {
	Email       string `json:"email"`
	Password    string `json:"password"`
	DisplayName string `json:"display_name"`
}

// Register creates an unverified account and emails a verification
// link. The response is identical whether or not the email was already
// taken, so the endpoint cannot be used to enumerate accounts.
func (s *Service) Register(ctx context.Context, req RegisterRequest) error {
	email, err := normalizeEmail(req.Email)
	if err != nil {
		return apierr.Invalid(apierr.CodeInvalidEmail, "invalid email address")
	}
	if err := checkPasswordPolicy(req.Password); err != nil {
		return err
	}
	displayName := strings.TrimSpace(req.DisplayName)
	if displayName == "" {
		displayName = strings.SplitN(email, "@", 2)[0]
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), BcryptCost)
	if err != nil {
		return apierr.Internal(err)
	}

	now := time.Now().UTC()
	user := &types.User{
		ID:           "u_" + uuid.NewString(),
		Email:        email,
		DisplayName:  displayName,
		PasswordHash: string(hash),
		CreatedAt:    now,
	}
	verify := &types.EmailToken{
		Token:     newRandomToken(),
		UserID:    user.ID,
		Purpose:   types.TokenVerifyEmail,
		ExpiresAt: now.Add(VerifyTokenTTL),
	}

	err = s.store.RunInTransaction(ctx, func(tx storage.Tx) error {
		if _, err := tx.GetUserByEmail(ctx, email); err == nil {
			return errEmailTaken
		} else if !errors.Is(err, storage.ErrNotFound) {
			return err
		}
		if err := tx.CreateUser(ctx, user); err != nil {
			return err
		}
		return tx.CreateEmailToken(ctx, verify)
	})
	switch {
	case errors.Is(err, errEmailTaken):
		// Same outward behavior as success.
		s.logger.Info("registration for existing email suppressed", zap.String("email", email))
		return nil
	case err != nil:
		if storage.IsUniqueConstraint(err) {
			s.logger.Info("registration for existing email suppressed", zap.String("email", email))
			return nil
		}
		return apierr.Internal(err)
	}

	s.sendVerificationMail(ctx, email, verify.Token)
	s.logger.Info("user registered", zap.String("user_id", user.ID))
	return nil
}

var errEmailTaken = errors.New("email already registered")

// Login verifies the password and mints a session. Unverified accounts
// are told to verify first; wrong email and wrong password are
// indistinguishable.
func (s *Service) Login(ctx context.Context, email, password string) (*types.Session, *types.User, error) {
	normalized, err := normalizeEmail(email)
	if err != nil {
		return nil, nil, apierr.Unauthorized(apierr.CodeInvalidCredentials, "invalid email or password")
	}

	user, err := s.store.GetUserByEmail(ctx, normalized)
	if errors.Is(err, storage.ErrNotFound) {
		// Burn comparable time so timing does not reveal account existence.
		_ = bcrypt.CompareHashAndPassword(dummyHash, []byte(password))
		return nil, nil, apierr.Unauthorized(apierr.CodeInvalidCredentials, "invalid email or password")
	} else if err != nil {
		return nil, nil, apierr.Internal(err)
	}
	if user.PasswordHash == "" ||
		bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)) != nil {
		return nil, nil, apierr.Unauthorized(apierr.CodeInvalidCredentials, "invalid email or password")
	}
	if !user.EmailVerified {
		return nil, nil, apierr.Forbidden(apierr.CodeEmailNotVerified, "email address not verified")
	}

	session, err := s.mintSession(ctx, user)
	if err != nil {
		return nil, nil, err
	}
	return session, user, nil
}

// ExternalLogin exchanges a verified external credential for a
// session, creating the account on first sight of the subject.
func (s *Service) ExternalLogin(ctx context.Context, credential string) (*types.Session, *types.User, error) {
	if s.params.Verifier == nil {
		return nil, nil, apierr.Unauthorized(apierr.CodeInvalidToken, "external login is not configured")
	}
	identity, err := s.params.Verifier.Verify(ctx, credential)
	if err != nil {
		return nil, nil, apierr.Unauthorized(apierr.CodeInvalidToken, "identity token rejected")
	}

	email, err := normalizeEmail(identity.Email)
	if err != nil {
		return nil, nil, apierr.Unauthorized(apierr.CodeInvalidToken, "identity token carries no usable email")
	}

	var user *types.User
	err = s.store.RunInTransaction(ctx, func(tx storage.Tx) error {
		u, err := tx.GetUserByGoogleSubject(ctx, identity.Subject)
		switch {
		case err == nil:
			// Known subject: refresh last login below.
		case errors.Is(err, storage.ErrNotFound):
			// Link to an existing password account with the same email,
			// or create a fresh one.
			u, err = tx.GetUserByEmail(ctx, email)
			if errors.Is(err, storage.ErrNotFound) {
				u = &types.User{
					ID:          "u_" + uuid.NewString(),
					Email:       email,
					DisplayName: identity.Name,
					CreatedAt:   time.Now().UTC(),
				}
				if u.DisplayName == "" {
					u.DisplayName = strings.SplitN(email, "@", 2)[0]
				}
				u.GoogleSubject = identity.Subject
				u.EmailVerified = true
				return tx.CreateUser(ctx, u)
			} else if err != nil {
				return err
			}
			u.GoogleSubject = identity.Subject
			u.EmailVerified = true
		default:
			return err
		}
		user = u
		return tx.UpdateUser(ctx, u)
	})
	if err != nil {
		return nil, nil, apierr.Internal(err)
	}
	if user == nil {
		// Created inside the transaction; re-read by subject.
		user, err = s.store.GetUserByGoogleSubject(ctx, identity.Subject)
		if err != nil {
			return nil, nil, apierr.Internal(err)
		}
	}

	session, err := s.mintSession(ctx, user)
	if err != nil {
		return nil, nil, err
	}
	return session, user, nil
}

// VerifyEmail consumes a verification token and flips the flag.
func (s *Service) VerifyEmail(ctx context.Context, token string) error {
	err := s.store.RunInTransaction(ctx, func(tx storage.Tx) error {
		et, err := tx.ConsumeEmailToken(ctx, token, types.TokenVerifyEmail)
		if err != nil {
			return err
		}
		user, err := tx.GetUser(ctx, et.UserID)
		if err != nil {
			return err
		}
		user.EmailVerified = true
		return tx.UpdateUser(ctx, user)
	})
	if errors.Is(err, storage.ErrNotFound) {
		return apierr.Invalid(apierr.CodeInvalidToken, "verification token is invalid or expired")
	}
	if err != nil {
		return apierr.Internal(err)
	}
	return nil
}

// ResendVerification mints a fresh verification token. Constant
// response regardless of account state.
func (s *Service) ResendVerification(ctx context.Context, email string) error {
	normalized, err := normalizeEmail(email)
	if err != nil {
		return nil
	}
	user, err := s.store.GetUserByEmail(ctx, normalized)
	if errors.Is(err, storage.ErrNotFound) {
		return nil
	} else if err != nil {
		return apierr.Internal(err)
	}
	if user.EmailVerified {
		return nil
	}

	token := &types.EmailToken{
		Token:     newRandomToken(),
		UserID:    user.ID,
		Purpose:   types.TokenVerifyEmail,
		ExpiresAt: time.Now().UTC().Add(VerifyTokenTTL),
	}
	if err := s.store.CreateEmailToken(ctx, token); err != nil {
		return apierr.Internal(err)
	}
	s.sendVerificationMail(ctx, user.Email, token.Token)
	return nil
}

// ForgotPassword mints a 1h reset token. Constant response regardless
// of account state.
func (s *Service) ForgotPassword(ctx context.Context, email string) error {
	normalized, err := normalizeEmail(email)
	if err != nil {
		return nil
	}
	user, err := s.store.GetUserByEmail(ctx, normalized)
	if errors.Is(err, storage.ErrNotFound) {
		return nil
	} else if err != nil {
		return apierr.Internal(err)
	}
	if user.PasswordHash == "" {
		// External-identity account, nothing to reset.
		return nil
	}

	token := &types.EmailToken{
		Token:     newRandomToken(),
		UserID:    user.ID,
		Purpose:   types.TokenResetPassword,
		ExpiresAt: time.Now().UTC().Add(ResetTokenTTL),
	}
	if err := s.store.CreateEmailToken(ctx, token); err != nil {
		return apierr.Internal(err)
	}
	s.sendMail(ctx, user.Email, "Reset your PCG Arena password",
		fmt.Sprintf("Reset your password within the next hour:\n\n%s/reset-password?token=%s\n",
			s.params.BaseURL, token.Token))
	return nil
}

// ResetPassword consumes a reset token and installs the new hash.
func (s *Service) ResetPassword(ctx context.Context, token, newPassword string) error {
	if err := checkPasswordPolicy(newPassword); err != nil {
		return err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(newPassword), BcryptCost)
	if err != nil {
		return apierr.Internal(err)
	}

	err = s.store.RunInTransaction(ctx, func(tx storage.Tx) error {
		et, err := tx.ConsumeEmailToken(ctx, token, types.TokenResetPassword)
		if err != nil {
			return err
		}
		user, err := tx.GetUser(ctx, et.UserID)
		if err != nil {
			return err
		}
		user.PasswordHash = string(hash)
		// A working reset link proves control of the mailbox.
		user.EmailVerified = true
		return tx.UpdateUser(ctx, user)
	})
	if errors.Is(err, storage.ErrNotFound) {
		return apierr.Invalid(apierr.CodeInvalidToken, "reset token is invalid or expired")
	}
	if err != nil {
		return apierr.Internal(err)
	}
	return nil
}

// Logout discards a session token. Unknown tokens are fine.
func (s *Service) Logout(ctx context.Context, token string) error {
	if err := s.store.DeleteSession(ctx, token); err != nil && !errors.Is(err, storage.ErrNotFound) {
		return apierr.Internal(err)
	}
	return nil
}

// Authenticate resolves a session token to its user, rejecting
// expired and flagged sessions.
func (s *Service) Authenticate(ctx context.Context, token string) (*types.User, *types.Session, error) {
	if token == "" {
		return nil, nil, apierr.Unauthorized(apierr.CodeUnauthorized, "authentication required")
	}
	session, err := s.store.GetSession(ctx, token)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil, apierr.Unauthorized(apierr.CodeUnauthorized, "authentication required")
	} else if err != nil {
		return nil, nil, apierr.Internal(err)
	}
	if session.Flagged || time.Now().UTC().After(session.ExpiresAt) {
		return nil, nil, apierr.Unauthorized(apierr.CodeUnauthorized, "session expired")
	}
	user, err := s.store.GetUser(ctx, session.UserID)
	if err != nil {
		return nil, nil, apierr.Unauthorized(apierr.CodeUnauthorized, "session expired")
	}
	return user, session, nil
}

// IsAdmin reports whether the user may call admin endpoints.
func (s *Service) IsAdmin(user *types.User) bool {
	if user == nil {
		return false
	}
	if user.IsAdmin {
		return true
	}
	for _, email := range s.params.AdminEmails {
		if strings.EqualFold(email, user.Email) {
			return true
		}
	}
	return false
}

func (s *Service) mintSession(ctx context.Context, user *types.User) (*types.Session, error) {
	now := time.Now().UTC()
	session := &types.Session{
		Token:     newRandomToken(),
		UserID:    user.ID,
		CreatedAt: now,
		ExpiresAt: now.Add(SessionTTL),
	}
	err := s.store.RunInTransaction(ctx, func(tx storage.Tx) error {
		if err := tx.CreateSession(ctx, session); err != nil {
			return err
		}
		user.LastLoginAt = now
		return tx.UpdateUser(ctx, user)
	})
	if err != nil {
		return nil, apierr.Internal(err)
	}
	return session, nil
}

func (s *Service) sendVerificationMail(ctx context.Context, email, token string) {
	s.sendMail(ctx, email, "Verify your PCG Arena account",
		fmt.Sprintf("Welcome to PCG Arena. Verify your email within 24 hours:\n\n%s/verify-email?token=%s\n",
			s.params.BaseURL, token))
}

// sendMail is fire-and-forget: a failure never fails the mutation that
// triggered it, because every emailed token can be re-requested.
func (s *Service) sendMail(ctx context.Context, to, subject, body string) {
	if err := s.mail.Send(ctx, mailer.Message{To: to, Subject: subject, TextBody: body}); err != nil {
		s.logger.Warn("email send failed", zap.String("to", to), zap.Error(err))
	}
}

// dummyHash keeps failed-login timing uniform. Any valid bcrypt hash
// works; the comparison always fails.
var dummyHash = []byte("$2a$12$C6UzMDM.H6dfI/f/IKcEeO7ZF1sTtRzzy9nr5dVn3C22vRAHrrxxa")

func newRandomToken() string {
	buf := make([]byte, sessionTokenBytes)
	if _, err := rand.Read(buf); err != nil {
		panic(fmt.Sprintf("crypto/rand unavailable: %v", err))
	}
	return base64.RawURLEncoding.EncodeToString(buf)
}

func normalizeEmail(email string) (string, error) {
	trimmed := strings.ToLower(strings.TrimSpace(email))
	addr, err := mail.ParseAddress(trimmed)
	if err != nil || addr.Address != trimmed {
		return "", fmt.Errorf("invalid email %q", email)
	}
	return trimmed, nil
}

func checkPasswordPolicy(password string) error {
	var hasUpper, hasLower, hasDigit bool
	for _, r := range password {
		switch {
		case unicode.IsUpper(r):
			hasUpper = true
		case unicode.IsLower(r):
			hasLower = true
		case unicode.IsDigit(r):
			hasDigit = true
		}
	}
	if len(password) < 8 || !hasUpper || !hasLower || !hasDigit {
		return apierr.Invalid(apierr.CodeWeakPassword,
			"password must be at least 8 characters with upper case, lower case, and a digit")
	}
	return nil
}
