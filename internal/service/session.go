package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/iliyamo/clinic-api/internal/csrf"
	"github.com/iliyamo/clinic-api/internal/logger"
	"github.com/iliyamo/clinic-api/internal/model"
	"github.com/iliyamo/clinic-api/internal/repository"
	"github.com/iliyamo/clinic-api/internal/security"
	"github.com/iliyamo/clinic-api/internal/token"
)

// UserRepository is satisfied by *repository.UserRepo.
type UserRepository interface {
	Create(ctx context.Context, u *model.User) (uint64, error)
	GetByUsername(ctx context.Context, tenantID uint64, username string) (model.User, error)
	GetByEmailHash(ctx context.Context, tenantID uint64, emailHash string) (model.User, error)
	GetByID(ctx context.Context, tenantID, id uint64) (model.User, error)
	UpdatePasswordHash(ctx context.Context, tenantID, id uint64, hash string) error
}

// RoleRepository is satisfied by *repository.RoleRepo.
type RoleRepository interface {
	Get(ctx context.Context, tenantID, roleID uint64) (model.Role, error)
}

// AuditReader is satisfied by *repository.AuditRepo.
type AuditReader interface {
	List(ctx context.Context, tenantID uint64, f repository.AuditFilter) ([]model.AuditLog, error)
}

// Deps groups the collaborators of SessionService.
type Deps struct {
	Users     UserRepository
	Roles     RoleRepository
	Tokens    *RefreshStore
	Codec     *token.Codec
	CSRF      *csrf.Guard
	Cipher    *security.Cipher
	Passwords security.PasswordHasher
	Audit     Auditor
	AuditLog  AuditReader
}

// SessionService orchestrates login, refresh rotation, logout and password
// changes on top of the refresh store, the access token codec and the CSRF
// guard.
type SessionService struct {
	d Deps

	dummyOnce sync.Once
	dummyHash string
}

func NewSessionService(d Deps) *SessionService {
	return &SessionService{d: d}
}

// UserInfo is the decrypted profile returned to clients.
type UserInfo struct {
	ID       uint64 `json:"id"`
	TenantID uint64 `json:"tenant_id"`
	Username string `json:"username"`
	Email    string `json:"email"`
	FullName string `json:"full_name"`
	Phone    string `json:"phone,omitempty"`
	RoleID   uint64 `json:"role_id"`
	RoleName string `json:"role_name"`
	Status   string `json:"status"`
}

// AuthResult is returned by Login and Refresh.  RefreshToken is the raw
// value for the cookie; it is not retrievable later.
type AuthResult struct {
	Access           token.AccessToken
	RefreshToken     string
	RefreshExpiresAt time.Time
	CSRFToken        string
	User             UserInfo
}

type LoginInput struct {
	TenantID uint64
	// Username may also be the account's email address.
	Username string
	Password string
	Meta     ClientMeta
}

// Login authenticates username within tenant and opens a new session
// family.  Unknown users, wrong passwords and inactive accounts all fail
// with the same message.
func (s *SessionService) Login(ctx context.Context, in LoginInput) (AuthResult, error) {
	u, err := s.lookupLogin(ctx, in.TenantID, strings.TrimSpace(in.Username))
	if errors.Is(err, repository.ErrNotFound) {
		s.d.Passwords.Verify(s.dummy(), in.Password)
		return AuthResult{}, s.loginFailed(ctx, in, 0, "unknown username")
	}
	if err != nil {
		return AuthResult{}, internal(err)
	}
	if !s.d.Passwords.Verify(u.PasswordHash, in.Password) {
		return AuthResult{}, s.loginFailed(ctx, in, u.ID, "wrong password")
	}
	if !u.Active() {
		return AuthResult{}, s.loginFailed(ctx, in, u.ID, "account inactive")
	}

	if s.d.Passwords.NeedsRehash(u.PasswordHash) {
		if h, err := s.d.Passwords.Hash(in.Password); err == nil {
			if err := s.d.Users.UpdatePasswordHash(ctx, u.TenantID, u.ID, h); err != nil {
				logger.Warn().Err(err).Uint64("user_id", u.ID).Msg("password rehash not persisted")
			}
		}
	}

	role, err := s.d.Roles.Get(ctx, u.TenantID, u.RoleID)
	if err != nil {
		return AuthResult{}, internal(err)
	}
	raw, rec, err := s.d.Tokens.Create(ctx, u.ID, u.TenantID, "", in.Meta)
	if err != nil {
		return AuthResult{}, internal(err)
	}
	access, err := s.d.Codec.Issue(subject(u, role, rec.Family))
	if err != nil {
		return AuthResult{}, internal(err)
	}
	csrfToken, err := s.d.CSRF.Generate(ctx, rec.Family)
	if err != nil {
		return AuthResult{}, internal(err)
	}

	record(ctx, s.d.Audit, model.AuditLog{
		TenantID:  u.TenantID,
		UserID:    u.ID,
		Event:     model.EventLoginSuccess,
		IP:        in.Meta.IP,
		UserAgent: in.Meta.UserAgent,
	})
	return AuthResult{
		Access:           access,
		RefreshToken:     raw,
		RefreshExpiresAt: rec.ExpiresAt,
		CSRFToken:        csrfToken,
		User:             s.userInfo(u, role),
	}, nil
}

// lookupLogin resolves an email through its keyed hash since the stored
// address is encrypted with a random IV.
func (s *SessionService) lookupLogin(ctx context.Context, tenantID uint64, login string) (model.User, error) {
	if strings.Contains(login, "@") {
		return s.d.Users.GetByEmailHash(ctx, tenantID, s.d.Cipher.Hash(security.NormalizeEmail(login)))
	}
	return s.d.Users.GetByUsername(ctx, tenantID, login)
}

func (s *SessionService) loginFailed(ctx context.Context, in LoginInput, userID uint64, reason string) error {
	record(ctx, s.d.Audit, model.AuditLog{
		TenantID:  in.TenantID,
		UserID:    userID,
		Event:     model.EventLoginFailure,
		Severity:  model.SeverityWarning,
		IP:        in.Meta.IP,
		UserAgent: in.Meta.UserAgent,
		Detail:    reason,
	})
	return newError(KindUnauthenticated, msgInvalidCredentials, nil)
}

// dummy is compared against when the username does not exist so that the
// response time does not reveal which usernames are taken.
func (s *SessionService) dummy() string {
	s.dummyOnce.Do(func() {
		h, err := s.d.Passwords.Hash("clinic-api-timing-equaliser")
		if err == nil {
			s.dummyHash = h
		}
	})
	return s.dummyHash
}

type RefreshInput struct {
	TenantID     uint64
	RefreshToken string
	Meta         ClientMeta
}

// Refresh rotates the presented refresh token and mints a new access token
// in the same session family.
func (s *SessionService) Refresh(ctx context.Context, in RefreshInput) (AuthResult, error) {
	rec, err := s.d.Tokens.Validate(ctx, in.RefreshToken)
	switch {
	case errors.Is(err, ErrUserInactive):
		if _, rerr := s.d.Tokens.RevokeAllForUser(ctx, rec.UserID); rerr != nil {
			logger.Error().Err(rerr).Uint64("user_id", rec.UserID).Msg("revoke sessions of inactive user")
		}
		return AuthResult{}, newError(KindUnauthenticated, msgInvalidRefresh, err)
	case errors.Is(err, ErrRefreshNotFound), errors.Is(err, ErrRefreshReused):
		return AuthResult{}, newError(KindUnauthenticated, msgInvalidRefresh, err)
	case err != nil:
		return AuthResult{}, internal(err)
	}
	if in.TenantID != 0 && rec.TenantID != in.TenantID {
		return AuthResult{}, newError(KindUnauthenticated, msgInvalidRefresh, nil)
	}

	u, err := s.d.Users.GetByID(ctx, rec.TenantID, rec.UserID)
	if errors.Is(err, repository.ErrNotFound) {
		return AuthResult{}, newError(KindUnauthenticated, msgInvalidRefresh, err)
	}
	if err != nil {
		return AuthResult{}, internal(err)
	}
	role, err := s.d.Roles.Get(ctx, u.TenantID, u.RoleID)
	if err != nil {
		return AuthResult{}, internal(err)
	}

	rot, err := s.d.Tokens.Rotate(ctx, in.RefreshToken, u.ID, u.TenantID, in.Meta)
	if err != nil {
		return AuthResult{}, newError(KindUnauthenticated, msgRotationFailed, err)
	}
	access, err := s.d.Codec.Issue(subject(u, role, rot.Record.Family))
	if err != nil {
		return AuthResult{}, internal(err)
	}
	return AuthResult{
		Access:           access,
		RefreshToken:     rot.RawToken,
		RefreshExpiresAt: rot.Record.ExpiresAt,
		CSRFToken:        rot.CSRFToken,
		User:             s.userInfo(u, role),
	}, nil
}

type LogoutInput struct {
	TenantID     uint64
	RefreshToken string
	// SessionID comes from a verified access token when one was sent.
	SessionID string
	UserID    uint64
	Meta      ClientMeta
}

// Logout revokes the presented refresh token and drops the CSRF session.
// It succeeds whatever state the token is in.
func (s *SessionService) Logout(ctx context.Context, in LogoutInput) error {
	userID, family := in.UserID, in.SessionID
	if in.RefreshToken != "" {
		rec, err := s.d.Tokens.Lookup(ctx, in.RefreshToken)
		switch {
		case err == nil && (in.TenantID == 0 || rec.TenantID == in.TenantID):
			if _, err := s.d.Tokens.RevokeByHash(ctx, rec.TokenHash); err != nil {
				return internal(err)
			}
			if userID == 0 {
				userID = rec.UserID
			}
			if family == "" {
				family = rec.Family
			}
		case err != nil && !errors.Is(err, ErrRefreshNotFound):
			return internal(err)
		}
	}
	if family != "" {
		if err := s.d.CSRF.Destroy(ctx, family); err != nil {
			logger.Warn().Err(err).Str("family", family).Msg("could not destroy csrf session")
		}
	}
	if userID != 0 {
		record(ctx, s.d.Audit, model.AuditLog{
			TenantID:  in.TenantID,
			UserID:    userID,
			Event:     model.EventLogout,
			IP:        in.Meta.IP,
			UserAgent: in.Meta.UserAgent,
		})
	}
	return nil
}

// LogoutAll revokes every session of the user, on every device.
func (s *SessionService) LogoutAll(ctx context.Context, tenantID, userID uint64, meta ClientMeta) (int64, error) {
	n, err := s.d.Tokens.RevokeAllForUser(ctx, userID)
	if err != nil {
		return 0, internal(err)
	}
	record(ctx, s.d.Audit, model.AuditLog{
		TenantID:  tenantID,
		UserID:    userID,
		Event:     model.EventLogoutAll,
		IP:        meta.IP,
		UserAgent: meta.UserAgent,
	})
	return n, nil
}

type ChangePasswordInput struct {
	TenantID        uint64
	UserID          uint64
	CurrentPassword string
	NewPassword     string
	Meta            ClientMeta
}

// ChangePassword replaces the password hash and signs the user out
// everywhere.  Access tokens already issued stay valid until they expire.
func (s *SessionService) ChangePassword(ctx context.Context, in ChangePasswordInput) error {
	u, err := s.d.Users.GetByID(ctx, in.TenantID, in.UserID)
	if errors.Is(err, repository.ErrNotFound) {
		return newError(KindUnauthenticated, msgInvalidCredentials, err)
	}
	if err != nil {
		return internal(err)
	}
	if !u.Active() {
		return newError(KindUnauthenticated, msgInvalidCredentials, nil)
	}
	if !s.d.Passwords.Verify(u.PasswordHash, in.CurrentPassword) {
		return newError(KindValidation, "current password is incorrect", nil)
	}
	if in.NewPassword == in.CurrentPassword {
		return newError(KindValidation, "new password must differ from the current password", nil)
	}
	hash, err := s.d.Passwords.Hash(in.NewPassword)
	if err != nil {
		return internal(err)
	}
	if err := s.d.Users.UpdatePasswordHash(ctx, u.TenantID, u.ID, hash); err != nil {
		return internal(err)
	}
	if _, err := s.d.Tokens.RevokeAllForUser(ctx, u.ID); err != nil {
		return internal(err)
	}
	record(ctx, s.d.Audit, model.AuditLog{
		TenantID:  u.TenantID,
		UserID:    u.ID,
		Event:     model.EventPasswordChanged,
		Severity:  model.SeverityWarning,
		IP:        in.Meta.IP,
		UserAgent: in.Meta.UserAgent,
	})
	return nil
}

type RegisterInput struct {
	TenantID uint64
	ActorID  uint64
	Username string
	Email    string
	Password string
	FullName string
	Phone    string
	RoleID   uint64
	Meta     ClientMeta
}

// Register creates a staff account in the caller's tenant.  PII is stored
// encrypted; the email is also stored as a keyed hash for lookups.
func (s *SessionService) Register(ctx context.Context, in RegisterInput) (UserInfo, error) {
	role, err := s.d.Roles.Get(ctx, in.TenantID, in.RoleID)
	if errors.Is(err, repository.ErrNotFound) {
		return UserInfo{}, newError(KindValidation, "unknown role", err)
	}
	if err != nil {
		return UserInfo{}, internal(err)
	}

	email := security.NormalizeEmail(in.Email)
	u := model.User{
		TenantID:  in.TenantID,
		RoleID:    role.ID,
		Username:  strings.TrimSpace(in.Username),
		EmailHash: s.d.Cipher.Hash(email),
		Status:    model.UserActive,
	}
	if u.EncryptedEmail, err = s.d.Cipher.Encrypt(email); err != nil {
		return UserInfo{}, internal(err)
	}
	if u.EncryptedFullName, err = s.d.Cipher.Encrypt(strings.TrimSpace(in.FullName)); err != nil {
		return UserInfo{}, internal(err)
	}
	if in.Phone != "" {
		if u.EncryptedPhone, err = s.d.Cipher.Encrypt(strings.TrimSpace(in.Phone)); err != nil {
			return UserInfo{}, internal(err)
		}
	}
	if u.PasswordHash, err = s.d.Passwords.Hash(in.Password); err != nil {
		return UserInfo{}, internal(err)
	}

	id, err := s.d.Users.Create(ctx, &u)
	if errors.Is(err, repository.ErrConflict) {
		return UserInfo{}, newError(KindConflict, "username or email already registered", err)
	}
	if err != nil {
		return UserInfo{}, internal(err)
	}
	u.ID = id

	record(ctx, s.d.Audit, model.AuditLog{
		TenantID:  in.TenantID,
		UserID:    in.ActorID,
		Event:     model.EventUserRegistered,
		IP:        in.Meta.IP,
		UserAgent: in.Meta.UserAgent,
		Detail:    "created user " + u.Username,
	})
	return s.userInfo(u, role), nil
}

// Me returns the caller's decrypted profile.
func (s *SessionService) Me(ctx context.Context, tenantID, userID uint64) (UserInfo, error) {
	u, err := s.d.Users.GetByID(ctx, tenantID, userID)
	if errors.Is(err, repository.ErrNotFound) {
		return UserInfo{}, newError(KindNotFound, "user not found", err)
	}
	if err != nil {
		return UserInfo{}, internal(err)
	}
	role, err := s.d.Roles.Get(ctx, tenantID, u.RoleID)
	if err != nil {
		return UserInfo{}, internal(err)
	}
	return s.userInfo(u, role), nil
}

// RegenerateCSRF replaces the CSRF token of the caller's session.
func (s *SessionService) RegenerateCSRF(ctx context.Context, sessionID string) (string, error) {
	if sessionID == "" {
		return "", newError(KindUnauthenticated, "session required", nil)
	}
	tok, err := s.d.CSRF.Generate(ctx, sessionID)
	if err != nil {
		return "", internal(err)
	}
	return tok, nil
}

// ListSessions lists the caller's live session families.
func (s *SessionService) ListSessions(ctx context.Context, userID uint64, current string) ([]model.Session, error) {
	sessions, err := s.d.Tokens.ListSessions(ctx, userID, current)
	if err != nil {
		return nil, internal(err)
	}
	return sessions, nil
}

// RevokeSession signs out one of the caller's sessions.
func (s *SessionService) RevokeSession(ctx context.Context, tenantID, userID uint64, family string, meta ClientMeta) error {
	err := s.d.Tokens.RevokeSession(ctx, userID, family)
	if errors.Is(err, ErrRefreshNotFound) {
		return newError(KindNotFound, "session not found", err)
	}
	if err != nil {
		return internal(err)
	}
	record(ctx, s.d.Audit, model.AuditLog{
		TenantID:  tenantID,
		UserID:    userID,
		Event:     model.EventSessionRevoked,
		IP:        meta.IP,
		UserAgent: meta.UserAgent,
		Detail:    "family " + family,
	})
	return nil
}

// AuditLogs lists the tenant's security events, newest first.
func (s *SessionService) AuditLogs(ctx context.Context, tenantID uint64, f repository.AuditFilter) ([]model.AuditLog, error) {
	if s.d.AuditLog == nil {
		return []model.AuditLog{}, nil
	}
	logs, err := s.d.AuditLog.List(ctx, tenantID, f)
	if err != nil {
		return nil, internal(err)
	}
	return logs, nil
}

func (s *SessionService) userInfo(u model.User, role model.Role) UserInfo {
	info := UserInfo{
		ID:       u.ID,
		TenantID: u.TenantID,
		Username: u.Username,
		Email:    s.d.Cipher.DecryptOr(u.EncryptedEmail, security.Placeholder),
		FullName: s.d.Cipher.DecryptOr(u.EncryptedFullName, security.Placeholder),
		RoleID:   role.ID,
		RoleName: role.Name,
		Status:   u.Status,
	}
	if u.EncryptedPhone != "" {
		info.Phone = s.d.Cipher.DecryptOr(u.EncryptedPhone, security.Placeholder)
	}
	return info
}

func subject(u model.User, role model.Role, family string) token.Subject {
	return token.Subject{
		UserID:      u.ID,
		TenantID:    u.TenantID,
		RoleID:      role.ID,
		RoleName:    role.Name,
		Username:    u.Username,
		Permissions: role.Permissions,
		SessionID:   family,
	}
}
