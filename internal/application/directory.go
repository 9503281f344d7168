package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/example/roomflow/internal/domain"
)

// Audit actions recorded by the directory.
const (
	ActionSectorCreated   = "SECTOR_CREATED"
	ActionSectorMigration = "SECTOR_MIGRATION"
	ActionUserCreated     = "USER_CREATED"
	ActionUserUpdated     = "USER_UPDATED"
	ActionUserDeleted     = "USER_DELETED"
	ActionPasswordReset   = "PASSWORD_RESET"
	ActionPasswordChanged = "PASSWORD_CHANGED"
)

// legacyAdminSector was once used as a sector; it is an access level only.
const legacyAdminSector = "ADMIN"

// DirectoryService manages rooms, sectors and user accounts.
type DirectoryService struct {
	store    DirectoryStore
	identity *IdentityService
	hash     PasswordHasher
	verify   PasswordVerifier
	rooms    *roomCache
	now      func() time.Time
	logger   *slog.Logger
}

// NewDirectoryService constructs a DirectoryService.
func NewDirectoryService(store DirectoryStore, identity *IdentityService, hash PasswordHasher, now func() time.Time) *DirectoryService {
	return NewDirectoryServiceWithLogger(store, identity, hash, nil, now, nil)
}

// NewDirectoryServiceWithLogger constructs a DirectoryService with a specified
// logger and password verifier.
func NewDirectoryServiceWithLogger(store DirectoryStore, identity *IdentityService, hash PasswordHasher, verify PasswordVerifier, now func() time.Time, logger *slog.Logger) *DirectoryService {
	if hash == nil {
		hash = NewArgon2idHasher(DefaultArgon2idParams)
	}
	if verify == nil {
		verify = VerifyPassword
	}
	if now == nil {
		now = time.Now
	}
	return &DirectoryService{
		store:    store,
		identity: identity,
		hash:     hash,
		verify:   verify,
		rooms:    newRoomCache(30*time.Second, now),
		now:      now,
		logger:   defaultLogger(logger),
	}
}

func (s *DirectoryService) loggerWith(ctx context.Context, operation string, attrs ...any) *slog.Logger {
	return serviceLogger(ctx, s.logger, "DirectoryService", operation, attrs...)
}

func (s *DirectoryService) configured() error {
	if s == nil || s.store == nil || s.identity == nil {
		return fmt.Errorf("DirectoryService is not configured")
	}
	return nil
}

// --- rooms ---

// ListRooms returns the provisioned rooms ordered by id.
func (s *DirectoryService) ListRooms(ctx context.Context) ([]domain.Room, error) {
	if err := s.configured(); err != nil {
		return nil, err
	}
	if rooms, ok := s.rooms.List(); ok {
		return rooms, nil
	}
	rooms, err := s.store.ListRooms(ctx)
	if err != nil {
		return nil, err
	}
	s.rooms.Store(rooms)
	return rooms, nil
}

// GetRoom returns the room with id.
func (s *DirectoryService) GetRoom(ctx context.Context, id string) (domain.Room, error) {
	if err := s.configured(); err != nil {
		return domain.Room{}, err
	}
	if room, found, cached := s.rooms.Get(id); cached {
		if !found {
			return domain.Room{}, fmt.Errorf("%w: room %s", ErrNotFound, id)
		}
		return room, nil
	}
	room, found, err := s.store.GetRoom(ctx, id)
	if err != nil {
		return domain.Room{}, err
	}
	if !found {
		return domain.Room{}, fmt.Errorf("%w: room %s", ErrNotFound, id)
	}
	return room, nil
}

// EnsureRoom stores room unless a room with the same id exists.
func (s *DirectoryService) EnsureRoom(ctx context.Context, room domain.Room) (bool, error) {
	if err := s.configured(); err != nil {
		return false, err
	}
	_, found, err := s.store.GetRoom(ctx, room.ID)
	if err != nil || found {
		return false, err
	}
	if room.CreatedAt.IsZero() {
		room.CreatedAt = s.now()
	}
	if err := s.store.SaveRoom(ctx, room); err != nil {
		return false, err
	}
	s.rooms.Invalidate()
	return true, nil
}

// --- sectors ---

// NormalizeSectorName trims and upper-cases a sector name, rejecting empty
// names and path separators.
func NormalizeSectorName(name string) (string, error) {
	clean := strings.ToUpper(strings.TrimSpace(name))
	if clean == "" {
		return "", fieldError("sector", "sector name is required")
	}
	if strings.ContainsAny(clean, `/\`) {
		return "", fieldError("sector", "sector name must not contain path separators")
	}
	return clean, nil
}

// ListSectors returns the sector names, excluding the legacy ADMIN sector.
func (s *DirectoryService) ListSectors(ctx context.Context) ([]string, error) {
	if err := s.configured(); err != nil {
		return nil, err
	}
	sectors, err := s.store.ListSectors(ctx)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(sectors))
	for _, sector := range sectors {
		if sector.Name != "" && sector.Name != legacyAdminSector {
			names = append(names, sector.Name)
		}
	}
	sort.Strings(names)
	return names, nil
}

func (s *DirectoryService) sectorExists(ctx context.Context, name string) (bool, error) {
	names, err := s.ListSectors(ctx)
	if err != nil {
		return false, err
	}
	for _, existing := range names {
		if existing == name {
			return true, nil
		}
	}
	return false, nil
}

// CreateSector registers a new sector. Only administrators may create sectors.
func (s *DirectoryService) CreateSector(ctx context.Context, name string, actor domain.User) (sector string, err error) {
	if err = s.configured(); err != nil {
		return
	}

	logger := s.loggerWith(ctx, "CreateSector", "actor_id", actor.ID)
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "failed to create sector", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.With("sector", sector).InfoContext(ctx, "sector created")
	}()

	if actor.Role != domain.RoleAdmin {
		err = ErrUnauthorized
		return
	}
	sector, err = s.ensureSector(ctx, name)
	if err != nil {
		return
	}
	_, err = s.identity.Audit(ctx, actor.Actor(), ActionSectorCreated, TargetSector, sector, nil)
	return
}

func (s *DirectoryService) ensureSector(ctx context.Context, name string) (string, error) {
	clean, err := NormalizeSectorName(name)
	if err != nil {
		return "", err
	}
	if clean == legacyAdminSector {
		return "", fieldError("sector", "ADMIN is an access level, not a sector")
	}
	exists, err := s.sectorExists(ctx, clean)
	if err != nil {
		return "", err
	}
	if exists {
		return "", fmt.Errorf("%w: sector %s", ErrAlreadyExists, clean)
	}
	if err := s.store.SaveSector(ctx, domain.Sector{Name: clean, CreatedAt: s.now()}); err != nil {
		return "", err
	}
	return clean, nil
}

// MigrateLegacyAdminSector removes the ADMIN sector and moves its members to RH.
// It returns the ids of the migrated users.
func (s *DirectoryService) MigrateLegacyAdminSector(ctx context.Context) (migrated []string, err error) {
	if err = s.configured(); err != nil {
		return
	}
	if _, err = s.store.RemoveSector(ctx, legacyAdminSector); err != nil {
		return
	}

	var users []domain.User
	users, err = s.store.ListUsers(ctx)
	if err != nil {
		return
	}
	for _, user := range users {
		if user.Sector != legacyAdminSector {
			continue
		}
		user.Sector = string(domain.RoleRH)
		user.UpdatedAt = s.now()
		if err = s.store.SaveUser(ctx, user); err != nil {
			return
		}
		migrated = append(migrated, user.ID)
	}
	if len(migrated) == 0 {
		return
	}

	s.loggerWith(ctx, "MigrateLegacyAdminSector").
		InfoContext(ctx, "legacy ADMIN sector migrated", "users", len(migrated))
	_, err = s.identity.Audit(ctx, domain.SystemActor, ActionSectorMigration, TargetSector, legacyAdminSector, map[string]any{
		"migrated_users": migrated,
		"to":             string(domain.RoleRH),
	})
	return
}

// --- users ---

// GetUser returns the user with id.
func (s *DirectoryService) GetUser(ctx context.Context, id string) (domain.User, error) {
	if err := s.configured(); err != nil {
		return domain.User{}, err
	}
	user, found, err := s.store.GetUser(ctx, id)
	if err != nil {
		return domain.User{}, err
	}
	if !found {
		return domain.User{}, fmt.Errorf("%w: user %s", ErrNotFound, id)
	}
	return user, nil
}

// ListUsers returns every user ordered by id.
func (s *DirectoryService) ListUsers(ctx context.Context) ([]domain.User, error) {
	if err := s.configured(); err != nil {
		return nil, err
	}
	return s.store.ListUsers(ctx)
}

// ListUsersBySector returns the members of a sector.
func (s *DirectoryService) ListUsersBySector(ctx context.Context, sector string) ([]domain.User, error) {
	name, err := NormalizeSectorName(sector)
	if err != nil {
		return nil, err
	}
	users, err := s.ListUsers(ctx)
	if err != nil {
		return nil, err
	}
	var out []domain.User
	for _, user := range users {
		if user.Sector == name {
			out = append(out, user)
		}
	}
	return out, nil
}

// FindUserByUsername returns the user with username.
func (s *DirectoryService) FindUserByUsername(ctx context.Context, username string) (domain.User, error) {
	users, err := s.ListUsers(ctx)
	if err != nil {
		return domain.User{}, err
	}
	username = strings.TrimSpace(username)
	for _, user := range users {
		if user.Username == username {
			return user, nil
		}
	}
	return domain.User{}, fmt.Errorf("%w: user %q", ErrNotFound, username)
}

func (s *DirectoryService) validateUserInput(ctx context.Context, input UserInput) (UserInput, error) {
	vErr := &ValidationError{}
	input.Username = strings.TrimSpace(input.Username)
	if input.Username == "" {
		vErr.add("username", "username is required")
	}
	if !input.Role.Valid() {
		vErr.add("role", "role must be ADMIN, RH or USER")
	}
	if input.Password == "" {
		vErr.add("password", "password is required")
	}
	sector, err := NormalizeSectorName(input.Sector)
	if err != nil {
		var sErr *ValidationError
		if errors.As(err, &sErr) {
			vErr.merge(sErr)
		}
	} else {
		exists, err := s.sectorExists(ctx, sector)
		if err != nil {
			return input, err
		}
		if !exists {
			vErr.add("sector", "unknown sector")
		}
		input.Sector = sector
	}
	if vErr.HasErrors() {
		return input, vErr
	}
	return input, nil
}

// CreateUser registers an account that must change its password on first sign-in.
func (s *DirectoryService) CreateUser(ctx context.Context, input UserInput, actor domain.User) (domain.User, error) {
	if actor.Role != domain.RoleAdmin {
		return domain.User{}, ErrUnauthorized
	}
	return s.createUser(ctx, input, actor.Actor())
}

func (s *DirectoryService) createUser(ctx context.Context, input UserInput, actor domain.Actor) (user domain.User, err error) {
	if err = s.configured(); err != nil {
		return
	}

	logger := s.loggerWith(ctx, "CreateUser",
		"actor_id", actor.UserID,
		"username", input.Username,
	)
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "failed to create user", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.With("user_id", user.ID).InfoContext(ctx, "user created")
	}()

	input, err = s.validateUserInput(ctx, input)
	if err != nil {
		return
	}
	if _, findErr := s.FindUserByUsername(ctx, input.Username); findErr == nil {
		err = fmt.Errorf("%w: username %s", ErrAlreadyExists, input.Username)
		return
	} else if !errors.Is(findErr, ErrNotFound) {
		err = findErr
		return
	}

	var hashed string
	hashed, err = s.hash(input.Password)
	if err != nil {
		return
	}
	var id string
	id, err = s.identity.NextID(ctx, KindUsers, PrefixUser)
	if err != nil {
		return
	}
	now := s.now()
	user = domain.User{
		ID:                 id,
		Username:           input.Username,
		Role:               input.Role,
		Sector:             input.Sector,
		PasswordHash:       hashed,
		MustChangePassword: true,
		Active:             true,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	var created bool
	if created, err = s.store.CreateUserUnique(ctx, user); err != nil {
		return
	}
	if !created {
		user = domain.User{}
		err = fmt.Errorf("%w: username %s", ErrAlreadyExists, input.Username)
		return
	}
	_, err = s.identity.Audit(ctx, actor, ActionUserCreated, TargetUser, user.ID, map[string]any{
		"username": user.Username,
		"role":     string(user.Role),
		"sector":   user.Sector,
	})
	return
}

// UpdateUserRoleSector changes a user's access level and sector.
func (s *DirectoryService) UpdateUserRoleSector(ctx context.Context, userID string, role domain.Role, sector string, actor domain.User) (user domain.User, err error) {
	if err = s.configured(); err != nil {
		return
	}

	logger := s.loggerWith(ctx, "UpdateUserRoleSector",
		"actor_id", actor.ID,
		"user_id", userID,
	)
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "failed to update user", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.InfoContext(ctx, "user updated")
	}()

	if actor.Role != domain.RoleAdmin {
		err = ErrUnauthorized
		return
	}
	if !role.Valid() {
		err = fieldError("role", "role must be ADMIN, RH or USER")
		return
	}
	var name string
	if name, err = NormalizeSectorName(sector); err != nil {
		return
	}
	var exists bool
	if exists, err = s.sectorExists(ctx, name); err != nil {
		return
	}
	if !exists {
		err = fieldError("sector", "unknown sector")
		return
	}
	if user, err = s.GetUser(ctx, userID); err != nil {
		return
	}

	user.Role = role
	user.Sector = name
	user.UpdatedAt = s.now()
	if err = s.store.SaveUser(ctx, user); err != nil {
		return
	}
	_, err = s.identity.Audit(ctx, actor.Actor(), ActionUserUpdated, TargetUser, user.ID, map[string]any{
		"role":   string(role),
		"sector": name,
	})
	return
}

// ResetUserPassword sets a new password that must be changed at next sign-in.
func (s *DirectoryService) ResetUserPassword(ctx context.Context, userID, password string, actor domain.User) (err error) {
	if err = s.configured(); err != nil {
		return
	}

	logger := s.loggerWith(ctx, "ResetUserPassword",
		"actor_id", actor.ID,
		"user_id", userID,
	)
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "failed to reset password", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.InfoContext(ctx, "password reset")
	}()

	if actor.Role != domain.RoleAdmin {
		err = ErrUnauthorized
		return
	}
	if password == "" {
		err = fieldError("password", "password is required")
		return
	}
	var user domain.User
	if user, err = s.GetUser(ctx, userID); err != nil {
		return
	}
	if user.PasswordHash, err = s.hash(password); err != nil {
		return
	}
	user.MustChangePassword = true
	user.UpdatedAt = s.now()
	if err = s.store.SaveUser(ctx, user); err != nil {
		return
	}
	_, err = s.identity.Audit(ctx, actor.Actor(), ActionPasswordReset, TargetUser, user.ID, nil)
	return
}

// DeleteUser removes an account. Administrators cannot delete themselves.
func (s *DirectoryService) DeleteUser(ctx context.Context, userID string, actor domain.User) (err error) {
	if err = s.configured(); err != nil {
		return
	}

	logger := s.loggerWith(ctx, "DeleteUser",
		"actor_id", actor.ID,
		"user_id", userID,
	)
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "failed to delete user", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.InfoContext(ctx, "user deleted")
	}()

	if actor.Role != domain.RoleAdmin {
		err = ErrUnauthorized
		return
	}
	var user domain.User
	if user, err = s.GetUser(ctx, userID); err != nil {
		return
	}
	if user.ID == actor.ID {
		err = fmt.Errorf("%w: users cannot delete their own account", ErrInvalidState)
		return
	}
	if err = s.store.DeleteUser(ctx, user.ID); err != nil {
		return
	}
	_, err = s.identity.Audit(ctx, actor.Actor(), ActionUserDeleted, TargetUser, user.ID, map[string]any{
		"username": user.Username,
		"sector":   user.Sector,
		"role":     string(user.Role),
	})
	return
}

// ChangeOwnPassword replaces the caller's password after verifying the current one.
func (s *DirectoryService) ChangeOwnPassword(ctx context.Context, userID, current, next string) (err error) {
	if err = s.configured(); err != nil {
		return
	}

	logger := s.loggerWith(ctx, "ChangeOwnPassword", "user_id", userID)
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "failed to change password", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.InfoContext(ctx, "password changed")
	}()

	var user domain.User
	if user, err = s.GetUser(ctx, userID); err != nil {
		return
	}
	if verifyErr := s.verify(user.PasswordHash, current); verifyErr != nil {
		err = fieldError("current_password", "current password is incorrect")
		return
	}
	if next == "" {
		err = fieldError("new_password", "password is required")
		return
	}
	if user.PasswordHash, err = s.hash(next); err != nil {
		return
	}
	user.MustChangePassword = false
	user.UpdatedAt = s.now()
	if err = s.store.SaveUser(ctx, user); err != nil {
		return
	}
	_, err = s.identity.Audit(ctx, user.Actor(), ActionPasswordChanged, TargetUser, user.ID, nil)
	return
}

// Authenticate verifies a username and password. Inactive accounts are
// rejected; legacy PBKDF2 credentials are rehashed with argon2id on success.
func (s *DirectoryService) Authenticate(ctx context.Context, username, password string) (user domain.User, err error) {
	if err = s.configured(); err != nil {
		return
	}

	username = strings.TrimSpace(username)
	logger := s.loggerWith(ctx, "Authenticate", "username", username)
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "authentication failed", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.With("user_id", user.ID).InfoContext(ctx, "authentication succeeded")
	}()

	if username == "" || password == "" {
		err = ErrInvalidCredentials
		return
	}
	user, err = s.FindUserByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			err = ErrInvalidCredentials
		}
		return
	}
	if !user.Active {
		user = domain.User{}
		err = ErrAccountDisabled
		return
	}
	if verifyErr := s.verify(user.PasswordHash, password); verifyErr != nil {
		user = domain.User{}
		err = ErrInvalidCredentials
		return
	}

	if IsLegacyPasswordHash(user.PasswordHash) {
		rehashed, hashErr := s.hash(password)
		if hashErr != nil {
			logger.WarnContext(ctx, "failed to upgrade legacy credential", "error", hashErr)
			return
		}
		user.PasswordHash = rehashed
		user.UpdatedAt = s.now()
		if saveErr := s.store.SaveUser(ctx, user); saveErr != nil {
			logger.WarnContext(ctx, "failed to persist upgraded credential", "error", saveErr)
		}
	}
	return
}
