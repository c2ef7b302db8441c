package services

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	firebaseauth "firebase.google.com/go/v4/auth"

	domain "github.com/printy-garments/api/internal/domain"
	"github.com/printy-garments/api/internal/platform/auth"
	"github.com/printy-garments/api/internal/repositories"
)

var (
	// ErrUserInvalidInput indicates invalid account data.
	ErrUserInvalidInput = errors.New("user: invalid input")
	// ErrUserNotFound indicates the account does not exist.
	ErrUserNotFound = errors.New("user: not found")
	// ErrUserConflict indicates the account already exists.
	ErrUserConflict = errors.New("user: already exists")
	// ErrUserInvalidAssignment indicates an invalid client/commercial pairing.
	ErrUserInvalidAssignment = errors.New("user: invalid assignment")

	whatsappPattern = regexp.MustCompile(`^\+?[0-9\s\-()]{7,20}$`)
	nitPattern      = regexp.MustCompile(`^[0-9]{5,15}(-[0-9])?$`)
)

// UserServiceDeps bundles the dependencies required to construct a user service instance.
type UserServiceDeps struct {
	Users    repositories.UserRepository
	Firebase auth.UserGetter
	Clock    func() time.Time
}

type userService struct {
	users    repositories.UserRepository
	firebase auth.UserGetter
	clock    func() time.Time
}

// NewUserService wires dependencies into a concrete UserService implementation.
func NewUserService(deps UserServiceDeps) (UserService, error) {
	if deps.Users == nil {
		return nil, errors.New("user service: user repository is required")
	}
	if deps.Firebase == nil {
		return nil, errors.New("user service: firebase user getter is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	return &userService{
		users:    deps.Users,
		firebase: deps.Firebase,
		clock: func() time.Time {
			return clock().UTC()
		},
	}, nil
}

// GetProfile returns the account document for the given UID. A first-time
// caller without a stored document is seeded from their Firebase record
// with the default client role.
func (s *userService) GetProfile(ctx context.Context, uid string) (User, error) {
	uid = strings.TrimSpace(uid)
	if uid == "" {
		return User{}, fmt.Errorf("%w: uid is required", ErrUserInvalidInput)
	}

	user, err := s.users.FindByID(ctx, uid)
	if err == nil {
		return user, nil
	}
	if !isNotFound(err) {
		return User{}, err
	}

	record, err := s.firebase.GetUser(ctx, uid)
	if err != nil {
		return User{}, fmt.Errorf("fetch firebase user: %w", err)
	}

	fresh := userFromFirebase(record, s.clock())
	fresh.UID = uid
	if err := s.users.Insert(ctx, fresh); err != nil {
		if isConflict(err) {
			// Lost a seed race; the other writer's document wins.
			return s.users.FindByID(ctx, uid)
		}
		return User{}, err
	}
	return fresh, nil
}

func (s *userService) UpdateProfile(ctx context.Context, cmd UpdateProfileCommand) (User, error) {
	user, err := s.GetProfile(ctx, cmd.UID)
	if err != nil {
		return User{}, err
	}

	companyName := strings.TrimSpace(cmd.CompanyName)
	if companyName == "" {
		return User{}, fmt.Errorf("%w: company name is required", ErrUserInvalidInput)
	}
	contactName := strings.TrimSpace(cmd.ContactName)
	if contactName == "" {
		return User{}, fmt.Errorf("%w: contact name is required", ErrUserInvalidInput)
	}
	nit := strings.TrimSpace(cmd.NIT)
	if nit != "" && !nitPattern.MatchString(nit) {
		return User{}, fmt.Errorf("%w: malformed NIT", ErrUserInvalidInput)
	}
	whatsapp := strings.TrimSpace(cmd.WhatsApp)
	if whatsapp != "" && !whatsappPattern.MatchString(whatsapp) {
		return User{}, fmt.Errorf("%w: malformed whatsapp number", ErrUserInvalidInput)
	}

	user.CompanyName = companyName
	user.ContactName = contactName
	user.NIT = nit
	user.WhatsApp = whatsapp
	user.City = strings.TrimSpace(cmd.City)

	if err := s.users.Update(ctx, user); err != nil {
		return User{}, s.mapRepositoryError(err)
	}
	return user, nil
}

func (s *userService) TouchLastLogin(ctx context.Context, uid string) error {
	uid = strings.TrimSpace(uid)
	if uid == "" {
		return fmt.Errorf("%w: uid is required", ErrUserInvalidInput)
	}
	if err := s.users.TouchLastLogin(ctx, uid, s.clock()); err != nil && !isNotFound(err) {
		return err
	}
	return nil
}

func (s *userService) CreateUser(ctx context.Context, cmd CreateUserCommand) (User, error) {
	uid := strings.TrimSpace(cmd.UID)
	if uid == "" {
		return User{}, fmt.Errorf("%w: uid is required", ErrUserInvalidInput)
	}
	email := strings.ToLower(strings.TrimSpace(cmd.Email))
	if email == "" {
		return User{}, fmt.Errorf("%w: email is required", ErrUserInvalidInput)
	}
	if !isKnownRole(cmd.Role) {
		return User{}, fmt.Errorf("%w: unknown role %q", ErrUserInvalidInput, cmd.Role)
	}
	assignedTo := strings.TrimSpace(cmd.AssignedTo)
	if assignedTo != "" {
		if cmd.Role != domain.RoleClient {
			return User{}, fmt.Errorf("%w: only clients can be assigned a commercial", ErrUserInvalidAssignment)
		}
		if err := s.checkCommercial(ctx, assignedTo); err != nil {
			return User{}, err
		}
	}

	user := User{
		UID:         uid,
		Email:       email,
		Role:        cmd.Role,
		CompanyName: strings.TrimSpace(cmd.CompanyName),
		NIT:         strings.TrimSpace(cmd.NIT),
		ContactName: strings.TrimSpace(cmd.ContactName),
		WhatsApp:    strings.TrimSpace(cmd.WhatsApp),
		City:        strings.TrimSpace(cmd.City),
		AssignedTo:  assignedTo,
		Active:      true,
		CreatedAt:   s.clock(),
	}

	if err := s.users.Insert(ctx, user); err != nil {
		if isConflict(err) {
			return User{}, fmt.Errorf("%w: %s", ErrUserConflict, uid)
		}
		return User{}, err
	}
	return user, nil
}

func (s *userService) ListUsers(ctx context.Context, query UserListQuery) (domain.CursorPage[User], error) {
	filter := repositories.UserListFilter{
		Role:       query.Role,
		AssignedTo: strings.TrimSpace(query.AssignedTo),
		OnlyActive: query.OnlyActive,
		Pagination: domain.Pagination{
			PageSize:  query.Pagination.PageSize,
			PageToken: strings.TrimSpace(query.Pagination.PageToken),
		},
	}
	return s.users.List(ctx, filter)
}

// AssignCommercial pairs a client account with the commercial who manages
// their quotations.
func (s *userService) AssignCommercial(ctx context.Context, cmd AssignCommercialCommand) (User, error) {
	clientUID := strings.TrimSpace(cmd.ClientUID)
	if clientUID == "" {
		return User{}, fmt.Errorf("%w: client uid is required", ErrUserInvalidInput)
	}

	client, err := s.users.FindByID(ctx, clientUID)
	if err != nil {
		return User{}, s.mapRepositoryError(err)
	}
	if client.Role != domain.RoleClient {
		return User{}, fmt.Errorf("%w: %s is not a client", ErrUserInvalidAssignment, clientUID)
	}

	commercialUID := strings.TrimSpace(cmd.CommercialUID)
	if commercialUID != "" {
		if err := s.checkCommercial(ctx, commercialUID); err != nil {
			return User{}, err
		}
	}

	client.AssignedTo = commercialUID
	if err := s.users.Update(ctx, client); err != nil {
		return User{}, s.mapRepositoryError(err)
	}
	return client, nil
}

func (s *userService) SetActive(ctx context.Context, cmd SetUserActiveCommand) (User, error) {
	uid := strings.TrimSpace(cmd.UID)
	if uid == "" {
		return User{}, fmt.Errorf("%w: uid is required", ErrUserInvalidInput)
	}
	user, err := s.users.FindByID(ctx, uid)
	if err != nil {
		return User{}, s.mapRepositoryError(err)
	}
	if user.Active == cmd.Active {
		return user, nil
	}
	user.Active = cmd.Active
	if err := s.users.Update(ctx, user); err != nil {
		return User{}, s.mapRepositoryError(err)
	}
	return user, nil
}

func (s *userService) checkCommercial(ctx context.Context, uid string) error {
	commercial, err := s.users.FindByID(ctx, uid)
	if err != nil {
		if isNotFound(err) {
			return fmt.Errorf("%w: commercial %s does not exist", ErrUserInvalidAssignment, uid)
		}
		return err
	}
	if commercial.Role != domain.RoleCommercial {
		return fmt.Errorf("%w: %s is not a commercial", ErrUserInvalidAssignment, uid)
	}
	if !commercial.Active {
		return fmt.Errorf("%w: commercial %s is inactive", ErrUserInvalidAssignment, uid)
	}
	return nil
}

func (s *userService) mapRepositoryError(err error) error {
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) && repoErr.IsNotFound() {
		return fmt.Errorf("%w: %v", ErrUserNotFound, err)
	}
	return err
}

func userFromFirebase(record *firebaseauth.UserRecord, now time.Time) User {
	user := User{
		Role:      domain.RoleClient,
		Active:    true,
		CreatedAt: now,
	}
	if record == nil {
		return user
	}
	if record.UserInfo != nil {
		user.UID = strings.TrimSpace(record.UserInfo.UID)
		user.Email = strings.ToLower(strings.TrimSpace(record.UserInfo.Email))
		user.ContactName = strings.TrimSpace(record.UserInfo.DisplayName)
	}
	if claim, ok := record.CustomClaims["role"].(string); ok {
		if role := domain.Role(strings.ToLower(strings.TrimSpace(claim))); isKnownRole(role) {
			user.Role = role
		}
	}
	return user
}

func isKnownRole(role Role) bool {
	switch role {
	case domain.RoleClient, domain.RoleCommercial, domain.RoleAdmin:
		return true
	default:
		return false
	}
}

func isConflict(err error) bool {
	if err == nil {
		return false
	}
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		return repoErr.IsConflict()
	}
	return false
}
