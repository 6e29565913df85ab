package records

import (
	"context"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"github.com/pulsebook/pulsebook/internal/model"
)

// UserInput describes a local account to create.
type UserInput struct {
	Username     string `json:"username"`
	Password     string `json:"password,omitempty"`
	Role         string `json:"role,omitempty"`
	AccountType  string `json:"account_type,omitempty"`
	RealName     string `json:"real_name,omitempty"`
	Email        string `json:"email,omitempty"`
	Phone        string `json:"phone,omitempty"`
	Organization string `json:"organization,omitempty"`
}

// PractitionerInput describes a practitioner to create.
type PractitionerInput struct {
	Name string `json:"name"`
	Role string `json:"role,omitempty"`
}

// CreateUser adds an active local account. Role defaults to practitioner and
// the account type to practitioner. An empty password leaves the account
// without a login secret.
func (s *Service) CreateUser(ctx context.Context, in UserInput) (*model.User, error) {
	in.Username = strings.TrimSpace(in.Username)
	if in.Username == "" {
		return nil, fmt.Errorf("%w: username is required", ErrInvalid)
	}
	if in.Role == "" {
		in.Role = model.RolePractitioner
	}
	if in.Role != model.RoleAdmin && in.Role != model.RolePractitioner {
		return nil, fmt.Errorf("%w: unknown role %q", ErrInvalid, in.Role)
	}
	if in.AccountType == "" {
		in.AccountType = model.AccountPractitioner
	}
	if in.AccountType != model.AccountPractitioner && in.AccountType != model.AccountPersonal {
		return nil, fmt.Errorf("%w: unknown account type %q", ErrInvalid, in.AccountType)
	}

	var hash string
	if in.Password != "" {
		b, err := bcrypt.GenerateFromPassword([]byte(in.Password), bcrypt.DefaultCost)
		if err != nil {
			return nil, fmt.Errorf("hashing password: %w", err)
		}
		hash = string(b)
	}

	var u *model.User
	err := s.store.InTx(ctx, func(ctx context.Context) error {
		existing, err := s.store.UserByUsername(ctx, in.Username)
		if err != nil {
			return fmt.Errorf("looking up user: %w", err)
		}
		if existing != nil {
			return fmt.Errorf("%w: user %q", ErrConflict, in.Username)
		}

		now := s.now()
		u = &model.User{
			Username:       in.Username,
			HashedPassword: hash,
			Role:           in.Role,
			AccountType:    in.AccountType,
			IsActive:       true,
			RealName:       in.RealName,
			Email:          in.Email,
			Phone:          in.Phone,
			Organization:   in.Organization,
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		u.MarkPending()
		if err := s.store.Save(ctx, u); err != nil {
			return fmt.Errorf("creating user: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.log.Info("user created", "id", u.ID, "username", u.Username, "role", u.Role)
	return u, nil
}

// CreatePractitioner adds a named doctor or teacher. Role defaults to
// teacher.
func (s *Service) CreatePractitioner(ctx context.Context, in PractitionerInput) (*model.Practitioner, error) {
	in.Name = strings.TrimSpace(in.Name)
	if in.Name == "" {
		return nil, fmt.Errorf("%w: name is required", ErrInvalid)
	}
	if in.Role == "" {
		in.Role = model.PractitionerTeacher
	}
	if in.Role != model.PractitionerDoctor && in.Role != model.PractitionerTeacher {
		return nil, fmt.Errorf("%w: unknown practitioner role %q", ErrInvalid, in.Role)
	}

	var p *model.Practitioner
	err := s.store.InTx(ctx, func(ctx context.Context) error {
		existing, err := s.store.PractitionerByName(ctx, in.Name)
		if err != nil {
			return fmt.Errorf("looking up practitioner: %w", err)
		}
		if existing != nil {
			return fmt.Errorf("%w: practitioner %q", ErrConflict, in.Name)
		}

		p = &model.Practitioner{Name: in.Name, Role: in.Role, CreatedAt: s.now()}
		p.MarkPending()
		if err := s.store.Save(ctx, p); err != nil {
			return fmt.Errorf("creating practitioner: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.log.Info("practitioner created", "id", p.ID, "name", p.Name, "role", p.Role)
	return p, nil
}

// ListPractitioners returns every live practitioner.
func (s *Service) ListPractitioners(ctx context.Context) ([]*model.Practitioner, error) {
	ps, err := s.store.ListPractitioners(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing practitioners: %w", err)
	}
	if ps == nil {
		ps = []*model.Practitioner{}
	}
	return ps, nil
}
