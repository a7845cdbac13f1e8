// Package gate guards the teacher view with a single plaintext password kept in the
// local store. It only keeps casual users out: it is not a security boundary and must
// not be used as one.
package gate

import (
	"context"
	"sync"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"

	"github.com/trezcool/edutracker/core"
	"github.com/trezcool/edutracker/core/attendance"
)

// KeyPassword is the local store key of the admin password.
const KeyPassword = "eduTrackerAdminPwd"

var ErrWrongPassword = errors.New("incorrect password")

type (
	ChangePassword struct {
		Current string `json:"current_password" validate:"required"`
		New     string `json:"new_password" validate:"required"`
		Confirm string `json:"confirm_password" validate:"required,eqfield=New"`
	}

	Gate struct {
		store      attendance.Store
		validate   *validator.Validate
		defaultPwd string
		minLen     int
		mu         sync.Mutex
	}
)

func NewGate(store attendance.Store, validate *validator.Validate, conf *core.Config) *Gate {
	return &Gate{
		store:      store,
		validate:   validate,
		defaultPwd: conf.Admin.DefaultPassword,
		minLen:     conf.Admin.MinPasswordLength,
	}
}

func (g *Gate) password(ctx context.Context) (string, error) {
	var pwd string
	found, err := g.store.Load(ctx, KeyPassword, &pwd)
	if err != nil {
		return "", errors.Wrap(err, "loading admin password")
	}
	if !found || pwd == "" {
		return g.defaultPwd, nil
	}
	return pwd, nil
}

// Unlock checks pwd against the stored password.
func (g *Gate) Unlock(ctx context.Context, pwd string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	current, err := g.password(ctx)
	if err != nil {
		return err
	}
	if pwd != current {
		return ErrWrongPassword
	}
	return nil
}

// IsDefault reports whether the well-known default password is still in use.
func (g *Gate) IsDefault(ctx context.Context) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	current, err := g.password(ctx)
	return err == nil && current == g.defaultPwd
}

func (g *Gate) ChangePassword(ctx context.Context, cp ChangePassword) error {
	if err := g.validate.Struct(cp); err != nil {
		return err
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	current, err := g.password(ctx)
	if err != nil {
		return err
	}
	if cp.Current != current {
		return core.NewValidationError(ErrWrongPassword, core.FieldError{Field: "current_password", Error: ErrWrongPassword.Error()})
	}
	return g.save(ctx, cp.New)
}

// SetPassword overwrites the password without checking the current one.
func (g *Gate) SetPassword(ctx context.Context, pwd string) error {
	if utf8.RuneCountInString(pwd) < g.minLen {
		return core.NewValidationError(nil, core.FieldError{Field: "password", Error: minLenText(g.minLen)})
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	return g.save(ctx, pwd)
}

func (g *Gate) save(ctx context.Context, pwd string) error {
	if err := g.store.Save(ctx, KeyPassword, pwd); err != nil {
		return errors.Wrap(err, "saving admin password")
	}
	return nil
}
