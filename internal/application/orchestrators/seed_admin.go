package orchestrators

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/juju/clock"

	"lorekeeper/internal/domain/account"
)

// AccountStoreForSeed defines the store interface needed by SeedAccount.
type AccountStoreForSeed interface {
	GetByEmail(ctx context.Context, email string) (account.Account, error)
	Save(ctx context.Context, a account.Account) error
}

// SeedAccountInput carries the bootstrap credentials.
type SeedAccountInput struct {
	Email    string `validate:"required,email"`
	Password string `validate:"required"`
}

// SeedAccountDeps holds dependencies for SeedAccount.
type SeedAccountDeps struct {
	AccountStore AccountStoreForSeed
	GenerateID   func() string
	Clock        clock.Clock
	// IsNotFound reports whether a GetByEmail error means no such account.
	IsNotFound func(error) bool
}

// ExecuteSeedAccount creates the bootstrap account if it does not exist yet.
// PRE: password satisfies the account password policy
// POST: an account with Email exists; an existing account is left untouched
func ExecuteSeedAccount(ctx context.Context, input SeedAccountInput, deps SeedAccountDeps) (created bool, err error) {
	if err := validateInput(input); err != nil {
		return false, err
	}
	_, err = deps.AccountStore.GetByEmail(ctx, input.Email)
	if err == nil {
		return false, nil
	}
	if deps.IsNotFound != nil && !deps.IsNotFound(err) {
		return false, fmt.Errorf("look up seed account: %w", err)
	}

	a := account.Account{ID: deps.GenerateID(), Email: input.Email, CreatedAt: deps.Clock.Now()}
	if err := a.Validate(); err != nil {
		return false, err
	}
	if err := a.SetPassword(input.Password); err != nil {
		return false, errors.Join(errors.New("seed account password rejected"), err)
	}
	if err := deps.AccountStore.Save(ctx, a); err != nil {
		return false, err
	}
	slog.Info("auth_event", "event", "account_seeded", "account_id", a.ID)
	return true, nil
}
