// Package seed generates the deterministic demo dataset shared by the seeder,
// the in-memory driver and the load generator.
package seed

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/punchamoorthee/bankops/internal/domain"
	"github.com/punchamoorthee/bankops/internal/store"
)

const (
	DemoEmail    = "demo@bankops.dev"
	DemoPassword = "demo123"
)

var namespace = uuid.MustParse("6f1c8a52-3b0e-4c59-9a3d-5f2b7e4d1c90")

// UserID is the id of the i-th seeded user. Index 0 is the demo user.
func UserID(i int) string {
	return uuid.NewSHA1(namespace, []byte(fmt.Sprintf("user-%d", i))).String()
}

func AccountID(i int) string {
	return uuid.NewSHA1(namespace, []byte(fmt.Sprintf("account-%d", i))).String()
}

func Email(i int) string {
	if i == 0 {
		return DemoEmail
	}
	return fmt.Sprintf("user%d@bankops.dev", i)
}

// AccountNumber follows the bank's 12-digit format: "41" and ten digits.
func AccountNumber(i int) string {
	return fmt.Sprintf("41%010d", i+1)
}

type Dataset struct {
	Users    []domain.User
	Accounts []domain.Account
}

// Generate builds n users with one account each. Every user shares
// passwordHash so the dataset can be produced without hashing n times.
func Generate(n int, balance decimal.Decimal, passwordHash string, createdAt time.Time) Dataset {
	ds := Dataset{
		Users:    make([]domain.User, 0, n),
		Accounts: make([]domain.Account, 0, n),
	}
	for i := 0; i < n; i++ {
		name := fmt.Sprintf("Demo User %d", i)
		if i == 0 {
			name = "Demo User"
		}
		ds.Users = append(ds.Users, domain.User{
			ID:           UserID(i),
			Name:         name,
			Email:        Email(i),
			PasswordHash: passwordHash,
			CreatedAt:    createdAt,
		})
		ds.Accounts = append(ds.Accounts, domain.Account{
			ID:            AccountID(i),
			UserID:        UserID(i),
			AccountNumber: AccountNumber(i),
			Balance:       balance,
			CreatedAt:     createdAt,
			UpdatedAt:     createdAt,
		})
	}
	return ds
}

// LoadMemory copies ds into m.
func LoadMemory(m *store.Memory, ds Dataset) error {
	for _, u := range ds.Users {
		if _, err := m.AddUser(u); err != nil {
			return fmt.Errorf("seed user %s: %w", u.Email, err)
		}
	}
	for _, a := range ds.Accounts {
		if _, err := m.AddAccount(a); err != nil {
			return fmt.Errorf("seed account %s: %w", a.AccountNumber, err)
		}
	}
	return nil
}
