// Package portfolios persists one JSON file of balances per user.
package portfolios

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/vadiminshakov/valutatrade/internal/domain"
	"github.com/vadiminshakov/valutatrade/internal/storage/atomicfile"
)

// Store reads and writes portfolio files under a directory.
type Store struct {
	dir string
}

// NewStore creates the portfolio directory if needed.
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrap(err, "create portfolios dir")
	}
	return &Store{dir: dir}, nil
}

// State on-disk representation of a portfolio.
type State struct {
	UserID   string            `json:"user_id"`
	Balances map[string]string `json:"balances"`
}

// Load reads the portfolio of userID. A user without a file gets an empty portfolio.
func (s *Store) Load(userID string) (*domain.Portfolio, error) {
	path, err := s.path(userID)
	if err != nil {
		return nil, err
	}

	payload, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return domain.NewPortfolio(userID), nil
		}
		return nil, errors.Wrap(err, "read portfolio")
	}
	if len(payload) == 0 {
		return domain.NewPortfolio(userID), nil
	}

	var state State
	if err := json.Unmarshal(payload, &state); err != nil {
		return nil, errors.Wrap(err, "decode portfolio")
	}
	if state.UserID != userID {
		return nil, errors.Errorf("portfolio file %s belongs to user %q", filepath.Base(path), state.UserID)
	}

	p := domain.NewPortfolio(userID)
	for currency, raw := range state.Balances {
		balance, err := decimal.NewFromString(raw)
		if err != nil {
			return nil, errors.Wrapf(err, "decode %s balance", currency)
		}
		p.Balances[currency] = balance
	}

	return p, nil
}

// Save writes the portfolio atomically. Errors wrap domain.ErrPersistence.
func (s *Store) Save(p *domain.Portfolio) error {
	path, err := s.path(p.UserID)
	if err != nil {
		return err
	}

	state := State{UserID: p.UserID, Balances: make(map[string]string, len(p.Balances))}
	for currency, balance := range p.Balances {
		state.Balances[currency] = balance.String()
	}

	payload, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return domain.NewPersistenceError("encode portfolio", err)
	}
	if err := atomicfile.Write(path, payload); err != nil {
		return domain.NewPersistenceError("write portfolio", err)
	}

	return nil
}

func (s *Store) path(userID string) (string, error) {
	name := sanitizeScope(userID)
	if name == "" {
		return "", errors.New("user id is required")
	}
	return filepath.Join(s.dir, name+".json"), nil
}

// sanitizeScope maps a user id to a safe file name.
func sanitizeScope(value string) string {
	value = strings.TrimSpace(strings.ToLower(value))
	if value == "" {
		return ""
	}

	var b strings.Builder
	prevUnderscore := false
	for _, r := range value {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '-' {
			b.WriteRune(r)
			prevUnderscore = false
			continue
		}
		if !prevUnderscore {
			b.WriteByte('_')
			prevUnderscore = true
		}
	}

	return strings.Trim(b.String(), "_")
}
