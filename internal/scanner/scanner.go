package scanner

import (
	"context"
	"math/rand"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"

	"github.com/flamingo-finance/flamingo-margin-maintainer/internal/chain"
)

// Pager reads one page of open positions from the vault contract.
type Pager interface {
	VaultPage(ctx context.Context, vault, collateral, debt common.Address, pageSize, pageNum int) ([]chain.Position, error)
}

// Options bind a scanner to one (collateral, debt) pair.
type Options struct {
	Vault           common.Address
	CollateralToken common.Address
	DebtToken       common.Address
	PageSize        int
}

// Scanner paginates the full set of open positions, randomizing the order of
// each page so competing agents don't all race the same low-index accounts.
type Scanner struct {
	opts   Options
	pager  Pager
	rng    *rand.Rand
	logger zerolog.Logger
}

// New constructs a scanner. Pass a nil rng for a time-seeded one.
func New(opts Options, pager Pager, rng *rand.Rand, logger zerolog.Logger) *Scanner {
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &Scanner{
		opts:   opts,
		pager:  pager,
		rng:    rng,
		logger: logger.With().Str("component", "vault_scanner").Logger(),
	}
}

// Page fetches page pageNum and returns it in a uniformly random order. An
// empty result marks the end of the traversal; callers walk increasing page
// numbers until they see one.
func (s *Scanner) Page(ctx context.Context, pageNum int) ([]chain.Position, error) {
	positions, err := s.pager.VaultPage(ctx, s.opts.Vault, s.opts.CollateralToken, s.opts.DebtToken, s.opts.PageSize, pageNum)
	if err != nil {
		return nil, err
	}

	// Explicit index permutation rather than an in-place shuffle comparator,
	// so the order is uniform regardless of sort stability.
	perm := s.rng.Perm(len(positions))
	shuffled := make([]chain.Position, len(positions))
	for i, j := range perm {
		shuffled[i] = positions[j]
	}

	s.logger.Debug().Int("page", pageNum).Int("positions", len(shuffled)).Msg("vault page scanned")
	return shuffled, nil
}
