package scanner

import (
	"context"
	"errors"
	"math/big"
	"math/rand"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"

	"github.com/flamingo-finance/flamingo-margin-maintainer/internal/chain"
)

type stubPager struct {
	pages map[int][]chain.Position
	err   error
}

func (p *stubPager) VaultPage(ctx context.Context, vault, collateral, debt common.Address, pageSize, pageNum int) ([]chain.Position, error) {
	if p.err != nil {
		return nil, p.err
	}
	return p.pages[pageNum], nil
}

func testPositions(n int) []chain.Position {
	positions := make([]chain.Position, n)
	for i := range positions {
		positions[i] = chain.Position{
			Account:           common.BigToAddress(big.NewInt(int64(i + 1))),
			CollateralBalance: big.NewInt(int64(100 * (i + 1))),
			DebtBalance:       big.NewInt(int64(10 * (i + 1))),
		}
	}
	return positions
}

func TestPageShufflesWithoutLoss(t *testing.T) {
	original := testPositions(10)
	pager := &stubPager{pages: map[int][]chain.Position{0: original}}
	s := New(Options{PageSize: 10}, pager, rand.New(rand.NewSource(1)), zerolog.Nop())

	page, err := s.Page(context.Background(), 0)
	if err != nil {
		t.Fatalf("page: %v", err)
	}
	if len(page) != len(original) {
		t.Fatalf("expected %d positions, got %d", len(original), len(page))
	}

	seen := make(map[common.Address]bool, len(page))
	for _, pos := range page {
		seen[pos.Account] = true
	}
	for _, pos := range original {
		if !seen[pos.Account] {
			t.Fatalf("account %s lost in shuffle", pos.Account.Hex())
		}
	}
}

func TestPageOrderVariesAcrossSeeds(t *testing.T) {
	original := testPositions(10)
	pager := &stubPager{pages: map[int][]chain.Position{0: original}}

	first, err := New(Options{PageSize: 10}, pager, rand.New(rand.NewSource(1)), zerolog.Nop()).Page(context.Background(), 0)
	if err != nil {
		t.Fatalf("page: %v", err)
	}
	second, err := New(Options{PageSize: 10}, pager, rand.New(rand.NewSource(2)), zerolog.Nop()).Page(context.Background(), 0)
	if err != nil {
		t.Fatalf("page: %v", err)
	}

	same := true
	for i := range first {
		if first[i].Account != second[i].Account {
			same = false
			break
		}
	}
	if same {
		t.Fatal("different seeds produced identical orders")
	}
}

func TestPageEmptyEndsTraversal(t *testing.T) {
	pager := &stubPager{pages: map[int][]chain.Position{}}
	s := New(Options{PageSize: 10}, pager, nil, zerolog.Nop())

	page, err := s.Page(context.Background(), 3)
	if err != nil {
		t.Fatalf("page: %v", err)
	}
	if len(page) != 0 {
		t.Fatalf("expected empty page, got %d positions", len(page))
	}
}

func TestPagePropagatesErrors(t *testing.T) {
	pager := &stubPager{err: errors.New("rpc down")}
	s := New(Options{PageSize: 10}, pager, nil, zerolog.Nop())

	if _, err := s.Page(context.Background(), 0); err == nil {
		t.Fatal("pager errors must propagate")
	}
}
