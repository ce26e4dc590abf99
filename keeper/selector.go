package keeper

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"

	"gopkg.in/yaml.v3"

	"github.com/tolelom/tolarena/core"
)

// ErrNoResults means the day's ranking has not been produced yet.
var ErrNoResults = errors.New("no results for day")

// Winner is one ranked position in a finished round.
type Winner struct {
	Rank    uint32 `yaml:"rank"`
	Address string `yaml:"address"`
}

// WinnerSelector produces the ranking for a finalized round. Ranking happens
// off-ledger; the authority only records what the selector returns.
type WinnerSelector interface {
	Winners(ctx context.Context, round *core.Round) ([]Winner, error)
}

// FileSelector reads rankings from <Dir>/<day_id>.yaml:
//
//	day_id: 20513
//	winners:
//	  - rank: 1
//	    address: 3f1c...
type FileSelector struct {
	Dir string
}

type resultsFile struct {
	DayID   int64    `yaml:"day_id"`
	Winners []Winner `yaml:"winners"`
}

func (s FileSelector) Winners(_ context.Context, round *core.Round) ([]Winner, error) {
	path := filepath.Join(s.Dir, strconv.FormatInt(round.DayID, 10)+".yaml")
	raw, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w %d", ErrNoResults, round.DayID)
	}
	if err != nil {
		return nil, err
	}

	var f resultsFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if f.DayID != round.DayID {
		return nil, fmt.Errorf("%s: day_id %d does not match round %d", path, f.DayID, round.DayID)
	}
	return normalize(f.Winners, round.Winners)
}

// normalize sorts by rank and rejects duplicate ranks or addresses and ranks
// outside 1..limit.
func normalize(winners []Winner, limit uint32) ([]Winner, error) {
	out := append([]Winner(nil), winners...)
	sort.Slice(out, func(i, j int) bool { return out[i].Rank < out[j].Rank })

	ranks := make(map[uint32]bool, len(out))
	addrs := make(map[string]bool, len(out))
	for _, w := range out {
		if w.Rank == 0 || w.Rank > limit {
			return nil, fmt.Errorf("rank %d outside 1..%d", w.Rank, limit)
		}
		if w.Address == "" {
			return nil, fmt.Errorf("rank %d has no address", w.Rank)
		}
		if ranks[w.Rank] {
			return nil, fmt.Errorf("rank %d listed twice", w.Rank)
		}
		if addrs[w.Address] {
			return nil, fmt.Errorf("winner %s listed twice", w.Address)
		}
		ranks[w.Rank] = true
		addrs[w.Address] = true
	}
	return out, nil
}
