package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/bryanwahyu/contract-risk/internal/domain/risk"
)

// Ensure Analyzer implements the port.
var _ risk.SemanticAnalyzer = (*Analyzer)(nil)

// Analyzer remembers successful semantic analyses of identical text for a
// TTL. Failures are never cached, so a rerun after a transient error calls
// the upstream again.
type Analyzer struct {
	next  risk.SemanticAnalyzer
	cache *gocache.Cache
}

// New wraps next with a cache entries expire from after ttl.
func New(next risk.SemanticAnalyzer, ttl time.Duration) *Analyzer {
	return &Analyzer{
		next:  next,
		cache: gocache.New(ttl, 2*ttl),
	}
}

func (a *Analyzer) Analyze(ctx context.Context, text string) ([]risk.Finding, error) {
	key := Key(text)
	if val, found := a.cache.Get(key); found {
		return clone(val.([]risk.Finding)), nil
	}
	findings, err := a.next.Analyze(ctx, text)
	if err != nil {
		return nil, err
	}
	a.cache.SetDefault(key, clone(findings))
	return findings, nil
}

// Len reports the number of cached texts, expired ones included until cleanup.
func (a *Analyzer) Len() int { return a.cache.ItemCount() }

// Key is the sha256 of the text.
func Key(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

func clone(f []risk.Finding) []risk.Finding {
	return append([]risk.Finding(nil), f...)
}
