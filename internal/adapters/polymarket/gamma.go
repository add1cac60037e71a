package polymarket

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/alejandrodnm/polyflash/internal/domain"
)

const (
	gammaMarketsPath = "/markets"
	gammaCacheMax    = 512
)

// GammaProvider implementa ports.MetadataProvider sobre la Gamma API con
// una caché local por token. El detector consulta con cacheFirst=true en
// el hot path, así la red solo se toca en el primer miss de cada token.
type GammaProvider struct {
	client *Client

	mu    sync.Mutex
	cache map[string]cachedInfo
}

type cachedInfo struct {
	info      domain.MarketInfo
	fetchedAt time.Time
}

// NewGammaProvider crea el provider con la caché vacía.
func NewGammaProvider(client *Client) *GammaProvider {
	return &GammaProvider{
		client: client,
		cache:  make(map[string]cachedInfo),
	}
}

// GetMetadata resuelve la metadata del mercado al que pertenece el token.
// Con cacheFirst=true devuelve la entrada cacheada si existe, sin tocar la
// red; con false refresca siempre desde Gamma.
func (g *GammaProvider) GetMetadata(ctx context.Context, tokenID string, cacheFirst bool) (domain.MarketInfo, error) {
	if cacheFirst {
		g.mu.Lock()
		entry, ok := g.cache[tokenID]
		g.mu.Unlock()
		if ok {
			return entry.info, nil
		}
	}

	info, err := g.fetch(ctx, tokenID)
	if err != nil {
		return domain.MarketInfo{}, err
	}

	g.mu.Lock()
	if len(g.cache) >= gammaCacheMax {
		g.evictOldest()
	}
	g.cache[tokenID] = cachedInfo{info: info, fetchedAt: time.Now()}
	g.mu.Unlock()

	return info, nil
}

// fetch consulta Gamma filtrando por clob_token_ids.
func (g *GammaProvider) fetch(ctx context.Context, tokenID string) (domain.MarketInfo, error) {
	url := fmt.Sprintf("%s%s?clob_token_ids=%s&limit=2", g.client.gammaBase, gammaMarketsPath, tokenID)

	var resp gammaMarketsResponse
	if err := g.client.get(ctx, g.client.gammaLimiter, url, &resp); err != nil {
		return domain.MarketInfo{}, fmt.Errorf("gamma.GetMetadata: %w", err)
	}
	if len(resp) == 0 {
		return domain.MarketInfo{}, fmt.Errorf("gamma.GetMetadata: no market for token %s", tokenID[:min(12, len(tokenID))])
	}

	// Preferimos el mercado cuyo clobTokenIds contiene el token; si Gamma
	// no devuelve el campo nos quedamos con el primero.
	match := resp[0]
	for _, gm := range resp {
		for _, id := range tokenIDsFromGamma(gm) {
			if id == tokenID {
				match = gm
			}
		}
	}

	info := marketInfoFromGamma(match, tokenID)
	slog.Debug("gamma: metadata resolved",
		"token", tokenID[:min(8, len(tokenID))]+"...",
		"question", domain.TruncateQuestion(info.Question, info.ConditionID, 40),
	)
	return info, nil
}

// evictOldest saca la entrada más antigua de la caché. Caller holds mu.
func (g *GammaProvider) evictOldest() {
	var oldestKey string
	var oldestAt time.Time
	for k, v := range g.cache {
		if oldestKey == "" || v.fetchedAt.Before(oldestAt) {
			oldestKey = k
			oldestAt = v.fetchedAt
		}
	}
	if oldestKey != "" {
		delete(g.cache, oldestKey)
	}
}
