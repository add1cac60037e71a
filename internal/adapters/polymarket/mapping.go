package polymarket

import (
	"encoding/json"
	"sort"
	"strconv"
	"time"

	"github.com/alejandrodnm/polyflash/internal/domain"
)

// mapBook convierte la respuesta de GET /book a domain.OrderBook.
func mapBook(r bookResponse) domain.OrderBook {
	return domain.OrderBook{
		TokenID: r.AssetID,
		Bids:    mapBookEntries(r.Bids, false),
		Asks:    mapBookEntries(r.Asks, true),
	}
}

// mapBookEntries convierte entries raw a domain.BookEntry y los ordena.
// ascending=true → menor a mayor (asks), ascending=false → mayor a menor (bids).
func mapBookEntries(raw []bookEntryRaw, ascending bool) []domain.BookEntry {
	entries := make([]domain.BookEntry, 0, len(raw))
	for _, r := range raw {
		price, _ := strconv.ParseFloat(r.Price, 64)
		size, _ := strconv.ParseFloat(r.Size, 64)
		if price <= 0 || size <= 0 {
			continue
		}
		entries = append(entries, domain.BookEntry{Price: price, Size: size})
	}

	sort.Slice(entries, func(i, j int) bool {
		if ascending {
			return entries[i].Price < entries[j].Price
		}
		return entries[i].Price > entries[j].Price
	})

	return entries
}

// marketInfoFromGamma convierte la metadata de Gamma a domain.MarketInfo
// para el token dado.
func marketInfoFromGamma(gm gammaMarket, tokenID string) domain.MarketInfo {
	info := domain.MarketInfo{
		ConditionID: gm.ConditionID,
		TokenID:     tokenID,
		Question:    gm.Question,
		Slug:        gm.Slug,
		Image:       gm.Image,
		NegRisk:     gm.NegRisk,
		Active:      gm.Active,
		Closed:      gm.Closed,
	}

	if v, err := gm.Volume24h.Float64(); err == nil {
		info.Volume24h = v
	}

	if gm.EndDateISO != "" {
		// Polymarket usa varios formatos; intentamos los más comunes
		for _, layout := range []string{
			time.RFC3339,
			"2006-01-02T15:04:05.000Z",
			"2006-01-02T15:04:05Z",
			"2006-01-02",
		} {
			if t, err := time.Parse(layout, gm.EndDateISO); err == nil {
				info.EndDate = t.UTC()
				break
			}
		}
	}

	return info
}

// tokenIDsFromGamma decodifica el campo clobTokenIds (array JSON como string).
// Devuelve nil si el campo falta o no parsea.
func tokenIDsFromGamma(gm gammaMarket) []string {
	if gm.CLOBTokenIDs == "" {
		return nil
	}
	var ids []string
	if err := json.Unmarshal([]byte(gm.CLOBTokenIDs), &ids); err != nil {
		return nil
	}
	return ids
}
