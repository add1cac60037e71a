package polymarket

import "encoding/json"

// DTOs raw de la API de Polymarket. Solo se usan dentro de este paquete.
// La conversión a domain entities se hace en mapping.go.

// --- CLOB API ---

// bookResponse es la respuesta de GET /book para un token.
type bookResponse struct {
	Market    string         `json:"market"`
	AssetID   string         `json:"asset_id"`
	Timestamp string         `json:"timestamp"`
	Bids      []bookEntryRaw `json:"bids"`
	Asks      []bookEntryRaw `json:"asks"`
}

// bookEntryRaw es un nivel de precio raw de la API (strings para mayor precisión).
type bookEntryRaw struct {
	Price string `json:"price"`
	Size  string `json:"size"`
}

// tickSizeResponse es la respuesta de GET /tick-size.
type tickSizeResponse struct {
	MinimumTickSize json.Number `json:"minimum_tick_size"`
}

// --- Gamma API ---

// gammaMarketsResponse es la respuesta de GET /markets de Gamma.
type gammaMarketsResponse []gammaMarket

// gammaMarket contiene la metadata de un mercado.
// Gamma devuelve varios campos numéricos como strings JSON, usamos json.Number.
type gammaMarket struct {
	ConditionID  string      `json:"conditionId"`
	Question     string      `json:"question"`
	Slug         string      `json:"slug"`
	Image        string      `json:"image"`
	EndDateISO   string      `json:"endDateIso"`
	Volume24h    json.Number `json:"volume24hr"`
	NegRisk      bool        `json:"negRisk"`
	Active       bool        `json:"active"`
	Closed       bool        `json:"closed"`
	CLOBTokenIDs string      `json:"clobTokenIds"` // array JSON codificado como string
}
