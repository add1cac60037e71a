package domain

import "time"

// MarketInfo es la metadata de un mercado binario de Polymarket,
// enriquecida desde Gamma. Todos los campos son best-effort.
type MarketInfo struct {
	ConditionID string
	TokenID     string
	Question    string
	Slug        string
	Image       string
	EndDate     time.Time // fecha de resolución
	Volume24h   float64   // volumen últimas 24h en USDC
	NegRisk     bool      // mercado bajo el adapter NegRisk
	Active      bool
	Closed      bool
}

// Tradeable devuelve true si el mercado acepta órdenes.
func (m MarketInfo) Tradeable() bool {
	return m.Active && !m.Closed
}

// HoursToResolution devuelve las horas hasta que el mercado se resuelve.
// Devuelve 0 si EndDate no está definido.
func (m MarketInfo) HoursToResolution() float64 {
	if m.EndDate.IsZero() {
		return 0
	}
	h := time.Until(m.EndDate).Hours()
	if h < 0 {
		return 0
	}
	return h
}

// TruncateQuestion devuelve la pregunta del mercado truncada a maxLen caracteres.
// Si la pregunta está vacía usa los primeros caracteres del conditionID como fallback.
func TruncateQuestion(question, conditionID string, maxLen int) string {
	q := question
	if q == "" {
		if len(conditionID) > 20 {
			q = conditionID[:20] + "..."
		} else {
			q = conditionID
		}
	}
	if len(q) > maxLen {
		q = q[:maxLen-3] + "..."
	}
	return q
}

// UnknownMarket es el texto placeholder cuando el enriquecimiento falla.
const UnknownMarket = "Unknown Market"
