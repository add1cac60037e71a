package domain

import "strconv"

// OrderBook representa el libro de órdenes de un token.
type OrderBook struct {
	TokenID string
	Bids    []BookEntry // ordenados mayor a menor precio
	Asks    []BookEntry // ordenados menor a mayor precio
}

// BookEntry es un nivel de precio en el orderbook.
type BookEntry struct {
	Price float64
	Size  float64
}

// BestBid devuelve el mejor precio de compra (mayor bid).
// Devuelve 0 si el book está vacío.
func (ob OrderBook) BestBid() float64 {
	if len(ob.Bids) == 0 {
		return 0
	}
	return ob.Bids[0].Price
}

// BestAsk devuelve el mejor precio de venta (menor ask).
// Devuelve 0 si el book está vacío.
func (ob OrderBook) BestAsk() float64 {
	if len(ob.Asks) == 0 {
		return 0
	}
	return ob.Asks[0].Price
}

// Midpoint devuelve el punto medio entre best bid y best ask.
func (ob OrderBook) Midpoint() float64 {
	bid := ob.BestBid()
	ask := ob.BestAsk()
	if bid == 0 || ask == 0 {
		return 0
	}
	return (bid + ask) / 2
}

// Spread devuelve el spread del book (ask - bid).
func (ob OrderBook) Spread() float64 {
	bid := ob.BestBid()
	ask := ob.BestAsk()
	if bid == 0 || ask == 0 {
		return 0
	}
	return ask - bid
}

// Imbalance devuelve la presión de top-of-book (bestBid / bestAsk).
func (ob OrderBook) Imbalance() float64 {
	return Imbalance(ob.BestBid(), ob.BestAsk())
}

// AskDepthUSDC calcula el valor en USDC (size × price) disponible para
// COMPRAR hasta el precio límite dado.
func (ob OrderBook) AskDepthUSDC(priceLimit float64) float64 {
	var total float64
	for _, a := range ob.Asks {
		if a.Price > priceLimit {
			break
		}
		total += a.Size * a.Price
	}
	return total
}

// BidDepthUSDC calcula el valor en USDC (size × price) disponible para
// VENDER hasta el precio límite dado.
func (ob OrderBook) BidDepthUSDC(priceLimit float64) float64 {
	var total float64
	for _, b := range ob.Bids {
		if b.Price < priceLimit {
			break
		}
		total += b.Size * b.Price
	}
	return total
}

// DepthForSide devuelve la profundidad ejecutable en USDC para un lado
// del trade dentro del precio límite.
func (ob OrderBook) DepthForSide(side Side, priceLimit float64) float64 {
	if side == SideSell {
		return ob.BidDepthUSDC(priceLimit)
	}
	return ob.AskDepthUSDC(priceLimit)
}

// ParsePrice convierte un string de precio a float64.
// Usado en el mapping de la API.
func ParsePrice(s string) float64 {
	v, _ := strconv.ParseFloat(s, 64)
	return v
}
