package polymarket

// client.go — base HTTP contra los REST de Polymarket (CLOB y Gamma).
//
// El pipeline consulta estos APIs desde el enriquecimiento del detector
// y desde el executor, así que cada familia de endpoints lleva su propio
// limiter al 60% del límite documentado: una ráfaga de detecciones no
// puede dejar sin cuota a las órdenes.

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"strconv"
	"time"

	"golang.org/x/time/rate"
)

const (
	defaultCLOBBase  = "https://clob.polymarket.com"
	defaultGammaBase = "https://gamma-api.polymarket.com"

	// CLOB /book: documentado 500/10s
	booksRatePerSec = 30
	// Gamma /markets: documentado 300/10s
	gammaRatePerSec = 18
	// CLOB general (tick-size, neg-risk, balance, órdenes): documentado 9000/10s
	generalRatePerSec = 540

	maxRetries    = 3
	baseRetryWait = 500 * time.Millisecond
)

// Client agrupa base URLs, limiters y el retry de los GET keyless.
// AuthClient lo embebe para compartir todo eso en las rutas firmadas.
type Client struct {
	http         *http.Client
	clobBase     string
	gammaBase    string
	clobLimiter  *rate.Limiter
	gammaLimiter *rate.Limiter
	booksLimiter *rate.Limiter
}

// NewClient construye un cliente sin credenciales. Base URLs vacíos
// apuntan a producción; los tests pasan el URL de su httptest.Server.
func NewClient(clobBase, gammaBase string) *Client {
	if clobBase == "" {
		clobBase = defaultCLOBBase
	}
	if gammaBase == "" {
		gammaBase = defaultGammaBase
	}
	return &Client{
		http:         &http.Client{Timeout: 10 * time.Second},
		clobBase:     clobBase,
		gammaBase:    gammaBase,
		clobLimiter:  rate.NewLimiter(generalRatePerSec, 50),
		gammaLimiter: rate.NewLimiter(gammaRatePerSec, 10),
		booksLimiter: rate.NewLimiter(booksRatePerSec, 5),
	}
}

// get ejecuta un GET JSON con rate limiting y hasta maxRetries
// reintentos sobre fallos de red, 429 y 5xx. Un 429 con Retry-After
// respeta la espera que pide el servidor en lugar del backoff propio.
// El resto de 4xx es definitivo y devuelve el body dentro del error.
func (c *Client) get(ctx context.Context, limiter *rate.Limiter, url string, out any) error {
	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if err := limiter.Wait(ctx); err != nil {
			return fmt.Errorf("rate limiter: %w", err)
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return err
		}
		req.Header.Set("Accept", "application/json")

		resp, err := c.http.Do(req)
		if err != nil {
			lastErr = err
		} else {
			retry, herr := decodeResponse(resp, out)
			if herr == nil {
				return nil
			}
			if !retry {
				return herr
			}
			lastErr = herr
			if resp.StatusCode == http.StatusTooManyRequests {
				slog.Warn("polymarket: rate limited", "attempt", attempt+1)
				if d := retryAfter(resp); d > 0 {
					select {
					case <-time.After(d):
					case <-ctx.Done():
						return ctx.Err()
					}
					continue
				}
			}
		}

		if attempt == maxRetries {
			break
		}
		c.sleep(ctx, attempt)
	}
	return fmt.Errorf("request failed after %d retries: %w", maxRetries, lastErr)
}

// decodeResponse consume la respuesta: decodifica el 2xx en out y
// clasifica el resto entre reintentable (429, 5xx) y definitivo.
func decodeResponse(resp *http.Response, out any) (retry bool, err error) {
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return true, fmt.Errorf("rate limited (429)")
	case resp.StatusCode >= 500:
		return true, fmt.Errorf("server error %d", resp.StatusCode)
	case resp.StatusCode >= 400:
		body, _ := io.ReadAll(resp.Body)
		return false, fmt.Errorf("client error %d: %s", resp.StatusCode, string(body))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return false, fmt.Errorf("decode response: %w", err)
	}
	return false, nil
}

// retryAfter lee el header Retry-After de un 429, en segundos.
func retryAfter(resp *http.Response) time.Duration {
	s := resp.Header.Get("Retry-After")
	if s == "" {
		return 0
	}
	secs, err := strconv.Atoi(s)
	if err != nil || secs <= 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}

// sleep espera con backoff exponencial más jitter, respetando el
// contexto. 500ms, 1s, 2s... con hasta +50% aleatorio por intento.
func (c *Client) sleep(ctx context.Context, attempt int) {
	wait := baseRetryWait << attempt
	wait += rand.N(wait / 2)
	select {
	case <-time.After(wait):
	case <-ctx.Done():
	}
}
