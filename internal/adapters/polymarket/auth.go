package polymarket

// auth.go — signed access to the Polymarket CLOB.
//
// Two layers, per the CLOB docs: an EIP-712 wallet signature derives the
// API credential triple (L1), and every private endpoint call carries
// HMAC-SHA256 headers built from that triple (L2).

import (
	"context"
	"crypto/ecdsa"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"math/big"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/polymarket/go-order-utils/pkg/builder"
	gomodel "github.com/polymarket/go-order-utils/pkg/model"
)

const (
	polygonChainID = int64(137)

	authDomainName    = "ClobAuthDomain"
	authDomainVersion = "1"
	authAttestation   = "This message attests that I control the given wallet"

	// taker 0x0 = orden pública
	zeroAddress = "0x0000000000000000000000000000000000000000"
)

// apiCredentials es el triple que devuelve /auth/derive-api-key.
type apiCredentials struct {
	APIKey     string `json:"apiKey"`
	Secret     string `json:"secret"`
	Passphrase string `json:"passphrase"`
}

// AuthClient extiende Client con la firma L1/L2 del CLOB. Seguro para
// uso concurrente; la derivación de credenciales se serializa.
type AuthClient struct {
	*Client
	privateKey   *ecdsa.PrivateKey
	address      common.Address
	orderBuilder builder.ExchangeOrderBuilder

	credsMu sync.Mutex
	creds   *apiCredentials
}

// NewAuthClient construye el cliente firmado a partir de la private key
// de Polygon en hex, con o sin prefijo 0x.
func NewAuthClient(clobBase, gammaBase, privateKeyHex string) (*AuthClient, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("auth: invalid private key: %w", err)
	}

	return &AuthClient{
		Client:       NewClient(clobBase, gammaBase),
		privateKey:   key,
		address:      crypto.PubkeyToAddress(key.PublicKey),
		orderBuilder: builder.NewExchangeOrderBuilderImpl(big.NewInt(polygonChainID), nil),
	}, nil
}

// Address returns the wallet address.
func (ac *AuthClient) Address() string {
	return ac.address.Hex()
}

// EnsureCreds deriva las credenciales del API vía L1 y las cachea.
// Idempotente; las llamadas concurrentes comparten una derivación.
func (ac *AuthClient) EnsureCreds(ctx context.Context) error {
	ac.credsMu.Lock()
	defer ac.credsMu.Unlock()
	if ac.creds != nil {
		return nil
	}

	ts := strconv.FormatInt(time.Now().Unix(), 10)
	sig, err := ac.signAuthAttestation(ts, "0")
	if err != nil {
		return fmt.Errorf("auth: sign attestation: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ac.clobBase+"/auth/derive-api-key", nil)
	if err != nil {
		return fmt.Errorf("auth: derive-api-key request: %w", err)
	}
	req.Header.Set("POLY_ADDRESS", ac.address.Hex())
	req.Header.Set("POLY_SIGNATURE", sig)
	req.Header.Set("POLY_TIMESTAMP", ts)
	req.Header.Set("POLY_NONCE", "0")

	resp, err := ac.http.Do(req)
	if err != nil {
		return fmt.Errorf("auth: derive-api-key: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("auth: derive-api-key status %d: %s", resp.StatusCode, body)
	}

	var creds apiCredentials
	if err := json.Unmarshal(body, &creds); err != nil {
		return fmt.Errorf("auth: parse creds: %w", err)
	}
	ac.creds = &creds
	return nil
}

// Piezas EIP-712 del attestation ClobAuth, hasheadas una sola vez.
var (
	eip712DomainTypeHash = crypto.Keccak256Hash([]byte(
		"EIP712Domain(string name,string version,uint256 chainId)",
	))
	clobAuthTypeHash = crypto.Keccak256Hash([]byte(
		"ClobAuth(address address,string timestamp,uint256 nonce,string message)",
	))
	clobAuthDomain = authDomainSeparator()
)

func authDomainSeparator() common.Hash {
	var buf []byte
	buf = append(buf, eip712DomainTypeHash.Bytes()...)
	buf = append(buf, crypto.Keccak256Hash([]byte(authDomainName)).Bytes()...)
	buf = append(buf, crypto.Keccak256Hash([]byte(authDomainVersion)).Bytes()...)
	buf = append(buf, common.LeftPadBytes(big.NewInt(polygonChainID).Bytes(), 32)...)
	return crypto.Keccak256Hash(buf)
}

// signAuthAttestation firma el typed data ClobAuth con la key del wallet.
func (ac *AuthClient) signAuthAttestation(timestamp, nonce string) (string, error) {
	nonceInt, ok := new(big.Int).SetString(nonce, 10)
	if !ok {
		return "", fmt.Errorf("invalid nonce: %s", nonce)
	}

	var structBuf []byte
	structBuf = append(structBuf, clobAuthTypeHash.Bytes()...)
	structBuf = append(structBuf, common.LeftPadBytes(ac.address.Bytes(), 32)...)
	structBuf = append(structBuf, crypto.Keccak256Hash([]byte(timestamp)).Bytes()...)
	structBuf = append(structBuf, common.LeftPadBytes(nonceInt.Bytes(), 32)...)
	structBuf = append(structBuf, crypto.Keccak256Hash([]byte(authAttestation)).Bytes()...)

	digest := crypto.Keccak256Hash(append(append([]byte{0x19, 0x01},
		clobAuthDomain.Bytes()...), crypto.Keccak256Hash(structBuf).Bytes()...))

	sig, err := crypto.Sign(digest.Bytes(), ac.privateKey)
	if err != nil {
		return "", err
	}
	sig[64] += 27 // recovery id al formato eth_sign
	return fmt.Sprintf("0x%x", sig), nil
}

// signedHeaders construye los headers HMAC de una llamada L2. El mensaje
// firmado es ts + MÉTODO + path + body, como exige el API.
func (ac *AuthClient) signedHeaders(method, path, body string) (map[string]string, error) {
	if ac.creds == nil {
		return nil, fmt.Errorf("auth: credentials not derived yet")
	}

	ts := strconv.FormatInt(time.Now().Unix(), 10)
	secret, err := base64.URLEncoding.DecodeString(ac.creds.Secret)
	if err != nil {
		return nil, fmt.Errorf("auth: decode secret: %w", err)
	}

	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(ts + strings.ToUpper(method) + path + body))

	return map[string]string{
		"POLY_ADDRESS":    ac.address.Hex(),
		"POLY_SIGNATURE":  base64.URLEncoding.EncodeToString(mac.Sum(nil)),
		"POLY_TIMESTAMP":  ts,
		"POLY_API_KEY":    ac.creds.APIKey,
		"POLY_PASSPHRASE": ac.creds.Passphrase,
	}, nil
}

// doL2 ejecuta una llamada autenticada contra el CLOB con el limiter
// general. Los headers se regeneran por intento para que el timestamp de
// la firma no caduque entre reintentos. Un 4xx es definitivo y devuelve
// el body dentro del error; 429 y 5xx se reintentan.
func (ac *AuthClient) doL2(ctx context.Context, method, path string, reqBody, out any) error {
	var payload string
	if reqBody != nil {
		b, err := json.Marshal(reqBody)
		if err != nil {
			return fmt.Errorf("marshal: %w", err)
		}
		payload = string(b)
	}

	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if err := ac.clobLimiter.Wait(ctx); err != nil {
			return fmt.Errorf("rate limiter: %w", err)
		}

		headers, err := ac.signedHeaders(method, path, payload)
		if err != nil {
			return err
		}

		var bodyReader io.Reader
		if payload != "" {
			bodyReader = strings.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, ac.clobBase+path, bodyReader)
		if err != nil {
			return fmt.Errorf("new request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", "application/json")
		for k, v := range headers {
			req.Header.Set(k, v)
		}

		resp, err := ac.http.Do(req)
		if err != nil {
			lastErr = err
		} else {
			respBody, _ := io.ReadAll(resp.Body)
			resp.Body.Close()

			switch {
			case resp.StatusCode == http.StatusTooManyRequests:
				lastErr = fmt.Errorf("rate limited (429)")
			case resp.StatusCode >= 500:
				lastErr = fmt.Errorf("server error %d: %s", resp.StatusCode, respBody)
			case resp.StatusCode >= 400:
				return fmt.Errorf("client error %d: %s", resp.StatusCode, respBody)
			default:
				if out == nil {
					return nil
				}
				if err := json.Unmarshal(respBody, out); err != nil {
					return fmt.Errorf("decode response: %w", err)
				}
				return nil
			}
		}

		if attempt == maxRetries {
			break
		}
		ac.sleep(ctx, attempt)
	}
	return fmt.Errorf("request failed after %d retries: %w", maxRetries, lastErr)
}

// orderParams describes an order ready for signing. Precision is the tick
// multiplier of the market (100 = tick 0.01); 0 infers it from the price.
type orderParams struct {
	TokenID   string
	Side      gomodel.Side
	Price     float64
	SizeUSD   float64 // taker notional, buys
	Shares    float64 // share size, sells
	NegRisk   bool
	Precision int64
}

// buildSignedOrder creates an EIP-712 signed order for the given parameters.
// Price and sizes are in USDC units (e.g., 0.80 and 10.0).
// Uses integer arithmetic to avoid floating-point precision errors that the
// CLOB API rejects. The API verifies: usdcAmount == price * shareAmount exactly,
// with maker/taker roles swapped between buys and sells.
func (ac *AuthClient) buildSignedOrder(p orderParams) (*gomodel.SignedOrder, error) {
	precision := p.Precision
	if precision <= 0 {
		precision = detectPricePrecision(p.Price)
	}
	priceInt := int64(math.Round(p.Price * float64(precision)))
	if priceInt <= 0 {
		return nil, fmt.Errorf("price %.4f below tick 1/%d", p.Price, precision)
	}

	var sharesCents int64
	if p.Side == gomodel.BUY {
		sharesCents = int64(math.Floor(p.SizeUSD / p.Price * 100))
	} else {
		sharesCents = int64(math.Floor(p.Shares * 100))
	}

	amountFactor := int64(1_000_000) / (100 * precision)
	usdcAmount := sharesCents * priceInt * amountFactor
	shareAmount := sharesCents * 10000

	makerAmount, takerAmount := usdcAmount, shareAmount
	if p.Side == gomodel.SELL {
		makerAmount, takerAmount = shareAmount, usdcAmount
	}

	if makerAmount <= 0 || takerAmount <= 0 {
		return nil, fmt.Errorf("invalid amounts: maker=%d taker=%d (price=%.4f sizeUSD=%.4f shares=%.4f)",
			makerAmount, takerAmount, p.Price, p.SizeUSD, p.Shares)
	}

	var verifyingContract gomodel.VerifyingContract
	if p.NegRisk {
		verifyingContract = gomodel.NegRiskCTFExchange
	} else {
		verifyingContract = gomodel.CTFExchange
	}

	orderData := &gomodel.OrderData{
		Maker:         ac.address.Hex(),
		Taker:         zeroAddress,
		TokenId:       p.TokenID,
		MakerAmount:   strconv.FormatInt(makerAmount, 10),
		TakerAmount:   strconv.FormatInt(takerAmount, 10),
		FeeRateBps:    "0",
		Nonce:         "0",
		Signer:        ac.address.Hex(),
		Expiration:    "0",
		Side:          p.Side,
		SignatureType: gomodel.EOA,
	}

	signed, err := ac.orderBuilder.BuildSignedOrder(ac.privateKey, orderData, verifyingContract)
	if err != nil {
		return nil, fmt.Errorf("build signed order: %w", err)
	}
	return signed, nil
}

// detectPricePrecision returns the multiplier matching the market's tick size.
// e.g. price=0.60 → 100 (tick 0.01), price=0.673 → 1000 (tick 0.001).
func detectPricePrecision(price float64) int64 {
	for _, prec := range []int64{100, 1000, 10000} {
		rounded := math.Round(price * float64(prec))
		if math.Abs(rounded/float64(prec)-price) < 1e-10 {
			return prec
		}
	}
	return 100
}
