package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config es la configuración completa del trader.
type Config struct {
	Feed     FeedConfig     `yaml:"feed"`
	API      APIConfig      `yaml:"api"`
	Detector DetectorConfig `yaml:"detector"`
	Window   WindowConfig   `yaml:"window"`
	Trading  TradingConfig  `yaml:"trading"`
	Kill     KillConfig     `yaml:"kill_switch"`
	Monitor  MonitorConfig  `yaml:"monitor"`
	Paper    PaperConfig    `yaml:"paper"`
	Wallet   WalletConfig   `yaml:"wallet"`
	Storage  StorageConfig  `yaml:"storage"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	Log      LogConfig      `yaml:"log"`
}

// FeedConfig controla la conexión al stream de mercado.
type FeedConfig struct {
	WSURL string `yaml:"ws_url"`
	// Assets son los token IDs suscritos al arrancar.
	Assets []string `yaml:"assets"`
	// SubscribeNewMarkets añade automáticamente los mercados nuevos que
	// anuncia el stream.
	SubscribeNewMarkets bool `yaml:"subscribe_new_markets"`
	MaxAttempts         int  `yaml:"max_attempts"`      // reintentos antes de abrir el circuito
	CooldownSeconds     int  `yaml:"cooldown_seconds"`  // circuito abierto
	KeepaliveSeconds    int  `yaml:"keepalive_seconds"` // cadencia de PING
}

// Cooldown devuelve la ventana de circuito abierto como time.Duration.
func (f FeedConfig) Cooldown() time.Duration {
	return time.Duration(f.CooldownSeconds) * time.Second
}

// Keepalive devuelve la cadencia de PING como time.Duration.
func (f FeedConfig) Keepalive() time.Duration {
	return time.Duration(f.KeepaliveSeconds) * time.Second
}

// APIConfig contiene los base URLs de las APIs REST.
type APIConfig struct {
	CLOBBase  string `yaml:"clob_base"`
	GammaBase string `yaml:"gamma_base"`
}

// DetectorConfig selecciona el preset y permite afinar sus umbrales.
// Los campos a cero heredan el valor del preset.
type DetectorConfig struct {
	Preset                string  `yaml:"preset"` // swing | highfreq
	VelocityThreshold     float64 `yaml:"velocity_threshold"`
	MomentumThreshold     float64 `yaml:"momentum_threshold"`
	VolumeSpikeMult       float64 `yaml:"volume_spike_mult"`
	MicroTickThreshold    float64 `yaml:"micro_tick_threshold"`
	MinWindowAgeSeconds   int     `yaml:"min_window_age_seconds"`
	VelocityWindowSeconds int     `yaml:"velocity_window_seconds"`
	VolumeAvgLen          int     `yaml:"volume_avg_len"`
	WhaleNotionalUSD      float64 `yaml:"whale_notional_usd"`
}

// WindowConfig controla las ventanas de muestras por token.
type WindowConfig struct {
	Capacity       int `yaml:"capacity"` // 0 = según preset
	VolumeCapacity int `yaml:"volume_capacity"`
	TTLMinutes     int `yaml:"ttl_minutes"` // inactividad antes de purgar un token
}

// TTL devuelve la inactividad máxima como time.Duration.
func (w WindowConfig) TTL() time.Duration {
	return time.Duration(w.TTLMinutes) * time.Minute
}

// TradingConfig controla el tamaño y la forma de las órdenes.
type TradingConfig struct {
	BaseOrderUSD  float64 `yaml:"base_order_usd"`
	MaxPositions  int     `yaml:"max_positions"`
	StopLossPct   float64 `yaml:"stop_loss_pct"`
	TakeProfitPct float64 `yaml:"take_profit_pct"`
	// Strategy: conservative | balanced | aggressive | adaptive
	Strategy string `yaml:"strategy"`
	// OrderTypeConfCutoff separa FAK (confianza alta) de FOK.
	OrderTypeConfCutoff float64 `yaml:"order_type_conf_cutoff"`
	OrderTimeoutSeconds int     `yaml:"order_timeout_seconds"`
}

// OrderTimeout devuelve el timeout por orden como time.Duration.
func (t TradingConfig) OrderTimeout() time.Duration {
	return time.Duration(t.OrderTimeoutSeconds) * time.Second
}

// KillConfig controla el kill switch. Activado por defecto: Disabled lo
// apaga explícitamente.
type KillConfig struct {
	Disabled       bool    `yaml:"disabled"`
	ScoreCeiling   float64 `yaml:"score_ceiling"`
	MaxLosses      int     `yaml:"max_losses"`
	MaxDrawdownUSD float64 `yaml:"max_drawdown_usd"` // umbral negativo en dólares
}

// MonitorConfig controla el barrido de salidas.
type MonitorConfig struct {
	SweepSeconds   int `yaml:"sweep_seconds"`
	MinHoldSeconds int `yaml:"min_hold_seconds"` // dwell antes de poder salir por stall
	MaxHoldMinutes int `yaml:"max_hold_minutes"` // time stop duro
	StallSweeps    int `yaml:"stall_sweeps"`
	StatusSeconds  int `yaml:"status_seconds"` // resumen de posiciones, 0 = apagado
}

// Sweep devuelve la cadencia del barrido como time.Duration.
func (m MonitorConfig) Sweep() time.Duration {
	return time.Duration(m.SweepSeconds) * time.Second
}

// MinHold devuelve el dwell mínimo como time.Duration.
func (m MonitorConfig) MinHold() time.Duration {
	return time.Duration(m.MinHoldSeconds) * time.Second
}

// MaxHold devuelve el time stop como time.Duration.
func (m MonitorConfig) MaxHold() time.Duration {
	return time.Duration(m.MaxHoldMinutes) * time.Minute
}

// Status devuelve la cadencia del resumen como time.Duration.
func (m MonitorConfig) Status() time.Duration {
	return time.Duration(m.StatusSeconds) * time.Second
}

// PaperConfig controla el modo simulado.
type PaperConfig struct {
	Enabled      bool    `yaml:"enabled"`
	BalanceUSD   float64 `yaml:"balance_usd"`
	Slippage     float64 `yaml:"slippage"`
	BookDepthUSD float64 `yaml:"book_depth_usd"`
}

// WalletConfig contiene el RPC de Polygon. La clave privada viene SOLO del
// entorno (POLY_PRIVATE_KEY), nunca del YAML.
type WalletConfig struct {
	RPCURL     string `yaml:"rpc_url"`
	PrivateKey string `yaml:"-"`
}

// StorageConfig controla dónde se persisten los datos.
type StorageConfig struct {
	DSN string `yaml:"dsn"` // ruta al archivo SQLite, o ":memory:"
}

// MetricsConfig controla el listener de Prometheus.
type MetricsConfig struct {
	Addr string `yaml:"addr"` // vacío = deshabilitado
}

// LogConfig controla el formato y nivel de logging.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug | info | warn | error
	Format string `yaml:"format"` // text | json
}

// Load carga la configuración desde el archivo YAML y el archivo .env si existe.
// Los valores del entorno sobreescriben los del YAML para las keys que correspondan.
func Load(path string) (*Config, error) {
	// Cargar .env si existe (silencia error si no hay archivo)
	_ = godotenv.Load()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config.Load: read %q: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config.Load: parse YAML: %w", err)
	}

	applyEnvOverrides(&cfg)
	setDefaults(&cfg)

	return &cfg, nil
}

// applyEnvOverrides sobreescribe valores con variables de entorno si están presentes.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}
	if v := os.Getenv("WS_URL"); v != "" {
		cfg.Feed.WSURL = v
	}
	if v := os.Getenv("POLYGON_RPC_URL"); v != "" {
		cfg.Wallet.RPCURL = v
	}
	cfg.Wallet.PrivateKey = strings.TrimSpace(os.Getenv("POLY_PRIVATE_KEY"))
}

// setDefaults asegura que los valores requeridos tengan valores sensatos.
// Los umbrales de detector/trading/monitor a cero los rellena cada
// componente con su applyDefaults.
func setDefaults(cfg *Config) {
	if cfg.Feed.WSURL == "" {
		cfg.Feed.WSURL = "wss://ws-subscriptions-clob.polymarket.com/ws/market"
	}
	if cfg.API.CLOBBase == "" {
		cfg.API.CLOBBase = "https://clob.polymarket.com"
	}
	if cfg.API.GammaBase == "" {
		cfg.API.GammaBase = "https://gamma-api.polymarket.com"
	}
	if cfg.Detector.Preset == "" {
		cfg.Detector.Preset = "swing"
	}
	if cfg.Trading.Strategy == "" {
		cfg.Trading.Strategy = "adaptive"
	}
	if cfg.Wallet.RPCURL == "" {
		cfg.Wallet.RPCURL = "https://polygon-rpc.com"
	}
	if cfg.Storage.DSN == "" {
		cfg.Storage.DSN = "polyflash.db"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "text"
	}
}
