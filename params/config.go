package params

import (
	"os"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"
)

// Exchange holds deployment-time parameters of the exchange core.
type Exchange struct {
	// Custody is the exchange's own address on the underlying tokens.
	Custody common.Address
	// FeeAccount receives execution fees; fixed for the process lifetime.
	FeeAccount common.Address
	// FeePercent is the taker fee in whole percent.
	FeePercent int64
}

// Node holds process-level settings.
type Node struct {
	DBPath  string
	APIAddr string
	LogFile string
	// Seed populates the devnet with demo tokens, deposits and orders.
	Seed bool
}

type Config struct {
	Exchange Exchange
	Node     Node
}

func Default() Config {
	return Config{
		Exchange: Exchange{
			Custody:    common.HexToAddress("0xE0C0000000000000000000000000000000000001"),
			FeeAccount: common.HexToAddress("0xFee0000000000000000000000000000000000001"),
			FeePercent: 10,
		},
		Node: Node{
			DBPath:  "data/exchange.db",
			APIAddr: ":8080",
			LogFile: "data/node.log",
			Seed:    false,
		},
	}
}

// LoadFromEnv loads configuration from a .env file (if present) and
// environment variables. Priority: ENV > .env file > defaults.
func LoadFromEnv(envPath string) Config {
	cfg := Default()

	if envPath != "" {
		_ = godotenv.Load(envPath)
	} else {
		_ = godotenv.Load() // loads .env from current directory
	}

	if v := os.Getenv("CUSTODY_ADDRESS"); common.IsHexAddress(v) {
		cfg.Exchange.Custody = common.HexToAddress(v)
	}
	if v := os.Getenv("FEE_ACCOUNT"); common.IsHexAddress(v) {
		cfg.Exchange.FeeAccount = common.HexToAddress(v)
	}
	if v := os.Getenv("FEE_PERCENT"); v != "" {
		if pct, err := strconv.ParseInt(v, 10, 64); err == nil && pct >= 0 && pct <= 100 {
			cfg.Exchange.FeePercent = pct
		}
	}
	if v := os.Getenv("DB_PATH"); v != "" {
		cfg.Node.DBPath = v
	}
	if v := os.Getenv("API_ADDR"); v != "" {
		cfg.Node.APIAddr = v
	}
	if v := os.Getenv("LOG_FILE"); v != "" {
		cfg.Node.LogFile = v
	}
	if v := os.Getenv("SEED"); v != "" {
		if seed, err := strconv.ParseBool(v); err == nil {
			cfg.Node.Seed = seed
		}
	}

	return cfg
}
