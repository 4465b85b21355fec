package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"math/big"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"inferpay/native/escrow"
	"inferpay/native/swap"
)

// poolFile is the on-disk pool description read by quote and validate-pool.
type poolFile struct {
	Address      string `json:"address"`
	Token0       string `json:"token0"`
	Token1       string `json:"token1"`
	Fee          uint32 `json:"fee"`
	TickSpacing  int32  `json:"tickSpacing"`
	SqrtPriceX96 string `json:"sqrtPriceX96"`
	Tick         int32  `json:"tick"`
	Liquidity    string `json:"liquidity"`
}

func loadPool(path string) (swap.PoolState, error) {
	var pool swap.PoolState
	raw, err := os.ReadFile(path)
	if err != nil {
		return pool, fmt.Errorf("read pool file: %w", err)
	}
	var file poolFile
	if err := json.Unmarshal(raw, &file); err != nil {
		return pool, fmt.Errorf("decode pool file: %w", err)
	}
	pool.Address = common.HexToAddress(file.Address)
	pool.Token0 = common.HexToAddress(file.Token0)
	pool.Token1 = common.HexToAddress(file.Token1)
	pool.Fee = file.Fee
	pool.TickSpacing = file.TickSpacing
	pool.Tick = file.Tick
	if pool.SqrtPriceX96, err = parseUint256(file.SqrtPriceX96); err != nil {
		return pool, fmt.Errorf("sqrtPriceX96: %w", err)
	}
	if pool.Liquidity, err = parseUint256(file.Liquidity); err != nil {
		return pool, fmt.Errorf("liquidity: %w", err)
	}
	return pool, nil
}

func parseUint256(raw string) (*uint256.Int, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, nil
	}
	if strings.HasPrefix(trimmed, "0x") || strings.HasPrefix(trimmed, "0X") {
		return uint256.FromHex(trimmed)
	}
	return uint256.FromDecimal(trimmed)
}

func runQuoteCommand(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("quote", flag.ContinueOnError)
	fs.SetOutput(stderr)
	poolPath := fs.String("pool", "", "Path to a pool JSON file")
	amountList := fs.String("amount", "", "Input amount, or a comma-separated batch")
	directionFlag := fs.String("direction", "zeroForOne", "Swap direction")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if *poolPath == "" || *amountList == "" {
		fmt.Fprintln(stderr, "Usage: inferpay-cli quote --pool <file> --amount <n>[,<n>...] [--direction zeroForOne|oneForZero]")
		return 1
	}
	pool, err := loadPool(*poolPath)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	direction, err := swap.ParseDirection(*directionFlag)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	parts := strings.Split(*amountList, ",")
	amounts := make([]*big.Int, len(parts))
	for i, part := range parts {
		v, ok := new(big.Int).SetString(strings.TrimSpace(part), 10)
		if !ok {
			fmt.Fprintf(stderr, "Error: invalid amount %q\n", part)
			return 1
		}
		amounts[i] = v
	}
	if len(amounts) == 1 {
		quote, err := swap.QuoteExactInputSingle(pool, amounts[0], direction)
		if err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return 1
		}
		return printJSON(stdout, stderr, quote)
	}
	quotes, err := swap.QuoteBatch(pool, amounts, direction)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	return printJSON(stdout, stderr, quotes)
}

func runValidateCommand(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("validate-pool", flag.ContinueOnError)
	fs.SetOutput(stderr)
	poolPath := fs.String("pool", "", "Path to a pool JSON file")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if *poolPath == "" {
		fmt.Fprintln(stderr, "Usage: inferpay-cli validate-pool --pool <file>")
		return 1
	}
	pool, err := loadPool(*poolPath)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	verdict := swap.ValidatePool(pool)
	if code := printJSON(stdout, stderr, verdict); code != 0 {
		return code
	}
	if !verdict.Valid() {
		return 2
	}
	return 0
}

func runRequestIDCommand(args []string, stdout, stderr io.Writer) int {
	if len(args) != 1 {
		fmt.Fprintln(stderr, "Usage: inferpay-cli request-id <label|0x-hex>")
		return 1
	}
	id, err := escrow.ParseRequestID(args[0])
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	fmt.Fprintln(stdout, id.Hex())
	return 0
}

func printJSON(stdout, stderr io.Writer, v interface{}) int {
	pretty, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	fmt.Fprintln(stdout, string(pretty))
	return 0
}
