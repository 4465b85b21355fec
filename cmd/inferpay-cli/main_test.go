package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

const poolJSON = `{
  "address": "0x9000000000000000000000000000000000000009",
  "token0": "0x1000000000000000000000000000000000000001",
  "token1": "0x2000000000000000000000000000000000000002",
  "fee": 3000,
  "tickSpacing": 60,
  "sqrtPriceX96": "79228162514264337593543950336",
  "tick": 0,
  "liquidity": "1000000000000000000"
}`

func writePool(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "pool.json")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))
	return path
}

func TestQuoteSingleAndBatch(t *testing.T) {
	path := writePool(t, poolJSON)

	var stdout, stderr bytes.Buffer
	require.Equal(t, 0, run([]string{"quote", "--pool", path, "--amount", "1000000"}, &stdout, &stderr), stderr.String())
	var single map[string]interface{}
	require.NoError(t, json.Unmarshal(stdout.Bytes(), &single))
	require.Equal(t, float64(3000), single["feeAmount"])
	require.Equal(t, true, single["approximate"])

	stdout.Reset()
	require.Equal(t, 0, run([]string{"quote", "--pool", path, "--amount", "5,1000000", "--direction", "oneForZero"}, &stdout, &stderr), stderr.String())
	var batch []map[string]interface{}
	require.NoError(t, json.Unmarshal(stdout.Bytes(), &batch))
	require.Len(t, batch, 2)
}

func TestQuoteRejectsZeroAmount(t *testing.T) {
	var stdout, stderr bytes.Buffer
	code := run([]string{"quote", "--pool", writePool(t, poolJSON), "--amount", "0"}, &stdout, &stderr)
	require.Equal(t, 1, code)
	require.Contains(t, stderr.String(), "invalid amount")
}

func TestValidatePoolExitCodes(t *testing.T) {
	var stdout, stderr bytes.Buffer
	require.Equal(t, 0, run([]string{"validate-pool", "--pool", writePool(t, poolJSON)}, &stdout, &stderr))

	stdout.Reset()
	empty := strings.Replace(poolJSON, `"1000000000000000000"`, `"0"`, 1)
	require.Equal(t, 2, run([]string{"validate-pool", "--pool", writePool(t, empty)}, &stdout, &stderr))
	require.Contains(t, stdout.String(), `"hasLiquidity": false`)
}

func TestRequestID(t *testing.T) {
	var stdout, stderr bytes.Buffer
	require.Equal(t, 0, run([]string{"request-id", "job-42"}, &stdout, &stderr))
	id := strings.TrimSpace(stdout.String())
	require.Len(t, id, 66)

	stdout.Reset()
	require.Equal(t, 0, run([]string{"request-id", id}, &stdout, &stderr))
	require.Equal(t, id, strings.TrimSpace(stdout.String()))
}

func TestTokenMintsVerifiableJWT(t *testing.T) {
	var stdout, stderr bytes.Buffer
	code := run([]string{"token", "--secret", "s3cret", "--sub", "0x00000000000000000000000000000000000000a2", "--scope", "relay", "--issuer", "dev"}, &stdout, &stderr)
	require.Equal(t, 0, code, stderr.String())

	token, err := jwt.Parse(strings.TrimSpace(stdout.String()), func(*jwt.Token) (interface{}, error) {
		return []byte("s3cret"), nil
	}, jwt.WithIssuer("dev"))
	require.NoError(t, err)
	claims := token.Claims.(jwt.MapClaims)
	require.Equal(t, "relay", claims["scope"])
	sub, _ := claims["sub"].(string)
	require.True(t, strings.EqualFold("0x00000000000000000000000000000000000000a2", sub), sub)
}

func TestUnknownCommand(t *testing.T) {
	var stdout, stderr bytes.Buffer
	require.Equal(t, 1, run([]string{"bogus"}, &stdout, &stderr))
	require.Contains(t, stderr.String(), "Unknown command")
}
