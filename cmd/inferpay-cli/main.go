package main

import (
	"fmt"
	"io"
	"os"
	"strings"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		usage(stderr)
		return 1
	}
	switch strings.ToLower(args[0]) {
	case "quote":
		return runQuoteCommand(args[1:], stdout, stderr)
	case "validate-pool":
		return runValidateCommand(args[1:], stdout, stderr)
	case "request-id":
		return runRequestIDCommand(args[1:], stdout, stderr)
	case "token":
		return runTokenCommand(args[1:], stdout, stderr)
	case "help", "-h", "--help":
		usage(stdout)
		return 0
	default:
		fmt.Fprintf(stderr, "Unknown command %q\n", args[0])
		usage(stderr)
		return 1
	}
}

func usage(w io.Writer) {
	fmt.Fprintln(w, "Usage: inferpay-cli <command> [flags]")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  quote          --pool <file> --amount <n>[,<n>...] [--direction zeroForOne|oneForZero]")
	fmt.Fprintln(w, "  validate-pool  --pool <file>")
	fmt.Fprintln(w, "  request-id     <label|0x-hex>")
	fmt.Fprintln(w, "  token          --secret <s> --sub <address> --scope <scope> [--issuer <iss>] [--ttl 1h]")
}
