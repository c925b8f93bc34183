package main

import (
	"fmt"
	"io"
	"path/filepath"
)

func run(args []string, stdout, stderr io.Writer) int {
	if len(args) < 2 {
		usage(args, stderr)
		return 1
	}

	switch args[1] {
	case "challenge":
		return runChallenge(args[2:], stdout, stderr)
	case "sign":
		return runSign(args[2:], stdout, stderr)
	case "verify-signature":
		return runVerifySignature(args[2:], stdout, stderr)
	case "policy":
		if len(args) >= 3 && args[2] == "eval" {
			return runPolicyEval(args[3:], stdout, stderr)
		}
	}

	usage(args, stderr)
	return 1
}

func usage(args []string, w io.Writer) {
	name := "rewardguard"
	if len(args) > 0 && args[0] != "" {
		name = filepath.Base(args[0])
	}
	fmt.Fprintf(w, "usage:\n")
	fmt.Fprintf(w, "  %s challenge --address <0x...> [--domain <name>] [--nonce <nonce>] [--issued-at <rfc3339>]\n", name)
	fmt.Fprintf(w, "  %s sign --key-hex <hex> (--message <text>|--message-file <file>)\n", name)
	fmt.Fprintf(w, "  %s verify-signature --address <0x...> --signature <hex> (--message <text>|--message-file <file>) [--challenge] [--max-age <duration>]\n", name)
	fmt.Fprintf(w, "  %s policy eval --bundle <dir> --input <input.json> [--bundle-id <id>]\n", name)
}
