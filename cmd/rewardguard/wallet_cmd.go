package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"rewardguard/internal/domain"
	"rewardguard/internal/infra/wallet"
)

type challengeOutput struct {
	Message  string `json:"message"`
	Nonce    string `json:"nonce"`
	IssuedAt string `json:"issued_at"`
}

type signOutput struct {
	Address   string `json:"address"`
	Signature string `json:"signature"`
}

type verifyOutput struct {
	Valid     bool   `json:"valid"`
	Recovered string `json:"recovered,omitempty"`
	Failure   string `json:"failure,omitempty"`
	Message   string `json:"message,omitempty"`
}

func runChallenge(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("challenge", flag.ContinueOnError)
	fs.SetOutput(stderr)

	var address string
	var domainName string
	var nonce string
	var issuedAt string

	fs.StringVar(&address, "address", "", "wallet address")
	fs.StringVar(&domainName, "domain", "rewardguard", "challenge domain")
	fs.StringVar(&nonce, "nonce", "", "nonce (default random)")
	fs.StringVar(&issuedAt, "issued-at", "", "issued_at (RFC3339, default now)")

	if err := fs.Parse(args); err != nil {
		return 1
	}
	canonical, err := domain.CanonicalWallet(address)
	if err != nil {
		fmt.Fprintf(stderr, "challenge: %v\n", err)
		return 1
	}
	issued := time.Now().UTC().Truncate(time.Second)
	if issuedAt != "" {
		issued, err = time.Parse(time.RFC3339, issuedAt)
		if err != nil {
			fmt.Fprintf(stderr, "parse issued-at: %v\n", err)
			return 1
		}
	}
	if nonce == "" {
		nonce = wallet.NewNonce()
	}

	return writeJSON(stdout, stderr, challengeOutput{
		Message:  wallet.BuildChallenge(domainName, canonical, nonce, issued),
		Nonce:    nonce,
		IssuedAt: issued.UTC().Format(time.RFC3339),
	})
}

// runSign signs with a raw development key. Production wallets sign in the
// browser.
func runSign(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("sign", flag.ContinueOnError)
	fs.SetOutput(stderr)

	var keyHex string
	var message string
	var messageFile string

	fs.StringVar(&keyHex, "key-hex", "", "secp256k1 private key hex")
	fs.StringVar(&message, "message", "", "message text")
	fs.StringVar(&messageFile, "message-file", "", "file holding the message")

	if err := fs.Parse(args); err != nil {
		return 1
	}
	key, err := wallet.ParsePrivateKey(keyHex)
	if err != nil {
		fmt.Fprintf(stderr, "parse key: %v\n", err)
		return 1
	}
	text, err := readMessage(message, messageFile)
	if err != nil {
		fmt.Fprintf(stderr, "sign: %v\n", err)
		return 1
	}
	sig, err := wallet.SignMessage(key, text)
	if err != nil {
		fmt.Fprintf(stderr, "sign: %v\n", err)
		return 1
	}
	return writeJSON(stdout, stderr, signOutput{Address: wallet.Address(key), Signature: sig})
}

func runVerifySignature(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("verify-signature", flag.ContinueOnError)
	fs.SetOutput(stderr)

	var address string
	var signature string
	var message string
	var messageFile string
	var challenge bool
	var maxAge time.Duration

	fs.StringVar(&address, "address", "", "claimed wallet address")
	fs.StringVar(&signature, "signature", "", "65-byte signature hex")
	fs.StringVar(&message, "message", "", "message text")
	fs.StringVar(&messageFile, "message-file", "", "file holding the message")
	fs.BoolVar(&challenge, "challenge", false, "also validate the message as a sign-in challenge")
	fs.DurationVar(&maxAge, "max-age", wallet.DefaultChallengeMaxAge, "maximum challenge age")

	if err := fs.Parse(args); err != nil {
		return 1
	}
	text, err := readMessage(message, messageFile)
	if err != nil {
		fmt.Fprintf(stderr, "verify-signature: %v\n", err)
		return 1
	}

	verifier := wallet.NewVerifier(time.Now, 0)
	var decision domain.SignatureDecision
	if challenge {
		decision = verifier.VerifyChallenge(address, text, signature, maxAge)
	} else {
		decision = verifier.Verify(address, text, signature)
	}

	out := verifyOutput{Valid: decision.Valid, Recovered: decision.Recovered}
	if decision.Err != nil {
		out.Failure = string(decision.Err.Failure)
		out.Message = decision.Err.Message
	}
	if code := writeJSON(stdout, stderr, out); code != 0 {
		return code
	}
	if !decision.Valid {
		return 2
	}
	return 0
}

func readMessage(message, messageFile string) (string, error) {
	if messageFile == "" {
		if message == "" {
			return "", fmt.Errorf("--message or --message-file is required")
		}
		return message, nil
	}
	raw, err := os.ReadFile(messageFile)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

func writeJSON(stdout, stderr io.Writer, v any) int {
	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fmt.Fprintf(stderr, "write output: %v\n", err)
		return 1
	}
	return 0
}
