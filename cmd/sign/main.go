// Command sign answers an authentication challenge: it signs the
// server-issued nonce with the client's Ed25519 private key and prints
// the base64 signature to send back in the authenticate packet.
package main

import (
	"crypto/ed25519"
	"encoding/base64"
	"flag"
	"fmt"
	"os"
)

func main() {
	privKeyB64 := flag.String("key", "", "Base64-encoded Ed25519 private key")
	nonceB64 := flag.String("nonce", "", "Base64-encoded challenge from the server")
	flag.Parse()

	if *privKeyB64 == "" || *nonceB64 == "" {
		fmt.Fprintln(os.Stderr, "Usage: sign -key <private-key-base64> -nonce <challenge-base64>")
		os.Exit(1)
	}

	privKeyBytes, err := base64.StdEncoding.DecodeString(*privKeyB64)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid private key: %v\n", err)
		os.Exit(1)
	}
	if len(privKeyBytes) != ed25519.PrivateKeySize {
		fmt.Fprintf(os.Stderr, "Private key must be %d bytes, got %d\n", ed25519.PrivateKeySize, len(privKeyBytes))
		os.Exit(1)
	}

	nonce, err := base64.StdEncoding.DecodeString(*nonceB64)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid challenge: %v\n", err)
		os.Exit(1)
	}

	signature := ed25519.Sign(ed25519.PrivateKey(privKeyBytes), nonce)
	fmt.Println(base64.StdEncoding.EncodeToString(signature))
}
