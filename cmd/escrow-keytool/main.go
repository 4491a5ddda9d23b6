// escrow-keytool seals and inspects the signer's encrypted key file.
//
// Usage:
//
//	escrow-keytool encrypt -in keys.json -out keys.enc
//	escrow-keytool addresses -in keys.enc
//
// The passphrase comes from KEY_ENCRYPTION_KEY. The tool prints derived
// addresses only; private keys never reach stdout.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"trustora/chains"
	"trustora/keys"
)

func main() {
	if len(os.Args) < 2 {
		log.Fatalf("usage: escrow-keytool <encrypt|addresses> [flags]")
	}
	passphrase := os.Getenv("KEY_ENCRYPTION_KEY")
	if passphrase == "" {
		log.Fatalf("KEY_ENCRYPTION_KEY is required")
	}

	switch os.Args[1] {
	case "encrypt":
		fs := flag.NewFlagSet("encrypt", flag.ExitOnError)
		in := fs.String("in", "", "plaintext key list (JSON array of hex keys)")
		out := fs.String("out", "", "output path for the sealed key file")
		_ = fs.Parse(os.Args[2:])
		if *in == "" || *out == "" {
			log.Fatalf("encrypt: -in and -out are required")
		}
		plaintext, err := os.ReadFile(*in)
		if err != nil {
			log.Fatalf("read key list: %v", err)
		}
		if _, err := keys.ParseKeyList(plaintext); err != nil {
			log.Fatalf("validate key list: %v", err)
		}
		blob, err := keys.Encrypt(passphrase, plaintext)
		if err != nil {
			log.Fatalf("encrypt: %v", err)
		}
		if err := os.WriteFile(*out, blob, 0o600); err != nil {
			log.Fatalf("write sealed file: %v", err)
		}
		fmt.Printf("sealed %s\n", *out)
	case "addresses":
		fs := flag.NewFlagSet("addresses", flag.ExitOnError)
		in := fs.String("in", "", "sealed key file")
		_ = fs.Parse(os.Args[2:])
		if *in == "" {
			log.Fatalf("addresses: -in is required")
		}
		pool, err := keys.LoadPool(*in, passphrase)
		if err != nil {
			log.Fatalf("load key pool: %v", err)
		}
		tron := pool.Addresses(chains.TRC20)
		bsc := pool.Addresses(chains.BEP20)
		for i := range tron {
			fmt.Printf("%d\t%s\t%s\n", i, tron[i], bsc[i])
		}
	default:
		log.Fatalf("unknown command %q", os.Args[1])
	}
}
