package main

import (
	"os"

	"github.com/odyssey-erp/dealerledger/cmd/ledgerctl/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}
