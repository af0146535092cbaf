package main

import (
	"fmt"
	"os"

	"github.com/akaunkita/finledger/cmd/ledgerctl/cli"
)

func main() {
	env := cli.NewEnv()
	err := cli.NewRootCommand(env).Execute()
	if closeErr := env.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "ledgerctl:", err)
		os.Exit(1)
	}
}
