package main

import (
	"fmt"
	"os"

	"github.com/khanhngocdam/BE-Viettel-iQuality-TEST/internal/cli"
)

func main() {
	root := cli.NewRootCommand()
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
