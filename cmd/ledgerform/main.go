package main

import (
	"fmt"
	"os"
)

func init() {
	rootCmd.AddCommand(catalogCmd)
	rootCmd.AddCommand(repairCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
