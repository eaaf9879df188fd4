package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		if errors.Is(err, errItemsFailed) {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		slog.Error("atsctl failed", "error", err)
		os.Exit(1)
	}
}
