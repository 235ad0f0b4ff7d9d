package main

import (
	"context"
	"fmt"
	"os"

	"github.com/sznuper/cvtrigger/internal/runner"
)

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		fmt.Fprintln(os.Stderr, runner.KindOf(err).Code())
		os.Exit(1)
	}
}
