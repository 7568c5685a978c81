package main

import (
	"context"
	"errors"
	"fmt"
	"os"
)

// Exit codes for different failure modes
const (
	ExitSuccess = 0 // batch completed
	ExitStopped = 1 // batch was interrupted and saved as stopped
	ExitError   = 2 // configuration or runtime error
)

func main() {
	if err := execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)

		if errors.Is(err, context.Canceled) {
			os.Exit(ExitStopped)
		}
		os.Exit(ExitError)
	}
}
