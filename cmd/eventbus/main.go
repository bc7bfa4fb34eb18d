// Command eventbus runs and operates the freight optimization event bus.
package main

import (
	"context"
	"fmt"
	"os"
)

func main() {
	if err := rootCommand().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
