package main

import (
	"context"
	"os"
)

func main() {
	if err := execute(context.Background(), os.Stdout, os.Args[1:]); err != nil {
		os.Exit(1)
	}
}
