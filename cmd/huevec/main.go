package main

import "github.com/hupe1980/huevec/internal/cli"

func main() {
	cli.Execute()
}
