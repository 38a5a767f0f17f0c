package main

import "github.com/neviso/core/internal/cli"

func main() {
	cli.Execute()
}
