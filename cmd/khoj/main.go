package main

import "github.com/Loopxo/khoj/internal/cli"

func main() {
	cli.Execute()
}
