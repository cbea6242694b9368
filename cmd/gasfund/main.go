package main

import "gasfund/internal/cli"

func main() {
	cli.Execute()
}
