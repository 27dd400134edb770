package main

import "github.com/dgallion1/retell/internal/cli"

func main() {
	cli.Execute()
}
