package main

import (
	"github.com/Sherap24/nepse-data-automation/internal/cli"
)

func main() {
	cli.Execute()
}
