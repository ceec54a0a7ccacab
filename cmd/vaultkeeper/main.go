package main

import (
	"github.com/flamingo-finance/flamingo-margin-maintainer/internal/cli"
)

func main() {
	cli.Execute()
}
