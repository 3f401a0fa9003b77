package main

import (
	"github.com/avelov/tg-pulse/cmd"
)

func main() {
	cmd.Execute()
}
