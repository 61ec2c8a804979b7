package main

import "github.com/vietddude/marketmonitor/internal/cli"

func main() {
	cli.Execute()
}
