package main

import "github.com/mixelka/maildash/internal/cli"

func main() {
	cli.Execute()
}
