package main

import "github.com/OFFIS-RIT/kiwi-textbook/backend/internal/cli"

func main() {
	cli.Execute()
}
