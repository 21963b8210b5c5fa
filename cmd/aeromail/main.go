package main

import "github.com/lu-zhengda/aeromail/internal/cli"

func main() {
	cli.Execute()
}
