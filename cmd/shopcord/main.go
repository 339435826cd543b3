package main

import "github.com/vietddude/shopcord/internal/cli"

func main() {
	cli.Execute()
}
