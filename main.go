package main

import "github.com/guidy/payments/cmd"

func main() {
	cmd.Execute()
}
