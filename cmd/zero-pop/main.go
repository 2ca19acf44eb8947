package main

import "github.com/gematik/zero-pop/cmd/zero-pop/cmd"

func main() {
	cmd.Execute()
}
