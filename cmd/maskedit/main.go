package main

import "github.com/kestrel-imaging/maskedit/cmd/maskedit/cmd"

func main() {
	cmd.Execute()
}
