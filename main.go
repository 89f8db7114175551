package main

import "github.com/samitochi04/cameroon-marketplace-sub000/cmd"

func main() {
	cmd.Execute()
}
