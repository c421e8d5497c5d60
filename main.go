package main

import "knowbase/cmd"

func main() {
	cmd.Execute()
}
