package main

import "github.com/klarlabs/klar/cmd"

func main() {
	cmd.Execute()
}
