package main

import "github.com/andresmejia3/pixelcloak/cmd"

func main() {
	cmd.Execute()
}
