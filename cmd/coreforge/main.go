package main

import "coreforge/internal/coreforge"

func main() {
	coreforge.Main()
}
