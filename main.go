package main

import "mizar/internal/mizar"

func main() {
	mizar.Main()
}
