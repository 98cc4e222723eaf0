package main

var counter uint8

func bump() { counter++ }

func main() {
	defer bump()
}
