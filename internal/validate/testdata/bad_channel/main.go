package main

func main() {
	ch := make(chan uint8, 1)
	ch <- 3
}
