package main

func main() {
	m := map[uint8]uint8{}
	m[1] = 2
}
