package main

func mask(x uint8) uint8 {
	return ((x << 2) + 8) & 0x3C
}

func parity(x uint8) bool {
	return mask(x)&4 != 0
}

func sign(y int8) int8 {
	r := y >> 4
	return r >> 4
}

func main() {
	_ = parity(3)
	_ = sign(-5)
}
