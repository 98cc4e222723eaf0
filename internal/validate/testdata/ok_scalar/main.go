package main

func mask(x uint8) uint8 {
	return (x << 2) & 0x3C
}

func sum(n uint8) uint16 {
	var acc uint16
	for i := uint8(0); i < n; i++ {
		acc += uint16(mask(i))
	}
	return acc
}

func main() {
	_ = sum(7)
}
