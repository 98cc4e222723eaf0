package main

func main() {
	var total uint8
	for _, v := range []uint8{1, 2, 3} {
		total += v
	}
	_ = total
}
