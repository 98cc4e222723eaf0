package main

type shifter interface {
	Shift(x uint8) uint8
}

type left struct{}

func (left) Shift(x uint8) uint8 { return x << 1 }

func apply(s shifter, x uint8) uint8 {
	return s.Shift(x)
}

func main() {
	_ = apply(left{}, 3)
}
