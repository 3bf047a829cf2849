package util

import (
	"fmt"
)

// RowFunction computes one output row from the corresponding rows of its inputs
type RowFunction func(in [][]float64, out []float64) error

// ElementFunction transforms a single element
type ElementFunction func(x float64) (float64, error)

// SafeRowFunction wraps a RowFunction such that panics are recovered and nice error messages are constructed
func SafeRowFunction(name string, fn RowFunction) RowFunction {
	return func(in [][]float64, out []float64) (err error) {
		defer func() {
			if r := recover(); r != nil {
				if anErr, ok := r.(error); ok {
					err = fmt.Errorf("%s panic: %w\nInput: %v\n%s", name, anErr, in, GetTrace())
				} else {
					err = fmt.Errorf("%s panic: %v\nInput: %v\n%s", name, r, in, GetTrace())
				}
			}
		}()
		err = fn(in, out)
		return
	}
}

// SafeElementFunction wraps an ElementFunction such that panics are recovered and nice error messages are constructed
func SafeElementFunction(name string, fn ElementFunction) ElementFunction {
	return func(x float64) (y float64, err error) {
		defer func() {
			if r := recover(); r != nil {
				if anErr, ok := r.(error); ok {
					err = fmt.Errorf("%s panic: %w\nInput: %g\n%s", name, anErr, x, GetTrace())
				} else {
					err = fmt.Errorf("%s panic: %v\nInput: %g\n%s", name, r, x, GetTrace())
				}
			}
		}()
		y, err = fn(x)
		return
	}
}
