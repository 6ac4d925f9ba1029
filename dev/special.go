package dev

import "goros/defs"

/// Nulldev_t discards writes and reads nothing.
type Nulldev_t struct{}

func (Nulldev_t) Read(buf []uint8) (int, defs.Err_t)  { return 0, 0 }
func (Nulldev_t) Write(buf []uint8) (int, defs.Err_t) { return len(buf), 0 }
func (Nulldev_t) Readready() bool                     { return false }
func (Nulldev_t) Onready(f func())                    {}

/// Zerodev_t reads an endless stream of zero bytes.
type Zerodev_t struct{}

func (Zerodev_t) Read(buf []uint8) (int, defs.Err_t) {
	for i := range buf {
		buf[i] = 0
	}
	return len(buf), 0
}
func (Zerodev_t) Write(buf []uint8) (int, defs.Err_t) { return len(buf), 0 }
func (Zerodev_t) Readready() bool                     { return true }
func (Zerodev_t) Onready(f func())                    {}
