// Package dev defines the capability sets that concrete drivers
// implement and provides the hosted implementations the kernel boots
// with: a RAM disk, a file-backed disk and a UART-style console.
package dev

import "goros/defs"

/// Chardev_i is the capability set of a character device. Read is
/// non-blocking: it returns 0 bytes when no data is buffered; blocking
/// behavior is built above it by parking the task on the device's
/// waiter list.
type Chardev_i interface {
	Read(buf []uint8) (int, defs.Err_t)
	Write(buf []uint8) (int, defs.Err_t)
	Readready() bool
	// Onready registers a hook invoked from the interrupt path whenever
	// data arrives.
	Onready(f func())
}

/// Blockdev_i is the capability set of a block device. Transfers are in
/// whole sectors at sector-aligned offsets; byte-granular access is
/// layered above.
type Blockdev_i interface {
	Readat(buf []uint8, off uint64) defs.Err_t
	Writeat(buf []uint8, off uint64) defs.Err_t
	Sectorsize() int
	Size() uint64
}
