package kernel

import "fmt"

import "goros/fs"

/// Klog levels; each renders with its own ANSI color on the console.
type Kloglevel_t int

const (
	KlogDebug Kloglevel_t = iota
	KlogInfo
	KlogWarn
	KlogError
	KlogPanic
)

var klogcolor = map[Kloglevel_t]string{
	KlogDebug: "\x1b[90m",
	KlogInfo:  "\x1b[32m",
	KlogWarn:  "\x1b[33m",
	KlogError: "\x1b[31m",
	KlogPanic: "\x1b[1;31m",
}

var klogtag = map[Kloglevel_t]string{
	KlogDebug: "debug",
	KlogInfo:  "info",
	KlogWarn:  "warn",
	KlogError: "error",
	KlogPanic: "panic",
}

/// Klog writes one colored line to the kernel console.
func (k *Kernel_t) Klog(level Kloglevel_t, format string, args ...interface{}) {
	if k.Console == nil {
		return
	}
	line := fmt.Sprintf("%s[%s]\x1b[0m %s\n",
		klogcolor[level], klogtag[level], fmt.Sprintf(format, args...))
	k.Console.Write(nil, fs.Mkfakebuf([]uint8(line)))
}
