package mizar

import (
	"errors"
	"runtime"
	"sync/atomic"

	"github.com/gookit/color"
)

// We use a value of 1 for critical and 0 for non-critical/default.
var isCriticalAtomic atomic.Int32

var (
	Debug      bool
	ConfigFile = "/etc/mizar.conf"
	version    = "dev" //default version; overridden at build time
	arch       = runtime.GOARCH
	buildDate  = "unknown" // overridden at build time

	errProjectNotFound = errors.New("project file not found")
	errCircularDeps    = errors.New("circular project dependency")
)

// color helpers
var (
	colInfo    = color.Info // style provided by gookit/color
	colWarn    = color.Warn
	colError   = color.Error
	colSuccess = color.HEX("#1976D2")
	colArrow   = color.HEX("#FFEB3B")
	colNote    = color.Tag("notice")
)
