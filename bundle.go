package ccr

import (
	"github.com/junioryono/ccr/beans"
	"github.com/junioryono/ccr/descriptor"
)

// Bundle is one deployment unit: its descriptor, the bean classes it
// ships and the extensions it brings along.
type Bundle struct {
	Descriptor descriptor.Bundle
	Loader     beans.Loader
	Extensions []beans.Extension
}

// RuntimeExtension names the built-in extension giving beans access to
// the runtime's registry and configuration admin.
const RuntimeExtension = "ccr.runtime"
