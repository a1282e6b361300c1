//go:build go1.18
// +build go1.18

package ubam

// github.com/grailbio/hts/sam pulls sync.fastrand via go:linkname, but the
// runtime stopped exporting that symbol in Go 1.18, so binaries linking
// hts/sam fail with "relocation target sync.fastrand not defined". Re-export
// runtime.fastrand (the function sync.fastrand forwarded to) under the old
// name so those references link again.

import _ "unsafe" // for go:linkname

//go:linkname runtimeFastrand runtime.fastrand
func runtimeFastrand() uint32

//go:linkname syncFastrand sync.fastrand
func syncFastrand() uint32 { return runtimeFastrand() }
