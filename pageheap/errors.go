// Copyright 2024 The vmxvmm-report Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package pageheap

import "fmt"

// throw reports an invariant violation that can never arise in a correct
// implementation — a programmer error, not a reportable condition. It
// mirrors the Go runtime's own runtime.throw: a fatal, unrecoverable
// diagnostic rather than a returned error, because the caller has no way
// to act on a corrupted bit-tree.
func throw(format string, args ...interface{}) {
	panic(fmt.Sprintf("pageheap: "+format, args...))
}
