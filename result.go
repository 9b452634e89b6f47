package veclite

import "github.com/lucasastorian/veclite/pkg/query"

// Result is what every TableHandle.Execute call returns: the projected
// rows and, for scored modes (vector/keyword/hybrid search), one score
// per row in the same order.
type Result = query.Result
