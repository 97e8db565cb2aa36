package policy

import "github.com/chainguard/core/pkg/coreerr"

var errNotFound = coreerr.ErrNotFound
