// Package perr holds the few error-kind sentinels that cut across package
// boundaries (spec.md §7's taxonomy). Kinds that are local to one
// component (rotrec.ErrFull, reader.ErrTruncated, tracer.ErrAlreadyActive)
// are declared in that component instead; this package exists only for
// Config, which several packages need to wrap.
package perr

import "errors"

// ErrConfig marks a setup-time configuration error: an invalid path, a
// max_files mismatch between sessions sharing a rotdir, or a map_size
// that exceeds file_size (spec.md §7). Config errors are fatal to session
// setup; they are never swallowed the way hot-path errors are.
var ErrConfig = errors.New("passover: invalid configuration")
