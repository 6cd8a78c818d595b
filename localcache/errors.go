package localcache

import "errors"

// ErrCorrupt names the condition of an otherwise-decodable entry that lacks
// a required expected file. No function in this package returns it:
// cachefacade.Facade.Lookup detects that condition itself and removes the
// entry with Store.Evict.
var ErrCorrupt = errors.New("localcache: entry missing a required file")

// ErrEmptyFileID guards against the zero-value misuse that would otherwise
// silently resolve to a nonsensical path.
var ErrEmptyFileID = errors.New("localcache: file id is empty")
