// Package externalize flattens nested OParl JSON into a set of addressable
// objects. Embedded sub-objects are replaced by their id string in the
// parent; each extracted child records a back-reference to the parent so the
// resolver can reconstruct the link when the remote omits it.
package externalize

import (
	"log/slog"

	"ratsmirror/internal/oparl"
)

// Externalized is one addressable object pulled out of a JSON tree.
type Externalized struct {
	URL  string
	Type string
	Data oparl.Object
}

// Result of flattening a single top-level object.
type Result struct {
	// Objects lists children first, the (rewritten) input object last.
	Objects []Externalized
	// Keys are the parent keys under which embedded objects were found.
	// The incremental importer compares them against the previous snapshot
	// to find references that vanished.
	Keys []string
}

// Externalize flattens obj. obj must have an id; embedded objects without
// one are dropped with a warning since they cannot be addressed.
func Externalize(obj oparl.Object, logger *slog.Logger) Result {
	if logger == nil {
		logger = slog.Default()
	}
	res := &Result{}
	out := walk(obj, "", -1, res, logger)
	res.Objects = append(res.Objects, Externalized{URL: out.ID(), Type: out.TypeName(), Data: out})
	return *res
}

func walk(obj oparl.Object, parent string, position int, res *Result, logger *slog.Logger) oparl.Object {
	out := obj.Clone()
	if parent != "" {
		out[oparl.KeyBackref] = parent
		if position >= 0 {
			out[oparl.KeyBackrefPosition] = position
		}
	}
	for key, value := range obj {
		// geojson subtrees are opaque and never externalized.
		if key == "geojson" {
			continue
		}
		switch v := value.(type) {
		case map[string]any:
			child := oparl.Object(v)
			if child.ID() == "" {
				logger.Warn("embedded object has no id, skipping",
					"key", key, "parent", obj.ID())
				delete(out, key)
				continue
			}
			extracted := walk(child, obj.ID(), -1, res, logger)
			res.Objects = append(res.Objects, Externalized{URL: child.ID(), Type: child.TypeName(), Data: extracted})
			res.addKey(key)
			out[key] = child.ID()
		case []any:
			if !containsObject(v) {
				continue
			}
			ids := make([]any, 0, len(v))
			for i, e := range v {
				m, ok := e.(map[string]any)
				if !ok {
					ids = append(ids, e)
					continue
				}
				child := oparl.Object(m)
				if child.ID() == "" {
					logger.Warn("embedded object has no id, skipping",
						"key", key, "parent", obj.ID())
					continue
				}
				extracted := walk(child, obj.ID(), i, res, logger)
				res.Objects = append(res.Objects, Externalized{URL: child.ID(), Type: child.TypeName(), Data: extracted})
				ids = append(ids, child.ID())
			}
			res.addKey(key)
			out[key] = ids
		}
	}
	return out
}

func (r *Result) addKey(key string) {
	for _, k := range r.Keys {
		if k == key {
			return
		}
	}
	r.Keys = append(r.Keys, key)
}

func containsObject(list []any) bool {
	for _, e := range list {
		if _, ok := e.(map[string]any); ok {
			return true
		}
	}
	return false
}
