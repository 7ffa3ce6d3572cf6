package loader

import (
	"context"
	"fmt"
	"net/url"

	"ratsmirror/internal/oparl"
)

// Vendor fingerprints in the system root document.
const (
	sternbergContact = "STERNBERG Software GmbH & Co. KG"
	somacosProduct   = "Sitzungsmanagementsystem Session  Copyright SOMACOS GmbH & Co. KG"
)

// FromSystem fetches the system root document and returns a client with the
// matching vendor profile.
func FromSystem(ctx context.Context, entrypoint string, opts Options) (Client, error) {
	probe := newBase(nil, opts)
	system, _, err := probe.FetchJSON(ctx, entrypoint, nil)
	if err != nil {
		return nil, fmt.Errorf("load system document: %w", err)
	}
	return ForSystem(system, opts), nil
}

// ForSystem selects the vendor profile for an already loaded system document.
func ForSystem(system oparl.Object, opts Options) Client {
	opts.fill()
	b := newBase(system, opts)
	switch {
	case system.String("contactName") == sternbergContact:
		opts.Logger.Info("using sternberg fixups")
		return &sternberg{base: b}
	case system.String("vendor") == "http://cc-egov.de/" || system.String("vendor") == "https://www.cc-egov.de":
		opts.Logger.Info("using cc e-gov fixups")
		return &ccEgov{base: b}
	case system.String("vendor") == "http://www.somacos.de" || system.String("product") == somacosProduct:
		opts.Logger.Info("using somacos fixups")
		return &somacos{base: b}
	default:
		opts.Logger.Info("using no vendor fixups")
		return b
	}
}

func hasModifiedSince(query url.Values) bool {
	return query != nil && query.Has("modified_since")
}
