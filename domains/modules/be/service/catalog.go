package service

import "strings"

// Module ids of the static catalog.
const (
	ModuleLinkInBio    = "link-in-bio"
	ModuleAppointments = "appointments"
	ModuleInvoices     = "invoices"
)

// Module is a catalog entry.
type Module struct {
	ID          string
	Name        string
	Description string
	IsFree      bool
}

var catalog = []Module{
	{ID: ModuleLinkInBio, Name: "Link in bio", Description: "Una página con todos tus enlaces.", IsFree: true},
	{ID: ModuleAppointments, Name: "Citas", Description: "Agenda en línea para tus clientes.", IsFree: false},
	{ID: ModuleInvoices, Name: "Facturas", Description: "Emite y organiza tus facturas.", IsFree: false},
}

var aliases = map[string]string{
	"invoice": ModuleInvoices,
}

// Catalog returns a copy of the module catalog in display order.
func Catalog() []Module {
	out := make([]Module, len(catalog))
	copy(out, catalog)
	return out
}

// CanonicalModuleID maps raw input, aliases included, to a catalog id.
func CanonicalModuleID(raw string) (string, bool) {
	id := strings.ToLower(strings.TrimSpace(raw))
	if alias, ok := aliases[id]; ok {
		id = alias
	}
	for _, m := range catalog {
		if m.ID == id {
			return id, true
		}
	}
	return "", false
}

// Lookup returns the catalog entry of a module id or alias.
func Lookup(raw string) (Module, bool) {
	id, ok := CanonicalModuleID(raw)
	if !ok {
		return Module{}, false
	}
	for _, m := range catalog {
		if m.ID == id {
			return m, true
		}
	}
	return Module{}, false
}
