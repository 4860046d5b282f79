package vpuomx

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/vpuomx/component"
	"github.com/opd-ai/vpuomx/engine"
	"github.com/opd-ai/vpuomx/omx"
)

// Entry is one registered component.
type Entry struct {
	Name string
	Role component.Role
}

// registry is built once from the supported roles, decoders first.
var registry = buildRegistry()

func buildRegistry() []Entry {
	roles := component.Roles()
	entries := make([]Entry, 0, len(roles))
	for _, r := range roles {
		entries = append(entries, Entry{Name: component.NamePrefix + r.Name, Role: r})
	}
	return entries
}

// Components returns a copy of the component table.
func Components() []Entry {
	out := make([]Entry, len(registry))
	copy(out, registry)
	return out
}

func lookup(name string) (Entry, bool) {
	for _, e := range registry {
		if e.Name == name {
			return e, true
		}
	}
	return Entry{}, false
}

// ComponentNameEnum returns the name of the component at index.
// It fails with omx.ErrNoMore once index passes the last component.
func ComponentNameEnum(index uint32) (string, error) {
	if int(index) >= len(registry) {
		return "", omx.ErrNoMore
	}
	return registry[index].Name, nil
}

// GetRolesOfComponent lists the roles a named component implements.
func GetRolesOfComponent(name string) ([]string, error) {
	e, ok := lookup(name)
	if !ok {
		return nil, fmt.Errorf("%w: %q", omx.ErrComponentNotFound, name)
	}
	return []string{e.Role.Name}, nil
}

// GetComponentsOfRole lists the component names implementing role.
func GetComponentsOfRole(role string) ([]string, error) {
	var names []string
	for _, e := range registry {
		if e.Role.Name == role {
			names = append(names, e.Name)
		}
	}
	if len(names) == 0 {
		return nil, fmt.Errorf("%w: role %q", omx.ErrComponentNotFound, role)
	}
	return names, nil
}

// GetHandle creates the named component in the Loaded state on eng.
// Options are applied after the name, so WithName still overrides it.
func GetHandle(name string, eng engine.Engine, cb omx.Callbacks, opts ...component.Option) (*component.Component, error) {
	e, ok := lookup(name)
	if !ok {
		logrus.WithFields(logrus.Fields{
			"function": "GetHandle",
			"name":     name,
		}).Warn("Component not found")
		return nil, fmt.Errorf("%w: %q", omx.ErrComponentNotFound, name)
	}

	all := append([]component.Option{component.WithName(e.Name)}, opts...)
	c, err := component.New(e.Role.Name, eng, cb, all...)
	if err != nil {
		return nil, err
	}

	logrus.WithFields(logrus.Fields{
		"function": "GetHandle",
		"name":     e.Name,
		"id":       c.Info().ID.String(),
	}).Info("Component handle created")
	return c, nil
}

// FreeHandle releases a component returned by GetHandle.
func FreeHandle(c *component.Component) error {
	if c == nil {
		return omx.ErrBadParameter
	}
	return c.Close()
}
