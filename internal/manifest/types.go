// Package manifest parses and validates the compose-style development
// manifest: services backed by an image or a build context, the named
// volumes they mount, and the links between them.
//
// Parsing is pure. Nothing in this package talks to the docker daemon.
package manifest

// Manifest is a validated service/volume graph.
type Manifest struct {
	Version string

	// Dir is the directory the manifest was loaded from. Relative build
	// contexts and bind sources resolve against it. Empty for Parse.
	Dir string

	Services []Service // declaration order
	Volumes  []Volume  // declaration order
}

// Service returns the named service.
func (m *Manifest) Service(name string) (Service, bool) {
	for _, s := range m.Services {
		if s.Name == name {
			return s, true
		}
	}
	return Service{}, false
}

// Volume returns the named top-level volume.
func (m *Manifest) Volume(name string) (Volume, bool) {
	for _, v := range m.Volumes {
		if v.Name == name {
			return v, true
		}
	}
	return Volume{}, false
}

// ServiceNames returns service names in declaration order.
func (m *Manifest) ServiceNames() []string {
	names := make([]string, 0, len(m.Services))
	for _, s := range m.Services {
		names = append(names, s.Name)
	}
	return names
}

// VolumeNames returns volume names in declaration order.
func (m *Manifest) VolumeNames() []string {
	names := make([]string, 0, len(m.Volumes))
	for _, v := range m.Volumes {
		names = append(names, v.Name)
	}
	return names
}

// Edge is a resolved link between two services.
type Edge struct {
	From string
	To   string
}

// Links returns every link in the manifest as From -> To edges.
func (m *Manifest) Links() []Edge {
	var edges []Edge
	for _, s := range m.Services {
		for _, l := range s.Links {
			edges = append(edges, Edge{From: s.Name, To: l.Service})
		}
	}
	return edges
}

// Service represents a single container definition.
type Service struct {
	Name        string
	Source      Source
	Command     []string
	Environment []EnvVar
	Links       []Link
	Mounts      []Mount
	Ports       []PortMapping
}

// Env renders the environment in KEY=value form, as the docker API wants it.
func (s Service) Env() []string {
	env := make([]string, 0, len(s.Environment))
	for _, e := range s.Environment {
		env = append(env, e.String())
	}
	return env
}

// Source is where a service's image comes from. It is either a
// RegistryImage or a BuildContext; no other implementations exist.
type Source interface {
	isSource()
	String() string
}

// RegistryImage is an image pulled from a registry, e.g. "postgres:14".
type RegistryImage struct {
	Ref string
}

func (RegistryImage) isSource() {}

func (r RegistryImage) String() string { return r.Ref }

// BuildContext is an image built from a local directory.
type BuildContext struct {
	Context    string
	Dockerfile string // empty means "Dockerfile"
	Tag        string // empty means a project-derived tag
}

func (BuildContext) isSource() {}

func (b BuildContext) String() string {
	if b.Tag != "" {
		return "build " + b.Context + " as " + b.Tag
	}
	return "build " + b.Context
}

// EnvVar is one KEY=value pair.
type EnvVar struct {
	Key   string
	Value string
}

func (e EnvVar) String() string { return e.Key + "=" + e.Value }

// Link makes Service reachable from the linking service, under Alias when set.
type Link struct {
	Service string
	Alias   string
}

// Name is the hostname the linked service is reachable under.
func (l Link) Name() string {
	if l.Alias != "" {
		return l.Alias
	}
	return l.Service
}

// MountKind tells named volumes apart from host paths.
type MountKind string

const (
	MountVolume    MountKind = "volume"
	MountBind      MountKind = "bind"
	MountAnonymous MountKind = "anonymous"
)

// Mount is one entry of a service's volumes list.
type Mount struct {
	Kind     MountKind
	Source   string // volume name or host path, empty for anonymous volumes
	Target   string // absolute container path
	ReadOnly bool
}

// PortMapping publishes a container port on the host.
type PortMapping struct {
	HostIP        string
	HostPort      string
	ContainerPort string
	Protocol      string
}

// Volume is a named, engine-managed volume.
type Volume struct {
	Name       string
	Driver     string
	DriverOpts map[string]string
	Labels     map[string]string
	External   bool
}
