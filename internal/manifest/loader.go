package manifest

import (
	"fmt"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"slices"
	"strconv"
	"strings"

	"github.com/compose-spec/compose-go/v2/template"
	"github.com/docker/go-connections/nat"
	"github.com/kballard/go-shellquote"
	"gopkg.in/yaml.v3"
)

var (
	namePattern     = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9_.-]*$`)
	yamlLinePattern = regexp.MustCompile(`^yaml: line (\d+): (.*)$`)
)

// Option configures Parse and Load.
type Option func(*options)

type options struct {
	lookup template.Mapping
}

// WithEnvironment enables ${VAR} and ${VAR:-default} interpolation of string
// values, resolving variables through lookup (os.LookupEnv in the CLI).
func WithEnvironment(lookup func(string) (string, bool)) Option {
	return func(o *options) {
		o.lookup = lookup
	}
}

// Load reads and parses the manifest at path. The returned manifest's Dir is
// the absolute directory containing the file.
func Load(filename string, opts ...Option) (*Manifest, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}

	m, err := Parse(data, opts...)
	if err != nil {
		return nil, err
	}

	dir, err := filepath.Abs(filepath.Dir(filename))
	if err != nil {
		return nil, fmt.Errorf("failed to resolve manifest directory: %w", err)
	}
	m.Dir = dir

	return m, nil
}

// Parse validates a manifest document. A syntax error stops parsing at once;
// every other problem is collected and returned together as Errors.
func Parse(data []byte, opts ...Option) (*Manifest, error) {
	p := &parser{}
	for _, opt := range opts {
		opt(&p.opts)
	}

	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, Errors{syntaxError(err)}
	}

	m := p.parse(&doc)
	if len(p.errs) > 0 {
		return nil, p.errs
	}
	return m, nil
}

func syntaxError(err error) *Error {
	e := &Error{Kind: ErrSyntax, Message: err.Error()}
	if match := yamlLinePattern.FindStringSubmatch(err.Error()); match != nil {
		e.Line, _ = strconv.Atoi(match[1])
		e.Message = match[2]
	}
	return e
}

type refKind int

const (
	refService refKind = iota
	refVolume
)

// ref is a name that must resolve once every declaration has been read.
type ref struct {
	kind  refKind
	name  string
	field string
	line  int
}

type entry struct {
	key   string
	keyNd *yaml.Node
	value *yaml.Node
}

type parser struct {
	opts options
	errs Errors
	refs []ref
}

func (p *parser) fail(kind error, field string, line int, format string, args ...any) {
	p.errs = append(p.errs, &Error{
		Kind:    kind,
		Field:   field,
		Line:    line,
		Message: fmt.Sprintf(format, args...),
	})
}

func (p *parser) parse(doc *yaml.Node) *Manifest {
	m := &Manifest{}

	if len(doc.Content) == 0 {
		p.fail(ErrSchema, "", 0, "manifest is empty")
		return m
	}

	root := resolve(doc.Content[0])
	if root.Kind != yaml.MappingNode {
		p.fail(ErrSchema, "", root.Line, "manifest must be a mapping")
		return m
	}

	var services, volumes *yaml.Node
	for _, e := range p.entries(root, "") {
		switch e.key {
		case "version":
			if !isNull(e.value) {
				m.Version, _ = p.scalar(e.value, "version")
			}
		case "services":
			services = e.value
		case "volumes":
			volumes = e.value
		default:
			p.unknown(e, "")
		}
	}

	if services == nil {
		p.fail(ErrSchema, "services", 0, "at least one service must be declared")
	}

	m.Volumes = p.volumes(volumes)
	m.Services = p.services(services)

	p.resolveRefs(m)
	p.checkCycles(m)

	return m
}

// entries returns the key/value pairs of a mapping node. Repeated keys are
// reported as collisions and only the first occurrence is kept.
func (p *parser) entries(n *yaml.Node, field string) []entry {
	seen := make(map[string]int)
	var out []entry

	for i := 0; i+1 < len(n.Content); i += 2 {
		k, v := n.Content[i], resolve(n.Content[i+1])
		if k.Kind != yaml.ScalarNode {
			p.fail(ErrSchema, field, k.Line, "mapping keys must be scalars")
			continue
		}
		if line, dup := seen[k.Value]; dup {
			p.fail(ErrCollision, join(field, k.Value), k.Line, "%q already declared at line %d", k.Value, line)
			continue
		}
		seen[k.Value] = k.Line
		out = append(out, entry{key: k.Value, keyNd: k, value: v})
	}

	return out
}

func (p *parser) unknown(e entry, field string) {
	if strings.HasPrefix(e.key, "x-") {
		return
	}
	p.fail(ErrSchema, join(field, e.key), e.keyNd.Line, "unsupported field %q", e.key)
}

func (p *parser) scalar(n *yaml.Node, field string) (string, bool) {
	if n.Kind != yaml.ScalarNode || isNull(n) {
		p.fail(ErrSchema, field, n.Line, "must be a scalar value")
		return "", false
	}
	return n.Value, true
}

// str reads a scalar and interpolates it when an environment was supplied.
func (p *parser) str(n *yaml.Node, field string) (string, bool) {
	v, ok := p.scalar(n, field)
	if !ok || p.opts.lookup == nil {
		return v, ok
	}

	out, err := template.Substitute(v, p.opts.lookup)
	if err != nil {
		p.fail(ErrSyntax, field, n.Line, "invalid interpolation: %v", err)
		return "", false
	}
	return out, true
}

func (p *parser) boolean(n *yaml.Node, field string) bool {
	var b bool
	if n.Kind != yaml.ScalarNode || n.Decode(&b) != nil {
		p.fail(ErrSchema, field, n.Line, "must be a boolean")
		return false
	}
	return b
}

func (p *parser) stringMap(n *yaml.Node, field string) map[string]string {
	if isNull(n) {
		return nil
	}
	if n.Kind != yaml.MappingNode {
		p.fail(ErrSchema, field, n.Line, "must be a mapping")
		return nil
	}

	out := make(map[string]string)
	for _, e := range p.entries(n, field) {
		if isNull(e.value) {
			out[e.key] = ""
			continue
		}
		if v, ok := p.str(e.value, join(field, e.key)); ok {
			out[e.key] = v
		}
	}
	return out
}

func (p *parser) sequence(n *yaml.Node, field string) []*yaml.Node {
	if isNull(n) {
		return nil
	}
	if n.Kind != yaml.SequenceNode {
		p.fail(ErrSchema, field, n.Line, "must be a list")
		return nil
	}

	items := make([]*yaml.Node, 0, len(n.Content))
	for _, item := range n.Content {
		items = append(items, resolve(item))
	}
	return items
}

// =============================================================================
// Volumes
// =============================================================================

func (p *parser) volumes(n *yaml.Node) []Volume {
	if n == nil || isNull(n) {
		return nil
	}
	if n.Kind != yaml.MappingNode {
		p.fail(ErrSchema, "volumes", n.Line, "must be a mapping of volume names")
		return nil
	}

	var vols []Volume
	for _, e := range p.entries(n, "volumes") {
		field := "volumes." + e.key
		if !namePattern.MatchString(e.key) {
			p.fail(ErrSchema, field, e.keyNd.Line, "invalid volume name %q", e.key)
			continue
		}

		vol := Volume{Name: e.key}
		p.volume(&vol, e.value, field)
		vols = append(vols, vol)
	}
	return vols
}

func (p *parser) volume(vol *Volume, n *yaml.Node, field string) {
	if isNull(n) {
		return
	}
	if n.Kind != yaml.MappingNode {
		p.fail(ErrSchema, field, n.Line, "volume options must be a mapping")
		return
	}

	for _, e := range p.entries(n, field) {
		f := join(field, e.key)
		switch e.key {
		case "driver":
			vol.Driver, _ = p.str(e.value, f)
		case "driver_opts":
			vol.DriverOpts = p.stringMap(e.value, f)
		case "labels":
			vol.Labels = p.stringMap(e.value, f)
		case "external":
			vol.External = p.boolean(e.value, f)
		default:
			p.unknown(e, field)
		}
	}
}

// =============================================================================
// Services
// =============================================================================

func (p *parser) services(n *yaml.Node) []Service {
	if n == nil {
		return nil
	}
	if isNull(n) || (n.Kind == yaml.MappingNode && len(n.Content) == 0) {
		p.fail(ErrSchema, "services", n.Line, "at least one service must be declared")
		return nil
	}
	if n.Kind != yaml.MappingNode {
		p.fail(ErrSchema, "services", n.Line, "must be a mapping of service names")
		return nil
	}

	var services []Service
	for _, e := range p.entries(n, "services") {
		field := "services." + e.key
		if !namePattern.MatchString(e.key) {
			p.fail(ErrSchema, field, e.keyNd.Line, "invalid service name %q", e.key)
			continue
		}
		services = append(services, p.service(e, field))
	}
	return services
}

func (p *parser) service(se entry, field string) Service {
	svc := Service{Name: se.key}
	n := se.value

	if isNull(n) {
		p.fail(ErrSchema, field, se.keyNd.Line, "service must declare image or build")
		return svc
	}
	if n.Kind != yaml.MappingNode {
		p.fail(ErrSchema, field, n.Line, "service must be a mapping")
		return svc
	}

	var (
		image            *RegistryImage
		build            *BuildContext
		hasImage, hasBld bool
	)

	for _, e := range p.entries(n, field) {
		f := join(field, e.key)
		switch e.key {
		case "image":
			hasImage = true
			if ref, ok := p.str(e.value, f); ok {
				if ref == "" {
					p.fail(ErrSchema, f, e.value.Line, "image must not be empty")
				} else {
					image = &RegistryImage{Ref: ref}
				}
			}
		case "build":
			hasBld = true
			build = p.build(e.value, f)
		case "command":
			svc.Command = p.command(e.value, f)
		case "environment":
			svc.Environment = p.environment(e.value, f)
		case "links":
			svc.Links = p.links(se.key, e.value, f)
		case "volumes":
			svc.Mounts = p.mounts(e.value, f)
		case "ports":
			svc.Ports = p.ports(e.value, f)
		default:
			p.unknown(e, field)
		}
	}

	switch {
	case hasImage && hasBld:
		p.fail(ErrSchema, field, se.keyNd.Line, "service declares both image and build")
	case image != nil:
		svc.Source = *image
	case build != nil:
		svc.Source = *build
	case !hasImage && !hasBld:
		p.fail(ErrSchema, field, se.keyNd.Line, "service must declare image or build")
	}

	return svc
}

func (p *parser) build(n *yaml.Node, field string) *BuildContext {
	switch n.Kind {
	case yaml.ScalarNode:
		dir, ok := p.str(n, field)
		if !ok {
			return nil
		}
		if dir == "" {
			p.fail(ErrSchema, field, n.Line, "build context must not be empty")
			return nil
		}
		return &BuildContext{Context: dir}

	case yaml.MappingNode:
		b := &BuildContext{Context: "."}
		for _, e := range p.entries(n, field) {
			f := join(field, e.key)
			switch e.key {
			case "context":
				if dir, ok := p.str(e.value, f); ok && dir != "" {
					b.Context = dir
				}
			case "dockerfile":
				b.Dockerfile, _ = p.str(e.value, f)
			case "tag":
				b.Tag, _ = p.str(e.value, f)
			default:
				p.unknown(e, field)
			}
		}
		return b
	}

	p.fail(ErrSchema, field, n.Line, "build must be a path or a mapping")
	return nil
}

func (p *parser) command(n *yaml.Node, field string) []string {
	if n.Kind == yaml.ScalarNode && !isNull(n) {
		raw, ok := p.str(n, field)
		if !ok {
			return nil
		}
		args, err := shellquote.Split(raw)
		if err != nil {
			p.fail(ErrSchema, field, n.Line, "invalid command: %v", err)
			return nil
		}
		return args
	}

	var args []string
	for i, item := range p.sequence(n, field) {
		if arg, ok := p.str(item, index(field, i)); ok {
			args = append(args, arg)
		}
	}
	return args
}

func (p *parser) environment(n *yaml.Node, field string) []EnvVar {
	var env []EnvVar
	seen := make(map[string]bool)

	add := func(key, value, f string, line int) {
		switch {
		case key == "":
			p.fail(ErrSchema, f, line, "environment variable name must not be empty")
		case seen[key]:
			p.fail(ErrCollision, f, line, "environment variable %q already set", key)
		default:
			seen[key] = true
			env = append(env, EnvVar{Key: key, Value: value})
		}
	}

	if n.Kind == yaml.MappingNode {
		for _, e := range p.entries(n, field) {
			f := join(field, e.key)
			value := ""
			if !isNull(e.value) {
				v, ok := p.str(e.value, f)
				if !ok {
					continue
				}
				value = v
			}
			add(e.key, value, f, e.keyNd.Line)
		}
		return env
	}

	for i, item := range p.sequence(n, field) {
		f := index(field, i)
		raw, ok := p.str(item, f)
		if !ok {
			continue
		}
		key, value, found := strings.Cut(raw, "=")
		if !found && p.opts.lookup != nil {
			value, _ = p.opts.lookup(key)
		}
		add(key, value, f, item.Line)
	}
	return env
}

func (p *parser) links(self string, n *yaml.Node, field string) []Link {
	var links []Link
	names := make(map[string]bool)

	for i, item := range p.sequence(n, field) {
		f := index(field, i)
		raw, ok := p.str(item, f)
		if !ok {
			continue
		}

		target, alias, _ := strings.Cut(raw, ":")
		link := Link{Service: target, Alias: alias}
		switch {
		case target == "":
			p.fail(ErrSchema, f, item.Line, "link must name a service")
			continue
		case target == self:
			p.fail(ErrCycle, f, item.Line, "service %q links to itself", self)
			continue
		case names[link.Name()]:
			p.fail(ErrCollision, f, item.Line, "link name %q already used", link.Name())
			continue
		}

		names[link.Name()] = true
		links = append(links, link)
		p.refs = append(p.refs, ref{kind: refService, name: target, field: f, line: item.Line})
	}
	return links
}

func (p *parser) mounts(n *yaml.Node, field string) []Mount {
	var mounts []Mount
	targets := make(map[string]bool)

	for i, item := range p.sequence(n, field) {
		f := index(field, i)

		var (
			mnt Mount
			ok  bool
		)
		if item.Kind == yaml.MappingNode {
			mnt, ok = p.longMount(item, f)
		} else if raw, valid := p.str(item, f); valid {
			mnt, ok = p.shortMount(raw, item.Line, f)
		}
		if !ok {
			continue
		}

		if targets[mnt.Target] {
			p.fail(ErrCollision, f, item.Line, "%q is mounted more than once", mnt.Target)
			continue
		}
		targets[mnt.Target] = true

		if mnt.Kind == MountVolume {
			p.refs = append(p.refs, ref{kind: refVolume, name: mnt.Source, field: f, line: item.Line})
		}
		mounts = append(mounts, mnt)
	}
	return mounts
}

// shortMount parses "[source:]target[:mode]".
func (p *parser) shortMount(raw string, line int, field string) (Mount, bool) {
	parts := strings.Split(raw, ":")

	var mnt Mount
	switch len(parts) {
	case 1:
		mnt = Mount{Kind: MountAnonymous, Target: parts[0]}
	case 2, 3:
		mnt = Mount{Kind: mountKind(parts[0]), Source: parts[0], Target: parts[1]}
		if len(parts) == 3 {
			for _, opt := range strings.Split(parts[2], ",") {
				switch opt {
				case "ro":
					mnt.ReadOnly = true
				case "rw", "z", "Z", "nocopy":
				default:
					p.fail(ErrSchema, field, line, "unknown mount option %q", opt)
					return Mount{}, false
				}
			}
		}
	default:
		p.fail(ErrSchema, field, line, "mount must be [source:]target[:mode], got %q", raw)
		return Mount{}, false
	}

	return mnt, p.checkMount(mnt, line, field)
}

func (p *parser) longMount(n *yaml.Node, field string) (Mount, bool) {
	var (
		mnt  Mount
		kind string
	)
	for _, e := range p.entries(n, field) {
		f := join(field, e.key)
		switch e.key {
		case "type":
			kind, _ = p.str(e.value, f)
		case "source":
			mnt.Source, _ = p.str(e.value, f)
		case "target":
			mnt.Target, _ = p.str(e.value, f)
		case "read_only":
			mnt.ReadOnly = p.boolean(e.value, f)
		default:
			p.unknown(e, field)
		}
	}

	switch kind {
	case "":
		mnt.Kind = mountKind(mnt.Source)
		if mnt.Source == "" {
			mnt.Kind = MountAnonymous
		}
	case "volume":
		mnt.Kind = MountVolume
		if mnt.Source == "" {
			mnt.Kind = MountAnonymous
		}
	case "bind":
		mnt.Kind = MountBind
	default:
		p.fail(ErrSchema, join(field, "type"), n.Line, "unsupported mount type %q", kind)
		return Mount{}, false
	}

	return mnt, p.checkMount(mnt, n.Line, field)
}

func (p *parser) checkMount(mnt Mount, line int, field string) bool {
	if mnt.Kind != MountAnonymous && mnt.Source == "" {
		p.fail(ErrSchema, field, line, "mount source must not be empty")
		return false
	}
	if !path.IsAbs(mnt.Target) {
		p.fail(ErrSchema, field, line, "mount target %q must be an absolute path", mnt.Target)
		return false
	}
	return true
}

func (p *parser) ports(n *yaml.Node, field string) []PortMapping {
	var ports []PortMapping

	for i, item := range p.sequence(n, field) {
		f := index(field, i)
		raw, ok := p.str(item, f)
		if !ok {
			continue
		}

		mappings, err := nat.ParsePortSpec(raw)
		if err != nil {
			p.fail(ErrSchema, f, item.Line, "invalid port %q: %v", raw, err)
			continue
		}
		for _, pm := range mappings {
			ports = append(ports, PortMapping{
				HostIP:        pm.Binding.HostIP,
				HostPort:      pm.Binding.HostPort,
				ContainerPort: pm.Port.Port(),
				Protocol:      pm.Port.Proto(),
			})
		}
	}
	return ports
}

// =============================================================================
// Cross references
// =============================================================================

func (p *parser) resolveRefs(m *Manifest) {
	services := make(map[string]bool)
	for _, s := range m.Services {
		services[s.Name] = true
	}
	volumes := make(map[string]bool)
	for _, v := range m.Volumes {
		volumes[v.Name] = true
	}

	for _, r := range p.refs {
		switch r.kind {
		case refService:
			if !services[r.name] {
				p.fail(ErrReference, r.field, r.line, "link to undeclared service %q", r.name)
			}
		case refVolume:
			if !volumes[r.name] {
				p.fail(ErrReference, r.field, r.line, "mount of undeclared volume %q", r.name)
			}
		}
	}
}

// checkCycles reports every link cycle found by a depth-first walk in
// declaration order.
func (p *parser) checkCycles(m *Manifest) {
	declared := make(map[string]bool)
	for _, s := range m.Services {
		declared[s.Name] = true
	}

	deps := make(map[string][]string)
	for _, s := range m.Services {
		for _, l := range s.Links {
			if declared[l.Service] {
				deps[s.Name] = append(deps[s.Name], l.Service)
			}
		}
	}

	const (
		unvisited = iota
		visiting
		visited
	)
	state := make(map[string]int)
	var stack []string

	var visit func(name string)
	visit = func(name string) {
		state[name] = visiting
		stack = append(stack, name)

		for _, dep := range deps[name] {
			switch state[dep] {
			case visiting:
				cycle := append(slices.Clone(stack[slices.Index(stack, dep):]), dep)
				p.fail(ErrCycle, "services."+name+".links", 0, "link cycle %s", strings.Join(cycle, " -> "))
			case unvisited:
				visit(dep)
			}
		}

		stack = stack[:len(stack)-1]
		state[name] = visited
	}

	for _, s := range m.Services {
		if state[s.Name] == unvisited {
			visit(s.Name)
		}
	}
}

// =============================================================================
// Helpers
// =============================================================================

func resolve(n *yaml.Node) *yaml.Node {
	for n.Kind == yaml.AliasNode && n.Alias != nil {
		n = n.Alias
	}
	return n
}

func isNull(n *yaml.Node) bool {
	return n.Kind == yaml.ScalarNode && n.Tag == "!!null"
}

func mountKind(source string) MountKind {
	if strings.HasPrefix(source, ".") || strings.HasPrefix(source, "/") || strings.HasPrefix(source, "~") {
		return MountBind
	}
	return MountVolume
}

func join(field, key string) string {
	if field == "" {
		return key
	}
	return field + "." + key
}

func index(field string, i int) string {
	return fmt.Sprintf("%s[%d]", field, i)
}
