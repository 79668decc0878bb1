// Package config loads the TOML configuration of the enhancer: pipeline
// limits, the built-in enhancers and configured hook enhancers.
//
//	max_class_size = 67108864
//	concurrency = 8
//	log_level = "info"
//
//	[transaction]
//	manager = "com.caucho.ejb.xa.TransactionHooks"
//
//	[[hook]]
//	name = "audit"
//	annotation = "com.acme.Audited"
//	before = ["com.acme.Audit.enter"]
//	after = ["com.acme.Audit.exit"]
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/BurntSushi/toml"
	"go.uber.org/multierr"
	"go.uber.org/zap/zapcore"

	"github.com/daimatz/jenhance/pkg/classfile"
	"github.com/daimatz/jenhance/pkg/enhancer"
	"github.com/daimatz/jenhance/pkg/intern"
)

// Config is the decoded configuration file.
type Config struct {
	MaxClassSize    int    `toml:"max_class_size"`
	InternCacheSize int    `toml:"intern_cache_size"`
	Concurrency     int    `toml:"concurrency"`
	LogLevel        string `toml:"log_level"`

	Transaction  ManagerConfig     `toml:"transaction"`
	Security     ManagerConfig     `toml:"security"`
	Interceptors InterceptorConfig `toml:"interceptors"`
	Hooks        []HookConfig      `toml:"hook"`
}

// ManagerConfig configures a built-in enhancer calling hooks on Manager.
type ManagerConfig struct {
	Enabled *bool  `toml:"enabled"`
	Manager string `toml:"manager"`
}

// IsEnabled reports whether the enhancer is registered. Built-ins are on
// unless disabled explicitly.
func (m ManagerConfig) IsEnabled() bool { return m.Enabled == nil || *m.Enabled }

type InterceptorConfig struct {
	Enabled *bool  `toml:"enabled"`
	Method  string `toml:"method"`
	Marker  string `toml:"marker"`
	Require string `toml:"require"`
}

func (c InterceptorConfig) IsEnabled() bool { return c.Enabled == nil || *c.Enabled }

// HookConfig declares a hook enhancer. Hooks are written Owner.method with
// a dotted or slashed owner.
type HookConfig struct {
	Name       string        `toml:"name"`
	Annotation string        `toml:"annotation"`
	Before     []string      `toml:"before"`
	After      []string      `toml:"after"`
	Interfaces []string      `toml:"interfaces"`
	Fields     []FieldConfig `toml:"field"`
	Exclusive  bool          `toml:"exclusive"`
	Wrapper    string        `toml:"wrapper"`
}

type FieldConfig struct {
	Name       string   `toml:"name"`
	Descriptor string   `toml:"descriptor"`
	Access     []string `toml:"access"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	c := &Config{}
	c.applyDefaults()
	return c
}

// Load reads and validates the configuration file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	c, err := Parse(string(data))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return c, nil
}

// Parse decodes and validates a configuration document. Unknown keys are
// errors.
func Parse(doc string) (*Config, error) {
	var c Config
	md, err := toml.Decode(doc, &c)
	if err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return nil, fmt.Errorf("unknown config keys: %s", strings.Join(keys, ", "))
	}
	c.applyDefaults()
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *Config) applyDefaults() {
	if c.MaxClassSize == 0 {
		c.MaxClassSize = classfile.DefaultMaxSize
	}
	if c.InternCacheSize == 0 {
		c.InternCacheSize = intern.DefaultSize
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.Transaction.Manager == "" {
		c.Transaction.Manager = enhancer.DefaultTransactionManager
	}
	if c.Security.Manager == "" {
		c.Security.Manager = enhancer.DefaultSecurityManager
	}
	if c.Interceptors.Method == "" {
		c.Interceptors.Method = enhancer.DefaultInterceptorMethod
	}
	if c.Interceptors.Marker == "" {
		c.Interceptors.Marker = enhancer.DefaultInterceptedMarker
	}
}

// Validate reports every problem in the configuration at once.
func (c *Config) Validate() error {
	var errs error
	if c.MaxClassSize < 0 {
		errs = multierr.Append(errs, fmt.Errorf("max_class_size must not be negative"))
	}
	if c.InternCacheSize < 0 {
		errs = multierr.Append(errs, fmt.Errorf("intern_cache_size must not be negative"))
	}
	if c.Concurrency < 0 {
		errs = multierr.Append(errs, fmt.Errorf("concurrency must not be negative"))
	}
	if _, err := zapcore.ParseLevel(c.LogLevel); err != nil {
		errs = multierr.Append(errs, fmt.Errorf("log_level: %w", err))
	}

	seen := make(map[string]bool)
	for i, h := range c.Hooks {
		label := fmt.Sprintf("hook[%d]", i)
		if h.Name != "" {
			label = fmt.Sprintf("hook %q", h.Name)
		}
		if _, err := h.Enhancer(); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("%s: %w", label, err))
		}
		if seen[h.Name] {
			errs = multierr.Append(errs, fmt.Errorf("%s: duplicate name", label))
		}
		seen[h.Name] = true
	}
	return errs
}

// Level returns the configured log level, or info when it does not parse.
func (c *Config) Level() zapcore.Level {
	l, err := zapcore.ParseLevel(c.LogLevel)
	if err != nil {
		return zapcore.InfoLevel
	}
	return l
}

// Registry builds the enhancer registry: transaction, security and
// interceptor enhancers when enabled, then the configured hooks in file
// order. Registration order is composition order.
func (c *Config) Registry() (*enhancer.Registry, error) {
	reg := enhancer.NewRegistry()
	var errs error
	register := func(typ string, e enhancer.Enhancer) {
		errs = multierr.Append(errs, reg.Register(typ, e))
	}

	if c.Transaction.IsEnabled() {
		register(enhancer.TransactionAttributeType, enhancer.NewTransactionEnhancer(internal(c.Transaction.Manager)))
	}
	if c.Security.IsEnabled() {
		sec := enhancer.NewSecurityEnhancer(internal(c.Security.Manager))
		for _, typ := range []string{enhancer.RolesAllowedType, enhancer.DenyAllType, enhancer.PermitAllType} {
			register(typ, sec)
		}
	}
	if c.Interceptors.IsEnabled() {
		register(enhancer.InterceptorsType, &enhancer.InterceptorEnhancer{
			Method:  c.Interceptors.Method,
			Marker:  internal(c.Interceptors.Marker),
			Require: internal(c.Interceptors.Require),
		})
	}
	for _, h := range c.Hooks {
		e, err := h.Enhancer()
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("hook %q: %w", h.Name, err))
			continue
		}
		register(e.Type, e)
	}
	if errs != nil {
		return nil, errs
	}
	return reg, nil
}

// Enhancer converts the declaration into a hook enhancer.
func (h HookConfig) Enhancer() (*enhancer.HookEnhancer, error) {
	var errs error
	if h.Name == "" {
		errs = multierr.Append(errs, fmt.Errorf("name is required"))
	}
	if h.Annotation == "" {
		errs = multierr.Append(errs, fmt.Errorf("annotation is required"))
	}
	if len(h.Before)+len(h.After) == 0 {
		errs = multierr.Append(errs, fmt.Errorf("at least one before or after hook is required"))
	}
	if strings.ContainsAny(h.Wrapper, ".;[/<>") {
		errs = multierr.Append(errs, fmt.Errorf("invalid wrapper name %q", h.Wrapper))
	}

	e := &enhancer.HookEnhancer{
		ID:        h.Name,
		Type:      classfile.AnnotationDescriptor(h.Annotation),
		Exclusive: h.Exclusive,
		Wrapper:   h.Wrapper,
	}
	for _, p := range []struct {
		pos   enhancer.Position
		hooks []string
	}{{enhancer.Before, h.Before}, {enhancer.After, h.After}} {
		for _, s := range p.hooks {
			hook, err := enhancer.ParseHook(p.pos, s)
			if err != nil {
				errs = multierr.Append(errs, err)
				continue
			}
			e.Hooks = append(e.Hooks, hook)
		}
	}
	for _, iface := range h.Interfaces {
		if iface == "" {
			errs = multierr.Append(errs, fmt.Errorf("empty interface name"))
			continue
		}
		e.Interfaces = append(e.Interfaces, internal(iface))
	}
	for _, f := range h.Fields {
		field, err := f.field()
		if err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		e.Fields = append(e.Fields, field)
	}
	if errs != nil {
		return nil, errs
	}
	return e, nil
}

var fieldAccess = map[string]uint16{
	"public":    classfile.AccPublic,
	"private":   classfile.AccPrivate,
	"protected": classfile.AccProtected,
	"static":    classfile.AccStatic,
	"final":     classfile.AccFinal,
	"volatile":  classfile.AccVolatile,
	"transient": classfile.AccTransient,
	"synthetic": classfile.AccSynthetic,
}

func (f FieldConfig) field() (enhancer.Field, error) {
	if f.Name == "" || strings.ContainsAny(f.Name, ".;[/") {
		return enhancer.Field{}, fmt.Errorf("invalid field name %q", f.Name)
	}
	md, err := classfile.ParseMethodDescriptor("(" + f.Descriptor + ")V")
	if err != nil || len(md.Params) != 1 {
		return enhancer.Field{}, fmt.Errorf("field %s: invalid descriptor %q", f.Name, f.Descriptor)
	}
	out := enhancer.Field{Name: f.Name, Descriptor: f.Descriptor}
	for _, a := range f.Access {
		flag, ok := fieldAccess[strings.ToLower(a)]
		if !ok {
			return enhancer.Field{}, fmt.Errorf("field %s: unknown access %q", f.Name, a)
		}
		out.AccessFlags |= flag
	}
	return out, nil
}

func internal(name string) string {
	return strings.ReplaceAll(name, ".", "/")
}
